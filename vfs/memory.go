/*
Copyright © 2025 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package vfs

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// MemoryFS is an in-memory FileSystem keyed by cleaned absolute path.
// Directories are implicit: a directory exists when it was created with
// Mkdir or when any file lives beneath it.
type MemoryFS struct {
	mu    sync.RWMutex
	files map[string][]byte
	dirs  map[string]bool
}

// NewMemoryFS creates an empty in-memory filesystem containing only the
// root directory.
func NewMemoryFS() *MemoryFS {
	return &MemoryFS{
		files: make(map[string][]byte),
		dirs:  map[string]bool{"/": true},
	}
}

// NewMemoryFSFromMap seeds a filesystem from a path→contents map.
// Useful in tests and fixture loading.
func NewMemoryFSFromMap(files map[string]string) (*MemoryFS, error) {
	fs := NewMemoryFS()
	ctx := context.Background()
	for p, contents := range files {
		if err := fs.WriteFile(ctx, p, []byte(contents)); err != nil {
			return nil, fmt.Errorf("seeding %s: %w", p, err)
		}
	}
	return fs, nil
}

type memFileInfo struct {
	name  string
	size  int64
	isDir bool
}

func (i memFileInfo) Name() string { return i.name }
func (i memFileInfo) Size() int64  { return i.size }
func (i memFileInfo) IsDir() bool  { return i.isDir }

func (fs *MemoryFS) ReadFile(ctx context.Context, p string) ([]byte, error) {
	p, err := Clean(p)
	if err != nil {
		return nil, err
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	data, ok := fs.files[p]
	if !ok {
		if fs.dirs[p] {
			return nil, fmt.Errorf("%s: %w", p, ErrIsDirectory)
		}
		return nil, fmt.Errorf("%s: %w", p, ErrNotExist)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (fs *MemoryFS) WriteFile(ctx context.Context, p string, data []byte) error {
	p, err := Clean(p)
	if err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.dirs[p] {
		return fmt.Errorf("%s: %w", p, ErrIsDirectory)
	}
	contents := make([]byte, len(data))
	copy(contents, data)
	fs.files[p] = contents
	// materialize parent directories
	for dir := path.Dir(p); ; dir = path.Dir(dir) {
		fs.dirs[dir] = true
		if dir == "/" {
			break
		}
	}
	return nil
}

func (fs *MemoryFS) Exists(ctx context.Context, p string) (bool, error) {
	p, err := Clean(p)
	if err != nil {
		return false, err
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	_, isFile := fs.files[p]
	return isFile || fs.dirs[p], nil
}

func (fs *MemoryFS) Mkdir(ctx context.Context, p string) error {
	p, err := Clean(p)
	if err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, isFile := fs.files[p]; isFile {
		return fmt.Errorf("%s: %w", p, ErrNotDirectory)
	}
	for dir := p; ; dir = path.Dir(dir) {
		fs.dirs[dir] = true
		if dir == "/" {
			break
		}
	}
	return nil
}

func (fs *MemoryFS) ReadDir(ctx context.Context, p string) ([]string, error) {
	p, err := Clean(p)
	if err != nil {
		return nil, err
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if _, isFile := fs.files[p]; isFile {
		return nil, fmt.Errorf("%s: %w", p, ErrNotDirectory)
	}
	if !fs.dirs[p] {
		return nil, fmt.Errorf("%s: %w", p, ErrNotExist)
	}
	seen := make(map[string]bool)
	collect := func(entry string) {
		if entry == p {
			return
		}
		rel := strings.TrimPrefix(entry, strings.TrimSuffix(p, "/")+"/")
		if rel == entry {
			return // not beneath p
		}
		name, _, _ := strings.Cut(rel, "/")
		seen[name] = true
	}
	for f := range fs.files {
		collect(f)
	}
	for d := range fs.dirs {
		collect(d)
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (fs *MemoryFS) Stat(ctx context.Context, p string) (FileInfo, error) {
	p, err := Clean(p)
	if err != nil {
		return nil, err
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if data, ok := fs.files[p]; ok {
		return memFileInfo{name: path.Base(p), size: int64(len(data))}, nil
	}
	if fs.dirs[p] {
		return memFileInfo{name: path.Base(p), isDir: true}, nil
	}
	return nil, fmt.Errorf("%s: %w", p, ErrNotExist)
}

func (fs *MemoryFS) Unlink(ctx context.Context, p string) error {
	p, err := Clean(p)
	if err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.files[p]; !ok {
		return fmt.Errorf("%s: %w", p, ErrNotExist)
	}
	delete(fs.files, p)
	return nil
}

func (fs *MemoryFS) Glob(ctx context.Context, pattern string) ([]string, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	var matches []string
	for p := range fs.files {
		ok, err := doublestar.Match(pattern, p)
		if err != nil {
			return nil, err
		}
		if ok {
			matches = append(matches, p)
		}
	}
	sort.Strings(matches)
	return matches, nil
}

// Paths returns every file path in the tree, sorted. Used for
// "did you mean" suggestions when a specifier fails to resolve.
func (fs *MemoryFS) Paths() []string {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	paths := make([]string, 0, len(fs.files))
	for p := range fs.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
