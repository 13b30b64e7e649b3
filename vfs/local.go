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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// LocalFS exposes a directory on the host filesystem as a FileSystem.
// Virtual absolute paths are resolved beneath the root; escaping the
// root with .. segments is rejected.
type LocalFS struct {
	root string
}

// NewLocalFS creates a FileSystem rooted at the given host directory.
func NewLocalFS(root string) (*LocalFS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", root, ErrNotDirectory)
	}
	return &LocalFS{root: abs}, nil
}

// Root returns the host directory this filesystem is rooted at.
func (l *LocalFS) Root() string { return l.root }

// hostPath maps a virtual absolute path onto the host filesystem.
func (l *LocalFS) hostPath(p string) (string, error) {
	p, err := Clean(p)
	if err != nil {
		return "", err
	}
	host := filepath.Join(l.root, filepath.FromSlash(strings.TrimPrefix(p, "/")))
	if host != l.root && !strings.HasPrefix(host, l.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%s escapes workspace root: %w", p, ErrInvalidPath)
	}
	return host, nil
}

// VirtualPath maps a host path under the root back to its virtual
// absolute form. Returns false when the path is outside the root.
func (l *LocalFS) VirtualPath(host string) (string, bool) {
	abs, err := filepath.Abs(host)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(l.root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return "/" + filepath.ToSlash(rel), true
}

func wrapNotExist(p string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", p, ErrNotExist)
	}
	return err
}

func (l *LocalFS) ReadFile(ctx context.Context, p string) ([]byte, error) {
	host, err := l.hostPath(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(host)
	if err != nil {
		return nil, wrapNotExist(p, err)
	}
	return data, nil
}

func (l *LocalFS) WriteFile(ctx context.Context, p string, data []byte) error {
	host, err := l.hostPath(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(host), 0o755); err != nil {
		return err
	}
	return os.WriteFile(host, data, 0o644)
}

func (l *LocalFS) Exists(ctx context.Context, p string) (bool, error) {
	host, err := l.hostPath(p)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(host); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (l *LocalFS) Mkdir(ctx context.Context, p string) error {
	host, err := l.hostPath(p)
	if err != nil {
		return err
	}
	return os.MkdirAll(host, 0o755)
}

func (l *LocalFS) ReadDir(ctx context.Context, p string) ([]string, error) {
	host, err := l.hostPath(p)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(host)
	if err != nil {
		return nil, wrapNotExist(p, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names, nil
}

type localFileInfo struct{ fs.FileInfo }

func (i localFileInfo) Name() string { return i.FileInfo.Name() }
func (i localFileInfo) Size() int64  { return i.FileInfo.Size() }
func (i localFileInfo) IsDir() bool  { return i.FileInfo.IsDir() }

func (l *LocalFS) Stat(ctx context.Context, p string) (FileInfo, error) {
	host, err := l.hostPath(p)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(host)
	if err != nil {
		return nil, wrapNotExist(p, err)
	}
	return localFileInfo{info}, nil
}

func (l *LocalFS) Unlink(ctx context.Context, p string) error {
	host, err := l.hostPath(p)
	if err != nil {
		return err
	}
	if err := os.Remove(host); err != nil {
		return wrapNotExist(p, err)
	}
	return nil
}

func (l *LocalFS) Glob(ctx context.Context, pattern string) ([]string, error) {
	var matches []string
	err := filepath.WalkDir(l.root, func(host string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "node_modules" || strings.HasPrefix(d.Name(), ".") && host != l.root {
				return filepath.SkipDir
			}
			return nil
		}
		virtual, ok := l.VirtualPath(host)
		if !ok {
			return nil
		}
		match, err := doublestar.Match(pattern, virtual)
		if err != nil {
			return err
		}
		if match {
			matches = append(matches, virtual)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

// CopyInto mirrors every file matching the pattern into dst, preserving
// virtual paths. The serve command uses this to seed its in-memory tree
// from a project directory.
func (l *LocalFS) CopyInto(ctx context.Context, dst FileSystem, pattern string) ([]string, error) {
	paths, err := l.Glob(ctx, pattern)
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		data, err := l.ReadFile(ctx, p)
		if err != nil {
			return nil, err
		}
		if err := dst.WriteFile(ctx, p, data); err != nil {
			return nil, err
		}
	}
	return paths, nil
}

var _ FileSystem = (*LocalFS)(nil)
var _ FileSystem = (*MemoryFS)(nil)
