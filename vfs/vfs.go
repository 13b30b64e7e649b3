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

// Package vfs provides the virtual filesystem the compiler reads sources
// from. Paths are absolute and Unix-style regardless of the host OS.
package vfs

import (
	"context"
	"errors"
	"path"
	"strings"
)

var ErrNotExist = errors.New("file does not exist")
var ErrIsDirectory = errors.New("path is a directory")
var ErrNotDirectory = errors.New("path is not a directory")
var ErrInvalidPath = errors.New("path must be absolute")

// FileInfo describes a filesystem entry
type FileInfo interface {
	Name() string
	Size() int64
	IsDir() bool
}

// FileSystem abstracts the source tree the compiler reads from.
// All paths are absolute, Unix-style. Implementations must be safe for
// concurrent use.
type FileSystem interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error
	Exists(ctx context.Context, path string) (bool, error)
	// Mkdir creates a directory and any missing parents
	Mkdir(ctx context.Context, path string) error
	ReadDir(ctx context.Context, path string) ([]string, error)
	Stat(ctx context.Context, path string) (FileInfo, error)
	Unlink(ctx context.Context, path string) error
	// Glob matches doublestar patterns against every file path in the tree
	Glob(ctx context.Context, pattern string) ([]string, error)
}

// Clean canonicalizes an absolute Unix-style path, collapsing . and ..
// segments. It returns ErrInvalidPath for relative input.
func Clean(p string) (string, error) {
	if !strings.HasPrefix(p, "/") {
		return "", ErrInvalidPath
	}
	return path.Clean(p), nil
}

// Resolve canonicalizes a relative specifier against the directory of
// the referencing module. Absolute specifiers pass through cleaned.
func Resolve(from, specifier string) (string, error) {
	if strings.HasPrefix(specifier, "/") {
		return path.Clean(specifier), nil
	}
	if !strings.HasPrefix(from, "/") {
		return "", ErrInvalidPath
	}
	return path.Clean(path.Join(path.Dir(from), specifier)), nil
}
