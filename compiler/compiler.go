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

// Package compiler turns one source file at a time into an AMD-style
// module definition. Results are memoized per module id and invalidated
// transitively along the reverse dependency graph.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"bennypowers.dev/forge/externals"
	"bennypowers.dev/forge/queries"
	"bennypowers.dev/forge/transform"
	"bennypowers.dev/forge/vfs"
)

var ErrUnsupportedKind = errors.New("unsupported source kind")

// Result is one module's compilation output.
type Result struct {
	// Code is the complete define('<id>', [...], factory) string
	Code string
	// Dependencies holds internal module ids only, in import order.
	// Externals are filtered; unresolved specifiers never make it here.
	Dependencies []string
	// SourceMap carries the transform's map when one was requested
	SourceMap string
	// Warnings records recoverable problems (parse failures during
	// dependency extraction, unresolved specifiers)
	Warnings []string
}

// Compiler memoizes per-module compilation and tracks the direct
// dependency graph. Safe for concurrent use.
type Compiler struct {
	fs        vfs.FileSystem
	qm        *queries.QueryManager
	externals *externals.Registry
	target    transform.Target
	tsconfig  string

	mu    sync.Mutex
	cache map[string]*Result
	// deps maps id → direct internal dependencies
	deps map[string]map[string]bool
}

// Config wires a Compiler's collaborators.
type Config struct {
	FileSystem vfs.FileSystem
	Queries    *queries.QueryManager
	Externals  *externals.Registry
	Target     transform.Target
	// TsconfigRaw is passed through to esbuild when set
	TsconfigRaw string
}

// New creates a Compiler with an empty cache.
func New(cfg Config) *Compiler {
	target := cfg.Target
	if target == "" {
		target = transform.DefaultTarget
	}
	return &Compiler{
		fs:        cfg.FileSystem,
		qm:        cfg.Queries,
		externals: cfg.Externals,
		target:    target,
		tsconfig:  cfg.TsconfigRaw,
		cache:     make(map[string]*Result),
		deps:      make(map[string]map[string]bool),
	}
}

// Compile produces the module definition for id, reusing the cached
// result when one exists. Read and transform failures are fatal for the
// module; parse failures during dependency extraction degrade to an
// empty dependency list with a warning.
func (c *Compiler) Compile(ctx context.Context, id string) (*Result, error) {
	cleaned, err := vfs.Clean(id)
	if err != nil {
		return nil, fmt.Errorf("module id %q: %w", id, err)
	}
	id = cleaned

	c.mu.Lock()
	if cached, ok := c.cache[id]; ok {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	var result *Result
	switch {
	case transform.IsScriptPath(id):
		result, err = c.compileScript(ctx, id)
	case transform.IsStylePath(id):
		result, err = c.compileStyle(ctx, id)
	default:
		err = fmt.Errorf("%s: %w", id, ErrUnsupportedKind)
	}
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[id] = result
	direct := make(map[string]bool, len(result.Dependencies))
	for _, dep := range result.Dependencies {
		direct[dep] = true
	}
	c.deps[id] = direct
	return result, nil
}

// Invalidate drops id's cached result and, transitively, the result of
// every module that depends on it.
func (c *Compiler) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateLocked(id, make(map[string]bool))
}

func (c *Compiler) invalidateLocked(id string, seen map[string]bool) {
	if seen[id] {
		return
	}
	seen[id] = true
	delete(c.cache, id)
	delete(c.deps, id)
	// walk the reverse edges
	for dependent, direct := range c.deps {
		if direct[id] {
			c.invalidateLocked(dependent, seen)
		}
	}
}

// Clear drops every cached result and the dependency graph.
func (c *Compiler) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]*Result)
	c.deps = make(map[string]map[string]bool)
}

// Graph returns a copy of the direct dependency graph.
func (c *Compiler) Graph() map[string][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	graph := make(map[string][]string, len(c.deps))
	for id := range c.deps {
		// preserve import order from the cached result
		if cached, ok := c.cache[id]; ok {
			deps := make([]string, len(cached.Dependencies))
			copy(deps, cached.Dependencies)
			graph[id] = deps
		}
	}
	return graph
}

// Cached reports whether a result exists for id without compiling.
func (c *Compiler) Cached(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.cache[id]
	return ok
}

// Size returns the number of cached module results.
func (c *Compiler) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]`)

// requireSlug derives the preamble binding identifier for a module id.
func requireSlug(id string) string {
	return "__" + nonAlnum.ReplaceAllString(id, "_")
}
