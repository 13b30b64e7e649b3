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

// Package bundler walks the dependency graph breadth-first from an
// entry point and assembles the self-bootstrapping bundle string.
package bundler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/adrg/xdg"
	"github.com/gosimple/slug"
	"github.com/pterm/pterm"

	"bennypowers.dev/forge/compiler"
	"bennypowers.dev/forge/externals"
	"bennypowers.dev/forge/vfs"
)

// Options selects what to build. Equal options hit the same cache
// entry.
type Options struct {
	EntryPoint        string   `json:"entryPoint"`
	IncludeStyleLayer bool     `json:"includeStyleLayer"`
	Target            string   `json:"target"`
	Externals         []string `json:"externals"`
}

// cacheKey canonicalizes the options: fixed field order, sorted
// externals.
func (o Options) cacheKey() string {
	canonical := o
	canonical.Externals = append([]string(nil), o.Externals...)
	sort.Strings(canonical.Externals)
	key, err := json.Marshal(canonical)
	if err != nil {
		// Options is a plain struct; Marshal cannot fail
		panic(err)
	}
	return string(key)
}

// Result is one build's output. The same pointer is returned for every
// build with equal options until the cache is cleared.
type Result struct {
	Bundle          string
	Modules         []string
	DependencyGraph map[string][]string
}

type moduleCode struct {
	id   string
	code string
}

// Bundler memoizes builds over a shared compiler.
type Bundler struct {
	compiler  *compiler.Compiler
	externals *externals.Registry

	mu     sync.Mutex
	builds map[string]*Result
}

// New creates a Bundler over the given compiler and external registry.
func New(c *compiler.Compiler, registry *externals.Registry) *Bundler {
	return &Bundler{
		compiler:  c,
		externals: registry,
		builds:    make(map[string]*Result),
	}
}

// Build compiles everything reachable from the entry point and
// assembles the bundle. Per-module failures downstream of the entry
// synthesize error modules; only entry failures are fatal.
func (b *Bundler) Build(ctx context.Context, opts Options) (*Result, error) {
	key := opts.cacheKey()
	b.mu.Lock()
	if cached, ok := b.builds[key]; ok {
		b.mu.Unlock()
		return cached, nil
	}
	b.mu.Unlock()

	entry, err := vfs.Clean(opts.EntryPoint)
	if err != nil {
		return nil, fmt.Errorf("entry point %q: %w", opts.EntryPoint, err)
	}

	// names from the options register once; existing records win
	for _, name := range opts.Externals {
		b.externals.RegisterName(name)
	}

	modules, graph, err := b.walk(ctx, entry)
	if err != nil {
		return nil, err
	}

	bundle, err := assemble(opts, b.externals, modules)
	if err != nil {
		return nil, fmt.Errorf("assembling bundle for %s: %w", entry, err)
	}

	ids := make([]string, len(modules))
	for i, mod := range modules {
		ids[i] = mod.id
	}
	result := &Result{
		Bundle:          bundle,
		Modules:         ids,
		DependencyGraph: graph,
	}

	b.mu.Lock()
	b.builds[key] = result
	b.mu.Unlock()

	persistBundle(opts, bundle)
	return result, nil
}

// walk runs the breadth-first traversal. The entry module is always
// first in the returned order.
func (b *Bundler) walk(ctx context.Context, entry string) ([]moduleCode, map[string][]string, error) {
	queue := []string{entry}
	visited := make(map[string]bool)
	var modules []moduleCode
	graph := make(map[string][]string)

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true

		result, err := b.compiler.Compile(ctx, id)
		if err != nil {
			if id == entry {
				return nil, nil, fmt.Errorf("compiling entry %s: %w", id, err)
			}
			pterm.Warning.Printfln("module %s failed to build: %v", id, err)
			modules = append(modules, moduleCode{id, errorModule(id, err)})
			graph[id] = []string{}
			continue
		}
		for _, warning := range result.Warnings {
			pterm.Warning.Println(warning)
		}

		modules = append(modules, moduleCode{id, result.Code})
		deps := make([]string, len(result.Dependencies))
		copy(deps, result.Dependencies)
		graph[id] = deps

		for _, dep := range result.Dependencies {
			if !visited[dep] {
				queue = append(queue, dep)
			}
		}
	}
	return modules, graph, nil
}

// InvalidateModule drops the module's compilation and, conservatively,
// every cached build.
func (b *Bundler) InvalidateModule(id string) {
	b.compiler.Invalidate(id)
	b.ClearBuilds()
}

// ClearBuilds drops every cached build result.
func (b *Bundler) ClearBuilds() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.builds = make(map[string]*Result)
}

// Builds returns the number of cached build results.
func (b *Bundler) Builds() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.builds)
}

// persistBundle writes a copy of the bundle under the XDG cache dir.
// Best-effort only; failure never affects the build.
func persistBundle(opts Options, bundle string) {
	name := slug.Make(opts.EntryPoint+"-"+opts.Target) + ".js"
	target, err := xdg.CacheFile(filepath.Join("forge", "bundles", name))
	if err != nil {
		pterm.Debug.Printfln("bundle cache dir unavailable: %v", err)
		return
	}
	if err := os.WriteFile(target, []byte(bundle), 0o644); err != nil {
		pterm.Debug.Printfln("bundle cache write failed: %v", err)
	}
}
