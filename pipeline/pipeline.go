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

// Package pipeline wires the filesystem, compiler, external registry,
// and bundler into the public build API.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/pterm/pterm"

	"bennypowers.dev/forge/bundler"
	"bennypowers.dev/forge/compiler"
	"bennypowers.dev/forge/externals"
	"bennypowers.dev/forge/queries"
	"bennypowers.dev/forge/transform"
	"bennypowers.dev/forge/vfs"
)

var ErrNotInitialized = errors.New("pipeline not initialized")

// Patch is the output of a hot reload: the replacement definition for
// one module, ready to evaluate in the host global. Re-requiring is the
// application's concern.
type Patch struct {
	ID   string
	Code string
}

// Stats summarizes pipeline state for diagnostics.
type Stats struct {
	Modules         int                 `json:"modules"`
	Builds          int                 `json:"builds"`
	Externals       []string            `json:"externals"`
	DependencyGraph map[string][]string `json:"dependencyGraph"`
}

// Pipeline owns one source tree and its build state.
type Pipeline struct {
	fs        vfs.FileSystem
	externals *externals.Registry
	compiler  *compiler.Compiler
	bundler   *bundler.Bundler
	target    transform.Target
	ready     bool
}

// Config selects the source tree and default target for a pipeline.
type Config struct {
	FileSystem vfs.FileSystem
	// Target overrides tsconfig and the built-in default when set
	Target string
}

// New creates an uninitialized pipeline over a source tree.
func New(cfg Config) *Pipeline {
	return &Pipeline{
		fs:        cfg.FileSystem,
		externals: externals.Defaults(),
		target:    transform.Target(cfg.Target),
	}
}

// Init compiles the tree-sitter queries, reads tsconfig and
// package.json, and wires the compiler and bundler. Idempotent.
func (p *Pipeline) Init(ctx context.Context) error {
	if p.ready {
		return nil
	}
	qm, err := queries.GetGlobalQueryManager()
	if err != nil {
		return fmt.Errorf("initializing queries: %w", err)
	}

	tsconfig, err := transform.ReadTsconfig(ctx, p.fs)
	if err != nil {
		return fmt.Errorf("reading tsconfig: %w", err)
	}
	if p.target == "" {
		p.target = tsconfig.Target
	}
	if p.target == "" {
		p.target = transform.DefaultTarget
	}

	if err := p.externals.ScanPackageJSON(ctx, p.fs); err != nil {
		pterm.Warning.Printfln("package.json scan failed: %v", err)
	}

	p.compiler = compiler.New(compiler.Config{
		FileSystem:  p.fs,
		Queries:     qm,
		Externals:   p.externals,
		Target:      p.target,
		TsconfigRaw: tsconfig.Raw,
	})
	p.bundler = bundler.New(p.compiler, p.externals)
	p.ready = true
	return nil
}

// Externals exposes the registry for callers that preflight or extend
// it.
func (p *Pipeline) Externals() *externals.Registry { return p.externals }

// Build produces (or returns the cached) bundle for the options.
func (p *Pipeline) Build(ctx context.Context, opts bundler.Options) (*bundler.Result, error) {
	if !p.ready {
		return nil, ErrNotInitialized
	}
	if opts.Target == "" {
		opts.Target = string(p.target)
	}
	return p.bundler.Build(ctx, opts)
}

// HotReload invalidates one module (and its dependents) and recompiles
// just that module, returning the replacement definition.
func (p *Pipeline) HotReload(ctx context.Context, id string) (*Patch, error) {
	if !p.ready {
		return nil, ErrNotInitialized
	}
	p.bundler.InvalidateModule(id)
	result, err := p.compiler.Compile(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("hot reload of %s: %w", id, err)
	}
	return &Patch{ID: id, Code: result.Code}, nil
}

// ClearCache drops every compilation and build result.
func (p *Pipeline) ClearCache() {
	if !p.ready {
		return
	}
	p.compiler.Clear()
	p.bundler.ClearBuilds()
}

// Stats reports cache sizes, registered externals, and the dependency
// graph.
func (p *Pipeline) Stats() Stats {
	if !p.ready {
		return Stats{}
	}
	return Stats{
		Modules:         p.compiler.Size(),
		Builds:          p.bundler.Builds(),
		Externals:       p.externals.Names(),
		DependencyGraph: p.compiler.Graph(),
	}
}

// RenderDocument embeds a build into a complete HTML page that mounts
// the root component into the given container id. The emitted page is
// the execute-and-render host: evaluating it installs the loader,
// awaits externals, and mounts.
func RenderDocument(build *bundler.Result, title, containerID string) string {
	if containerID == "" {
		containerID = "root"
	}
	var sb strings.Builder
	sb.WriteString("<!doctype html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	sb.WriteString(fmt.Sprintf("<title>%s</title>\n", html.EscapeString(title)))
	sb.WriteString("</head>\n<body>\n")
	sb.WriteString(fmt.Sprintf("<div id=%q></div>\n", containerID))
	sb.WriteString("<script>\n")
	sb.WriteString(fmt.Sprintf("globalThis.__container = document.getElementById(%s);\n", compiler.QuoteJS(containerID)))
	sb.WriteString("</script>\n<script>\n")
	// a literal </script> inside a module string would end the tag early
	sb.WriteString(strings.ReplaceAll(build.Bundle, "</script", "<\\/script"))
	sb.WriteString("</script>\n</body>\n</html>\n")
	return sb.String()
}
