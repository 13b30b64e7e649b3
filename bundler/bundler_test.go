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

package bundler_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bennypowers.dev/forge/bundler"
	"bennypowers.dev/forge/compiler"
	"bennypowers.dev/forge/externals"
	"bennypowers.dev/forge/queries"
	"bennypowers.dev/forge/vfs"
)

func newBundler(t *testing.T, fs vfs.FileSystem) *bundler.Bundler {
	t.Helper()
	qm, err := queries.GetGlobalQueryManager()
	require.NoError(t, err)
	registry := externals.Defaults()
	c := compiler.New(compiler.Config{
		FileSystem: fs,
		Queries:    qm,
		Externals:  registry,
	})
	return bundler.New(c, registry)
}

func memFS(t *testing.T, files map[string]string) *vfs.MemoryFS {
	t.Helper()
	fs, err := vfs.NewMemoryFSFromMap(files)
	require.NoError(t, err)
	return fs
}

func TestLinearGraph(t *testing.T) {
	ctx := context.Background()
	b := newBundler(t, memFS(t, map[string]string{
		"/a.tsx": "import { b } from './b';\nexport default function A() { return b; }\n",
		"/b.ts":  "import { c } from './c';\nexport const b = c + 1;\n",
		"/c.ts":  "export const c = 1;\n",
	}))

	result, err := b.Build(ctx, bundler.Options{EntryPoint: "/a.tsx"})
	require.NoError(t, err)

	assert.Equal(t, []string{"/a.tsx", "/b.ts", "/c.ts"}, result.Modules)
	expected := map[string][]string{
		"/a.tsx": {"/b.ts"},
		"/b.ts":  {"/c.ts"},
		"/c.ts":  {},
	}
	if diff := cmp.Diff(expected, result.DependencyGraph); diff != "" {
		t.Errorf("dependency graph mismatch (-want +got):\n%s", diff)
	}
}

func TestExternalOnly(t *testing.T) {
	ctx := context.Background()
	b := newBundler(t, memFS(t, map[string]string{
		"/app.tsx": "import React from 'react';\nexport default function App() { return React.createElement('div'); }\n",
	}))

	result, err := b.Build(ctx, bundler.Options{EntryPoint: "/app.tsx"})
	require.NoError(t, err)

	assert.Equal(t, []string{"/app.tsx"}, result.Modules)
	assert.NotContains(t, result.Bundle, "define('react'")
}

func TestCSSImportBundles(t *testing.T) {
	ctx := context.Background()
	b := newBundler(t, memFS(t, map[string]string{
		"/main.tsx": "import './g.css';\nexport default function Main() { return null; }\n",
		"/g.css":    "body{color:red}",
	}))

	result, err := b.Build(ctx, bundler.Options{EntryPoint: "/main.tsx"})
	require.NoError(t, err)

	assert.Equal(t, []string{"/main.tsx", "/g.css"}, result.Modules)
	assert.Contains(t, result.Bundle, "define('/g.css', [], ")
	assert.Contains(t, result.Bundle, "body{color:red}")
}

func TestCycleBuildCompletes(t *testing.T) {
	ctx := context.Background()
	b := newBundler(t, memFS(t, map[string]string{
		"/a.tsx": "import './b';\nexport default function A() { return null; }\n",
		"/b.tsx": "import './a';\nexport default function B() { return null; }\n",
	}))

	result, err := b.Build(ctx, bundler.Options{EntryPoint: "/a.tsx"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/a.tsx", "/b.tsx"}, result.Modules)
	// cycle detection is the runtime's job; both definitions ship
	assert.Contains(t, result.Bundle, "define('/a.tsx'")
	assert.Contains(t, result.Bundle, "define('/b.tsx'")
	assert.Contains(t, result.Bundle, "CircularDependencyError")
}

// failingFS makes one path unreadable while leaving it resolvable.
type failingFS struct {
	*vfs.MemoryFS
	failPath string
}

var errDiskFault = errors.New("disk fault")

func (f *failingFS) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if path == f.failPath {
		return nil, errDiskFault
	}
	return f.MemoryFS.ReadFile(ctx, path)
}

func TestFailingModuleSynthesized(t *testing.T) {
	ctx := context.Background()
	mem := memFS(t, map[string]string{
		"/main.tsx":   "import './broken';\nexport default function Main() { return null; }\n",
		"/broken.tsx": "export default function Broken() { return null; }\n",
	})
	b := newBundler(t, &failingFS{MemoryFS: mem, failPath: "/broken.tsx"})

	result, err := b.Build(ctx, bundler.Options{EntryPoint: "/main.tsx"})
	require.NoError(t, err)

	assert.Equal(t, []string{"/main.tsx", "/broken.tsx"}, result.Modules)
	assert.Contains(t, result.Bundle, "define('/broken.tsx', [], ")
	assert.Contains(t, result.Bundle, "module failed to build")
	assert.Contains(t, result.Bundle, "module.exports = { default: () => null };")
}

func TestEntryFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	mem := memFS(t, map[string]string{
		"/main.tsx": "export default 1;\n",
	})
	b := newBundler(t, &failingFS{MemoryFS: mem, failPath: "/main.tsx"})

	_, err := b.Build(ctx, bundler.Options{EntryPoint: "/main.tsx"})
	assert.ErrorIs(t, err, errDiskFault)
}

func TestBuildMemoized(t *testing.T) {
	ctx := context.Background()
	b := newBundler(t, memFS(t, map[string]string{
		"/a.ts": "export const a = 1;\n",
	}))

	first, err := b.Build(ctx, bundler.Options{EntryPoint: "/a.ts"})
	require.NoError(t, err)
	second, err := b.Build(ctx, bundler.Options{EntryPoint: "/a.ts"})
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestCacheKeyIgnoresExternalOrder(t *testing.T) {
	ctx := context.Background()
	b := newBundler(t, memFS(t, map[string]string{
		"/a.ts": "export const a = 1;\n",
	}))

	first, err := b.Build(ctx, bundler.Options{EntryPoint: "/a.ts", Externals: []string{"lodash", "dayjs"}})
	require.NoError(t, err)
	second, err := b.Build(ctx, bundler.Options{EntryPoint: "/a.ts", Externals: []string{"dayjs", "lodash"}})
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestInvalidateModuleDropsBuilds(t *testing.T) {
	ctx := context.Background()
	b := newBundler(t, memFS(t, map[string]string{
		"/a.ts": "export const a = 1;\n",
	}))

	first, err := b.Build(ctx, bundler.Options{EntryPoint: "/a.ts"})
	require.NoError(t, err)
	b.InvalidateModule("/a.ts")
	second, err := b.Build(ctx, bundler.Options{EntryPoint: "/a.ts"})
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestBundleSectionOrder(t *testing.T) {
	ctx := context.Background()
	b := newBundler(t, memFS(t, map[string]string{
		"/a.tsx": "import { b } from './b';\nexport default function A() { return b; }\n",
		"/b.ts":  "export const b = 1;\n",
	}))

	result, err := b.Build(ctx, bundler.Options{EntryPoint: "/a.tsx"})
	require.NoError(t, err)
	bundle := result.Bundle

	registryAt := strings.Index(bundle, "runtime module registry")
	externalsAt := strings.Index(bundle, "external library registry")
	setupAt := strings.Index(bundle, "external setup")
	entryAt := strings.Index(bundle, "define('/a.tsx'")
	depAt := strings.Index(bundle, "define('/b.ts'")
	bootstrapAt := strings.Index(bundle, "[forge] bootstrap")

	for name, at := range map[string]int{
		"registry": registryAt, "externals": externalsAt, "setup": setupAt,
		"entry": entryAt, "dep": depAt, "bootstrap": bootstrapAt,
	} {
		require.GreaterOrEqual(t, at, 0, "section %s missing", name)
	}
	assert.Less(t, registryAt, externalsAt)
	assert.Less(t, externalsAt, setupAt)
	assert.Less(t, setupAt, entryAt)
	assert.Less(t, entryAt, depAt)
	assert.Less(t, depAt, bootstrapAt)
	// every define precedes the bootstrap's first require
	assert.Contains(t, bundle, "await g.require('/a.tsx')")
}

func TestStyleLayerToggle(t *testing.T) {
	ctx := context.Background()
	b := newBundler(t, memFS(t, map[string]string{
		"/a.ts": "export const a = 1;\n",
	}))

	plain, err := b.Build(ctx, bundler.Options{EntryPoint: "/a.ts"})
	require.NoError(t, err)
	assert.NotContains(t, plain.Bundle, "style layer")

	styled, err := b.Build(ctx, bundler.Options{EntryPoint: "/a.ts", IncludeStyleLayer: true})
	require.NoError(t, err)
	assert.Contains(t, styled.Bundle, "style layer")
	assert.Contains(t, styled.Bundle, bundler.DefaultStyleLayerURL)
}

func TestExternalRecordsSerialized(t *testing.T) {
	ctx := context.Background()
	b := newBundler(t, memFS(t, map[string]string{
		"/a.ts": "export const a = 1;\n",
	}))

	result, err := b.Build(ctx, bundler.Options{EntryPoint: "/a.ts", Externals: []string{"lodash"}})
	require.NoError(t, err)
	assert.Contains(t, result.Bundle, `"name":"react"`)
	assert.Contains(t, result.Bundle, `"name":"lodash"`)
	assert.Contains(t, result.Bundle, "__setupExternals")
	// URL-only records with no host global must load during setup, so
	// every registered name is in the preload list
	assert.Contains(t, result.Bundle, `["lodash","react","react-dom","react-dom/client","react/jsx-runtime"]`)
}

func TestRelativeEntryRejected(t *testing.T) {
	ctx := context.Background()
	b := newBundler(t, memFS(t, map[string]string{"/a.ts": "export const a = 1;\n"}))
	_, err := b.Build(ctx, bundler.Options{EntryPoint: "a.ts"})
	assert.ErrorIs(t, err, vfs.ErrInvalidPath)
}
