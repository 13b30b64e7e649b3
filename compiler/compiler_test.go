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

package compiler_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bennypowers.dev/forge/compiler"
	"bennypowers.dev/forge/externals"
	"bennypowers.dev/forge/queries"
	"bennypowers.dev/forge/vfs"
)

func newCompiler(t *testing.T, files map[string]string) *compiler.Compiler {
	t.Helper()
	fs, err := vfs.NewMemoryFSFromMap(files)
	require.NoError(t, err)
	qm, err := queries.GetGlobalQueryManager()
	require.NoError(t, err)
	return compiler.New(compiler.Config{
		FileSystem: fs,
		Queries:    qm,
		Externals:  externals.Defaults(),
	})
}

func TestCompileLinearModule(t *testing.T) {
	ctx := context.Background()
	c := newCompiler(t, map[string]string{
		"/a.tsx": "import { helper } from './b';\nexport default function App() { return helper(); }\n",
		"/b.ts":  "export function helper(): number { return 1; }\n",
	})

	result, err := c.Compile(ctx, "/a.tsx")
	require.NoError(t, err)

	assert.Equal(t, []string{"/b.ts"}, result.Dependencies)
	assert.True(t, strings.HasPrefix(result.Code, "define('/a.tsx', ['/b.ts'], function(require, module, exports) {"))
	assert.Contains(t, result.Code, "require('/b.ts')")
	assert.Contains(t, result.Code, "const helper = ")
	assert.Contains(t, result.Code, "default: App")
	assert.NotContains(t, result.Code, "import ")
	assert.NotContains(t, result.Code, "export default")
}

func TestCompileMemoizes(t *testing.T) {
	ctx := context.Background()
	c := newCompiler(t, map[string]string{
		"/a.ts": "export const one = 1;\n",
	})

	first, err := c.Compile(ctx, "/a.ts")
	require.NoError(t, err)
	second, err := c.Compile(ctx, "/a.ts")
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestInvalidateTransitive(t *testing.T) {
	ctx := context.Background()
	c := newCompiler(t, map[string]string{
		"/a.ts": "import './b';\nexport const a = 1;\n",
		"/b.ts": "import './c';\nexport const b = 2;\n",
		"/c.ts": "export const c = 3;\n",
	})

	for _, id := range []string{"/a.ts", "/b.ts", "/c.ts"} {
		_, err := c.Compile(ctx, id)
		require.NoError(t, err)
		assert.True(t, c.Cached(id))
	}

	// invalidating the leaf drops everything that reaches it
	c.Invalidate("/c.ts")
	assert.False(t, c.Cached("/c.ts"))
	assert.False(t, c.Cached("/b.ts"))
	assert.False(t, c.Cached("/a.ts"))
}

func TestInvalidateLeavesSiblingsAlone(t *testing.T) {
	ctx := context.Background()
	c := newCompiler(t, map[string]string{
		"/a.ts": "import './b';\nexport const a = 1;\n",
		"/b.ts": "export const b = 2;\n",
		"/x.ts": "export const x = 9;\n",
	})

	for _, id := range []string{"/a.ts", "/b.ts", "/x.ts"} {
		_, err := c.Compile(ctx, id)
		require.NoError(t, err)
	}

	c.Invalidate("/b.ts")
	assert.False(t, c.Cached("/a.ts"))
	assert.True(t, c.Cached("/x.ts"))
}

func TestInvalidateThenCompileReadsAgain(t *testing.T) {
	ctx := context.Background()
	files := map[string]string{"/u.ts": "export const v = 1;\n"}
	fs, err := vfs.NewMemoryFSFromMap(files)
	require.NoError(t, err)
	qm, err := queries.GetGlobalQueryManager()
	require.NoError(t, err)
	c := compiler.New(compiler.Config{FileSystem: fs, Queries: qm, Externals: externals.Defaults()})

	first, err := c.Compile(ctx, "/u.ts")
	require.NoError(t, err)
	assert.Contains(t, first.Code, "v = 1")

	require.NoError(t, fs.WriteFile(ctx, "/u.ts", []byte("export const v = 2;\n")))
	c.Invalidate("/u.ts")

	second, err := c.Compile(ctx, "/u.ts")
	require.NoError(t, err)
	assert.Contains(t, second.Code, "v = 2")
}

func TestExtensionProbeOrder(t *testing.T) {
	ctx := context.Background()
	c := newCompiler(t, map[string]string{
		"/main.ts": "import './mod';\nexport const m = 1;\n",
		"/mod.tsx": "export const fromTsx = true;\n",
		"/mod.ts":  "export const fromTs = true;\n",
	})

	result, err := c.Compile(ctx, "/main.ts")
	require.NoError(t, err)
	assert.Equal(t, []string{"/mod.tsx"}, result.Dependencies)
}

func TestDirectoryIndexResolution(t *testing.T) {
	ctx := context.Background()
	c := newCompiler(t, map[string]string{
		"/main.ts":           "import './widgets';\nexport const m = 1;\n",
		"/widgets/index.tsx": "export const w = 1;\n",
	})

	result, err := c.Compile(ctx, "/main.ts")
	require.NoError(t, err)
	assert.Equal(t, []string{"/widgets/index.tsx"}, result.Dependencies)
}

func TestFileBeatsDirectoryIndex(t *testing.T) {
	ctx := context.Background()
	c := newCompiler(t, map[string]string{
		"/main.ts":       "import './kit';\nexport const m = 1;\n",
		"/kit.ts":        "export const file = true;\n",
		"/kit/index.tsx": "export const dir = true;\n",
	})

	result, err := c.Compile(ctx, "/main.ts")
	require.NoError(t, err)
	assert.Equal(t, []string{"/kit.ts"}, result.Dependencies)
}

func TestExternalsFilteredFromDependencies(t *testing.T) {
	ctx := context.Background()
	c := newCompiler(t, map[string]string{
		"/app.tsx": "import React from 'react';\nexport default function App() { return React.createElement('div'); }\n",
	})

	result, err := c.Compile(ctx, "/app.tsx")
	require.NoError(t, err)
	assert.Empty(t, result.Dependencies)
	// the require stays; the runtime short-circuits it to the registry
	assert.Contains(t, result.Code, "require('react')")
}

func TestUnresolvedSpecifierWarnsAndDefers(t *testing.T) {
	ctx := context.Background()
	c := newCompiler(t, map[string]string{
		"/app.ts":  "import { x } from './utls';\nexport const a = x;\n",
		"/utls.md": "not a module\n",
		"/util.ts": "export const x = 1;\n",
	})

	result, err := c.Compile(ctx, "/app.ts")
	require.NoError(t, err)
	assert.Empty(t, result.Dependencies)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "cannot resolve")
	// the require survives so the failure surfaces at runtime
	assert.Contains(t, result.Code, "require('/utls')")
}

func TestSideEffectImportKeepsDependency(t *testing.T) {
	ctx := context.Background()
	c := newCompiler(t, map[string]string{
		"/main.ts":  "import './setup';\nexport const m = 1;\n",
		"/setup.ts": "console.log('side effect');\n",
	})

	result, err := c.Compile(ctx, "/main.ts")
	require.NoError(t, err)
	assert.Equal(t, []string{"/setup.ts"}, result.Dependencies)
	assert.Contains(t, result.Code, "require('/setup.ts')")
}

func TestDuplicateImportsAppearOnce(t *testing.T) {
	ctx := context.Background()
	c := newCompiler(t, map[string]string{
		"/main.ts": "import { a } from './lib';\nimport { b } from './lib';\nexport const m = a + b;\n",
		"/lib.ts":  "export const a = 1;\nexport const b = 2;\n",
	})

	result, err := c.Compile(ctx, "/main.ts")
	require.NoError(t, err)
	assert.Equal(t, []string{"/lib.ts"}, result.Dependencies)
	assert.Equal(t, 1, strings.Count(result.Code, "require('/lib.ts')"))
}

func TestReadFailurePropagates(t *testing.T) {
	ctx := context.Background()
	c := newCompiler(t, map[string]string{})
	_, err := c.Compile(ctx, "/missing.ts")
	assert.ErrorIs(t, err, vfs.ErrNotExist)
}

func TestTransformFailurePropagates(t *testing.T) {
	ctx := context.Background()
	c := newCompiler(t, map[string]string{
		"/broken.ts": "const = = = nope(((\n",
	})
	_, err := c.Compile(ctx, "/broken.ts")
	assert.Error(t, err)
}

func TestUnsupportedKindRejected(t *testing.T) {
	ctx := context.Background()
	c := newCompiler(t, map[string]string{"/readme.md": "hi\n"})
	_, err := c.Compile(ctx, "/readme.md")
	assert.ErrorIs(t, err, compiler.ErrUnsupportedKind)
}

func TestGraphCopies(t *testing.T) {
	ctx := context.Background()
	c := newCompiler(t, map[string]string{
		"/a.ts": "import './b';\nexport const a = 1;\n",
		"/b.ts": "export const b = 2;\n",
	})
	_, err := c.Compile(ctx, "/a.ts")
	require.NoError(t, err)

	graph := c.Graph()
	assert.Equal(t, []string{"/b.ts"}, graph["/a.ts"])
	graph["/a.ts"] = nil
	assert.Equal(t, []string{"/b.ts"}, c.Graph()["/a.ts"])
}
