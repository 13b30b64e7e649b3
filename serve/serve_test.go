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

package serve

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, contents := range files {
		target := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))
		require.NoError(t, os.WriteFile(target, []byte(contents), 0o644))
	}
	return dir
}

// newTestServer wires a server over a temp project without starting
// the listener or watcher.
func newTestServer(t *testing.T, files map[string]string, entry string) *Server {
	t.Helper()
	ctx := context.Background()
	dir := writeProject(t, files)
	s, err := NewServer(Config{
		Port:       0,
		Entry:      entry,
		ProjectDir: dir,
		Reload:     false,
	}, NewLogger(false))
	require.NoError(t, err)

	_, err = s.local.CopyInto(ctx, s.mem, sourceGlob)
	require.NoError(t, err)
	require.NoError(t, s.pipeline.Init(ctx))
	return s
}

func TestNewServerRequiresEntry(t *testing.T) {
	_, err := NewServer(Config{ProjectDir: t.TempDir()}, NewLogger(false))
	assert.Error(t, err)
}

func TestNewServerRequiresProjectDir(t *testing.T) {
	_, err := NewServer(Config{Entry: "/a.ts", ProjectDir: "/definitely/not/here"}, NewLogger(false))
	assert.Error(t, err)
}

func TestHandleIndexServesDocument(t *testing.T) {
	s := newTestServer(t, map[string]string{
		"src/app.tsx": "export default function App() { return null; }\n",
	}, "/src/app.tsx")

	rec := httptest.NewRecorder()
	s.handleIndex(rec, httptest.NewRequest("GET", "/", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<!doctype html>")
	assert.Contains(t, body, "define('/src/app.tsx'")
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
}

func TestHandleIndexInjectsReloadClient(t *testing.T) {
	s := newTestServer(t, map[string]string{
		"src/app.tsx": "export default function App() { return null; }\n",
	}, "/src/app.tsx")
	s.config.Reload = true

	rec := httptest.NewRecorder()
	s.handleIndex(rec, httptest.NewRequest("GET", "/", nil))
	assert.Contains(t, rec.Body.String(), "live reload client")
}

func TestHandleBundleServesJavaScript(t *testing.T) {
	s := newTestServer(t, map[string]string{
		"src/app.tsx": "export default function App() { return null; }\n",
	}, "/src/app.tsx")

	rec := httptest.NewRecorder()
	s.handleBundle(rec, httptest.NewRequest("GET", "/bundle.js", nil))

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "javascript")
	assert.Contains(t, rec.Body.String(), "runtime module registry")
}

func TestHandleStats(t *testing.T) {
	s := newTestServer(t, map[string]string{
		"src/app.tsx": "export default function App() { return null; }\n",
	}, "/src/app.tsx")

	// prime the pipeline so stats carry content
	rec := httptest.NewRecorder()
	s.handleBundle(rec, httptest.NewRequest("GET", "/bundle.js", nil))

	rec = httptest.NewRecorder()
	s.handleStats(rec, httptest.NewRequest("GET", "/api/stats", nil))
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `"modules"`)
	assert.Contains(t, rec.Body.String(), "react")
}

func TestIsLocalOrigin(t *testing.T) {
	tests := []struct {
		name     string
		origin   string
		host     string
		expected bool
	}{
		{"no origin", "", "localhost:8080", true},
		{"localhost", "http://localhost:8080", "localhost:8080", true},
		{"loopback", "http://127.0.0.1:8080", "localhost:8080", true},
		{"ipv6 loopback", "http://[::1]:8080", "localhost:8080", true},
		{"localhost subdomain", "http://app.localhost:8080", "localhost:8080", true},
		{"same host", "https://demo.example.com", "demo.example.com", true},
		{"cross origin", "https://evil.example.com", "demo.example.com", false},
		{"spoofed 127", "http://127.evil.com", "localhost:8080", false},
		{"garbage origin", "::::", "localhost:8080", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws", nil)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.expected, isLocalOrigin(r))
		})
	}
}

func TestOnChangeMirrorsAndPatches(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t, map[string]string{
		"src/app.tsx": "import { version } from './util';\nexport default function App() { return version; }\n",
		"src/util.ts": "export const version = 'one';\n",
	}, "/src/app.tsx")

	_, err := s.pipeline.Build(ctx, s.buildOptions())
	require.NoError(t, err)

	// edit the file on disk, then feed the watcher path through onChange
	hostPath := filepath.Join(s.local.Root(), "src", "util.ts")
	require.NoError(t, os.WriteFile(hostPath, []byte("export const version = 'two';\n"), 0o644))
	s.onChange(ctx, []string{hostPath})

	// the mirror picked up the new contents
	data, err := s.mem.ReadFile(ctx, "/src/util.ts")
	require.NoError(t, err)
	assert.Contains(t, string(data), "two")

	// a fresh build sees the change
	build, err := s.pipeline.Build(ctx, s.buildOptions())
	require.NoError(t, err)
	assert.Contains(t, build.Bundle, "two")
}
