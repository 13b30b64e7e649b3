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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectEvent(t *testing.T, fw FileWatcher, timeout time.Duration) FileEvent {
	t.Helper()
	select {
	case event := <-fw.Events():
		return event
	case <-time.After(timeout):
		t.Fatal("no file event within timeout")
		return FileEvent{}
	}
}

func TestWatcherBatchesRapidWrites(t *testing.T) {
	dir := t.TempDir()
	fw, err := newFileWatcher(dir, 50*time.Millisecond, NewLogger(false))
	require.NoError(t, err)
	defer func() { _ = fw.Close() }()
	require.NoError(t, fw.Watch(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.ts"), []byte("export const a = 1;"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.ts"), []byte("export const b = 2;"), 0o644))

	event := collectEvent(t, fw, 5*time.Second)
	assert.NotEmpty(t, event.Paths)
}

func TestWatcherHonorsGitignore(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("skipped.ts\n"), 0o644))

	fw, err := newFileWatcher(dir, 50*time.Millisecond, NewLogger(false))
	require.NoError(t, err)
	defer func() { _ = fw.Close() }()
	require.NoError(t, fw.Watch(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "skipped.ts"), []byte("ignored"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kept.ts"), []byte("export const k = 1;"), 0o644))

	event := collectEvent(t, fw, 5*time.Second)
	for _, p := range event.Paths {
		assert.NotEqual(t, "skipped.ts", filepath.Base(p))
	}
}

func TestWatcherCloseIdempotent(t *testing.T) {
	fw, err := newFileWatcher(t.TempDir(), 50*time.Millisecond, NewLogger(false))
	require.NoError(t, err)
	assert.NoError(t, fw.Close())
	assert.NoError(t, fw.Close())
}
