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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

// snapshot is the on-disk form of a MemoryFS: path → contents.
type snapshot struct {
	Version int               `json:"version"`
	Files   map[string]string `json:"files"`
}

const snapshotVersion = 1

func snapshotPath(name string) (string, error) {
	return xdg.DataFile(filepath.Join("forge", "snapshots", name+".json"))
}

// SaveSnapshot persists every file of a MemoryFS under the XDG data
// directory so a later session can restore the tree.
func SaveSnapshot(ctx context.Context, fs *MemoryFS, name string) error {
	snap := snapshot{Version: snapshotVersion, Files: make(map[string]string)}
	for _, p := range fs.Paths() {
		data, err := fs.ReadFile(ctx, p)
		if err != nil {
			return err
		}
		snap.Files[p] = string(data)
	}
	out, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	target, err := snapshotPath(name)
	if err != nil {
		return err
	}
	return os.WriteFile(target, out, 0o644)
}

// LoadSnapshot restores a MemoryFS previously written by SaveSnapshot.
func LoadSnapshot(ctx context.Context, name string) (*MemoryFS, error) {
	target, err := snapshotPath(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return nil, err
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("snapshot %s is corrupt: %w", name, err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("snapshot %s has unsupported version %d", name, snap.Version)
	}
	return NewMemoryFSFromMap(snap.Files)
}
