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

package transform

import (
	"context"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/jsonc"

	"bennypowers.dev/forge/vfs"
)

// Tsconfig carries the handful of compiler options the pipeline honors
// from a project's /tsconfig.json.
type Tsconfig struct {
	Raw    string // comment-stripped JSON, passed through to esbuild
	Target Target // compilerOptions.target, lowercased, if valid
}

// ReadTsconfig loads /tsconfig.json from the source tree, tolerating
// comments and trailing commas. A missing file yields a zero Tsconfig
// and no error.
func ReadTsconfig(ctx context.Context, fs vfs.FileSystem) (*Tsconfig, error) {
	exists, err := fs.Exists(ctx, "/tsconfig.json")
	if err != nil {
		return nil, err
	}
	if !exists {
		return &Tsconfig{}, nil
	}
	data, err := fs.ReadFile(ctx, "/tsconfig.json")
	if err != nil {
		return nil, err
	}
	raw := string(jsonc.ToJSON(data))
	cfg := &Tsconfig{Raw: raw}
	if target := gjson.Get(raw, "compilerOptions.target"); target.Exists() {
		lowered := strings.ToLower(target.String())
		if IsValidTarget(lowered) {
			cfg.Target = Target(lowered)
		}
	}
	return cfg, nil
}
