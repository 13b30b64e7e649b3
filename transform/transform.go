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

// Package transform adapts esbuild's Transform API for the module
// compiler. It lowers TypeScript and JSX to plain ES modules; the
// compiler then rewrites those into loader definitions.
package transform

import (
	"fmt"
	"path"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// Loader specifies the file type for transformation
type Loader string

const (
	LoaderTS  Loader = "ts"
	LoaderTSX Loader = "tsx"
	LoaderJS  Loader = "js"
	LoaderJSX Loader = "jsx"
)

// Target specifies the ECMAScript target version
type Target string

const (
	ES2015 Target = "es2015"
	ES2016 Target = "es2016"
	ES2017 Target = "es2017"
	ES2018 Target = "es2018"
	ES2019 Target = "es2019"
	ES2020 Target = "es2020"
	ES2021 Target = "es2021"
	ES2022 Target = "es2022"
	ES2023 Target = "es2023"
	ESNext Target = "esnext"
)

// DefaultTarget is used when neither the build options nor tsconfig
// name a target.
const DefaultTarget = ES2022

// IsValidTarget checks if a target string is valid
func IsValidTarget(target string) bool {
	switch Target(target) {
	case ES2015, ES2016, ES2017, ES2018, ES2019, ES2020, ES2021, ES2022, ES2023, ESNext:
		return true
	default:
		return false
	}
}

// SourceMapMode specifies how source maps are generated
type SourceMapMode string

const (
	SourceMapInline   SourceMapMode = "inline"
	SourceMapExternal SourceMapMode = "external"
	SourceMapNone     SourceMapMode = "none"
)

// Options configures a single transform call
type Options struct {
	Loader      Loader
	Target      Target
	Sourcemap   SourceMapMode
	TsconfigRaw string // Optional tsconfig.json content as JSON string
	Sourcefile  string // Module id, used in esbuild diagnostics and maps
}

// Result carries the lowered ES module code
type Result struct {
	Code []byte
	Map  []byte
}

// LoaderForPath picks the loader from a module id's extension.
// Unknown extensions transform as plain JS.
func LoaderForPath(p string) Loader {
	switch path.Ext(p) {
	case ".ts":
		return LoaderTS
	case ".tsx":
		return LoaderTSX
	case ".jsx":
		return LoaderJSX
	default:
		return LoaderJS
	}
}

// IsStylePath reports whether a module id names a stylesheet.
func IsStylePath(p string) bool {
	switch path.Ext(p) {
	case ".css", ".scss", ".sass":
		return true
	default:
		return false
	}
}

// IsScriptPath reports whether a module id names a script source.
func IsScriptPath(p string) bool {
	switch path.Ext(p) {
	case ".ts", ".tsx", ".js", ".jsx":
		return true
	default:
		return false
	}
}

// Transform lowers TypeScript/JSX source to ES module JavaScript using
// esbuild. The target passes through to esbuild unvalidated beyond the
// enum; whatever esbuild honors is what ends up in the bundle.
func Transform(source []byte, opts Options) (*Result, error) {
	loader := api.LoaderTS
	switch opts.Loader {
	case LoaderTSX:
		loader = api.LoaderTSX
	case LoaderJS:
		loader = api.LoaderJS
	case LoaderJSX:
		loader = api.LoaderJSX
	}

	target := api.ES2022
	switch opts.Target {
	case ES2015:
		target = api.ES2015
	case ES2016:
		target = api.ES2016
	case ES2017:
		target = api.ES2017
	case ES2018:
		target = api.ES2018
	case ES2019:
		target = api.ES2019
	case ES2020:
		target = api.ES2020
	case ES2021:
		target = api.ES2021
	case ES2022:
		target = api.ES2022
	case ES2023:
		target = api.ES2023
	case ESNext:
		target = api.ESNext
	}

	sourcemap := api.SourceMapNone
	switch opts.Sourcemap {
	case SourceMapInline:
		sourcemap = api.SourceMapInline
	case SourceMapExternal:
		sourcemap = api.SourceMapExternal
	}

	tsconfigRaw := opts.TsconfigRaw
	if tsconfigRaw == "" {
		// Inline helpers so the output never depends on tslib
		tsconfigRaw = `{
			"compilerOptions": {
				"importHelpers": false
			}
		}`
	}

	result := api.Transform(string(source), api.TransformOptions{
		Loader:      loader,
		Target:      target,
		Format:      api.FormatESModule,
		Sourcemap:   sourcemap,
		Sourcefile:  opts.Sourcefile,
		TsconfigRaw: tsconfigRaw,
	})

	if len(result.Errors) > 0 {
		var sb strings.Builder
		sb.WriteString("transform failed:\n")
		for _, err := range result.Errors {
			sb.WriteString(fmt.Sprintf("  %s\n", err.Text))
		}
		return nil, fmt.Errorf("%s", sb.String())
	}

	return &Result{
		Code: result.Code,
		Map:  result.Map,
	}, nil
}
