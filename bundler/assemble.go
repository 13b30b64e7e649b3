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

package bundler

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"bennypowers.dev/forge/compiler"
	"bennypowers.dev/forge/externals"
)

//go:embed runtime/*.js runtime/*.js.tmpl
var runtimeFS embed.FS

// DefaultStyleLayerURL is injected when a build asks for the style
// layer and the page does not already carry one.
const DefaultStyleLayerURL = "https://cdn.jsdelivr.net/npm/@tailwindcss/browser@4"

var setupTmpl = template.Must(template.ParseFS(runtimeFS, "runtime/setup.js.tmpl"))
var stylesTmpl = template.Must(template.ParseFS(runtimeFS, "runtime/styles.js.tmpl"))
var bootstrapTmpl = template.Must(template.ParseFS(runtimeFS, "runtime/bootstrap.js.tmpl"))

func runtimeAsset(name string) string {
	data, err := runtimeFS.ReadFile("runtime/" + name)
	if err != nil {
		// embedded files are part of the binary; a miss is a bug
		panic(fmt.Sprintf("missing runtime asset %s: %v", name, err))
	}
	return string(data)
}

// assemble concatenates the bundle in its fixed order: opener, runtime
// registry, external setup, optional style layer, module definitions in
// walk order, bootstrap.
func assemble(opts Options, registry *externals.Registry, modules []moduleCode) (string, error) {
	records, err := registry.MarshalRecords()
	if err != nil {
		return "", fmt.Errorf("serializing external records: %w", err)
	}
	// every registered name loads during setup: module factories call
	// the registry synchronously, so exports must be cached before the
	// first require
	preload := registry.Names()
	preloadJSON, err := json.Marshal(preload)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("(async () => {\n'use strict';\nconst g = globalThis;\n")
	sb.WriteString(runtimeAsset("registry.js"))
	sb.WriteString("\n")
	sb.WriteString(runtimeAsset("externals.js"))
	sb.WriteString("\n")

	if err := setupTmpl.ExecuteTemplate(&sb, "setup.js.tmpl", map[string]string{
		"RecordsJSON": records,
		"PreloadJSON": string(preloadJSON),
	}); err != nil {
		return "", err
	}
	sb.WriteString("\n")

	if opts.IncludeStyleLayer {
		if err := stylesTmpl.ExecuteTemplate(&sb, "styles.js.tmpl", map[string]string{
			"StyleLayerURL": compiler.QuoteJS(DefaultStyleLayerURL),
		}); err != nil {
			return "", err
		}
		sb.WriteString("\n")
	}

	sb.WriteString("// [forge] module definitions\n")
	for _, mod := range modules {
		sb.WriteString(mod.code)
		if !strings.HasSuffix(mod.code, "\n") {
			sb.WriteString("\n")
		}
	}
	sb.WriteString("\n")

	if err := bootstrapTmpl.ExecuteTemplate(&sb, "bootstrap.js.tmpl", map[string]string{
		"EntryJSON": compiler.QuoteJS(modules[0].id),
	}); err != nil {
		return "", err
	}
	sb.WriteString("})();\n")
	return sb.String(), nil
}

// errorModule synthesizes a definition for a module that failed to
// build, so the rest of the app still mounts.
func errorModule(id string, err error) string {
	body := fmt.Sprintf("console.error('[forge] module failed to build:', %s, %s);\nmodule.exports = { default: () => null };",
		compiler.QuoteJS(id), compiler.QuoteJS(err.Error()))
	return compiler.WrapDefine(id, nil, body)
}
