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

package compiler

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/agext/levenshtein"
	ts "github.com/tree-sitter/go-tree-sitter"

	"bennypowers.dev/forge/queries"
	"bennypowers.dev/forge/vfs"
)

// specifierKind classifies where a specifier resolves to.
type specifierKind int

const (
	specInternal specifierKind = iota
	specExternal
	specUnresolved
)

// resolution maps a raw import specifier to a concrete module id.
type resolution struct {
	raw      string
	resolved string
	kind     specifierKind
}

// probeExtensions is the deterministic extension resolution order.
var probeExtensions = []string{".tsx", ".ts", ".jsx", ".js", ".css"}

// indexExtensions resolve directory specifiers, tried only after every
// file-level candidate misses.
var indexExtensions = []string{".tsx", ".ts", ".jsx", ".js"}

// languageForPath picks the tree-sitter grammar for a module id.
func languageForPath(id string) string {
	switch path.Ext(id) {
	case ".tsx", ".jsx":
		return "tsx"
	default:
		return "typescript"
	}
}

// parseWithGrammar parses source with the pooled parser for the grammar.
// A nil tree means tree-sitter gave up entirely.
func parseWithGrammar(source []byte, language string) *ts.Tree {
	var parser *ts.Parser
	switch language {
	case "tsx":
		parser = queries.RetrieveTSXParser()
		defer queries.PutTSXParser(parser)
	default:
		parser = queries.RetrieveTypeScriptParser()
		defer queries.PutTypeScriptParser(parser)
	}
	return parser.Parse(source, nil)
}

// extractImportSources pre-parses the raw source and returns every
// import and re-export specifier in document order, static and dynamic
// alike.
func (c *Compiler) extractImportSources(id string, source []byte) ([]string, []string, error) {
	language := languageForPath(id)
	tree := parseWithGrammar(source, language)
	if tree == nil {
		return nil, nil, fmt.Errorf("failed to parse %s", id)
	}
	defer tree.Close()

	matcher, err := queries.NewQueryMatcher(c.qm, language, "imports")
	if err != nil {
		return nil, nil, err
	}
	defer matcher.Close()

	var sources []string
	var warnings []string
	if tree.RootNode().HasError() {
		warnings = append(warnings, fmt.Sprintf("%s: source has syntax errors; dependency extraction is best-effort", id))
	}
	seen := make(map[string]bool)
	for match := range matcher.AllQueryMatches(tree.RootNode(), source) {
		for _, capture := range match.Captures {
			name := matcher.GetCaptureNameByIndex(capture.Index)
			if name != "import.source" && name != "import.dynamic.source" {
				continue
			}
			specifier := capture.Node.Utf8Text(source)
			if !seen[specifier] {
				seen[specifier] = true
				sources = append(sources, specifier)
			}
		}
	}
	return sources, warnings, nil
}

// resolveSpecifier canonicalizes a specifier against the importing
// module and probes the filesystem for a concrete id.
func (c *Compiler) resolveSpecifier(ctx context.Context, from, specifier string) (resolution, error) {
	if c.externals.IsExternal(specifier) {
		return resolution{raw: specifier, resolved: specifier, kind: specExternal}, nil
	}
	base, err := vfs.Resolve(from, specifier)
	if err != nil {
		return resolution{}, err
	}

	var candidates []string
	if path.Ext(base) != "" {
		candidates = append(candidates, base)
	}
	for _, ext := range probeExtensions {
		candidates = append(candidates, base+ext)
	}
	for _, ext := range indexExtensions {
		candidates = append(candidates, path.Join(base, "index"+ext))
	}

	for _, candidate := range candidates {
		exists, err := c.fs.Exists(ctx, candidate)
		if err != nil {
			return resolution{}, err
		}
		if !exists {
			continue
		}
		if info, err := c.fs.Stat(ctx, candidate); err == nil && info.IsDir() {
			continue
		}
		return resolution{raw: specifier, resolved: candidate, kind: specInternal}, nil
	}

	return resolution{raw: specifier, resolved: base, kind: specUnresolved}, nil
}

// pathLister is implemented by filesystems that can enumerate their
// tree; used only for "did you mean" hints.
type pathLister interface {
	Paths() []string
}

// suggestPath finds the closest known file path to an unresolved
// specifier, or "" when nothing is close enough to be helpful.
func (c *Compiler) suggestPath(unresolved string) string {
	lister, ok := c.fs.(pathLister)
	if !ok {
		return ""
	}
	best := ""
	bestScore := 0.0
	for _, p := range lister.Paths() {
		score := levenshtein.Similarity(unresolved, p, nil)
		if score > bestScore {
			best, bestScore = p, score
		}
	}
	if bestScore < 0.5 {
		return ""
	}
	return best
}

// resolveAll maps every raw specifier and partitions the internal ids
// into the dependency list.
func (c *Compiler) resolveAll(ctx context.Context, id string, specifiers []string) (map[string]resolution, []string, []string, error) {
	resolutions := make(map[string]resolution, len(specifiers))
	var deps []string
	var warnings []string
	for _, specifier := range specifiers {
		res, err := c.resolveSpecifier(ctx, id, specifier)
		if err != nil {
			return nil, nil, nil, err
		}
		resolutions[specifier] = res
		switch res.kind {
		case specInternal:
			deps = append(deps, res.resolved)
		case specUnresolved:
			warning := fmt.Sprintf("%s: cannot resolve %q", id, specifier)
			if hint := c.suggestPath(res.resolved); hint != "" {
				warning += fmt.Sprintf(" (did you mean %q?)", hint)
			}
			warnings = append(warnings, warning)
		}
	}
	// an id imported through several specifiers appears once
	deps = dedupe(deps)
	return resolutions, deps, warnings, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// QuoteJS renders a string as a single-quoted JS literal.
func QuoteJS(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\n`, "\r", `\r`)
	return "'" + replacer.Replace(s) + "'"
}
