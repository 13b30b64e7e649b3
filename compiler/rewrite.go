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
	"regexp"
	"sort"
	"strings"

	ts "github.com/tree-sitter/go-tree-sitter"

	"bennypowers.dev/forge/transform"
)

// fallbackDefaultName binds anonymous default exports in the lowered
// module body.
const fallbackDefaultName = "__forge_default"

// edit is a byte-range replacement applied to the transformed code.
type edit struct {
	start, end  uint
	replacement string
}

// exportEntry is one key of the module.exports object.
type exportEntry struct {
	exported string
	value    string
}

// rewriter accumulates state while lowering one module's ESM shape to
// require/module.exports form.
type rewriter struct {
	c           *Compiler
	ctx         context.Context
	id          string
	code        []byte
	resolutions map[string]resolution

	edits       []edit
	requires    []resolution // in first-use order, deduplicated
	requireSeen map[string]bool
	bindings    map[string][]string // resolved id → binding lines
	exports     []exportEntry
	defaultExpr string
	starSlugs   []string
	warnings    []string
}

// compileScript runs the full js-like pipeline for one module.
func (c *Compiler) compileScript(ctx context.Context, id string) (*Result, error) {
	source, err := c.fs.ReadFile(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", id, err)
	}

	specifiers, parseWarnings, parseErr := c.extractImportSources(id, source)
	warnings := parseWarnings
	if parseErr != nil {
		warnings = append(warnings, fmt.Sprintf("%s: dependency extraction failed, compiling with no dependencies: %v", id, parseErr))
		specifiers = nil
	}

	resolutions, deps, resolveWarnings, err := c.resolveAll(ctx, id, specifiers)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, resolveWarnings...)

	transformed, err := transform.Transform(source, transform.Options{
		Loader:      transform.LoaderForPath(id),
		Target:      c.target,
		Sourcefile:  id,
		TsconfigRaw: c.tsconfig,
	})
	if err != nil {
		return nil, fmt.Errorf("transforming %s: %w", id, err)
	}

	var body string
	if parseErr != nil {
		// best-effort: ship the transformed code untouched
		body = string(transformed.Code)
	} else {
		rw := &rewriter{
			c:           c,
			ctx:         ctx,
			id:          id,
			code:        transformed.Code,
			resolutions: resolutions,
			requireSeen: make(map[string]bool),
			bindings:    make(map[string][]string),
		}
		body, err = rw.rewrite()
		if err != nil {
			return nil, err
		}
		warnings = append(warnings, rw.warnings...)
	}

	return &Result{
		Code:         WrapDefine(id, deps, body),
		Dependencies: deps,
		SourceMap:    string(transformed.Map),
		Warnings:     warnings,
	}, nil
}

// WrapDefine produces the final module definition string.
func WrapDefine(id string, deps []string, body string) string {
	quoted := make([]string, len(deps))
	for i, dep := range deps {
		quoted[i] = QuoteJS(dep)
	}
	return fmt.Sprintf("define(%s, [%s], function(require, module, exports) {\n%s\n});\n",
		QuoteJS(id), strings.Join(quoted, ", "), body)
}

// rewrite lowers the transformed ESM code into the factory body.
func (r *rewriter) rewrite() (string, error) {
	tree := parseWithGrammar(r.code, "typescript")
	if tree == nil {
		r.warnings = append(r.warnings, fmt.Sprintf("%s: transformed code failed to parse; emitting unmodified", r.id))
		return string(r.code), nil
	}
	defer tree.Close()

	root := tree.RootNode()
	for i := uint(0); i < root.NamedChildCount(); i++ {
		node := root.NamedChild(i)
		switch node.Kind() {
		case "import_statement":
			r.lowerImport(node)
		case "export_statement":
			r.lowerExport(node)
		}
	}
	r.lowerDynamicImports(root)

	if r.defaultExpr == "" && len(r.exports) == 0 {
		r.detectImplicitDefault(root)
	}

	var sb strings.Builder
	for _, res := range r.requires {
		slug := requireSlug(res.resolved)
		sb.WriteString(fmt.Sprintf("const %s = require(%s);\n", slug, QuoteJS(res.resolved)))
		for _, binding := range r.bindings[res.resolved] {
			sb.WriteString(binding + "\n")
		}
	}
	sb.WriteString(applyEdits(r.code, r.edits))
	sb.WriteString("\n")
	sb.WriteString(r.exportEpilogue())
	return sb.String(), nil
}

// ensureRequire registers a require line for a resolved module,
// returning its slug identifier.
func (r *rewriter) ensureRequire(res resolution) string {
	if !r.requireSeen[res.resolved] {
		r.requireSeen[res.resolved] = true
		r.requires = append(r.requires, res)
	}
	return requireSlug(res.resolved)
}

// lookupResolution finds the pre-parse resolution for a specifier, or
// resolves it fresh when the transform introduced one we have not seen.
func (r *rewriter) lookupResolution(specifier string) resolution {
	if res, ok := r.resolutions[specifier]; ok {
		return res
	}
	res, err := r.c.resolveSpecifier(r.ctx, r.id, specifier)
	if err != nil {
		res = resolution{raw: specifier, resolved: specifier, kind: specUnresolved}
	}
	r.resolutions[specifier] = res
	return res
}

var identRe = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// member renders a property access, falling back to bracket syntax for
// names that are not valid identifiers.
func member(slug, name string) string {
	if identRe.MatchString(name) {
		return slug + "." + name
	}
	return slug + "[" + QuoteJS(name) + "]"
}

// objectKey renders an object literal key.
func objectKey(name string) string {
	if identRe.MatchString(name) {
		return name
	}
	return QuoteJS(name)
}

// stringValue extracts the inner text of a string literal node.
func stringValue(node *ts.Node, code []byte) string {
	for i := uint(0); i < node.NamedChildCount(); i++ {
		child := node.NamedChild(i)
		if child.Kind() == "string_fragment" {
			return child.Utf8Text(code)
		}
	}
	// empty string literal has no fragment child
	return strings.Trim(node.Utf8Text(code), `"'`)
}

func childOfKind(node *ts.Node, kind string) *ts.Node {
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child != nil && child.Kind() == kind {
			return child
		}
	}
	return nil
}

// lowerImport removes an import declaration and records its require
// preamble and binding lines.
func (r *rewriter) lowerImport(node *ts.Node) {
	sourceNode := node.ChildByFieldName("source")
	if sourceNode == nil {
		return
	}
	res := r.lookupResolution(stringValue(sourceNode, r.code))
	slug := r.ensureRequire(res)

	if clause := childOfKind(node, "import_clause"); clause != nil {
		for i := uint(0); i < clause.NamedChildCount(); i++ {
			spec := clause.NamedChild(i)
			switch spec.Kind() {
			case "identifier":
				local := spec.Utf8Text(r.code)
				r.addBinding(res.resolved, fmt.Sprintf("const %s = %s.default ?? %s;", local, slug, slug))
			case "namespace_import":
				for j := uint(0); j < spec.NamedChildCount(); j++ {
					if spec.NamedChild(j).Kind() == "identifier" {
						local := spec.NamedChild(j).Utf8Text(r.code)
						r.addBinding(res.resolved, fmt.Sprintf("const %s = %s;", local, slug))
					}
				}
			case "named_imports":
				for j := uint(0); j < spec.NamedChildCount(); j++ {
					importSpec := spec.NamedChild(j)
					if importSpec.Kind() != "import_specifier" {
						continue
					}
					nameNode := importSpec.ChildByFieldName("name")
					if nameNode == nil {
						continue
					}
					imported := nameNode.Utf8Text(r.code)
					if nameNode.Kind() == "string" {
						imported = stringValue(nameNode, r.code)
					}
					local := imported
					if alias := importSpec.ChildByFieldName("alias"); alias != nil {
						local = alias.Utf8Text(r.code)
					}
					r.addBinding(res.resolved, fmt.Sprintf("const %s = %s;", local, member(slug, imported)))
				}
			}
		}
	}
	r.edits = append(r.edits, edit{node.StartByte(), node.EndByte(), ""})
}

func (r *rewriter) addBinding(resolved, line string) {
	r.bindings[resolved] = append(r.bindings[resolved], line)
}

// lowerExport removes an export statement, recording what the epilogue
// must place on module.exports.
func (r *rewriter) lowerExport(node *ts.Node) {
	sourceNode := node.ChildByFieldName("source")

	// export ... from './x'
	if sourceNode != nil {
		res := r.lookupResolution(stringValue(sourceNode, r.code))
		slug := r.ensureRequire(res)
		switch {
		case childOfKind(node, "export_clause") != nil:
			clause := childOfKind(node, "export_clause")
			for i := uint(0); i < clause.NamedChildCount(); i++ {
				spec := clause.NamedChild(i)
				if spec.Kind() != "export_specifier" {
					continue
				}
				nameNode := spec.ChildByFieldName("name")
				if nameNode == nil {
					continue
				}
				name := nameNode.Utf8Text(r.code)
				exported := name
				if alias := spec.ChildByFieldName("alias"); alias != nil {
					exported = alias.Utf8Text(r.code)
				}
				r.exports = append(r.exports, exportEntry{exported, member(slug, name)})
			}
		case childOfKind(node, "namespace_export") != nil:
			ns := childOfKind(node, "namespace_export")
			for i := uint(0); i < ns.NamedChildCount(); i++ {
				if ns.NamedChild(i).Kind() == "identifier" {
					r.exports = append(r.exports, exportEntry{ns.NamedChild(i).Utf8Text(r.code), slug})
				}
			}
		default:
			// export * from './x'
			r.starSlugs = append(r.starSlugs, slug)
		}
		r.edits = append(r.edits, edit{node.StartByte(), node.EndByte(), ""})
		return
	}

	// export default <declaration|expression>
	if childOfKind(node, "default") != nil {
		target := node.ChildByFieldName("declaration")
		if target == nil {
			target = node.ChildByFieldName("value")
		}
		if target == nil {
			r.warnings = append(r.warnings, fmt.Sprintf("%s: unrecognized default export shape", r.id))
			r.edits = append(r.edits, edit{node.StartByte(), node.EndByte(), ""})
			return
		}
		if name := target.ChildByFieldName("name"); name != nil {
			r.edits = append(r.edits, edit{node.StartByte(), target.StartByte(), ""})
			r.defaultExpr = name.Utf8Text(r.code)
		} else {
			r.edits = append(r.edits, edit{node.StartByte(), target.StartByte(), "const " + fallbackDefaultName + " = "})
			r.defaultExpr = fallbackDefaultName
		}
		return
	}

	// export { a, b as c };
	if clause := childOfKind(node, "export_clause"); clause != nil {
		for i := uint(0); i < clause.NamedChildCount(); i++ {
			spec := clause.NamedChild(i)
			if spec.Kind() != "export_specifier" {
				continue
			}
			nameNode := spec.ChildByFieldName("name")
			if nameNode == nil {
				continue
			}
			name := nameNode.Utf8Text(r.code)
			exported := name
			if alias := spec.ChildByFieldName("alias"); alias != nil {
				exported = alias.Utf8Text(r.code)
			}
			r.exports = append(r.exports, exportEntry{exported, name})
		}
		r.edits = append(r.edits, edit{node.StartByte(), node.EndByte(), ""})
		return
	}

	// export function/class/const/let/var
	if decl := node.ChildByFieldName("declaration"); decl != nil {
		r.edits = append(r.edits, edit{node.StartByte(), decl.StartByte(), ""})
		for _, name := range declaredNames(decl, r.code) {
			r.exports = append(r.exports, exportEntry{name, name})
		}
		return
	}

	r.warnings = append(r.warnings, fmt.Sprintf("%s: unrecognized export shape", r.id))
	r.edits = append(r.edits, edit{node.StartByte(), node.EndByte(), ""})
}

// declaredNames lists the identifiers a declaration introduces.
func declaredNames(decl *ts.Node, code []byte) []string {
	switch decl.Kind() {
	case "function_declaration", "class_declaration", "generator_function_declaration":
		if name := decl.ChildByFieldName("name"); name != nil {
			return []string{name.Utf8Text(code)}
		}
	case "lexical_declaration", "variable_declaration":
		var names []string
		for i := uint(0); i < decl.NamedChildCount(); i++ {
			declarator := decl.NamedChild(i)
			if declarator.Kind() != "variable_declarator" {
				continue
			}
			if name := declarator.ChildByFieldName("name"); name != nil && name.Kind() == "identifier" {
				names = append(names, name.Utf8Text(code))
			}
		}
		return names
	}
	return nil
}

// lowerDynamicImports rewrites import('x') calls to runtime requires so
// the loader serves them from the bundle.
func (r *rewriter) lowerDynamicImports(root *ts.Node) {
	var walk func(node *ts.Node)
	walk = func(node *ts.Node) {
		if node.Kind() == "call_expression" {
			if fn := node.ChildByFieldName("function"); fn != nil && fn.Kind() == "import" {
				if args := node.ChildByFieldName("arguments"); args != nil && args.NamedChildCount() == 1 {
					arg := args.NamedChild(0)
					if arg.Kind() == "string" {
						res := r.lookupResolution(stringValue(arg, r.code))
						r.edits = append(r.edits, edit{fn.StartByte(), fn.EndByte(), "globalThis.require"})
						r.edits = append(r.edits, edit{arg.StartByte(), arg.EndByte(), QuoteJS(res.resolved)})
					}
				}
			}
		}
		for i := uint(0); i < node.NamedChildCount(); i++ {
			walk(node.NamedChild(i))
		}
	}
	walk(root)
}

// detectImplicitDefault finds the first top-level function, class, or
// const declaration and promotes it to the default export.
func (r *rewriter) detectImplicitDefault(root *ts.Node) {
	for i := uint(0); i < root.NamedChildCount(); i++ {
		node := root.NamedChild(i)
		switch node.Kind() {
		case "function_declaration", "class_declaration", "generator_function_declaration":
			if name := node.ChildByFieldName("name"); name != nil {
				r.defaultExpr = name.Utf8Text(r.code)
				return
			}
		case "lexical_declaration", "variable_declaration":
			for j := uint(0); j < node.NamedChildCount(); j++ {
				declarator := node.NamedChild(j)
				if declarator.Kind() != "variable_declarator" {
					continue
				}
				name := declarator.ChildByFieldName("name")
				if name != nil && name.Kind() == "identifier" && declarator.ChildByFieldName("value") != nil {
					r.defaultExpr = name.Utf8Text(r.code)
					return
				}
			}
		}
	}
}

// exportEpilogue renders the module.exports assignment.
func (r *rewriter) exportEpilogue() string {
	var entries []string
	if r.defaultExpr != "" {
		entries = append(entries, "default: "+r.defaultExpr)
	}
	for _, entry := range r.exports {
		entries = append(entries, objectKey(entry.exported)+": "+entry.value)
	}
	var sb strings.Builder
	if len(entries) == 0 {
		sb.WriteString("module.exports = {};\n")
	} else {
		sb.WriteString("module.exports = { " + strings.Join(entries, ", ") + " };\n")
	}
	for _, slug := range r.starSlugs {
		sb.WriteString(fmt.Sprintf("Object.assign(module.exports, %s);\n", slug))
	}
	return sb.String()
}

// applyEdits splices the collected replacements into the code.
func applyEdits(code []byte, edits []edit) string {
	sorted := make([]edit, len(edits))
	copy(sorted, edits)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].start < sorted[j].start })

	var sb strings.Builder
	cursor := uint(0)
	for _, e := range sorted {
		if e.start < cursor {
			// overlapping edit; keep the earlier one
			continue
		}
		sb.Write(code[cursor:e.start])
		sb.WriteString(e.replacement)
		cursor = e.end
	}
	if cursor < uint(len(code)) {
		sb.Write(code[cursor:])
	}
	return sb.String()
}
