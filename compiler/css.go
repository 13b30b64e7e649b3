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
	"strings"

	"bennypowers.dev/forge/queries"
)

// compileStyle wraps a stylesheet in a dependency-free module whose
// factory upserts a <style data-module> element and exports the css
// text. The stylesheet ships verbatim; the parse is only a lint.
func (c *Compiler) compileStyle(ctx context.Context, id string) (*Result, error) {
	source, err := c.fs.ReadFile(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", id, err)
	}

	var warnings []string
	parser := queries.RetrieveCSSParser()
	tree := parser.Parse(source, nil)
	if tree != nil {
		if tree.RootNode().HasError() {
			warnings = append(warnings, fmt.Sprintf("%s: stylesheet has syntax errors", id))
		}
		tree.Close()
	}
	queries.PutCSSParser(parser)

	var body strings.Builder
	body.WriteString(fmt.Sprintf("const css = %s;\n", QuoteJS(string(source))))
	body.WriteString("if (typeof document !== 'undefined') {\n")
	body.WriteString(fmt.Sprintf("  let el = document.querySelector(%s);\n", QuoteJS("style[data-module="+quoteCSSAttr(id)+"]")))
	body.WriteString("  if (!el) {\n")
	body.WriteString("    el = document.createElement('style');\n")
	body.WriteString(fmt.Sprintf("    el.setAttribute('data-module', %s);\n", QuoteJS(id)))
	body.WriteString("    document.head.appendChild(el);\n")
	body.WriteString("  }\n")
	body.WriteString("  el.textContent = css;\n")
	body.WriteString("}\n")
	body.WriteString("module.exports = css;")

	return &Result{
		Code:         WrapDefine(id, nil, body.String()),
		Dependencies: nil,
		Warnings:     warnings,
	}, nil
}

// quoteCSSAttr wraps an attribute value for use inside a selector that
// is itself a JS string literal.
func quoteCSSAttr(value string) string {
	return `"` + value + `"`
}
