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

// Package queries owns the tree-sitter grammars, parser pools, and the
// compiled queries the compiler uses to read import and export shapes
// out of TypeScript, TSX, and CSS sources.
package queries

import (
	"embed"
	"errors"
	"fmt"
	"iter"
	"path"
	"sync"
	"time"

	"github.com/pterm/pterm"

	ts "github.com/tree-sitter/go-tree-sitter"
	tsCss "github.com/tree-sitter/tree-sitter-css/bindings/go"
	tsTypescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

//go:embed */*.scm
var queryFiles embed.FS

var ErrNoQueryManager = errors.New("QueryManager is nil")

// ---- Languages struct holds pre-initialized language grammars ----
var languages = struct {
	typescript *ts.Language
	tsx        *ts.Language
	css        *ts.Language
}{
	ts.NewLanguage(tsTypescript.LanguageTypescript()),
	ts.NewLanguage(tsTypescript.LanguageTSX()),
	ts.NewLanguage(tsCss.Language()),
}

// ---- Parser Pooling Section ----

// TypeScript parser pool
var typescriptParserPool = sync.Pool{
	New: func() any {
		parser := ts.NewParser()
		if err := parser.SetLanguage(languages.typescript); err != nil {
			panic(fmt.Sprintf("failed to set TypeScript language: %v", err))
		}
		return parser
	},
}

// TSX parser pool
var tsxParserPool = sync.Pool{
	New: func() any {
		parser := ts.NewParser()
		if err := parser.SetLanguage(languages.tsx); err != nil {
			panic(fmt.Sprintf("failed to set TSX language: %v", err))
		}
		return parser
	},
}

// CSS parser pool
var cssParserPool = sync.Pool{
	New: func() any {
		parser := ts.NewParser()
		if err := parser.SetLanguage(languages.css); err != nil {
			panic(fmt.Sprintf("failed to set CSS language: %v", err))
		}
		return parser
	},
}

// RetrieveTypeScriptParser returns a pooled TypeScript parser.
// Always call PutTypeScriptParser when done.
func RetrieveTypeScriptParser() *ts.Parser {
	return typescriptParserPool.Get().(*ts.Parser)
}

// PutTypeScriptParser returns a parser to the TypeScript pool.
func PutTypeScriptParser(parser *ts.Parser) {
	parser.Reset()
	typescriptParserPool.Put(parser)
}

// RetrieveTSXParser returns a pooled TSX parser.
// Always call PutTSXParser when done.
func RetrieveTSXParser() *ts.Parser {
	return tsxParserPool.Get().(*ts.Parser)
}

// PutTSXParser returns a parser to the TSX pool.
func PutTSXParser(parser *ts.Parser) {
	parser.Reset()
	tsxParserPool.Put(parser)
}

// RetrieveCSSParser returns a pooled CSS parser.
// Always call PutCSSParser when done.
func RetrieveCSSParser() *ts.Parser {
	return cssParserPool.Get().(*ts.Parser)
}

// PutCSSParser returns a parser to the CSS pool.
func PutCSSParser(parser *ts.Parser) {
	parser.Reset()
	cssParserPool.Put(parser)
}

// ---- End Parser Pooling Section ----

// QueryManager holds the compiled queries for each grammar
type QueryManager struct {
	typescript map[string]*ts.Query
	tsx        map[string]*ts.Query
}

// compilerQueryNames are the queries the module compiler needs, loaded
// for both the typescript and tsx grammars. Export statements are
// walked from the AST directly and need no query.
var compilerQueryNames = []string{"imports"}

// NewQueryManager compiles the embedded queries for every grammar.
func NewQueryManager() (*QueryManager, error) {
	start := time.Now()
	qm := &QueryManager{
		typescript: make(map[string]*ts.Query),
		tsx:        make(map[string]*ts.Query),
	}
	for _, queryName := range compilerQueryNames {
		if err := qm.loadQuery("typescript", queryName); err != nil {
			qm.Close()
			return nil, fmt.Errorf("failed to load TypeScript query %s: %w", queryName, err)
		}
		if err := qm.loadQuery("tsx", queryName); err != nil {
			qm.Close()
			return nil, fmt.Errorf("failed to load TSX query %s: %w", queryName, err)
		}
	}
	pterm.Debug.Println("Constructing queries took", time.Since(start))
	return qm, nil
}

var globalManager *QueryManager
var globalManagerErr error
var globalManagerOnce sync.Once

// GetGlobalQueryManager returns the process-wide QueryManager,
// constructing it on first use.
func GetGlobalQueryManager() (*QueryManager, error) {
	globalManagerOnce.Do(func() {
		globalManager, globalManagerErr = NewQueryManager()
	})
	return globalManager, globalManagerErr
}

func (qm *QueryManager) loadQuery(language, queryName string) error {
	// Use path.Join (not filepath.Join) - embed.FS requires POSIX / separators
	queryPath := path.Join(language, queryName+".scm")
	data, err := queryFiles.ReadFile(queryPath)
	if err != nil {
		return fmt.Errorf("failed to read query file %s: %w", queryPath, err)
	}

	var tsLang *ts.Language
	switch language {
	case "typescript":
		tsLang = languages.typescript
	case "tsx":
		tsLang = languages.tsx
	default:
		return fmt.Errorf("unknown language %s", language)
	}

	query, qerr := ts.NewQuery(tsLang, string(data))
	if qerr != nil {
		return fmt.Errorf("failed to parse query %s: %w", queryName, qerr)
	}

	switch language {
	case "typescript":
		qm.typescript[queryName] = query
	case "tsx":
		qm.tsx[queryName] = query
	}
	return nil
}

func (qm *QueryManager) getQuery(queryName string, language string) (*ts.Query, error) {
	var q *ts.Query
	var ok bool
	switch language {
	case "typescript":
		q, ok = qm.typescript[queryName]
	case "tsx":
		q, ok = qm.tsx[queryName]
	}
	if !ok {
		return nil, fmt.Errorf("unknown query %s for language %s", queryName, language)
	}
	return q, nil
}

// Close releases every compiled query.
func (qm *QueryManager) Close() {
	for _, query := range qm.typescript {
		query.Close()
	}
	for _, query := range qm.tsx {
		query.Close()
	}
}

// QueryMatcher pairs a compiled query with a fresh cursor.
// Cursors are stateful, so they are never pooled.
type QueryMatcher struct {
	query  *ts.Query
	cursor *ts.QueryCursor
}

// NewQueryMatcher looks up a compiled query by language and name.
func NewQueryMatcher(manager *QueryManager, language, queryName string) (*QueryMatcher, error) {
	if manager == nil {
		return nil, ErrNoQueryManager
	}
	query, err := manager.getQuery(queryName, language)
	if err != nil {
		return nil, err
	}
	cursor := ts.NewQueryCursor()
	return &QueryMatcher{query, cursor}, nil
}

// Close releases the cursor. The query itself belongs to the manager.
func (q *QueryMatcher) Close() {
	q.cursor.Close()
}

func (q *QueryMatcher) GetCaptureNameByIndex(index uint32) string {
	return q.query.CaptureNames()[index]
}

// AllQueryMatches iterates every match of the query beneath node.
func (q *QueryMatcher) AllQueryMatches(node *ts.Node, text []byte) iter.Seq[*ts.QueryMatch] {
	matches := q.cursor.Matches(q.query, node, text)
	return func(yield func(qm *ts.QueryMatch) bool) {
		for {
			m := matches.Next()
			if m == nil {
				break
			}
			if !yield(m) {
				return
			}
		}
	}
}
