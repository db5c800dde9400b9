// Package extractor derives contract extractions from ECMAScript-family sources
// with tree-sitter.
package extractor

import (
	"context"
	"fmt"
	"path"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"ctxpack/internal/contract"
)

// Extractor dispatches files to the language extractor registered for their extension.
type Extractor struct {
	byExt map[string]LanguageExtractor
}

// NewExtractor creates an extractor for the given languages. With no arguments
// every built-in language is enabled.
func NewExtractor(langs ...string) (*Extractor, error) {
	all := map[string]LanguageExtractor{
		"tsx":        &TSXExtractor{},
		"typescript": &TypeScriptExtractor{},
		"javascript": &JavaScriptExtractor{},
	}
	if len(langs) == 0 {
		langs = []string{"tsx", "typescript", "javascript"}
	}

	e := &Extractor{byExt: make(map[string]LanguageExtractor)}
	for _, name := range langs {
		le, ok := all[name]
		if !ok {
			return nil, fmt.Errorf("unsupported language: %s", name)
		}
		for _, ext := range le.Extensions() {
			e.byExt[ext] = le
		}
	}
	return e, nil
}

// Extensions lists every file extension this extractor handles.
func (e *Extractor) Extensions() []string {
	out := make([]string, 0, len(e.byExt))
	for ext := range e.byExt {
		out = append(out, ext)
	}
	return out
}

// Supports reports whether p has a registered extension. Declaration files are skipped.
func (e *Extractor) Supports(p string) bool {
	if strings.HasSuffix(p, ".d.ts") {
		return false
	}
	_, ok := e.byExt[strings.ToLower(path.Ext(p))]
	return ok
}

// Extract parses src and collects its structural facts.
func (e *Extractor) Extract(p string, src []byte) (*contract.Extraction, error) {
	le, ok := e.byExt[strings.ToLower(path.Ext(p))]
	if !ok {
		return nil, fmt.Errorf("no extractor for %s", p)
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(le.GetLanguage())

	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return nil, fmt.Errorf("failed to parse file %s: %w", p, err)
	}
	defer tree.Close()

	// A half-typed file would yield a misleading contract; report it instead.
	root := tree.RootNode()
	if root.HasError() {
		return nil, fmt.Errorf("failed to parse file %s: syntax error", p)
	}

	query, err := sitter.NewQuery([]byte(le.GetQuery()), le.GetLanguage())
	if err != nil {
		return nil, fmt.Errorf("failed to create query: %w", err)
	}
	defer query.Close()

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(query, root)

	col := newCollector(src)
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		for _, c := range m.Captures {
			col.capture(query.CaptureNameForId(c.Index), c.Node)
		}
	}

	return col.extraction(le.Name()), nil
}
