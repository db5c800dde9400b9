package extractor

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// LanguageExtractor supplies the grammar and capture query for one language.
type LanguageExtractor interface {
	Name() string
	Extensions() []string
	GetLanguage() *sitter.Language
	GetQuery() string
}

const (
	baseQuery = `
		(import_statement) @import
		(function_declaration) @function
		(variable_declarator) @variable
		(call_expression) @call
		(export_statement) @export
	`
	jsxQuery = `
		(jsx_opening_element) @element
		(jsx_self_closing_element) @element
	`
	typesQuery = `
		(interface_declaration) @props
		(type_alias_declaration) @props
	`
)

type TSXExtractor struct{}

func (x *TSXExtractor) Name() string                  { return "tsx" }
func (x *TSXExtractor) Extensions() []string          { return []string{".tsx"} }
func (x *TSXExtractor) GetLanguage() *sitter.Language { return tsx.GetLanguage() }
func (x *TSXExtractor) GetQuery() string              { return baseQuery + jsxQuery + typesQuery }

type TypeScriptExtractor struct{}

func (x *TypeScriptExtractor) Name() string                  { return "typescript" }
func (x *TypeScriptExtractor) Extensions() []string          { return []string{".ts", ".mts", ".cts"} }
func (x *TypeScriptExtractor) GetLanguage() *sitter.Language { return typescript.GetLanguage() }
func (x *TypeScriptExtractor) GetQuery() string              { return baseQuery + typesQuery }

// JavaScriptExtractor also covers JSX; the grammar parses it natively.
type JavaScriptExtractor struct{}

func (x *JavaScriptExtractor) Name() string { return "javascript" }
func (x *JavaScriptExtractor) Extensions() []string {
	return []string{".js", ".jsx", ".mjs", ".cjs"}
}
func (x *JavaScriptExtractor) GetLanguage() *sitter.Language { return javascript.GetLanguage() }
func (x *JavaScriptExtractor) GetQuery() string              { return baseQuery + jsxQuery }
