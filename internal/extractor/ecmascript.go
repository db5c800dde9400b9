package extractor

import (
	"regexp"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"ctxpack/internal/contract"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// collector accumulates captures for a single file.
type collector struct {
	src []byte

	components map[string]bool
	hooks      map[string]bool
	functions  map[string]bool
	variables  map[string]bool
	state      map[string]bool
	exports    map[string]bool
	imports    map[string]map[string]bool

	props       map[string]contract.Prop
	paramProps  map[string]contract.Prop
	hasJSX      bool
	exportsHook bool
}

func newCollector(src []byte) *collector {
	return &collector{
		src:        src,
		components: make(map[string]bool),
		hooks:      make(map[string]bool),
		functions:  make(map[string]bool),
		variables:  make(map[string]bool),
		state:      make(map[string]bool),
		exports:    make(map[string]bool),
		imports:    make(map[string]map[string]bool),
		props:      make(map[string]contract.Prop),
		paramProps: make(map[string]contract.Prop),
	}
}

func (c *collector) capture(name string, node *sitter.Node) {
	switch name {
	case "import":
		c.importStatement(node)
	case "function":
		c.functionDeclaration(node)
	case "variable":
		c.variableDeclarator(node)
	case "call":
		c.callExpression(node)
	case "export":
		c.exportStatement(node)
	case "element":
		c.jsxElement(node)
	case "props":
		c.propsType(node)
	}
}

func (c *collector) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(c.src)
}

func (c *collector) importStatement(node *sitter.Node) {
	source := unquote(c.text(node.ChildByFieldName("source")))
	if source == "" {
		return
	}
	names := c.imports[source]
	if names == nil {
		names = make(map[string]bool)
		c.imports[source] = names
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		clause := node.NamedChild(i)
		if clause.Type() != "import_clause" {
			continue
		}
		for j := 0; j < int(clause.NamedChildCount()); j++ {
			part := clause.NamedChild(j)
			switch part.Type() {
			case "identifier":
				names[c.text(part)] = true
			case "namespace_import":
				for k := 0; k < int(part.NamedChildCount()); k++ {
					if id := part.NamedChild(k); id.Type() == "identifier" {
						names[c.text(id)] = true
					}
				}
			case "named_imports":
				for k := 0; k < int(part.NamedChildCount()); k++ {
					spec := part.NamedChild(k)
					if spec.Type() != "import_specifier" {
						continue
					}
					local := spec.ChildByFieldName("alias")
					if local == nil {
						local = spec.ChildByFieldName("name")
					}
					names[c.text(local)] = true
				}
			}
		}
	}
}

func (c *collector) functionDeclaration(node *sitter.Node) {
	name := c.text(node.ChildByFieldName("name"))
	if name == "" || !isTopLevel(node) {
		return
	}
	c.functions[name] = true
	if isComponentName(name) {
		c.parameterProps(node.ChildByFieldName("parameters"))
	}
}

func (c *collector) variableDeclarator(node *sitter.Node) {
	nameNode := node.ChildByFieldName("name")
	value := node.ChildByFieldName("value")
	if nameNode == nil {
		return
	}

	// const [count, setCount] = useState(0)
	if nameNode.Type() == "array_pattern" && value != nil && value.Type() == "call_expression" {
		if hookName(c.text(value.ChildByFieldName("function"))) == "useState" && nameNode.NamedChildCount() > 0 {
			if first := nameNode.NamedChild(0); first.Type() == "identifier" {
				c.state[c.text(first)] = true
			}
		}
	}

	if nameNode.Type() != "identifier" || !isTopLevel(node) {
		return
	}
	name := c.text(nameNode)
	if value != nil {
		switch value.Type() {
		case "arrow_function", "function", "function_expression":
			c.functions[name] = true
			if isComponentName(name) {
				params := value.ChildByFieldName("parameters")
				if params == nil {
					params = value.ChildByFieldName("parameter")
				}
				c.parameterProps(params)
			}
			return
		}
	}
	c.variables[name] = true
}

// parameterProps reads props from a destructured first parameter:
// function Card({ title, onClose, size = "md" }) {}
func (c *collector) parameterProps(params *sitter.Node) {
	if params == nil || params.NamedChildCount() == 0 {
		return
	}
	first := params.NamedChild(0)
	if first.Type() == "required_parameter" || first.Type() == "optional_parameter" {
		if p := first.ChildByFieldName("pattern"); p != nil {
			first = p
		}
	}
	if first.Type() != "object_pattern" {
		return
	}

	for i := 0; i < int(first.NamedChildCount()); i++ {
		el := first.NamedChild(i)
		switch el.Type() {
		case "shorthand_property_identifier_pattern", "shorthand_property_identifier":
			c.addParamProp(c.text(el), false)
		case "pair_pattern":
			c.addParamProp(unquote(c.text(el.ChildByFieldName("key"))), false)
		case "object_assignment_pattern":
			c.addParamProp(c.text(el.ChildByFieldName("left")), true)
		}
	}
}

func (c *collector) addParamProp(name string, optional bool) {
	if name == "" {
		return
	}
	c.paramProps[name] = contract.Prop{Name: name, Optional: optional}
}

func (c *collector) callExpression(node *sitter.Node) {
	if h := hookName(c.text(node.ChildByFieldName("function"))); h != "" {
		c.hooks[h] = true
	}
}

func (c *collector) exportStatement(node *sitter.Node) {
	for i := 0; i < int(node.ChildCount()); i++ {
		if node.Child(i).Type() == "default" {
			c.exports["default"] = true
		}
	}

	if decl := node.ChildByFieldName("declaration"); decl != nil {
		switch decl.Type() {
		case "lexical_declaration", "variable_declaration":
			for i := 0; i < int(decl.NamedChildCount()); i++ {
				d := decl.NamedChild(i)
				if d.Type() != "variable_declarator" {
					continue
				}
				if n := d.ChildByFieldName("name"); n != nil && n.Type() == "identifier" {
					c.addExport(c.text(n))
				}
			}
		default:
			c.addExport(c.text(decl.ChildByFieldName("name")))
		}
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		clause := node.NamedChild(i)
		if clause.Type() != "export_clause" {
			continue
		}
		for j := 0; j < int(clause.NamedChildCount()); j++ {
			spec := clause.NamedChild(j)
			if spec.Type() != "export_specifier" {
				continue
			}
			exported := spec.ChildByFieldName("alias")
			if exported == nil {
				exported = spec.ChildByFieldName("name")
			}
			c.addExport(c.text(exported))
		}
	}
}

func (c *collector) addExport(name string) {
	if name == "" {
		return
	}
	c.exports[name] = true
	if hookName(name) == name {
		c.exportsHook = true
	}
}

func (c *collector) jsxElement(node *sitter.Node) {
	c.hasJSX = true
	name := c.text(node.ChildByFieldName("name"))
	if isComponentName(name) {
		c.components[name] = true
	}
}

// propsType reads `interface FooProps {}` and `type FooProps = {}`.
func (c *collector) propsType(node *sitter.Node) {
	name := c.text(node.ChildByFieldName("name"))
	if !strings.HasSuffix(name, "Props") {
		return
	}
	body := node.ChildByFieldName("body")
	if body == nil {
		body = node.ChildByFieldName("value")
	}
	if body == nil {
		return
	}

	for i := 0; i < int(body.NamedChildCount()); i++ {
		sig := body.NamedChild(i)
		if sig.Type() != "property_signature" {
			continue
		}
		propName := unquote(c.text(sig.ChildByFieldName("name")))
		if propName == "" {
			continue
		}
		optional := false
		for j := 0; j < int(sig.ChildCount()); j++ {
			if sig.Child(j).Type() == "?" {
				optional = true
			}
		}
		typ := strings.TrimPrefix(strings.TrimSpace(c.text(sig.ChildByFieldName("type"))), ":")
		c.props[propName] = contract.Prop{Name: propName, Type: canonicalize(typ), Optional: optional}
	}
}

func (c *collector) extraction(language string) *contract.Extraction {
	props := c.props
	if len(props) == 0 {
		props = c.paramProps
	}

	ext := &contract.Extraction{
		Language: language,
		Composition: contract.Composition{
			Components: sortedKeys(c.components),
			Hooks:      sortedKeys(c.hooks),
			Functions:  sortedKeys(c.functions),
			Variables:  sortedKeys(c.variables),
		},
		Interface: contract.Interface{
			State:   sortedKeys(c.state),
			Exports: sortedKeys(c.exports),
		},
	}

	for _, source := range sortedKeys(c.imports) {
		ext.Composition.Imports = append(ext.Composition.Imports, contract.Import{
			Source: source,
			Names:  sortedKeys(c.imports[source]),
		})
	}

	for _, name := range sortedKeys(props) {
		p := props[name]
		ext.Interface.Props = append(ext.Interface.Props, p)
		if isEventName(name) {
			ext.Interface.Events = append(ext.Interface.Events, name)
		}
	}

	switch {
	case c.hasJSX:
		ext.Kind = contract.KindComponent
	case c.exportsHook:
		ext.Kind = contract.KindHook
	default:
		ext.Kind = contract.KindModule
	}
	return ext
}

// isTopLevel reports whether a declaration sits directly in the program,
// possibly wrapped by an export statement.
func isTopLevel(node *sitter.Node) bool {
	p := node.Parent()
	for p != nil {
		switch p.Type() {
		case "program":
			return true
		case "export_statement", "lexical_declaration", "variable_declaration":
			p = p.Parent()
		default:
			return false
		}
	}
	return false
}

func isComponentName(name string) bool {
	return name != "" && name[0] >= 'A' && name[0] <= 'Z'
}

func isEventName(name string) bool {
	return len(name) > 2 && strings.HasPrefix(name, "on") && name[2] >= 'A' && name[2] <= 'Z'
}

// hookName returns the hook identifier for a callee like useState or React.useState.
func hookName(callee string) string {
	if i := strings.LastIndex(callee, "."); i >= 0 {
		callee = callee[i+1:]
	}
	if len(callee) > 3 && strings.HasPrefix(callee, "use") && callee[3] >= 'A' && callee[3] <= 'Z' {
		return callee
	}
	return ""
}

func unquote(s string) string {
	return strings.Trim(s, "\"'`")
}

func canonicalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return whitespaceRe.ReplaceAllString(s, " ")
}

func sortedKeys[T any](m map[string]T) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
