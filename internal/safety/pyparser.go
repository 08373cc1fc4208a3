package safety

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// PythonParser extracts imports, top-level defs and classes, and the
// methods of top-level classes.
type PythonParser struct{}

// Parse implements SourceParser. Source with any syntax error fails.
func (PythonParser) Parse(path, src string) (Structure, error) {
	p := sitter.NewParser()
	defer p.Close()
	p.SetLanguage(python.GetLanguage())

	code := []byte(src)
	tree, err := p.ParseCtx(context.Background(), nil, code)
	if err != nil {
		return Structure{}, fmt.Errorf("parse %s: %w", path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return Structure{}, fmt.Errorf("%s:%d: syntax error", path, errorLine(root))
	}

	var s Structure
	for i := 0; i < int(root.NamedChildCount()); i++ {
		n := root.NamedChild(i)
		switch n.Type() {
		case "import_statement", "import_from_statement", "future_import_statement":
			s.Imports = append(s.Imports, strings.Join(strings.Fields(n.Content(code)), " "))
		default:
			s.Decls = append(s.Decls, pyDecls(unwrapDecorated(n), code)...)
		}
	}
	return s, nil
}

func pyDecls(n *sitter.Node, code []byte) []Decl {
	name := n.ChildByFieldName("name")
	if name == nil {
		return nil
	}
	switch n.Type() {
	case "function_definition":
		return []Decl{{Name: name.Content(code), Kind: "def"}}
	case "class_definition":
		cls := name.Content(code)
		out := []Decl{{Name: cls, Kind: "class"}}
		body := n.ChildByFieldName("body")
		if body == nil {
			return out
		}
		for i := 0; i < int(body.NamedChildCount()); i++ {
			m := unwrapDecorated(body.NamedChild(i))
			if m.Type() != "function_definition" {
				continue
			}
			if mn := m.ChildByFieldName("name"); mn != nil {
				out = append(out, Decl{Name: cls + "." + mn.Content(code), Kind: "method"})
			}
		}
		return out
	}
	return nil
}

func unwrapDecorated(n *sitter.Node) *sitter.Node {
	if n.Type() == "decorated_definition" {
		if def := n.ChildByFieldName("definition"); def != nil {
			return def
		}
	}
	return n
}

// errorLine returns the 1-based line of the first error or missing node.
func errorLine(n *sitter.Node) int {
	if n.IsError() || n.IsMissing() {
		return int(n.StartPoint().Row) + 1
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c.HasError() || c.IsMissing() {
			return errorLine(c)
		}
	}
	return int(n.StartPoint().Row) + 1
}
