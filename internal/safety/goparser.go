package safety

import (
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
)

// GoParser extracts imports and top-level funcs, methods and types.
type GoParser struct{}

// Parse implements SourceParser.
func (GoParser) Parse(path, src string) (Structure, error) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, path, src, parser.SkipObjectResolution)
	if err != nil {
		return Structure{}, err
	}
	var s Structure
	for _, imp := range f.Imports {
		p, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			p = imp.Path.Value
		}
		s.Imports = append(s.Imports, p)
	}
	for _, decl := range f.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			if d.Recv != nil && len(d.Recv.List) > 0 {
				s.Decls = append(s.Decls, Decl{Name: recvName(d.Recv.List[0].Type) + "." + d.Name.Name, Kind: "method"})
			} else {
				s.Decls = append(s.Decls, Decl{Name: d.Name.Name, Kind: "func"})
			}
		case *ast.GenDecl:
			if d.Tok != token.TYPE {
				continue
			}
			for _, spec := range d.Specs {
				if ts, ok := spec.(*ast.TypeSpec); ok {
					s.Decls = append(s.Decls, Decl{Name: ts.Name.Name, Kind: "type"})
				}
			}
		}
	}
	return s, nil
}

func recvName(expr ast.Expr) string {
	switch e := expr.(type) {
	case *ast.StarExpr:
		return recvName(e.X)
	case *ast.IndexExpr:
		return recvName(e.X)
	case *ast.IndexListExpr:
		return recvName(e.X)
	case *ast.Ident:
		return e.Name
	}
	return "?"
}
