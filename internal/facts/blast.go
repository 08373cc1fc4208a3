package facts

import (
	"go/ast"
	"go/parser"
	"go/token"
	"path/filepath"
	"strings"
)

// BlastRadius counts the distinct files, other than target itself, that
// transitively call fn. Calls are matched by name, so methods and functions
// that share a name are conflated; the count errs high.
func BlastRadius(root string, files []string, target, fn string) (int, error) {
	// callers[name] lists the (file, enclosing func) pairs calling name.
	type site struct {
		file string
		fn   string
	}
	callers := make(map[string][]site)

	fset := token.NewFileSet()
	for _, rel := range files {
		if !strings.HasSuffix(rel, ".go") {
			continue
		}
		file, err := parser.ParseFile(fset, filepath.Join(root, rel), nil, parser.SkipObjectResolution)
		if err != nil {
			// Unparseable files cannot contribute callers.
			continue
		}
		for _, decl := range file.Decls {
			fd, ok := decl.(*ast.FuncDecl)
			if !ok || fd.Body == nil {
				continue
			}
			ast.Inspect(fd.Body, func(n ast.Node) bool {
				call, ok := n.(*ast.CallExpr)
				if !ok {
					return true
				}
				var name string
				switch f := call.Fun.(type) {
				case *ast.Ident:
					name = f.Name
				case *ast.SelectorExpr:
					name = f.Sel.Name
				}
				if name != "" {
					callers[name] = append(callers[name], site{rel, fd.Name.Name})
				}
				return true
			})
		}
	}

	impacted := make(map[string]bool)
	visited := map[string]bool{fn: true}
	queue := []string{fn}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		for _, s := range callers[name] {
			if s.file != target {
				impacted[s.file] = true
			}
			if !visited[s.fn] {
				visited[s.fn] = true
				queue = append(queue, s.fn)
			}
		}
	}
	return len(impacted), nil
}
