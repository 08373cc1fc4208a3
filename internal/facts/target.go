package facts

import (
	"go/ast"
	"go/parser"
	"go/token"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// pythonFramePattern matches a traceback frame: File "x.py", line 12, in fn
var pythonFramePattern = regexp.MustCompile(`File "([^"]+)", line (\d+), in ([A-Za-z_][A-Za-z0-9_]*)`)

// sourceLinePattern matches path:line references such as Go panic frames
// (/src/pkg/file.go:42) and test failures (file_test.go:17:).
var sourceLinePattern = regexp.MustCompile(`([A-Za-z0-9_./\-]+\.(?:go|py|js|ts|jsx|tsx)):(\d+)`)

// wordPattern splits a prompt into candidate keywords.
var wordPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]{2,}`)

// ResolveTarget picks the file a prompt most likely refers to. Stack trace
// frames win over keywords; test files are never chosen.
func ResolveTarget(root, prompt string, files []string) *Target {
	if t := resolveFromTrace(root, prompt, files); t != nil {
		return t
	}
	return resolveFromKeywords(root, prompt, files)
}

func resolveFromTrace(root, prompt string, files []string) *Target {
	// Python tracebacks list the innermost frame last.
	frames := pythonFramePattern.FindAllStringSubmatch(prompt, -1)
	for i := len(frames) - 1; i >= 0; i-- {
		rel := MatchRepoFile(frames[i][1], files)
		if rel == "" || isTestFile(rel) {
			continue
		}
		line, _ := strconv.Atoi(frames[i][2])
		return &Target{Path: rel, Function: frames[i][3], Line: line, Resolution: ResolvedByTrace}
	}

	// Go panics list the innermost frame first.
	for _, m := range sourceLinePattern.FindAllStringSubmatch(prompt, -1) {
		rel := MatchRepoFile(m[1], files)
		if rel == "" || isTestFile(rel) {
			continue
		}
		line, _ := strconv.Atoi(m[2])
		t := &Target{Path: rel, Line: line, Resolution: ResolvedByTrace}
		if strings.HasSuffix(rel, ".go") {
			t.Function = enclosingFunc(filepath.Join(root, rel), line)
		}
		return t
	}
	return nil
}

func resolveFromKeywords(root, prompt string, files []string) *Target {
	words := dedupe(lowerAll(wordPattern.FindAllString(prompt, -1)))
	if len(words) == 0 {
		return nil
	}
	type scored struct {
		path  string
		score int
	}
	var candidates []scored
	for _, rel := range files {
		if isTestFile(rel) || !isSource(rel) {
			continue
		}
		stem := strings.ToLower(strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel)))
		score := 0
		for _, w := range words {
			if w == stem {
				score += 3
			} else if strings.Contains(strings.ToLower(rel), w) {
				score++
			}
		}
		if score > 0 {
			candidates = append(candidates, scored{rel, score})
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	t := &Target{Path: candidates[0].path, Resolution: ResolvedByKeyword}
	if strings.HasSuffix(t.Path, ".go") {
		for _, name := range topLevelFuncs(filepath.Join(root, t.Path)) {
			for _, w := range words {
				if strings.ToLower(name) == w {
					t.Function = name
					return t
				}
			}
		}
	}
	return t
}

// MatchRepoFile maps a path from a trace or CI log (possibly absolute) onto
// an inventory entry. The longest matching entry wins; "" means no match.
func MatchRepoFile(frame string, files []string) string {
	frame = filepath.ToSlash(frame)
	best := ""
	for _, rel := range files {
		if frame == rel || strings.HasSuffix(frame, "/"+rel) {
			if len(rel) > len(best) {
				best = rel
			}
		}
	}
	return best
}

func isSource(rel string) bool {
	switch filepath.Ext(rel) {
	case ".go", ".py", ".js", ".ts", ".jsx", ".tsx":
		return true
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

// enclosingFunc returns the name of the top-level function spanning line.
func enclosingFunc(path string, line int) string {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.SkipObjectResolution)
	if err != nil {
		return ""
	}
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok {
			continue
		}
		start := fset.Position(fn.Pos()).Line
		end := fset.Position(fn.End()).Line
		if line >= start && line <= end {
			return fn.Name.Name
		}
	}
	return ""
}

func topLevelFuncs(path string) []string {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.SkipObjectResolution)
	if err != nil {
		return nil
	}
	var names []string
	for _, decl := range file.Decls {
		if fn, ok := decl.(*ast.FuncDecl); ok {
			names = append(names, fn.Name.Name)
		}
	}
	return names
}
