package checks

import (
	"fmt"
	"regexp"
	"strings"
)

// GoTestParser parses `go test` text output.
type GoTestParser struct{}

var (
	goFailRe = regexp.MustCompile(`(?m)^\s*--- FAIL: (\S+)`)
	// goFrameRe matches panic frames and t.Errorf locations: path/x.go:42
	goFrameRe = regexp.MustCompile(`(?m)([A-Za-z0-9_./\-]+\.go):(\d+)`)
	goPkgFail = regexp.MustCompile(`(?m)^FAIL[ \t]+(\S+)`)
)

func (p *GoTestParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	text := combine(stdout, stderr)
	var f Failures
	for _, m := range goFailRe.FindAllStringSubmatch(text, -1) {
		f.Tests = appendUnique(f.Tests, m[1])
	}
	var files fileCounter
	for _, m := range goFrameRe.FindAllStringSubmatch(text, -1) {
		path := m[1]
		if strings.HasSuffix(path, "_test.go") || isGoRuntimePath(path) {
			continue
		}
		files.add(path)
	}
	f.Files = files.ranked()

	passed := exitCode == 0 && len(f.Tests) == 0
	if passed {
		return ParseResult{Passed: true, Summary: "go test passed"}
	}
	f.Excerpt = excerptAround(text, "--- FAIL", maxExcerptLen)
	pkgs := goPkgFail.FindAllStringSubmatch(text, -1)
	return ParseResult{
		Summary:  fmt.Sprintf("%d failing tests in %d packages", len(f.Tests), len(pkgs)),
		Failures: f,
	}
}

func isGoRuntimePath(path string) bool {
	return strings.Contains(path, "/go/src/") || strings.HasPrefix(path, "runtime/") || strings.Contains(path, "/pkg/mod/")
}

// excerptAround returns up to n bytes starting at the first marker, or the
// tail of text when the marker is absent.
func excerptAround(text, marker string, n int) string {
	i := strings.Index(text, marker)
	if i < 0 {
		return tail(text, n)
	}
	out := text[i:]
	if len(out) > n {
		out = out[:n]
	}
	return out
}
