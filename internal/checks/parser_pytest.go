package checks

import (
	"fmt"
	"regexp"
	"strings"
)

// PytestParser parses pytest's default text output.
type PytestParser struct{}

var (
	pytestFailedRe = regexp.MustCompile(`(?m)^FAILED (\S+?)(?:\s+-\s|$)`)
	pytestFrameRe  = regexp.MustCompile(`File "([^"]+\.py)", line (\d+)`)
	// pytestLocRe matches the short-traceback location line: app/x.py:12: ValueError
	pytestLocRe   = regexp.MustCompile(`(?m)^([A-Za-z0-9_./\-]+\.py):(\d+): `)
	pytestFooter  = regexp.MustCompile(`(?m)^=+ short test summary info =+$`)
	pytestSummary = regexp.MustCompile(`(?m)^=+ (.*(?:failed|passed|error).*) =+$`)
)

func (p *PytestParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	text := combine(stdout, stderr)
	var f Failures
	for _, m := range pytestFailedRe.FindAllStringSubmatch(text, -1) {
		f.Tests = appendUnique(f.Tests, m[1])
	}
	var files fileCounter
	for _, re := range []*regexp.Regexp{pytestFrameRe, pytestLocRe} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if isPythonTestPath(m[1]) || strings.Contains(m[1], "site-packages") {
				continue
			}
			files.add(m[1])
		}
	}
	f.Files = files.ranked()

	if exitCode == 0 && len(f.Tests) == 0 {
		return ParseResult{Passed: true, Summary: "pytest passed"}
	}

	if loc := pytestFooter.FindStringIndex(text); loc != nil {
		start := loc[0] - maxExcerptLen/2
		if start < 0 {
			start = 0
		}
		f.Excerpt = tail(text[start:], maxExcerptLen)
	} else {
		f.Excerpt = tail(text, maxExcerptLen)
	}

	summary := fmt.Sprintf("%d failing tests", len(f.Tests))
	if m := pytestSummary.FindAllStringSubmatch(text, -1); len(m) > 0 {
		summary = m[len(m)-1][1]
	}
	return ParseResult{Summary: summary, Failures: f}
}

func isPythonTestPath(path string) bool {
	base := path[strings.LastIndex(path, "/")+1:]
	return strings.HasPrefix(base, "test_") || strings.HasSuffix(base, "_test.py") || base == "conftest.py"
}
