package checks

import "fmt"

// GenericParser is the fallback parser: exit code plus the output tail.
type GenericParser struct{}

// maxExcerptLen caps how much output a parser keeps in its excerpt.
const maxExcerptLen = 8000

// tail keeps the end of s, where error summaries usually are.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "…(truncated)\n" + s[len(s)-n:]
}

func (p *GenericParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	if exitCode == 0 {
		return ParseResult{Passed: true, Summary: "passed (exit code 0)"}
	}
	return ParseResult{
		Summary:  fmt.Sprintf("exit code %d, stdout=%d bytes, stderr=%d bytes", exitCode, len(stdout), len(stderr)),
		Failures: Failures{Excerpt: tail(combine(stdout, stderr), maxExcerptLen)},
	}
}
