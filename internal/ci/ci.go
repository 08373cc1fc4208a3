// Package ci turns failed CI logs into an outcome category and decides
// whether an automatic retry is allowed.
package ci

import (
	"strings"
	"unicode/utf8"

	"github.com/lucasnoah/autotriage/internal/checks"
)

// Category classifies a CI failure.
type Category string

const (
	Infra    Category = "infra"
	Flaky    Category = "flaky"
	UnitFail Category = "unit_fail"
	Legit    Category = "legit"
	Unknown  Category = "unknown"
)

// MaxExcerpt bounds the excerpt carried on an Outcome.
const MaxExcerpt = 500

// Evidence is what could be extracted from a failed run's log.
type Evidence struct {
	Log     string
	Files   []string
	Tests   []string
	Excerpt string
}

// Outcome is a classified CI failure.
type Outcome struct {
	Category     Category `json:"category"`
	FailingFiles []string `json:"failing_files,omitempty"`
	FailingTests []string `json:"failing_tests,omitempty"`
	Excerpt      string   `json:"excerpt,omitempty"`
}

// TopFile returns the most referenced failing file, or "".
func (o *Outcome) TopFile() string {
	if o == nil || len(o.FailingFiles) == 0 {
		return ""
	}
	return o.FailingFiles[0]
}

// ParseLog extracts failing tests and files from a CI log in either go test
// or pytest format.
func ParseLog(log string) Evidence {
	ev := Evidence{Log: log}
	var excerpts []string
	for _, p := range []checks.Parser{&checks.GoTestParser{}, &checks.PytestParser{}} {
		r := p.Parse(log, "", 1)
		for _, t := range r.Failures.Tests {
			ev.Tests = appendUnique(ev.Tests, t)
		}
		for _, f := range r.Failures.Files {
			ev.Files = appendUnique(ev.Files, f)
		}
		if len(r.Failures.Tests) > 0 || len(r.Failures.Files) > 0 {
			excerpts = append(excerpts, r.Failures.Excerpt)
		}
	}
	if len(excerpts) > 0 {
		ev.Excerpt = excerpts[0]
	} else {
		ev.Excerpt = tailString(log, MaxExcerpt)
	}
	return ev
}

// infraVocab marks failures caused by the CI environment rather than the code.
var infraVocab = []string{
	"timeout",
	"timed out",
	"network is unreachable",
	"connection reset",
	"could not resolve host",
	"temporary failure in name resolution",
	"no space left on device",
	"the runner has received a shutdown signal",
	"lost communication with the server",
	"cache fail",
	"rate limit",
	"infra",
}

var flakyVocab = []string{"flake", "flaky", "random"}

type rule struct {
	category Category
	match    func(ev Evidence, lower string) bool
}

// rules are evaluated in order; the first match wins.
var rules = []rule{
	{Infra, func(_ Evidence, lower string) bool { return containsAny(lower, infraVocab) }},
	{Flaky, func(_ Evidence, lower string) bool { return containsAny(lower, flakyVocab) }},
	{UnitFail, func(ev Evidence, _ string) bool { return len(ev.Tests) > 0 && len(ev.Files) == 0 }},
	{Legit, func(ev Evidence, _ string) bool { return len(ev.Files) > 0 }},
}

// Classify assigns a category to ev.
func Classify(ev Evidence) *Outcome {
	lower := strings.ToLower(ev.Log)
	o := &Outcome{
		Category:     Unknown,
		FailingFiles: ev.Files,
		FailingTests: ev.Tests,
		Excerpt:      headString(ev.Excerpt, MaxExcerpt),
	}
	for _, r := range rules {
		if r.match(ev, lower) {
			o.Category = r.category
			break
		}
	}
	return o
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func appendUnique(list []string, s string) []string {
	for _, x := range list {
		if x == s {
			return list
		}
	}
	return append(list, s)
}

// headString returns at most n bytes from the start of s without splitting
// a rune.
func headString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// tailString returns at most n bytes from the end of s without splitting a
// rune.
func tailString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}
