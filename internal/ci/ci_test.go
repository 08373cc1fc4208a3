package ci

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const legitLog = `--- FAIL: TestEval (0.00s)
panic: runtime error: index out of range [3] with length 3

goroutine 7 [running]:
example.com/calc.Eval(...)
	/home/runner/work/calc/calc/eval.go:9 +0x1d
FAIL	example.com/calc	0.012s
`

const unitLog = `--- FAIL: TestParse (0.00s)
    parse_test.go:14: got 1, want 2
FAIL	example.com/calc	0.012s
`

func TestParseLog(t *testing.T) {
	ev := ParseLog(legitLog)
	assert.Equal(t, []string{"TestEval"}, ev.Tests)
	assert.Equal(t, []string{"/home/runner/work/calc/calc/eval.go"}, ev.Files)
	assert.True(t, strings.HasPrefix(ev.Excerpt, "--- FAIL: TestEval"))
}

func TestParseLog_NoStructure(t *testing.T) {
	ev := ParseLog("something went wrong")
	assert.Empty(t, ev.Tests)
	assert.Empty(t, ev.Files)
	assert.Equal(t, "something went wrong", ev.Excerpt)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		log  string
		want Category
	}{
		{"legit", legitLog, Legit},
		{"unit", unitLog, UnitFail},
		{"infra beats legit", legitLog + "\nError: The operation was canceled. The runner has received a shutdown signal.", Infra},
		{"timeout", "dial tcp: i/o timeout", Infra},
		{"flaky", unitLog + "\nmarked flaky, rerun", Flaky},
		{"infra beats flaky", "flaky test; connection reset by peer", Infra},
		{"unknown", "exit status 2", Unknown},
		{"empty", "", Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := Classify(ParseLog(tt.log))
			assert.Equal(t, tt.want, o.Category)
		})
	}
}

func TestClassify_ExcerptBounded(t *testing.T) {
	o := Classify(Evidence{Log: "x", Excerpt: strings.Repeat("a", 2000)})
	assert.Len(t, o.Excerpt, MaxExcerpt)
}

func TestExcerptKeepsRunesWhole(t *testing.T) {
	s := "ab" + strings.Repeat("é", 4) + "cd"
	for n := 0; n <= len(s); n++ {
		head, tail := headString(s, n), tailString(s, n)
		assert.True(t, utf8.ValidString(head), "head %d = %q", n, head)
		assert.True(t, utf8.ValidString(tail), "tail %d = %q", n, tail)
		assert.LessOrEqual(t, len(head), n)
		assert.LessOrEqual(t, len(tail), n)
		assert.True(t, strings.HasPrefix(s, head))
		assert.True(t, strings.HasSuffix(s, tail))
	}

	log := strings.Repeat("ü", MaxExcerpt)
	ev := ParseLog(log)
	assert.True(t, utf8.ValidString(ev.Excerpt))
	assert.LessOrEqual(t, len(ev.Excerpt), MaxExcerpt)
}

func TestOutcome_TopFile(t *testing.T) {
	var nilOutcome *Outcome
	assert.Equal(t, "", nilOutcome.TopFile())
	o := Classify(ParseLog(legitLog))
	assert.Equal(t, "/home/runner/work/calc/calc/eval.go", o.TopFile())
}

func TestDecide_InfraAndFlakyBounded(t *testing.T) {
	for _, cat := range []Category{Infra, Flaky} {
		o := &Outcome{Category: cat}
		for attempts := 0; attempts < 3; attempts++ {
			d := Decide(o, attempts)
			require.True(t, d.ShouldRetry, "%s attempt %d", cat, attempts)
			assert.Equal(t, 300, d.BackoffSeconds)
			assert.Equal(t, RouteRetry, d.Route)
		}
		for _, attempts := range []int{3, 4, 100} {
			d := Decide(o, attempts)
			assert.False(t, d.ShouldRetry, "%s attempt %d", cat, attempts)
			assert.Equal(t, RouteNone, d.Route)
		}
	}
}

func TestDecide_LegitNeverRetries(t *testing.T) {
	for _, cat := range []Category{Legit, UnitFail} {
		for attempts := 0; attempts < 5; attempts++ {
			d := Decide(&Outcome{Category: cat}, attempts)
			assert.False(t, d.ShouldRetry)
			assert.Equal(t, RouteFreshFix, d.Route)
		}
	}
}

func TestDecide_UnknownRetriesOnce(t *testing.T) {
	o := &Outcome{Category: Unknown}
	assert.True(t, Decide(o, 0).ShouldRetry)
	assert.False(t, Decide(o, 1).ShouldRetry)
	assert.False(t, Decide(o, 2).ShouldRetry)
}

func TestDecide_NilOutcome(t *testing.T) {
	d := Decide(nil, 0)
	assert.False(t, d.ShouldRetry)
	assert.Equal(t, RouteNone, d.Route)
}

func TestRetryPolicy_CeilingIsHard(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 10, BackoffSeconds: 60, UnknownRetries: 5}
	for _, cat := range []Category{Infra, Flaky} {
		o := &Outcome{Category: cat}
		assert.True(t, p.Decide(o, 2).ShouldRetry, "%s attempt 2", cat)
		for _, attempts := range []int{3, 6, 9} {
			assert.False(t, p.Decide(o, attempts).ShouldRetry, "%s attempt %d", cat, attempts)
		}
	}
	unknown := &Outcome{Category: Unknown}
	assert.True(t, p.Decide(unknown, 0).ShouldRetry)
	assert.False(t, p.Decide(unknown, 1).ShouldRetry)
}

func TestRetryPolicy_SingleRetryMode(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 1, BackoffSeconds: 60, UnknownRetries: 1}
	o := &Outcome{Category: Flaky}
	assert.True(t, p.Decide(o, 0).ShouldRetry)
	assert.False(t, p.Decide(o, 1).ShouldRetry)
}
