package checks

import (
	"strings"
	"testing"
)

const goTestOutput = `=== RUN   TestParse
--- FAIL: TestParse (0.00s)
    parse_test.go:14: got 1, want 2
=== RUN   TestEval
--- FAIL: TestEval (0.00s)
panic: runtime error: index out of range [recovered]

goroutine 7 [running]:
testing.tRunner.func1.2({0x5f3d40, 0xc000016180})
	/usr/local/go/src/testing/testing.go:1545 +0x238
example.com/calc.Eval(...)
	/home/ci/work/calc/eval.go:9
example.com/calc.Parse(...)
	/home/ci/work/calc/parse.go:21
example.com/calc.helper(...)
	/home/ci/work/calc/eval.go:30
FAIL	example.com/calc	0.012s
`

func TestGoTestParser_Failures(t *testing.T) {
	r := (&GoTestParser{}).Parse(goTestOutput, "", 1)
	if r.Passed {
		t.Fatal("expected failure")
	}
	if got := strings.Join(r.Failures.Tests, ","); got != "TestParse,TestEval" {
		t.Errorf("Tests = %q", got)
	}
	want := []string{"/home/ci/work/calc/eval.go", "/home/ci/work/calc/parse.go"}
	if len(r.Failures.Files) != 2 || r.Failures.Files[0] != want[0] || r.Failures.Files[1] != want[1] {
		t.Errorf("Files = %v, want %v", r.Failures.Files, want)
	}
	if !strings.HasPrefix(r.Failures.Excerpt, "--- FAIL: TestParse") {
		t.Errorf("Excerpt should start at first failure, got %q", r.Failures.Excerpt[:30])
	}
}

func TestGoTestParser_Pass(t *testing.T) {
	r := (&GoTestParser{}).Parse("ok  \texample.com/calc\t0.01s\n", "", 0)
	if !r.Passed {
		t.Error("expected pass")
	}
}

const pytestOutput = `============================= test session starts ==============================
collected 3 items

tests/test_util.py F..                                                    [100%]

=================================== FAILURES ===================================
________________________________ test_normalize ________________________________

    def test_normalize():
>       assert normalize(" a ") == "a"

tests/test_util.py:5:
_ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _ _

app/util.py:12: in normalize
    return s.strip(None, 1)
E   TypeError: strip expected at most 1 argument, got 2
=========================== short test summary info ============================
FAILED tests/test_util.py::test_normalize - TypeError: strip expected at most 1 argument
========================= 1 failed, 2 passed in 0.05s ==========================
`

func TestPytestParser_Failures(t *testing.T) {
	r := (&PytestParser{}).Parse(pytestOutput, "", 1)
	if r.Passed {
		t.Fatal("expected failure")
	}
	if len(r.Failures.Tests) != 1 || r.Failures.Tests[0] != "tests/test_util.py::test_normalize" {
		t.Errorf("Tests = %v", r.Failures.Tests)
	}
	if len(r.Failures.Files) != 1 || r.Failures.Files[0] != "app/util.py" {
		t.Errorf("Files = %v, want [app/util.py]", r.Failures.Files)
	}
	if r.Summary != "1 failed, 2 passed in 0.05s" {
		t.Errorf("Summary = %q", r.Summary)
	}
	if !strings.Contains(r.Failures.Excerpt, "short test summary info") {
		t.Error("excerpt should include the summary footer")
	}
}

func TestGenericParser(t *testing.T) {
	pass := (&GenericParser{}).Parse("fine", "", 0)
	if !pass.Passed || pass.Failures.Excerpt != "" {
		t.Errorf("pass result = %+v", pass)
	}

	long := strings.Repeat("x", maxExcerptLen+100) + "END"
	fail := (&GenericParser{}).Parse(long, "boom", 2)
	if fail.Passed {
		t.Error("expected failure")
	}
	if !strings.HasPrefix(fail.Failures.Excerpt, "…(truncated)") || !strings.HasSuffix(fail.Failures.Excerpt, "END\nboom") {
		t.Errorf("excerpt should keep the tail, got suffix %q", fail.Failures.Excerpt[len(fail.Failures.Excerpt)-10:])
	}
}
