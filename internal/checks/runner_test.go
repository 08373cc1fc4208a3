package checks

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// mockCmd records calls and returns configured results.
type mockCmd struct {
	calls   []mockCall
	results []mockResult
	callIdx int
	block   bool
}

type mockCall struct {
	Dir     string
	Command string
}

type mockResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

func (m *mockCmd) Run(ctx context.Context, dir string, command string) (string, string, int, error) {
	m.calls = append(m.calls, mockCall{Dir: dir, Command: command})
	if m.block {
		<-ctx.Done()
		return "partial", "", -1, ctx.Err()
	}
	if m.callIdx >= len(m.results) {
		return "", "", 0, nil
	}
	r := m.results[m.callIdx]
	m.callIdx++
	return r.Stdout, r.Stderr, r.ExitCode, r.Err
}

func TestRunner_Run_HappyPath(t *testing.T) {
	mock := &mockCmd{results: []mockResult{{Stdout: "ok  \texample.com/calc\t0.01s", ExitCode: 0}}}
	runner := NewRunner(mock)

	result, err := runner.Run(context.Background(), "/tmp/repo", CheckConfig{
		Name:    "tests",
		Command: "go test ./...",
		Parser:  ParserGoTest,
		Timeout: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Passed {
		t.Errorf("expected passed=true, got false")
	}
	if result.Name != "tests" {
		t.Errorf("Name = %q, want %q", result.Name, "tests")
	}
	if len(mock.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(mock.calls))
	}
	if mock.calls[0].Dir != "/tmp/repo" || mock.calls[0].Command != "go test ./..." {
		t.Errorf("unexpected call %+v", mock.calls[0])
	}
}

func TestRunner_Run_FailedTests(t *testing.T) {
	out := "--- FAIL: TestParse (0.00s)\n    parse_test.go:14: got 1, want 2\nFAIL\nFAIL\texample.com/calc\t0.01s\n"
	mock := &mockCmd{results: []mockResult{{Stdout: out, ExitCode: 1}}}
	result, err := NewRunner(mock).Run(context.Background(), "/tmp/repo", CheckConfig{Name: "tests", Command: "go test ./...", Parser: ParserGoTest})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Passed {
		t.Error("expected passed=false")
	}
	if len(result.Failures.Tests) != 1 || result.Failures.Tests[0] != "TestParse" {
		t.Errorf("Tests = %v, want [TestParse]", result.Failures.Tests)
	}
	if result.Summary != "1 failing tests in 1 packages" {
		t.Errorf("Summary = %q", result.Summary)
	}
}

func TestRunner_Run_UnknownParserFallsToGeneric(t *testing.T) {
	mock := &mockCmd{results: []mockResult{{Stdout: "output", ExitCode: 0}}}
	result, err := NewRunner(mock).Run(context.Background(), "/tmp/repo", CheckConfig{Name: "custom", Command: "custom-check", Parser: "unknown-parser"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Summary != "passed (exit code 0)" {
		t.Errorf("expected generic summary, got %q", result.Summary)
	}
}

func TestRunner_Run_CommandError(t *testing.T) {
	mock := &mockCmd{results: []mockResult{{Err: fmt.Errorf("sh: not found")}}}
	_, err := NewRunner(mock).Run(context.Background(), "/tmp/repo", CheckConfig{Name: "fmt", Command: "gofmt -w ."})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestRunner_Run_Timeout(t *testing.T) {
	mock := &mockCmd{block: true}
	result, err := NewRunner(mock).Run(context.Background(), "/tmp/repo", CheckConfig{Name: "slow", Command: "sleep 10", Timeout: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.TimedOut || result.Passed {
		t.Errorf("TimedOut=%v Passed=%v, want timed out failure", result.TimedOut, result.Passed)
	}
	if result.Failures.Excerpt != "partial" {
		t.Errorf("Excerpt = %q, want %q", result.Failures.Excerpt, "partial")
	}
}

func TestRunner_Run_ParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	mock := &mockCmd{block: true}
	if _, err := NewRunner(mock).Run(ctx, "/tmp/repo", CheckConfig{Name: "x", Command: "x"}); err == nil {
		t.Fatal("expected context error")
	}
}
