// Package checks runs repository commands (tests, formatters, verification
// commands) under a timeout and parses their output.
package checks

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Result holds the structured output of a command run.
type Result struct {
	Name       string   `json:"name"`
	Command    string   `json:"command"`
	Passed     bool     `json:"passed"`
	TimedOut   bool     `json:"timed_out,omitempty"`
	ExitCode   int      `json:"exit_code"`
	DurationMs int      `json:"duration_ms"`
	Summary    string   `json:"summary"`
	Failures   Failures `json:"failures"`
}

// CheckConfig describes one command to run.
type CheckConfig struct {
	Name    string
	Command string
	Parser  string
	Timeout time.Duration
}

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, dir string, command string) (stdout string, stderr string, exitCode int, err error)
}

// ExecRunner implements CommandRunner by shelling out.
type ExecRunner struct{}

func (e *ExecRunner) Run(ctx context.Context, dir string, command string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			return stdoutBuf.String(), stderrBuf.String(), exitErr.ExitCode(), nil
		}
		return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec: %w", err)
	}
	return stdoutBuf.String(), stderrBuf.String(), 0, nil
}

// Parser names.
const (
	ParserGoTest  = "go-test"
	ParserPytest  = "pytest"
	ParserGeneric = "generic"
)

// DefaultTimeout applies when a CheckConfig sets none.
const DefaultTimeout = 5 * time.Minute

// Runner executes commands and parses their output.
type Runner struct {
	cmd     CommandRunner
	parsers map[string]Parser
}

// NewRunner creates a Runner with the given command runner.
func NewRunner(cmd CommandRunner) *Runner {
	return &Runner{
		cmd: cmd,
		parsers: map[string]Parser{
			ParserGoTest:  &GoTestParser{},
			ParserPytest:  &PytestParser{},
			ParserGeneric: &GenericParser{},
		},
	}
}

// Parser returns the named parser, falling back to the generic one.
func (r *Runner) Parser(name string) Parser {
	if p, ok := r.parsers[name]; ok {
		return p
	}
	return r.parsers[ParserGeneric]
}

// Run executes cfg in dir. A timeout is reported as a failed Result, not an
// error; errors mean the command could not be run at all.
func (r *Runner) Run(ctx context.Context, dir string, cfg CheckConfig) (*Result, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	stdout, stderr, exitCode, err := r.cmd.Run(runCtx, dir, cfg.Command)
	durationMs := int(time.Since(start).Milliseconds())

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if runCtx.Err() == context.DeadlineExceeded {
			return &Result{
				Name:       cfg.Name,
				Command:    cfg.Command,
				TimedOut:   true,
				ExitCode:   -1,
				DurationMs: durationMs,
				Summary:    fmt.Sprintf("timeout after %s", timeout),
				Failures:   Failures{Excerpt: tail(combine(stdout, stderr), maxExcerptLen)},
			}, nil
		}
		return nil, fmt.Errorf("run %s: %w", cfg.Name, err)
	}

	parsed := r.Parser(cfg.Parser).Parse(stdout, stderr, exitCode)
	return &Result{
		Name:       cfg.Name,
		Command:    cfg.Command,
		Passed:     exitCode == 0 && parsed.Passed,
		ExitCode:   exitCode,
		DurationMs: durationMs,
		Summary:    parsed.Summary,
		Failures:   parsed.Failures,
	}, nil
}
