// Package executor interprets audited plans step by step inside a job's
// checkout, applying the confidence gate to generated changes and asking a
// human when an external call fails in a way retries cannot fix.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/lucasnoah/autotriage/internal/artifact"
	"github.com/lucasnoah/autotriage/internal/checks"
	"github.com/lucasnoah/autotriage/internal/confidence"
	"github.com/lucasnoah/autotriage/internal/diagnose"
	"github.com/lucasnoah/autotriage/internal/facts"
	"github.com/lucasnoah/autotriage/internal/generator"
	"github.com/lucasnoah/autotriage/internal/github"
	"github.com/lucasnoah/autotriage/internal/job"
	"github.com/lucasnoah/autotriage/internal/plan"
	"github.com/lucasnoah/autotriage/internal/policy"
	"github.com/lucasnoah/autotriage/internal/safety"
	"github.com/lucasnoah/autotriage/internal/tracing"
)

// VCS is the version control the executor needs.
type VCS interface {
	EnsureBranch(dir, branch string) (string, error)
	HasChanges(dir string) (bool, error)
	Diff(dir string) (string, error)
	BranchDiff(dir string) (string, error)
	Commit(dir, message string, amend bool) error
	Push(dir, branch string) error
	ApplyPatch(dir, patchFile string) error
	BaseBranch() string
}

// PRService opens pull requests.
type PRService interface {
	FindPRByBranch(owner, repo, branch string) (*github.PRCreateResult, error)
	CreatePR(opts github.PRCreateOpts) (*github.PRCreateResult, error)
}

// Commands are the shell commands used for one stack.
type Commands struct {
	Test   string `yaml:"test" json:"test"`
	Format string `yaml:"format" json:"format"`
	// Parser names the checks parser for test output.
	Parser string `yaml:"parser" json:"parser"`
}

// DefaultCommands cover the stacks facts can detect.
var DefaultCommands = map[string]Commands{
	"go":     {Test: "go test ./...", Format: "gofmt -w .", Parser: checks.ParserGoTest},
	"python": {Test: "pytest -q", Format: "black .", Parser: checks.ParserPytest},
	"node":   {Test: "npm test --silent", Format: "npx prettier --write .", Parser: checks.ParserGeneric},
	"rust":   {Test: "cargo test", Format: "cargo fmt", Parser: checks.ParserGeneric},
}

// Config tunes execution.
type Config struct {
	// Commands overrides DefaultCommands per stack.
	Commands map[string]Commands
	// StepRetries bounds automatic retries of retryable failures.
	StepRetries int
	// RetryBackoff is the wait between automatic retries.
	RetryBackoff time.Duration
	// CheckTimeout bounds each test, format or verify command.
	CheckTimeout time.Duration
}

// Deps are the collaborators an Executor uses.
type Deps struct {
	Repo      job.Repository
	VCS       VCS
	PRs       PRService
	Checks    *checks.Runner
	Generator generator.Generator
	Verifier  *safety.Verifier
	Gate      *confidence.Gate
	Artifacts *artifact.Store
}

// Executor runs audited plans.
type Executor struct {
	Deps
	cfg      Config
	progress io.Writer
	http     *http.Client

	// Sleep waits between automatic retries; replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// New creates an Executor.
func New(d Deps, cfg Config) *Executor {
	if cfg.StepRetries < 0 {
		cfg.StepRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 5 * time.Second
	}
	return &Executor{
		Deps:  d,
		cfg:   cfg,
		http:  &http.Client{Timeout: 15 * time.Second},
		Sleep: sleepCtx,
	}
}

// SetProgress sets a writer for live progress output (e.g. os.Stderr).
func (e *Executor) SetProgress(w io.Writer) {
	e.progress = w
}

// logf prints a progress line if a progress writer is configured.
func (e *Executor) logf(format string, args ...any) {
	if e.progress != nil {
		fmt.Fprintf(e.progress, "  → "+format+"\n", args...)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// commands returns the commands for stack, preferring configured ones.
func (e *Executor) commands(stack string) Commands {
	c := DefaultCommands[stack]
	if o, ok := e.cfg.Commands[stack]; ok {
		if o.Test != "" {
			c.Test = o.Test
		}
		if o.Format != "" {
			c.Format = o.Format
		}
		if o.Parser != "" {
			c.Parser = o.Parser
		}
	}
	return c
}

// Run is one plan execution.
type Run struct {
	Job     *job.Job
	Dir     string
	Facts   facts.Facts
	Policy  policy.Policy
	Plan    plan.ExecutionPlan
	Control *job.Control
	// ModelAssisted is set when a model took part in planning, such as
	// classifying the intent. Rewrites then never score as perfect.
	ModelAssisted bool

	baseline *checks.Result
	diff     string
	diffPath string
	prURL    string
}

// Outcome is how a plan ended. Status is COMPLETED when every step ran.
type Outcome struct {
	Status job.Status `json:"status"`
	Reason string     `json:"reason,omitempty"`
	PRURL  string     `json:"pr_url,omitempty"`
}

// halt ends a plan early with a terminal status.
type halt struct {
	status job.Status
	reason string
}

// StepEvent accompanies STEP events.
type StepEvent struct {
	Index int               `json:"index"`
	Op    plan.Op           `json:"op"`
	Args  map[string]string `json:"args,omitempty"`
}

// StepResultEvent accompanies STEP_RESULT events.
type StepResultEvent struct {
	Index  int     `json:"index"`
	Op     plan.Op `json:"op"`
	OK     bool    `json:"ok"`
	Detail string  `json:"detail,omitempty"`
}

// Execute runs r.Plan. It returns ErrInvalidOp for plans outside the
// vocabulary and job.ErrAborted when a user aborts between steps.
func (e *Executor) Execute(ctx context.Context, r *Run) (Outcome, error) {
	if err := r.Plan.Validate(); err != nil {
		return Outcome{}, err
	}
	for i, step := range r.Plan.Steps {
		if err := r.Control.Check(ctx); err != nil {
			return Outcome{}, err
		}
		e.emit(ctx, r, job.EventStep, StepEvent{Index: i, Op: step.Op, Args: step.Args})
		e.logf("job %d: step %d %s", r.Job.ID, i, step.Op)

		h, detail, err := e.runWithRecovery(ctx, r, i, step)
		if err != nil {
			e.emit(ctx, r, job.EventStepResult, StepResultEvent{Index: i, Op: step.Op, Detail: err.Error()})
			return Outcome{}, fmt.Errorf("step %d %s: %w", i, step.Op, err)
		}
		e.emit(ctx, r, job.EventStepResult, StepResultEvent{Index: i, Op: step.Op, OK: true, Detail: detail})
		if h != nil {
			e.logf("job %d: plan halted %s: %s", r.Job.ID, h.status, h.reason)
			return Outcome{Status: h.status, Reason: h.reason, PRURL: r.prURL}, nil
		}
	}
	return Outcome{Status: job.Completed, PRURL: r.prURL}, nil
}

// runWithRecovery runs a step, retrying retryable failures up to the
// configured bound and then asking the human whether to try again.
func (e *Executor) runWithRecovery(ctx context.Context, r *Run, i int, step plan.Step) (*halt, string, error) {
	attempt := 0
	for round := 1; ; round++ {
		sctx, span := tracing.StartSpan(ctx, "executor.step",
			attribute.Int64("job.id", r.Job.ID),
			attribute.Int("step.index", i),
			attribute.String("step.op", string(step.Op)),
		)
		h, detail, err := e.runStep(sctx, r, i, step)
		tracing.EndSpan(span, err)
		if err == nil {
			return h, detail, nil
		}
		if errors.Is(err, job.ErrAborted) || errors.Is(err, plan.ErrInvalidOp) || ctx.Err() != nil {
			return nil, "", err
		}

		d := diagnose.Diagnose(string(step.Op), err)
		e.emit(ctx, r, job.EventDiagnosis, d)
		e.logf("job %d: %s failed (%s): %s", r.Job.ID, step.Op, d.Category, d.Summary)

		if d.Retryable && attempt < e.cfg.StepRetries {
			attempt++
			if err := e.Sleep(ctx, e.cfg.RetryBackoff); err != nil {
				return nil, "", err
			}
			continue
		}

		key := fmt.Sprintf("step:%d:%s:round:%d", i, step.Op, round)
		question := fmt.Sprintf("%s failed (%s): %s. Retry?", step.Op, d.Category, d.Summary)
		answer, askErr := r.Control.Ask(ctx, key, question, "retry", "abort")
		if askErr != nil {
			return nil, "", askErr
		}
		if answer != "retry" {
			return nil, "", err
		}
		attempt = 0
	}
}

func (e *Executor) emit(ctx context.Context, r *Run, typ job.EventType, payload any) {
	if _, err := e.Repo.AppendEvent(ctx, r.Job.ID, typ, payload); err != nil {
		e.logf("job %d: record %s event: %v", r.Job.ID, typ, err)
	}
}

func (e *Executor) note(ctx context.Context, r *Run, msg string) {
	e.emit(ctx, r, job.EventNote, map[string]string{"note": msg})
}
