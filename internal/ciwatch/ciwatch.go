// Package ciwatch is the self-healing CI loop: it classifies the latest
// failed run on each open pull request and either pushes a bounded retry
// to the PR branch or hands the failure to a fresh fix job.
package ciwatch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/lucasnoah/autotriage/internal/ci"
	"github.com/lucasnoah/autotriage/internal/confidence"
	"github.com/lucasnoah/autotriage/internal/facts"
	"github.com/lucasnoah/autotriage/internal/generator"
	"github.com/lucasnoah/autotriage/internal/github"
	"github.com/lucasnoah/autotriage/internal/plan"
	"github.com/lucasnoah/autotriage/internal/safety"
	"github.com/lucasnoah/autotriage/internal/store"
	"github.com/lucasnoah/autotriage/internal/tracing"
)

// Mode selects how much the watcher is allowed to do.
type Mode int

const (
	Disabled Mode = iota
	Observe
	SingleRetry
	Full
)

func (m Mode) String() string {
	switch m {
	case Disabled:
		return "disabled"
	case Observe:
		return "observe"
	case SingleRetry:
		return "single-retry"
	case Full:
		return "full"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Retry-state outcomes that are not CI categories.
const (
	OutcomeObserved     = "OBSERVE_ONLY"
	OutcomeCommitFailed = "COMMIT_FAILED"
	OutcomeFreshFix     = "FRESH_FIX_QUEUED"
)

// CIProvider is the CI and pull request surface the watcher reads and
// comments on.
type CIProvider interface {
	ListOpenPRs(owner, repo, headPrefix string) ([]github.PullRequest, error)
	LatestRun(owner, repo, branch string) (*github.Run, error)
	RunLog(owner, repo string, runID int64) (string, error)
	Comment(owner, repo string, number int, body string) error
}

// Workspace is the git surface used to push retries onto a PR branch.
type Workspace interface {
	Prepare(owner, repo string, reset bool) (string, error)
	Checkout(dir, branch string) error
	Commit(dir, message string, amend bool) error
	ForcePush(dir, branch string) error
}

// StateStore persists per-PR retry state and enqueues fresh fix jobs.
type StateStore interface {
	GetRetryState(ctx context.Context, owner, repo string, number int) (*store.RetryState, error)
	SaveRetryState(ctx context.Context, rs store.RetryState) error
	CreateJob(ctx context.Context, nj store.NewJob) (int64, error)
}

// Config tunes the watcher.
type Config struct {
	Mode Mode
	// Retry bounds attempts and spacing. SingleRetry caps MaxAttempts at 1.
	Retry ci.RetryPolicy
	// HeadPrefix limits watching to PR branches with this prefix.
	HeadPrefix string
}

// Deps are the watcher's collaborators.
type Deps struct {
	CI        CIProvider
	Workspace Workspace
	State     StateStore
	Facts     facts.Provider
	Generator generator.Generator
	Verifier  *safety.Verifier
	Gate      *confidence.Gate
}

// Action is what the watcher did for one pull request.
type Action string

const (
	ActionSkipped   Action = "skipped"
	ActionObserved  Action = "observed"
	ActionRetried   Action = "retried"
	ActionRetrigger Action = "retriggered"
	ActionBlocked   Action = "blocked"
	ActionFreshFix  Action = "fresh_fix"
	ActionStopped   Action = "stopped"
	ActionFailed    Action = "failed"
)

// Report summarizes one pull request.
type Report struct {
	Number   int          `json:"number"`
	Branch   string       `json:"branch"`
	RunID    int64        `json:"run_id,omitempty"`
	Action   Action       `json:"action"`
	Reason   string       `json:"reason,omitempty"`
	Outcome  *ci.Outcome  `json:"outcome,omitempty"`
	Decision *ci.Decision `json:"decision,omitempty"`
	Score    float64      `json:"score,omitempty"`
	File     string       `json:"file,omitempty"`
	JobID    int64        `json:"job_id,omitempty"`
}

// Watcher runs one pass over a repository's open pull requests.
type Watcher struct {
	Deps
	cfg      Config
	progress io.Writer
	// Now is the clock used for backoff; replaced in tests.
	Now func() time.Time
}

// New creates a Watcher. A zero retry policy uses ci.DefaultRetryPolicy.
func New(d Deps, cfg Config) *Watcher {
	if cfg.Retry == (ci.RetryPolicy{}) {
		cfg.Retry = ci.DefaultRetryPolicy
	}
	cfg.Retry.MaxAttempts = min(cfg.Retry.MaxAttempts, ci.MaxRetryAttempts)
	if cfg.Mode == SingleRetry {
		cfg.Retry.MaxAttempts = min(cfg.Retry.MaxAttempts, 1)
		cfg.Retry.UnknownRetries = min(cfg.Retry.UnknownRetries, 1)
	}
	return &Watcher{Deps: d, cfg: cfg, Now: time.Now}
}

// SetProgress sets a writer for live progress output (e.g. os.Stderr).
func (w *Watcher) SetProgress(out io.Writer) {
	w.progress = out
}

func (w *Watcher) logf(format string, args ...any) {
	if w.progress != nil {
		fmt.Fprintf(w.progress, "  → "+format+"\n", args...)
	}
}

// Run watches owner/repo once. Per-PR failures are reported, not returned;
// the error is reserved for listing failures and cancellation.
func (w *Watcher) Run(ctx context.Context, owner, repo string) ([]Report, error) {
	if w.cfg.Mode <= Disabled {
		w.logf("CI watcher disabled")
		return nil, nil
	}
	ctx, span := tracing.StartSpan(ctx, "ciwatch.run",
		attribute.String("repo", owner+"/"+repo),
		attribute.String("ci.mode", w.cfg.Mode.String()),
	)
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	prs, err := w.CI.ListOpenPRs(owner, repo, w.cfg.HeadPrefix)
	if err != nil {
		return nil, err
	}
	w.logf("%s/%s: %d open PR(s)", owner, repo, len(prs))

	var reports []Report
	for _, pr := range prs {
		if err = ctx.Err(); err != nil {
			return reports, err
		}
		rep := w.watchPR(ctx, owner, repo, pr)
		w.logf("PR #%d (%s): %s %s", rep.Number, rep.Branch, rep.Action, rep.Reason)
		reports = append(reports, rep)
	}
	return reports, nil
}

func (w *Watcher) watchPR(ctx context.Context, owner, repo string, pr github.PullRequest) (rep Report) {
	rep = Report{Number: pr.Number, Branch: pr.HeadRefName, Action: ActionSkipped}
	ctx, span := tracing.StartSpan(ctx, "ciwatch.pr", attribute.Int("pr.number", pr.Number))
	defer func() {
		span.SetAttributes(attribute.String("ci.action", string(rep.Action)))
		span.End()
	}()

	fail := func(err error) Report {
		rep.Action = ActionFailed
		rep.Reason = err.Error()
		return rep
	}

	state, err := w.State.GetRetryState(ctx, owner, repo, pr.Number)
	if err != nil {
		return fail(err)
	}
	if state == nil {
		state = &store.RetryState{Owner: owner, Repo: repo, Number: pr.Number}
	}

	run, err := w.CI.LatestRun(owner, repo, pr.HeadRefName)
	if err != nil {
		return fail(err)
	}
	if run == nil || !run.Failed() {
		rep.Reason = "no failed run"
		return rep
	}
	rep.RunID = run.ID
	if run.ID == state.LastRunID {
		rep.Reason = fmt.Sprintf("run %d already handled", run.ID)
		return rep
	}
	if wait := w.backoffLeft(state); wait > 0 {
		rep.Reason = fmt.Sprintf("backing off %s", wait.Round(time.Second))
		return rep
	}

	log, err := w.CI.RunLog(owner, repo, run.ID)
	if err != nil {
		return fail(err)
	}
	outcome := ci.Classify(ci.ParseLog(log))
	rep.Outcome = outcome
	state.LastRunID = run.ID

	if w.cfg.Mode == Observe {
		rep.Action = ActionObserved
		rep.Reason = string(outcome.Category)
		state.LastOutcome = OutcomeObserved
		state.Active = false
		return w.save(ctx, state, rep)
	}

	d := w.cfg.Retry.Decide(outcome, state.Attempts)
	rep.Decision = &d
	state.LastOutcome = string(outcome.Category)

	if !d.ShouldRetry {
		state.Active = false
		if d.Route == ci.RouteFreshFix {
			id, err := w.State.CreateJob(ctx, freshFixJob(owner, repo, pr, outcome))
			if err != nil {
				return fail(err)
			}
			rep.Action = ActionFreshFix
			rep.JobID = id
			rep.Reason = fmt.Sprintf("%s; queued job %d", d.Reason, id)
			state.LastOutcome = OutcomeFreshFix
			return w.save(ctx, state, rep)
		}
		rep.Action = ActionStopped
		rep.Reason = d.Reason
		return w.save(ctx, state, rep)
	}

	rep = w.retry(ctx, owner, repo, pr, run, outcome, state, rep)
	return w.save(ctx, state, rep)
}

// retry pushes one attempt to the PR branch. Failures with no file to fix
// get an empty amend, which re-triggers CI on the same content.
func (w *Watcher) retry(ctx context.Context, owner, repo string, pr github.PullRequest, run *github.Run, outcome *ci.Outcome, state *store.RetryState, rep Report) Report {
	dir, err := w.Workspace.Prepare(owner, repo, false)
	if err == nil {
		err = w.Workspace.Checkout(dir, pr.HeadRefName)
	}
	if err != nil {
		state.Active = false
		rep.Action = ActionFailed
		rep.Reason = err.Error()
		return rep
	}

	path, err := w.failingFile(ctx, dir, outcome)
	if err != nil {
		state.Active = false
		rep.Action = ActionFailed
		rep.Reason = err.Error()
		return rep
	}
	rep.File = path
	rep.Action = ActionRetrigger
	if path != "" {
		blocked, reason, err := w.fix(ctx, dir, path, pr, outcome, &rep)
		if err != nil {
			state.Active = false
			rep.Action = ActionFailed
			rep.Reason = err.Error()
			return rep
		}
		if blocked {
			state.Active = false
			rep.Action = ActionBlocked
			rep.Reason = reason
			return rep
		}
		rep.Action = ActionRetried
	}

	if err := w.push(dir, pr.HeadRefName); err != nil {
		state.Active = false
		state.LastOutcome = OutcomeCommitFailed
		rep.Action = ActionFailed
		rep.Reason = err.Error()
		return rep
	}

	state.Attempts++
	state.Active = true
	rep.Reason = rep.Decision.Reason
	body := retryComment(owner, repo, state.Attempts, rep, run, outcome)
	if err := w.CI.Comment(owner, repo, pr.Number, body); err != nil {
		w.logf("PR #%d: comment: %v", pr.Number, err)
	}
	return rep
}

// fix generates, verifies and scores a replacement for path and writes it.
// blocked is true when the change must not be pushed.
func (w *Watcher) fix(ctx context.Context, dir, path string, pr github.PullRequest, outcome *ci.Outcome, rep *Report) (blocked bool, reason string, err error) {
	full := filepath.Join(dir, filepath.FromSlash(path))
	current, err := os.ReadFile(full)
	if err != nil {
		return false, "", fmt.Errorf("read %s: %w", path, err)
	}
	if strings.TrimSpace(string(current)) == "" {
		return true, path + " is empty", nil
	}

	prop, err := w.Generator.Generate(ctx, generator.Request{
		Path:     path,
		Current:  string(current),
		Prompt:   fmt.Sprintf("[CI retry] %s\n\n%s", pr.Title, pr.Body),
		Evidence: evidence(outcome),
	})
	if err != nil {
		return false, "", fmt.Errorf("generate fix: %w", err)
	}
	content := generator.Content(prop)
	if content == nil {
		reason = "no fix produced"
		if np, ok := prop.(generator.NoProposal); ok && np.Reason != "" {
			reason += ": " + np.Reason
		}
		return true, reason, nil
	}

	verdict := w.Verifier.Verify(path, string(current), content.Text)
	scored := confidence.Evaluate(confidence.Inputs{
		Resolution:     facts.ResolvedByTrace,
		StructuralPass: verdict.Structural,
		SafetyPass:     verdict.Passed,
		Provenance:     content.Provenance,
		FilesTouched:   1,
		FileLines:      strings.Count(string(current), "\n") + 1,
	})
	rep.Score = scored.Score

	switch {
	case !verdict.Passed:
		return true, "safety: " + verdict.Reason, nil
	case scored.Score < w.Gate.RejectBelow():
		return true, fmt.Sprintf("confidence %.2f below %.2f", scored.Score, w.Gate.RejectBelow()), nil
	case w.Gate.IsSensitive(path):
		return true, "sensitive area: " + path, nil
	}

	if err := os.WriteFile(full, []byte(content.Text), 0o644); err != nil {
		return false, "", fmt.Errorf("write %s: %w", path, err)
	}
	return false, "", nil
}

// failingFile returns the top failing file that exists in the checkout.
func (w *Watcher) failingFile(ctx context.Context, dir string, outcome *ci.Outcome) (string, error) {
	if len(outcome.FailingFiles) == 0 {
		return "", nil
	}
	f, err := w.Facts.Gather(ctx, dir, "")
	if err != nil {
		return "", err
	}
	for _, cand := range outcome.FailingFiles {
		if rel := facts.MatchRepoFile(cand, f.Files); rel != "" {
			return rel, nil
		}
	}
	return "", nil
}

func (w *Watcher) push(dir, branch string) error {
	if err := w.Workspace.Commit(dir, "", true); err != nil {
		return err
	}
	return w.Workspace.ForcePush(dir, branch)
}

func (w *Watcher) backoffLeft(state *store.RetryState) time.Duration {
	if !state.Active || state.Attempts == 0 || w.cfg.Retry.BackoffSeconds <= 0 {
		return 0
	}
	last, err := time.Parse(time.RFC3339Nano, state.UpdatedAt)
	if err != nil {
		return 0
	}
	next := last.Add(time.Duration(w.cfg.Retry.BackoffSeconds) * time.Second)
	return next.Sub(w.Now())
}

func (w *Watcher) save(ctx context.Context, state *store.RetryState, rep Report) Report {
	if err := w.State.SaveRetryState(ctx, *state); err != nil {
		rep.Action = ActionFailed
		rep.Reason = fmt.Sprintf("save retry state: %v", err)
	}
	return rep
}

func evidence(o *ci.Outcome) string {
	var b strings.Builder
	if len(o.FailingTests) > 0 {
		fmt.Fprintf(&b, "Failing tests: %s\n", strings.Join(o.FailingTests, ", "))
	}
	b.WriteString(o.Excerpt)
	return b.String()
}

func freshFixJob(owner, repo string, pr github.PullRequest, o *ci.Outcome) store.NewJob {
	return store.NewJob{
		Owner:  owner,
		Repo:   repo,
		Action: plan.ActionFixBugs,
		Prompt: fmt.Sprintf("CI failure on PR #%d (%s): %s\n\n%s", pr.Number, pr.HeadRefName, o.Category, evidence(o)),
	}
}

func retryComment(owner, repo string, attempt int, rep Report, run *github.Run, o *ci.Outcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### CI retry attempt %d\n\n", attempt)
	fmt.Fprintf(&b, "- Category: `%s`\n", o.Category)
	if rep.File != "" {
		fmt.Fprintf(&b, "- Patched: `%s` (confidence %.2f)\n", rep.File, rep.Score)
	} else {
		b.WriteString("- No file patched; re-triggered CI\n")
	}
	if len(o.FailingTests) > 0 {
		fmt.Fprintf(&b, "- Failing tests: %s\n", strings.Join(o.FailingTests, ", "))
	}
	fmt.Fprintf(&b, "- Run: https://github.com/%s/%s/actions/runs/%d\n", owner, repo, run.ID)
	return b.String()
}
