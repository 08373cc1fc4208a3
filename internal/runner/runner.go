// Package runner drives a job from QUEUED to a terminal status: it prepares
// the checkout, resolves policy from intent confidence, builds and audits
// the plan, executes it and records the outcome exactly once.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/lucasnoah/autotriage/internal/artifact"
	"github.com/lucasnoah/autotriage/internal/audit"
	"github.com/lucasnoah/autotriage/internal/executor"
	"github.com/lucasnoah/autotriage/internal/facts"
	"github.com/lucasnoah/autotriage/internal/generator"
	"github.com/lucasnoah/autotriage/internal/job"
	"github.com/lucasnoah/autotriage/internal/plan"
	"github.com/lucasnoah/autotriage/internal/policy"
	"github.com/lucasnoah/autotriage/internal/store"
	"github.com/lucasnoah/autotriage/internal/tracing"
)

// Store is the persistence the runner needs.
type Store interface {
	job.Repository
	CreateJob(ctx context.Context, nj store.NewJob) (int64, error)
	ClaimNext(ctx context.Context, worker string) (*job.Job, error)
	HasEvent(ctx context.Context, id int64, typ job.EventType) (bool, error)
}

// Checkout prepares a working copy owned by one job.
type Checkout interface {
	PrepareJob(owner, repo string, jobID int64) (string, error)
}

// Executor runs audited plans.
type Executor interface {
	Execute(ctx context.Context, r *executor.Run) (executor.Outcome, error)
}

// Request identifies the job to run. A zero JobID enqueues a new job from
// the remaining fields and runs it at once.
type Request struct {
	JobID  int64
	Owner  string
	Repo   string
	Action string
	Prompt string
}

// Result is the terminal state a run reached.
type Result struct {
	JobID  int64      `json:"job_id"`
	Status job.Status `json:"status"`
	Reason string     `json:"reason,omitempty"`
	PRURL  string     `json:"pr_url,omitempty"`
}

// ReasonNoChange ends PR-bound plans that never opened a pull request.
const ReasonNoChange = "no meaningful change"

// Runner composes the decision pipeline for one job.
type Runner struct {
	store      Store
	checkout   Checkout
	facts      facts.Provider
	classifier generator.Classifier
	exec       Executor
	artifacts  *artifact.Store
	poll       time.Duration
	progress   io.Writer
	onControl  func(*job.Control)
}

// New creates a Runner.
func New(s Store, co Checkout, fp facts.Provider, cl generator.Classifier, ex Executor, arts *artifact.Store, poll time.Duration) *Runner {
	return &Runner{store: s, checkout: co, facts: fp, classifier: cl, exec: ex, artifacts: arts, poll: poll}
}

// SetProgress sets a writer for live progress output (e.g. os.Stderr).
func (r *Runner) SetProgress(w io.Writer) {
	r.progress = w
}

// logf prints a progress line if a progress writer is configured.
func (r *Runner) logf(format string, args ...any) {
	if r.progress != nil {
		fmt.Fprintf(r.progress, "  → "+format+"\n", args...)
	}
}

// OnControl registers a hook applied to every job Control the runner
// creates, e.g. to replace its Sleep.
func (r *Runner) OnControl(fn func(*job.Control)) {
	r.onControl = fn
}

// Run runs the pipeline for a job. Terminal jobs are refused with
// job.ErrTerminal. A job resumed after an interruption reuses its checkout.
func (r *Runner) Run(ctx context.Context, req Request) (res *Result, err error) {
	id := req.JobID
	if id == 0 {
		id, err = r.store.CreateJob(ctx, store.NewJob{Owner: req.Owner, Repo: req.Repo, Action: req.Action, Prompt: req.Prompt})
		if err != nil {
			return nil, err
		}
	}
	j, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.Status.Terminal() {
		return nil, fmt.Errorf("run job %d (%s): %w", id, j.Status, job.ErrTerminal)
	}

	ctx, span := tracing.StartSpan(ctx, "runner.run",
		attribute.Int64("job.id", id),
		attribute.String("job.repo", j.FullRepo()),
		attribute.String("job.action", j.Action),
	)
	defer func() { tracing.EndSpan(span, err) }()

	defer func() {
		if p := recover(); p != nil {
			perr := fmt.Errorf("panic: %v", p)
			r.emit(ctx, id, job.EventError, job.ErrorPayload{Error: perr.Error(), Phase: "runner"})
			res, err = r.finish(ctx, j, job.Failed, perr.Error(), "")
		}
	}()

	if j.Status != job.Running {
		if err := r.store.SetStatus(ctx, id, job.Running, ""); err != nil {
			return nil, fmt.Errorf("start job %d: %w", id, err)
		}
	}
	r.logf("job %d: %s on %s", id, j.Action, j.FullRepo())

	run, err := r.prepare(ctx, j)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return r.fail(ctx, j, "prepare", err)
	}

	out, err := r.exec.Execute(ctx, run)
	switch {
	case errors.Is(err, job.ErrAborted):
		return r.finish(ctx, j, job.Aborted, "aborted by user", "")
	case errors.Is(err, plan.ErrInvalidOp):
		return r.fail(ctx, j, "plan", fmt.Errorf("invalid operation: %w", err))
	case err != nil && ctx.Err() != nil:
		// Interrupted; the job stays resumable.
		r.emit(context.WithoutCancel(ctx), id, job.EventNote, map[string]string{"note": "interrupted: " + ctx.Err().Error()})
		return nil, ctx.Err()
	case err != nil:
		return r.fail(ctx, j, "execute", err)
	}

	if out.Status == job.Completed && run.Plan.Has(plan.CommitPushPR) {
		created, err := r.store.HasEvent(context.WithoutCancel(ctx), id, job.EventPRCreated)
		if err != nil {
			return nil, err
		}
		if !created {
			return r.finish(ctx, j, job.Failed, ReasonNoChange, "")
		}
	}
	return r.finish(ctx, j, out.Status, out.Reason, out.PRURL)
}

// prepare runs the decision phases up to an audited plan.
func (r *Runner) prepare(ctx context.Context, j *job.Job) (*executor.Run, error) {
	dir, err := r.checkoutDir(ctx, j)
	if err != nil {
		return nil, err
	}

	pctx, span := tracing.StartSpan(ctx, "runner.facts")
	f, err := r.facts.Gather(pctx, dir, j.Prompt)
	tracing.EndSpan(span, err)
	if err != nil {
		return nil, err
	}

	intent, err := r.classifier.Classify(ctx, j.Action, j.Prompt)
	if err != nil {
		r.emit(ctx, j.ID, job.EventNote, map[string]string{"note": "intent classification failed: " + err.Error()})
		intent = generator.Intent{Name: "unknown"}
	}
	r.emit(ctx, j.ID, job.EventIntent, intent)

	pol := policy.Resolve(policy.ConfidenceFrom(intent.Confidence))
	r.emit(ctx, j.ID, job.EventPolicy, pol)
	r.logf("job %d: intent %s (%.2f) -> policy %s", j.ID, intent.Name, intent.Confidence, pol.Name)

	raw := plan.Build(plan.BuildInput{Action: j.Action, Prompt: j.Prompt, Intent: intent.Name, Facts: f})
	r.emit(ctx, j.ID, job.EventPlanRaw, raw)
	r.save(j.ID, "plan-raw", raw)

	_, span = tracing.StartSpan(ctx, "runner.audit", attribute.String("policy", string(pol.Name)))
	audited := audit.Audit(raw, pol, f)
	span.SetAttributes(attribute.Bool("audit.ok", audited.OK))
	span.End()
	r.emit(ctx, j.ID, job.EventPlanAudited, audited)
	r.save(j.ID, "plan", audited.Plan)
	r.logf("job %d: plan %s", j.ID, audited.Plan.String())

	control := job.NewControl(r.store, j.ID, r.poll)
	control.SetProgress(r.progress)
	if r.onControl != nil {
		r.onControl(control)
	}
	return &executor.Run{
		Job:     j,
		Dir:     dir,
		Facts:   f,
		Policy:  pol,
		Plan:    audited.Plan,
		Control: control,

		ModelAssisted: intent.Model,
	}, nil
}

// checkoutDir reuses a recorded checkout when it still exists; otherwise it
// prepares the job's own worktree.
func (r *Runner) checkoutDir(ctx context.Context, j *job.Job) (string, error) {
	if j.RepoPath != "" {
		if _, err := os.Stat(j.RepoPath); err == nil {
			return j.RepoPath, nil
		}
	}
	dir, err := r.checkout.PrepareJob(j.Owner, j.Repo, j.ID)
	if err != nil {
		return "", err
	}
	if err := r.store.SetRepoPath(ctx, j.ID, dir); err != nil {
		return "", err
	}
	j.RepoPath = dir
	return dir, nil
}

func (r *Runner) fail(ctx context.Context, j *job.Job, phase string, cause error) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	r.emit(ctx, j.ID, job.EventError, job.ErrorPayload{Error: cause.Error(), Phase: phase})
	return r.finish(ctx, j, job.Failed, cause.Error(), "")
}

// finish records the terminal status. A job aborted while the pipeline was
// finishing stays aborted.
func (r *Runner) finish(ctx context.Context, j *job.Job, st job.Status, reason, prURL string) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	err := r.store.SetStatus(ctx, j.ID, st, reason)
	if errors.Is(err, job.ErrTerminal) {
		cur, gerr := r.store.Get(ctx, j.ID)
		if gerr != nil {
			return nil, gerr
		}
		return &Result{JobID: j.ID, Status: cur.Status, Reason: cur.StatusReason, PRURL: cur.PRURL}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finish job %d: %w", j.ID, err)
	}
	r.logf("job %d: %s %s", j.ID, st, reason)
	return &Result{JobID: j.ID, Status: st, Reason: reason, PRURL: prURL}, nil
}

func (r *Runner) emit(ctx context.Context, id int64, typ job.EventType, payload any) {
	if _, err := r.store.AppendEvent(ctx, id, typ, payload); err != nil {
		r.logf("job %d: record %s event: %v", id, typ, err)
	}
}

func (r *Runner) save(id int64, name string, v any) {
	if r.artifacts == nil {
		return
	}
	if _, err := r.artifacts.SaveJSON(id, name, v); err != nil {
		r.logf("job %d: save %s: %v", id, name, err)
	}
}
