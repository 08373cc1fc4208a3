package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/lucasnoah/autotriage/internal/checks"
	"github.com/lucasnoah/autotriage/internal/confidence"
	"github.com/lucasnoah/autotriage/internal/diagnose"
	"github.com/lucasnoah/autotriage/internal/facts"
	"github.com/lucasnoah/autotriage/internal/generator"
	"github.com/lucasnoah/autotriage/internal/github"
	"github.com/lucasnoah/autotriage/internal/job"
	"github.com/lucasnoah/autotriage/internal/plan"
	"github.com/lucasnoah/autotriage/internal/vcs"
)

// maxEventDiff bounds the diff text copied into a DIFF event.
const maxEventDiff = 4000

// runStep dispatches one step. A non-nil halt ends the plan.
func (e *Executor) runStep(ctx context.Context, r *Run, i int, s plan.Step) (*halt, string, error) {
	switch s.Op {
	case plan.AnalyzeRepo:
		return nil, e.analyze(ctx, r), nil
	case plan.RunTestsSafe:
		return e.runTests(ctx, r)
	case plan.FormatCode:
		return nil, "", e.format(ctx, r, s)
	case plan.GenerateFix:
		return e.generateFix(ctx, r, s)
	case plan.CreateFile:
		return nil, "", createFile(r.Dir, s.Arg("path"), s.Arg("content"))
	case plan.EditFile:
		return nil, "", editFile(r.Dir, s.Arg("path"), s.Arg("find"), s.Arg("replace"))
	case plan.AppendFile:
		return nil, "", appendFile(r.Dir, s.Arg("path"), s.Arg("content"))
	case plan.DeleteFile:
		return nil, "", deleteFile(r.Dir, s.Arg("path"))
	case plan.ApplyPatch:
		return nil, "", e.applyPatch(r, i, s)
	case plan.UpdateReadme:
		return nil, "", e.updateReadme(ctx, r, s)
	case plan.AddEnvExample:
		return nil, "", e.addEnvExample(ctx, r)
	case plan.CaptureDiff:
		return nil, "", e.captureDiff(ctx, r)
	case plan.VerifyCmd:
		return nil, "", e.verifyCmd(ctx, r, s)
	case plan.VerifyFileExists:
		return nil, "", verifyFileExists(r.Dir, s.Arg("path"))
	case plan.VerifyHTTPEndpoint:
		return nil, "", e.verifyHTTP(ctx, s)
	case plan.SetStatus:
		return e.setStatus(ctx, r, s), "", nil
	case plan.WaitForApproval:
		return e.waitForApproval(ctx, r, i)
	case plan.CommitPushPR:
		return nil, "", e.commitPushPR(ctx, r, s)
	}
	return nil, "", fmt.Errorf("%w: %s", plan.ErrInvalidOp, s.Op)
}

func (e *Executor) analyze(ctx context.Context, r *Run) string {
	e.emit(ctx, r, job.EventArch, r.Facts)
	detail := fmt.Sprintf("stack=%s files=%d", r.Facts.Stack, len(r.Facts.Files))
	if t := r.Facts.Target; t != nil {
		detail += fmt.Sprintf(" target=%s (%s)", t.Path, t.Resolution)
	}
	return detail
}

// runTests records a baseline; failing tests do not fail the step.
func (e *Executor) runTests(ctx context.Context, r *Run) (*halt, string, error) {
	cmds := e.commands(r.Facts.Stack)
	if cmds.Test == "" {
		e.note(ctx, r, "no test command for stack "+r.Facts.Stack)
		return nil, "skipped", nil
	}
	res, err := e.Checks.Run(ctx, r.Dir, checks.CheckConfig{
		Name: "tests", Command: cmds.Test, Parser: cmds.Parser, Timeout: e.cfg.CheckTimeout,
	})
	if err != nil {
		return nil, "", err
	}
	r.baseline = res
	return nil, res.Summary, nil
}

func (e *Executor) format(ctx context.Context, r *Run, s plan.Step) error {
	cmds := e.commands(r.Facts.Stack)
	if cmds.Format == "" {
		e.note(ctx, r, "no format command for stack "+r.Facts.Stack)
		return nil
	}
	res, err := e.Checks.Run(ctx, r.Dir, checks.CheckConfig{Name: "format", Command: cmds.Format, Timeout: e.cfg.CheckTimeout})
	if err != nil {
		return err
	}
	if !res.Passed {
		return fmt.Errorf("format command %q failed: %s", cmds.Format, res.Summary)
	}
	return nil
}

// fixEvidence is the failure context handed to the generator.
func (r *Run) fixEvidence() string {
	if r.baseline == nil || r.baseline.Passed {
		return ""
	}
	var b strings.Builder
	if len(r.baseline.Failures.Tests) > 0 {
		fmt.Fprintf(&b, "Failing tests: %s\n", strings.Join(r.baseline.Failures.Tests, ", "))
	}
	b.WriteString(r.baseline.Failures.Excerpt)
	return b.String()
}

func (e *Executor) generateFix(ctx context.Context, r *Run, s plan.Step) (*halt, string, error) {
	path := s.Arg("path")
	if path == "" {
		d := e.Gate.Decide(confidence.GateInput{})
		e.emit(ctx, r, job.EventDecision, d)
		return &halt{job.Failed, "change rejected: " + d.Reason}, "", nil
	}
	full, err := repoPath(r.Dir, path)
	if err != nil {
		return nil, "", err
	}
	current, err := os.ReadFile(full)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", path, err)
	}

	prop, err := e.Generator.Generate(ctx, generator.Request{
		Path:     path,
		Function: s.Arg("function"),
		Current:  string(current),
		Prompt:   r.Job.Prompt,
		Evidence: r.fixEvidence(),
	})
	if err != nil {
		return nil, "", fmt.Errorf("generate fix: %w", err)
	}
	content := generator.Content(prop)
	if content == nil {
		d := e.Gate.Decide(confidence.GateInput{})
		if np, ok := prop.(generator.NoProposal); ok && np.Reason != "" {
			d.Reason += ": " + np.Reason
		}
		e.emit(ctx, r, job.EventDecision, d)
		return &halt{job.Failed, "change rejected: " + d.Reason}, "", nil
	}

	verdict := e.Verifier.Verify(path, string(current), content.Text)
	e.emit(ctx, r, job.EventSafety, verdict)

	scored := confidence.Evaluate(confidence.Inputs{
		Resolution:       facts.Resolution(s.Arg("resolution")),
		FunctionResolved: s.Arg("function") != "",
		StructuralPass:   verdict.Structural,
		SafetyPass:       verdict.Passed,
		Provenance:       content.Provenance,
		UsedGenerative:   r.ModelAssisted,
		FilesTouched:     1,
		ImpactedFiles:    r.Facts.BlastRadius,
		FileLines:        lineCount(string(current)),
	})
	e.emit(ctx, r, job.EventConfidence, scored)

	d := e.Gate.Decide(confidence.GateInput{
		HasProposal:   true,
		Score:         scored.Score,
		Path:          path,
		FilesTouched:  1,
		ImpactedFiles: r.Facts.BlastRadius,
		SafetyPassed:  verdict.Passed,
		Provenance:    content.Provenance,
	})
	e.emit(ctx, r, job.EventDecision, d)
	detail := fmt.Sprintf("%s score=%.2f %s", d.Mode, scored.Score, d.Reason)

	switch d.Mode {
	case confidence.Reject:
		return &halt{job.Failed, "change rejected: " + d.Reason}, detail, nil
	case confidence.Propose:
		art, err := e.Artifacts.SaveText(r.Job.ID, "proposal-"+artifactName(path), content.Text)
		if err != nil {
			return nil, "", err
		}
		approved, err := r.Control.AwaitApproval(ctx, job.ProposalPayload{
			Key:      "fix:" + path + ":" + contentHash(content.Text),
			Path:     path,
			Summary:  "proposed fix for " + path,
			Score:    scored.Score,
			Reason:   d.Reason,
			Artifact: art,
		})
		if err != nil {
			return nil, "", err
		}
		if !approved {
			return &halt{job.NeedsReview, "proposed fix for " + path + " rejected by reviewer"}, detail, nil
		}
	}
	if err := os.WriteFile(full, []byte(content.Text), 0o644); err != nil {
		return nil, "", fmt.Errorf("write %s: %w", path, err)
	}
	return nil, detail, nil
}

func (e *Executor) applyPatch(r *Run, i int, s plan.Step) error {
	patch := s.Arg("patch")
	if strings.TrimSpace(patch) == "" {
		return fmt.Errorf("apply patch: empty patch")
	}
	p, err := e.Artifacts.SaveText(r.Job.ID, fmt.Sprintf("step-%d.patch", i), patch)
	if err != nil {
		return err
	}
	return e.VCS.ApplyPatch(r.Dir, p)
}

func (e *Executor) updateReadme(ctx context.Context, r *Run, s plan.Step) error {
	full, err := repoPath(r.Dir, "README.md")
	if err != nil {
		return err
	}
	current, err := os.ReadFile(full)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read README.md: %w", err)
	}
	prompt := s.Arg("prompt")
	if prompt == "" {
		prompt = r.Job.Prompt
	}
	prop, err := e.Generator.Generate(ctx, generator.Request{Path: "README.md", Current: string(current), Prompt: prompt})
	if err != nil {
		return fmt.Errorf("generate README: %w", err)
	}
	content := generator.Content(prop)
	if content == nil {
		e.note(ctx, r, "README unchanged: generator proposed nothing")
		return nil
	}
	return os.WriteFile(full, []byte(content.Text), 0o644)
}

func (e *Executor) addEnvExample(ctx context.Context, r *Run) error {
	if r.Facts.HasEnvExample {
		e.note(ctx, r, ".env.example already present")
		return nil
	}
	vars, err := envVars(r.Dir, r.Facts.Files)
	if err != nil {
		return err
	}
	return createFile(r.Dir, ".env.example", envExample(vars))
}

func (e *Executor) captureDiff(ctx context.Context, r *Run) error {
	diff, err := e.VCS.Diff(r.Dir)
	if err != nil {
		return err
	}
	r.diff = diff
	if diff == "" {
		e.note(ctx, r, "working tree unchanged")
		return nil
	}
	p, err := e.Artifacts.SaveText(r.Job.ID, "diff.patch", diff+"\n")
	if err != nil {
		return err
	}
	r.diffPath = p
	shown := diff
	if len(shown) > maxEventDiff {
		shown = shown[:maxEventDiff] + "\n... (truncated)"
	}
	e.emit(ctx, r, job.EventDiff, map[string]any{
		"artifact": p,
		"lines":    strings.Count(diff, "\n") + 1,
		"diff":     shown,
	})
	return nil
}

func (e *Executor) verifyCmd(ctx context.Context, r *Run, s plan.Step) error {
	cmd := s.Arg("cmd")
	if cmd == "" {
		return fmt.Errorf("verify command: missing cmd")
	}
	res, err := e.Checks.Run(ctx, r.Dir, checks.CheckConfig{Name: "verify", Command: cmd, Parser: s.Arg("parser"), Timeout: e.cfg.CheckTimeout})
	if err != nil {
		return err
	}
	if !res.Passed {
		return fmt.Errorf("verify command %q failed: %s", cmd, res.Summary)
	}
	return nil
}

func (e *Executor) verifyHTTP(ctx context.Context, s plan.Step) error {
	url := s.Arg("url")
	if url == "" {
		return fmt.Errorf("%w: missing url", diagnose.ErrHTTPVerification)
	}
	want := http.StatusOK
	if v := s.Arg("status"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: bad status %q", diagnose.ErrHTTPVerification, v)
		}
		want = n
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", diagnose.ErrHTTPVerification, err)
	}
	resp, err := e.http.Do(req)
	if err != nil {
		// Transport errors are left to network diagnosis.
		return fmt.Errorf("GET %s: %w", url, err)
	}
	resp.Body.Close()
	if resp.StatusCode != want {
		return fmt.Errorf("%w: GET %s returned %d, want %d", diagnose.ErrHTTPVerification, url, resp.StatusCode, want)
	}
	return nil
}

// setStatus ends the plan for terminal statuses. PROPOSED only marks the
// governance checkpoint; the following WAIT_FOR_APPROVAL parks the job.
func (e *Executor) setStatus(ctx context.Context, r *Run, s plan.Step) *halt {
	st := job.Status(strings.ToUpper(s.Arg("status")))
	switch st {
	case job.Completed:
		return &halt{job.Completed, "plan completed"}
	case job.Failed:
		return &halt{job.Failed, failureReason(r.Plan.Notes)}
	case job.NeedsReview:
		return &halt{job.NeedsReview, "plan requested review"}
	}
	e.note(ctx, r, "checkpoint "+string(st))
	return nil
}

// failureReason picks the auditor's reason from plan notes when present.
func failureReason(notes string) string {
	parts := strings.Split(notes, " | ")
	for i := len(parts) - 1; i >= 0; i-- {
		if rest, ok := strings.CutPrefix(parts[i], "AUDIT_FAIL: "); ok {
			return rest
		}
	}
	if strings.TrimSpace(notes) == "" {
		return "plan failed"
	}
	return notes
}

func (e *Executor) waitForApproval(ctx context.Context, r *Run, i int) (*halt, string, error) {
	if r.diff == "" {
		diff, err := e.VCS.Diff(r.Dir)
		if err != nil {
			return nil, "", err
		}
		r.diff = diff
	}
	if r.diff == "" {
		e.note(ctx, r, "nothing to approve")
		return nil, "skipped", nil
	}
	approved, err := r.Control.AwaitApproval(ctx, job.ProposalPayload{
		Key:      fmt.Sprintf("approve:%d:%s", i, contentHash(r.diff)),
		Summary:  fmt.Sprintf("approve %d changed lines before opening a pull request", changedLines(r.diff)),
		Reason:   "policy " + string(r.Policy.Name) + " requires approval",
		Artifact: r.diffPath,
	})
	if err != nil {
		return nil, "", err
	}
	if !approved {
		return &halt{job.NeedsReview, "changes rejected by reviewer"}, "", nil
	}
	return nil, "approved", nil
}

func (e *Executor) commitPushPR(ctx context.Context, r *Run, s plan.Step) error {
	branch, err := e.VCS.EnsureBranch(r.Dir, vcs.BranchFor(r.Job.ID))
	if err != nil {
		return err
	}
	title := s.Arg("title")
	if title == "" {
		title = "autotriage: " + strings.ReplaceAll(r.Job.Action, "_", " ")
	}

	changed, err := e.VCS.HasChanges(r.Dir)
	if err != nil {
		return err
	}
	if changed {
		if err := e.VCS.Commit(r.Dir, title, false); err != nil {
			return err
		}
	}
	ahead, err := e.VCS.BranchDiff(r.Dir)
	if err != nil {
		return err
	}
	if strings.TrimSpace(ahead) == "" {
		e.note(ctx, r, "no changes to publish")
		return nil
	}
	if err := e.VCS.Push(r.Dir, branch); err != nil {
		return err
	}

	pr, err := e.PRs.FindPRByBranch(r.Job.Owner, r.Job.Repo, branch)
	if err != nil {
		return err
	}
	reused := pr != nil
	if pr == nil {
		pr, err = e.PRs.CreatePR(github.PRCreateOpts{
			Owner:  r.Job.Owner,
			Repo:   r.Job.Repo,
			Title:  title,
			Body:   prBody(r),
			Branch: branch,
			Base:   e.VCS.BaseBranch(),
		})
		if err != nil {
			return err
		}
	}
	r.prURL = pr.URL
	if err := e.Repo.SetPRURL(ctx, r.Job.ID, pr.URL); err != nil {
		return err
	}
	e.emit(ctx, r, job.EventPRCreated, map[string]any{"url": pr.URL, "branch": branch, "reused": reused})
	e.logf("job %d: pull request %s", r.Job.ID, pr.URL)
	return nil
}

func prBody(r *Run) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Automated change for job #%d (%s).\n\n", r.Job.ID, r.Job.Action)
	if p := strings.TrimSpace(r.Job.Prompt); p != "" {
		fmt.Fprintf(&b, "**Request**\n\n%s\n\n", p)
	}
	fmt.Fprintf(&b, "**Policy:** %s\n", r.Policy.Name)
	if r.Plan.Intent != "" {
		fmt.Fprintf(&b, "**Intent:** %s\n", r.Plan.Intent)
	}
	if r.Plan.Notes != "" {
		fmt.Fprintf(&b, "\n**Plan notes:** %s\n", r.Plan.Notes)
	}
	return b.String()
}

func contentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:12]
}

func lineCount(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}

// changedLines counts added and removed lines in a unified diff.
func changedLines(diff string) int {
	n := 0
	for _, line := range strings.Split(diff, "\n") {
		if strings.HasPrefix(line, "+++") || strings.HasPrefix(line, "---") {
			continue
		}
		if strings.HasPrefix(line, "+") || strings.HasPrefix(line, "-") {
			n++
		}
	}
	return n
}

func artifactName(path string) string {
	return strings.NewReplacer("/", "_", "\\", "_").Replace(path)
}
