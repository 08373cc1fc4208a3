// Package audit enforces an autonomy policy on an execution plan. It either
// returns a compliant (possibly rewritten) plan or a forced-failure plan with
// a reason; it never returns an error.
package audit

import (
	"fmt"
	"strings"

	"github.com/lucasnoah/autotriage/internal/facts"
	"github.com/lucasnoah/autotriage/internal/plan"
	"github.com/lucasnoah/autotriage/internal/policy"
)

// Note prefixes appended to plan notes.
const (
	NoteFail    = "AUDIT_FAIL: "
	NoteRewrite = "AUDIT_REWRITE: "
	NoteInject  = "AUDIT_INJECT: "
	NoteVerify  = "AUDIT_NOTE: "
)

// minStepsAfterStrip is the smallest plan a permission rewrite may leave.
const minStepsAfterStrip = 3

// Result is the outcome of an audit.
type Result struct {
	OK     bool               `json:"ok"`
	Reason string             `json:"reason,omitempty"`
	Plan   plan.ExecutionPlan `json:"plan"`
}

// Audit checks p against pol. The input plan is never modified.
func Audit(p plan.ExecutionPlan, pol policy.Policy, f facts.Facts) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = fail(p, fmt.Sprintf("audit panic: %v", r))
		}
	}()

	work := p.Clone()

	if reason := scopeViolation(work, pol); reason != "" {
		return fail(work, reason)
	}

	var kept []plan.Step
	var stripped []string
	for _, s := range work.Steps {
		if (s.Op == plan.DeleteFile && !pol.AllowDelete) || (s.Op == plan.ApplyPatch && !pol.AllowPatch) {
			stripped = append(stripped, string(s.Op))
			continue
		}
		kept = append(kept, s)
	}
	if len(stripped) > 0 {
		if len(kept) < minStepsAfterStrip {
			return fail(work, fmt.Sprintf("permission rewrite left %d steps (minimum %d)", len(kept), minStepsAfterStrip))
		}
		if !meaningful(kept) {
			return fail(work, "permission rewrite left no meaningful operations")
		}
		work.Steps = kept
		work.AppendNote(fmt.Sprintf("%sstripped=[%s] mode=%s", NoteRewrite, strings.Join(stripped, ","), pol.Name))
	}

	if pol.RequireApprovalBeforePR && work.Has(plan.CommitPushPR) {
		var added []string
		work.Steps, added = injectGovernance(work.Steps)
		if len(added) > 0 {
			work.AppendNote(fmt.Sprintf("%sadded=[%s] mode=%s", NoteInject, strings.Join(added, ","), pol.Name))
		}
	}

	if reason := scopeViolation(work, pol); reason != "" {
		return fail(work, "post-rewrite: "+reason)
	}

	if pol.RequireVerificationForPR && work.Has(plan.CommitPushPR) && !hasVerifyBeforePR(work.Steps) {
		note := NoteVerify + "no VERIFY ops present; relying on approval gate"
		if !pol.RequireApprovalBeforePR {
			note = NoteVerify + "no VERIFY ops present; relying on confidence gate"
		}
		if f.HasTests && work.Has(plan.RunTestsSafe) {
			note += "; repository tests run"
		}
		if !strings.Contains(work.Notes, note) {
			work.AppendNote(note)
		}
	}

	return Result{OK: true, Plan: work}
}

func scopeViolation(p plan.ExecutionPlan, pol policy.Policy) string {
	if n := len(p.Steps); n > pol.MaxSteps {
		return fmt.Sprintf("plan has %d steps, %s allows %d", n, pol.Name, pol.MaxSteps)
	}
	if n := p.MutationCount(); n > pol.MaxFileMutations {
		return fmt.Sprintf("plan has %d file mutations, %s allows %d", n, pol.Name, pol.MaxFileMutations)
	}
	if n := p.UniqueMutatedPaths(); n > pol.MaxUniquePathsMutated {
		return fmt.Sprintf("plan mutates %d distinct paths, %s allows %d", n, pol.Name, pol.MaxUniquePathsMutated)
	}
	return ""
}

func meaningful(steps []plan.Step) bool {
	for _, s := range steps {
		if s.Op != plan.AnalyzeRepo && s.Op != plan.SetStatus {
			return true
		}
	}
	return false
}

func hasVerifyBeforePR(steps []plan.Step) bool {
	for _, s := range steps {
		if s.Op == plan.CommitPushPR {
			return false
		}
		if plan.IsVerify(s.Op) {
			return true
		}
	}
	return false
}

// injectGovernance guarantees CAPTURE_DIFF, SET_STATUS(PROPOSED) and
// WAIT_FOR_APPROVAL appear in that order before the first COMMIT_PUSH_PR,
// inserting only the missing ones.
func injectGovernance(steps []plan.Step) ([]plan.Step, []string) {
	out := append([]plan.Step(nil), steps...)
	var added []string

	pr := indexOf(out, len(out), func(s plan.Step) bool { return s.Op == plan.CommitPushPR })
	if pr < 0 {
		return out, nil
	}

	wait := lastIndexBefore(out, pr, func(s plan.Step) bool { return s.Op == plan.WaitForApproval })
	if wait < 0 {
		out = insert(out, pr, plan.Step{Op: plan.WaitForApproval})
		wait = pr
		added = append(added, string(plan.WaitForApproval))
	}

	proposed := lastIndexBefore(out, wait, func(s plan.Step) bool {
		return s.Op == plan.SetStatus && s.Arg("status") == "PROPOSED"
	})
	if proposed < 0 {
		out = insert(out, wait, plan.Step{Op: plan.SetStatus, Args: map[string]string{"status": "PROPOSED"}})
		proposed = wait
		added = append(added, "SET_STATUS(PROPOSED)")
	}

	if lastIndexBefore(out, proposed, func(s plan.Step) bool { return s.Op == plan.CaptureDiff }) < 0 {
		out = insert(out, proposed, plan.Step{Op: plan.CaptureDiff})
		added = append(added, string(plan.CaptureDiff))
	}

	// Insertions were made back to front; report them in plan order.
	for i, j := 0, len(added)-1; i < j; i, j = i+1, j-1 {
		added[i], added[j] = added[j], added[i]
	}
	return out, added
}

func indexOf(steps []plan.Step, limit int, match func(plan.Step) bool) int {
	for i := 0; i < limit && i < len(steps); i++ {
		if match(steps[i]) {
			return i
		}
	}
	return -1
}

func lastIndexBefore(steps []plan.Step, limit int, match func(plan.Step) bool) int {
	for i := limit - 1; i >= 0; i-- {
		if match(steps[i]) {
			return i
		}
	}
	return -1
}

func insert(steps []plan.Step, at int, s plan.Step) []plan.Step {
	steps = append(steps, plan.Step{})
	copy(steps[at+1:], steps[at:])
	steps[at] = s
	return steps
}

// fail builds the forced-failure plan: the leading ANALYZE_REPO (kept or
// fresh) followed by SET_STATUS(FAILED).
func fail(p plan.ExecutionPlan, reason string) Result {
	out := plan.ExecutionPlan{Intent: p.Intent, Action: p.Action, Notes: p.Notes}
	first := plan.Step{Op: plan.AnalyzeRepo}
	if len(p.Steps) > 0 && p.Steps[0].Op == plan.AnalyzeRepo {
		first = p.Clone().Steps[0]
	}
	out.Steps = []plan.Step{first, {Op: plan.SetStatus, Args: map[string]string{"status": "FAILED"}}}
	out.AppendNote(NoteFail + reason)
	return Result{OK: false, Reason: reason, Plan: out}
}
