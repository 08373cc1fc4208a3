package plan

import (
	"fmt"
	"strings"

	"github.com/lucasnoah/autotriage/internal/facts"
)

// Actions understood by the builder.
const (
	ActionFixBugs         = "fix_bugs"
	ActionRunTests        = "run_tests"
	ActionRefactor        = "refactor"
	ActionAddFeature      = "add_feature"
	ActionGenerateProject = "generate_project"
	ActionCreatePR        = "create_pr"
)

// BuildInput carries everything the builder looks at.
type BuildInput struct {
	Action string
	Prompt string
	Intent string
	Facts  facts.Facts
}

type template func(in BuildInput) ([]Step, string)

var templates = map[string]template{
	ActionFixBugs:         fixBugs,
	ActionRunTests:        runTests,
	ActionRefactor:        refactor,
	ActionAddFeature:      addFeature,
	ActionGenerateProject: generateProject,
	ActionCreatePR:        createPR,
}

// Actions returns the supported action names.
func Actions() []string {
	return []string{ActionFixBugs, ActionRunTests, ActionRefactor, ActionAddFeature, ActionGenerateProject, ActionCreatePR}
}

// Build returns the plan template for in.Action. It does no risk reasoning;
// bounding the plan is the auditor's job. Unknown actions yield a plan that
// fails with an explanatory note.
func Build(in BuildInput) ExecutionPlan {
	p := ExecutionPlan{Intent: in.Intent, Action: in.Action}
	tmpl, ok := templates[in.Action]
	if !ok {
		p.Steps = failSteps()
		p.Notes = fmt.Sprintf("unsupported action %q", in.Action)
		return p
	}
	p.Steps, p.Notes = tmpl(in)
	return p
}

func step(op Op, kv ...string) Step {
	s := Step{Op: op}
	if len(kv) > 0 {
		s.Args = make(map[string]string, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			s.Args[kv[i]] = kv[i+1]
		}
	}
	return s
}

func status(st string) Step { return step(SetStatus, "status", st) }

func failSteps() []Step {
	return []Step{step(AnalyzeRepo), status("FAILED")}
}

const maxTitleRunes = 72

func prTitle(in BuildInput) string {
	title := strings.TrimSpace(strings.SplitN(in.Prompt, "\n", 2)[0])
	if r := []rune(title); len(r) > maxTitleRunes {
		title = string(r[:maxTitleRunes])
	}
	if title == "" {
		title = strings.ReplaceAll(in.Action, "_", " ")
	}
	return "autotriage: " + title
}

func fixBugs(in BuildInput) ([]Step, string) {
	fix := step(GenerateFix)
	note := ""
	if t := in.Facts.Target; t != nil {
		fix.Args = map[string]string{"path": t.Path, "resolution": string(t.Resolution)}
		if t.Function != "" {
			fix.Args["function"] = t.Function
		}
	} else {
		note = "no fix target resolved"
	}
	return []Step{
		step(AnalyzeRepo),
		step(RunTestsSafe),
		fix,
		step(CaptureDiff),
		step(CommitPushPR, "title", prTitle(in)),
		status("COMPLETED"),
	}, note
}

func runTests(BuildInput) ([]Step, string) {
	return []Step{step(AnalyzeRepo), step(RunTestsSafe), status("COMPLETED")}, ""
}

func refactor(in BuildInput) ([]Step, string) {
	return []Step{
		step(AnalyzeRepo),
		step(FormatCode, "path", "."),
		step(CaptureDiff),
		step(CommitPushPR, "title", prTitle(in)),
		status("COMPLETED"),
	}, ""
}

func addFeature(BuildInput) ([]Step, string) {
	return failSteps(), "add_feature requires a human-authored design; not automated"
}

func generateProject(in BuildInput) ([]Step, string) {
	return []Step{
		step(AnalyzeRepo),
		step(UpdateReadme, "prompt", in.Prompt),
		step(AddEnvExample),
		step(CaptureDiff),
		status("PROPOSED"),
		step(WaitForApproval),
		step(CommitPushPR, "title", prTitle(in)),
	}, ""
}

func createPR(in BuildInput) ([]Step, string) {
	return []Step{
		step(AnalyzeRepo),
		step(CaptureDiff),
		status("PROPOSED"),
		step(WaitForApproval),
		step(CommitPushPR, "title", prTitle(in)),
	}, ""
}
