// Package plan defines the closed operation vocabulary and builds
// deterministic execution plans from a job's action and intent.
package plan

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Op is a plan operation tag.
type Op string

const (
	AnalyzeRepo        Op = "ANALYZE_REPO"
	RunTestsSafe       Op = "RUN_TESTS_SAFE"
	FormatCode         Op = "FORMAT_CODE"
	GenerateFix        Op = "GENERATE_FIX"
	CreateFile         Op = "CREATE_FILE"
	EditFile           Op = "EDIT_FILE"
	AppendFile         Op = "APPEND_FILE"
	DeleteFile         Op = "DELETE_FILE"
	ApplyPatch         Op = "APPLY_PATCH"
	UpdateReadme       Op = "UPDATE_README"
	AddEnvExample      Op = "ADD_ENV_EXAMPLE"
	CaptureDiff        Op = "CAPTURE_DIFF"
	VerifyCmd          Op = "VERIFY_CMD"
	VerifyFileExists   Op = "VERIFY_FILE_EXISTS"
	VerifyHTTPEndpoint Op = "VERIFY_HTTP_ENDPOINT"
	SetStatus          Op = "SET_STATUS"
	WaitForApproval    Op = "WAIT_FOR_APPROVAL"
	CommitPushPR       Op = "COMMIT_PUSH_PR"
)

// allowedOps is the whitelist. Anything else is a planning violation.
var allowedOps = map[Op]bool{
	AnalyzeRepo: true, RunTestsSafe: true, FormatCode: true, GenerateFix: true,
	CreateFile: true, EditFile: true, AppendFile: true, DeleteFile: true,
	ApplyPatch: true, UpdateReadme: true, AddEnvExample: true, CaptureDiff: true,
	VerifyCmd: true, VerifyFileExists: true, VerifyHTTPEndpoint: true,
	SetStatus: true, WaitForApproval: true, CommitPushPR: true,
}

// mutationOps write to the working tree.
var mutationOps = map[Op]bool{
	GenerateFix: true, CreateFile: true, EditFile: true, AppendFile: true,
	DeleteFile: true, ApplyPatch: true, UpdateReadme: true, AddEnvExample: true,
}

// defaultPaths are the implied targets of mutation ops that carry no path arg.
var defaultPaths = map[Op]string{
	UpdateReadme:  "README.md",
	AddEnvExample: ".env.example",
}

// ErrInvalidOp is returned when a plan contains an operation outside the whitelist.
var ErrInvalidOp = errors.New("invalid operation")

// Allowed reports whether op is in the whitelist.
func Allowed(op Op) bool { return allowedOps[op] }

// IsMutation reports whether op writes to the working tree.
func IsMutation(op Op) bool { return mutationOps[op] }

// IsVerify reports whether op is a verification step.
func IsVerify(op Op) bool {
	return op == VerifyCmd || op == VerifyFileExists || op == VerifyHTTPEndpoint
}

// Step is a single plan operation.
type Step struct {
	Op   Op                `json:"op" yaml:"op"`
	Args map[string]string `json:"args,omitempty" yaml:"args,omitempty"`
}

// Arg returns the named argument or "".
func (s Step) Arg(key string) string {
	if s.Args == nil {
		return ""
	}
	return s.Args[key]
}

// MutatedPath returns the path a mutation step writes, or "" when the step
// does not mutate or names no path.
func (s Step) MutatedPath() string {
	if !IsMutation(s.Op) {
		return ""
	}
	if p := s.Arg("path"); p != "" {
		return p
	}
	return defaultPaths[s.Op]
}

// ExecutionPlan is an ordered operation sequence for one job.
type ExecutionPlan struct {
	Intent string `json:"intent" yaml:"intent"`
	Action string `json:"action" yaml:"action"`
	Steps  []Step `json:"steps" yaml:"steps"`
	Notes  string `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// Clone returns a deep copy so rewrites never alias the input.
func (p ExecutionPlan) Clone() ExecutionPlan {
	out := p
	out.Steps = make([]Step, len(p.Steps))
	for i, s := range p.Steps {
		out.Steps[i] = Step{Op: s.Op}
		if s.Args != nil {
			out.Steps[i].Args = make(map[string]string, len(s.Args))
			for k, v := range s.Args {
				out.Steps[i].Args[k] = v
			}
		}
	}
	return out
}

// AppendNote adds a note, separated from existing notes by " | ".
func (p *ExecutionPlan) AppendNote(note string) {
	if p.Notes == "" {
		p.Notes = note
		return
	}
	p.Notes += " | " + note
}

// MutationCount returns the number of mutation steps.
func (p ExecutionPlan) MutationCount() int {
	n := 0
	for _, s := range p.Steps {
		if IsMutation(s.Op) {
			n++
		}
	}
	return n
}

// UniqueMutatedPaths returns the number of distinct paths mutated.
func (p ExecutionPlan) UniqueMutatedPaths() int {
	seen := make(map[string]bool)
	for _, s := range p.Steps {
		if path := s.MutatedPath(); path != "" {
			seen[path] = true
		}
	}
	return len(seen)
}

// Index returns the position of the first step with op, or -1.
func (p ExecutionPlan) Index(op Op) int {
	for i, s := range p.Steps {
		if s.Op == op {
			return i
		}
	}
	return -1
}

// Has reports whether the plan contains op.
func (p ExecutionPlan) Has(op Op) bool { return p.Index(op) >= 0 }

// Validate checks every step against the whitelist.
func (p ExecutionPlan) Validate() error {
	for i, s := range p.Steps {
		if !allowedOps[s.Op] {
			return fmt.Errorf("step %d: %w %q", i, ErrInvalidOp, s.Op)
		}
	}
	return nil
}

// String renders the step sequence compactly, e.g. "ANALYZE_REPO > SET_STATUS(COMPLETED)".
func (p ExecutionPlan) String() string {
	parts := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		parts[i] = string(s.Op)
		if st := s.Arg("status"); st != "" {
			parts[i] += "(" + st + ")"
		}
	}
	return strings.Join(parts, " > ")
}

// LoadFile reads a plan from a YAML or JSON file.
func LoadFile(path string) (ExecutionPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ExecutionPlan{}, fmt.Errorf("reading plan file: %w", err)
	}
	var p ExecutionPlan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return ExecutionPlan{}, fmt.Errorf("parsing plan: %w", err)
	}
	return p, nil
}
