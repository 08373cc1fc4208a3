package vcs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type mockGit struct {
	calls   []gitCall
	results []mockResult
	idx     int
}

type gitCall struct {
	Dir  string
	Args []string
}

type mockResult struct {
	Output string
	Err    error
}

func (m *mockGit) Run(dir string, args ...string) (string, error) {
	m.calls = append(m.calls, gitCall{Dir: dir, Args: args})
	if m.idx >= len(m.results) {
		return "", nil
	}
	r := m.results[m.idx]
	m.idx++
	return r.Output, r.Err
}

// existingCheckout creates workspace/owner/repo/.git so Prepare treats it
// as already cloned.
func existingCheckout(t *testing.T, workspace, owner, repo string) string {
	t.Helper()
	dir := filepath.Join(workspace, owner, repo)
	if err := os.MkdirAll(filepath.Join(dir, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestPrepare_Clones(t *testing.T) {
	ws := t.TempDir()
	git := &mockGit{}
	mgr := NewManager(git, ws, "")

	dir, err := mgr.Prepare("acme", "api", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dir != filepath.Join(ws, "acme", "api") {
		t.Errorf("dir = %q", dir)
	}
	if len(git.calls) != 1 {
		t.Fatalf("expected 1 git call, got %d", len(git.calls))
	}
	assertArgs(t, git.calls[0].Args, "clone", "https://github.com/acme/api.git", dir)
}

func TestPrepare_CustomCloneURL(t *testing.T) {
	ws := t.TempDir()
	git := &mockGit{}
	mgr := NewManager(git, ws, "main").WithCloneURL("/srv/git/%s/%s")

	dir, _ := mgr.Prepare("acme", "api", false)
	assertArgs(t, git.calls[0].Args, "clone", "/srv/git/acme/api", dir)
}

func TestPrepare_ReusesExistingCheckout(t *testing.T) {
	ws := t.TempDir()
	dir := existingCheckout(t, ws, "acme", "api")
	git := &mockGit{}
	mgr := NewManager(git, ws, "main")

	got, err := mgr.Prepare("acme", "api", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != dir {
		t.Errorf("dir = %q, want %q", got, dir)
	}
	if len(git.calls) != 0 {
		t.Errorf("expected no git calls for a resumed checkout, got %v", git.calls)
	}
}

func TestPrepare_ResetsExistingCheckout(t *testing.T) {
	ws := t.TempDir()
	dir := existingCheckout(t, ws, "acme", "api")
	git := &mockGit{}
	mgr := NewManager(git, ws, "develop")

	if _, err := mgr.Prepare("acme", "api", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(git.calls) != 4 {
		t.Fatalf("expected 4 git calls, got %d", len(git.calls))
	}
	assertArgs(t, git.calls[0].Args, "fetch", "origin", "develop")
	assertArgs(t, git.calls[1].Args, "checkout", "-B", "develop", "origin/develop")
	assertArgs(t, git.calls[2].Args, "reset", "--hard", "origin/develop")
	assertArgs(t, git.calls[3].Args, "clean", "-fd")
	for _, c := range git.calls {
		if c.Dir != dir {
			t.Errorf("call %v ran in %q, want %q", c.Args, c.Dir, dir)
		}
	}
}

func TestPrepare_FetchError(t *testing.T) {
	ws := t.TempDir()
	existingCheckout(t, ws, "acme", "api")
	git := &mockGit{results: []mockResult{{Err: fmt.Errorf("could not resolve host")}}}
	mgr := NewManager(git, ws, "main")

	_, err := mgr.Prepare("acme", "api", true)
	if err == nil || !strings.Contains(err.Error(), "could not resolve host") {
		t.Errorf("expected fetch error, got %v", err)
	}
}

func TestPrepareJob_CreatesWorktreePerJob(t *testing.T) {
	ws := t.TempDir()
	base := existingCheckout(t, ws, "acme", "api")
	git := &mockGit{}
	mgr := NewManager(git, ws, "main")

	first, err := mgr.PrepareJob("acme", "api", 1)
	if err != nil {
		t.Fatalf("prepare job 1: %v", err)
	}
	second, err := mgr.PrepareJob("acme", "api", 2)
	if err != nil {
		t.Fatalf("prepare job 2: %v", err)
	}
	if first == second || first == base || second == base {
		t.Fatalf("checkouts not distinct: base=%s first=%s second=%s", base, first, second)
	}
	if want := filepath.Join(ws, ".worktrees", "acme", "api", "job-1"); first != want {
		t.Errorf("path = %s, want %s", first, want)
	}

	var adds [][]string
	for _, c := range git.calls {
		if c.Dir != base {
			t.Errorf("git ran in %s, want base clone %s", c.Dir, base)
		}
		if c.Args[0] == "reset" || c.Args[0] == "clean" || c.Args[0] == "checkout" {
			t.Errorf("base clone modified by %v", c.Args)
		}
		if c.Args[0] == "worktree" && c.Args[1] == "add" {
			adds = append(adds, c.Args)
		}
	}
	if len(adds) != 2 {
		t.Fatalf("worktree adds = %d, want 2", len(adds))
	}
	assertArgs(t, adds[0], "worktree", "add", "--detach", first, "origin/main")
	assertArgs(t, adds[1], "worktree", "add", "--detach", second, "origin/main")
}

func TestPrepareJob_ReusesExistingWorktree(t *testing.T) {
	ws := t.TempDir()
	existingCheckout(t, ws, "acme", "api")
	git := &mockGit{}
	mgr := NewManager(git, ws, "main")
	dir := mgr.JobPath("acme", "api", 7)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".git"), []byte("gitdir: x\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := mgr.PrepareJob("acme", "api", 7)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if got != dir {
		t.Errorf("dir = %s, want %s", got, dir)
	}
	if len(git.calls) != 0 {
		t.Errorf("expected no git calls, got %v", git.calls)
	}
}

func TestPrepareJob_Errors(t *testing.T) {
	ws := t.TempDir()
	existingCheckout(t, ws, "acme", "api")
	git := &mockGit{results: []mockResult{{Err: fmt.Errorf("network down")}}}
	mgr := NewManager(git, ws, "main")

	if _, err := mgr.PrepareJob("acme", "api", 3); err == nil || !strings.Contains(err.Error(), "fetch") {
		t.Errorf("expected fetch error, got %v", err)
	}
	if _, err := mgr.PrepareJob("acme", "api", 0); err == nil {
		t.Error("expected error for job id 0")
	}
	if _, err := mgr.PrepareJob("-x", "api", 3); err == nil {
		t.Error("expected error for invalid owner")
	}
}

func TestPrepare_InvalidRepo(t *testing.T) {
	mgr := NewManager(&mockGit{}, t.TempDir(), "main")
	for _, tc := range [][2]string{{"", "api"}, {"acme", ""}, {"-x", "api"}} {
		if _, err := mgr.Prepare(tc[0], tc[1], false); err == nil {
			t.Errorf("Prepare(%q, %q) expected error", tc[0], tc[1])
		}
	}
}

func TestEnsureBranch_Existing(t *testing.T) {
	git := &mockGit{}
	mgr := NewManager(git, "/ws", "main")

	branch, err := mgr.EnsureBranch("/ws/acme/api", BranchFor(7))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if branch != "autotriage/job-7" {
		t.Errorf("branch = %q", branch)
	}
	if len(git.calls) != 1 {
		t.Fatalf("expected 1 git call, got %d", len(git.calls))
	}
	assertArgs(t, git.calls[0].Args, "checkout", "autotriage/job-7")
}

func TestEnsureBranch_Creates(t *testing.T) {
	git := &mockGit{results: []mockResult{
		{Err: fmt.Errorf("pathspec did not match")},
		{Output: ""},
	}}
	mgr := NewManager(git, "/ws", "main")

	branch, err := mgr.EnsureBranch("/ws/acme/api", "fix/Nil Deref!")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if branch != "fix/Nil-Deref" {
		t.Errorf("branch = %q", branch)
	}
	assertArgs(t, git.calls[1].Args, "checkout", "-b", "fix/Nil-Deref")
}

func TestHasChanges(t *testing.T) {
	git := &mockGit{results: []mockResult{{Output: " M main.go"}, {Output: ""}}}
	mgr := NewManager(git, "/ws", "main")

	changed, err := mgr.HasChanges("/d")
	if err != nil || !changed {
		t.Errorf("HasChanges = %v, %v; want true", changed, err)
	}
	changed, _ = mgr.HasChanges("/d")
	if changed {
		t.Error("HasChanges on clean tree = true")
	}
}

func TestDiff(t *testing.T) {
	git := &mockGit{results: []mockResult{{}, {Output: "diff --git a/x b/x"}}}
	mgr := NewManager(git, "/ws", "main")

	out, err := mgr.Diff("/d")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "diff --git a/x b/x" {
		t.Errorf("diff = %q", out)
	}
	assertArgs(t, git.calls[0].Args, "add", "-A")
	assertArgs(t, git.calls[1].Args, "diff", "--cached", "HEAD")
}

func TestCommit(t *testing.T) {
	git := &mockGit{}
	mgr := NewManager(git, "/ws", "main")

	if err := mgr.Commit("/d", "autotriage: fix crash", false); err != nil {
		t.Fatalf("commit: %v", err)
	}
	assertArgs(t, git.calls[1].Args, "commit", "-m", "autotriage: fix crash")

	if err := mgr.Commit("/d", "", true); err != nil {
		t.Fatalf("amend: %v", err)
	}
	assertArgs(t, git.calls[3].Args, "commit", "--amend", "--no-edit", "--allow-empty")

	if err := mgr.Commit("/d", "  ", false); err == nil {
		t.Error("expected error for empty message")
	}
}

func TestPush(t *testing.T) {
	git := &mockGit{}
	mgr := NewManager(git, "/ws", "main")

	if err := mgr.Push("/d", "autotriage/job-1"); err != nil {
		t.Fatalf("push: %v", err)
	}
	assertArgs(t, git.calls[0].Args, "push", "-u", "origin", "autotriage/job-1")

	if err := mgr.ForcePush("/d", "autotriage/job-1"); err != nil {
		t.Fatalf("force push: %v", err)
	}
	assertArgs(t, git.calls[1].Args, "push", "--force-with-lease", "-u", "origin", "autotriage/job-1")

	if err := mgr.Push("/d", "--mirror"); err == nil {
		t.Error("expected error for flag-like branch")
	}
	if err := mgr.ForcePush("/d", "-f"); err == nil {
		t.Error("expected error for flag-like branch")
	}
}

func TestApplyPatch(t *testing.T) {
	git := &mockGit{results: []mockResult{{}, {Err: fmt.Errorf("patch does not apply")}}}
	mgr := NewManager(git, "/ws", "main")

	if err := mgr.ApplyPatch("/d", "/tmp/fix.patch"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	assertArgs(t, git.calls[0].Args, "apply", "--whitespace=nowarn", "/tmp/fix.patch")
	if err := mgr.ApplyPatch("/d", "/tmp/bad.patch"); err == nil {
		t.Error("expected error")
	}
}

func TestCheckout(t *testing.T) {
	git := &mockGit{}
	mgr := NewManager(git, "/ws", "main")

	if err := mgr.Checkout("/d", "feature/x"); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	assertArgs(t, git.calls[0].Args, "fetch", "origin", "feature/x")
	assertArgs(t, git.calls[1].Args, "checkout", "--ignore-other-worktrees", "-B", "feature/x", "origin/feature/x")
}

func TestSanitizeBranch(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"autotriage/job-42", "autotriage/job-42"},
		{"fix/Add Auth!", "fix/Add-Auth"},
		{"test spaces  here", "test-spaces-here"},
		{strings.Repeat("a", 200), strings.Repeat("a", 100)},
	}
	for _, tc := range tests {
		got := sanitizeBranch(tc.input)
		if got != tc.expected {
			t.Errorf("sanitizeBranch(%q) = %q, want %q", tc.input, got, tc.expected)
		}
	}
}

// assertArgs verifies exact argument match (no substring false positives).
func assertArgs(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Errorf("args length mismatch: got %v, want %v", got, want)
		return
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("arg[%d] mismatch: got %q, want %q", i, got[i], want[i])
		}
	}
}
