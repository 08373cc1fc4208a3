// Package vcs prepares job checkouts and records their changes with git.
package vcs

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// GitRunner provides git commands. Interface for testing.
type GitRunner interface {
	Run(dir string, args ...string) (string, error)
}

// ExecGit implements GitRunner using exec.Command.
type ExecGit struct{}

func (g *ExecGit) Run(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// DefaultCloneURL is the clone URL format for owner and repo.
const DefaultCloneURL = "https://github.com/%s/%s.git"

// Manager handles checkouts under a workspace directory.
type Manager struct {
	git        GitRunner
	workspace  string
	baseBranch string
	cloneURL   string
	locks      *repoLocks
}

// repoLocks serializes updates to one base clone.
type repoLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (l *repoLocks) get(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	mu, ok := l.m[key]
	if !ok {
		mu = &sync.Mutex{}
		l.m[key] = mu
	}
	return mu
}

// NewManager creates a checkout manager. An empty baseBranch means main.
func NewManager(git GitRunner, workspace, baseBranch string) *Manager {
	if baseBranch == "" {
		baseBranch = "main"
	}
	return &Manager{
		git:        git,
		workspace:  workspace,
		baseBranch: baseBranch,
		cloneURL:   DefaultCloneURL,
		locks:      &repoLocks{m: make(map[string]*sync.Mutex)},
	}
}

// WithCloneURL returns a copy of m that clones from format, which takes
// owner and repo. Used for mirrors and local test remotes.
func (m *Manager) WithCloneURL(format string) *Manager {
	cp := *m
	cp.cloneURL = format
	return &cp
}

// BaseBranch returns the branch checkouts are reset to.
func (m *Manager) BaseBranch() string {
	return m.baseBranch
}

// Path returns the checkout directory for owner/repo.
func (m *Manager) Path(owner, repo string) string {
	return filepath.Join(m.workspace, owner, repo)
}

// JobPath returns the worktree directory for one job on owner/repo.
func (m *Manager) JobPath(owner, repo string, jobID int64) string {
	return filepath.Join(m.workspace, ".worktrees", owner, repo, fmt.Sprintf("job-%d", jobID))
}

// PrepareJob returns a worktree of owner/repo owned by a single job, so
// concurrent jobs on one repository never share a working tree. The base
// clone is cloned or fetched first; a fresh worktree starts detached at the
// remote base branch. An existing worktree is returned as is so a resumed
// job keeps its work.
func (m *Manager) PrepareJob(owner, repo string, jobID int64) (string, error) {
	if jobID <= 0 {
		return "", fmt.Errorf("invalid job id %d: must be positive", jobID)
	}
	mu := m.locks.get(owner + "/" + repo)
	mu.Lock()
	defer mu.Unlock()

	base, err := m.Prepare(owner, repo, false)
	if err != nil {
		return "", err
	}
	dir := m.JobPath(owner, repo, jobID)
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		return dir, nil
	}

	if _, err := m.git.Run(base, "fetch", "origin", m.baseBranch); err != nil {
		return "", fmt.Errorf("fetch origin %s: %w", m.baseBranch, err)
	}
	// Drop registrations whose directories were removed.
	m.git.Run(base, "worktree", "prune")
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", filepath.Dir(dir), err)
	}
	if _, err := m.git.Run(base, "worktree", "add", "--detach", dir, "origin/"+m.baseBranch); err != nil {
		return "", fmt.Errorf("create worktree: %w", err)
	}
	return dir, nil
}

// Prepare returns a checkout of owner/repo. A missing checkout is cloned.
// An existing one is fetched and hard-reset to the base branch when reset is
// set, and left untouched otherwise so a resumed job keeps its work.
func (m *Manager) Prepare(owner, repo string, reset bool) (string, error) {
	if owner == "" || repo == "" || strings.HasPrefix(owner, "-") || strings.HasPrefix(repo, "-") {
		return "", fmt.Errorf("invalid repository %q/%q", owner, repo)
	}
	dir := m.Path(owner, repo)

	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", filepath.Dir(dir), err)
		}
		url := fmt.Sprintf(m.cloneURL, owner, repo)
		if _, err := m.git.Run("", "clone", url, dir); err != nil {
			return "", fmt.Errorf("clone %s/%s: %w", owner, repo, err)
		}
		return dir, nil
	}

	if !reset {
		return dir, nil
	}
	if _, err := m.git.Run(dir, "fetch", "origin", m.baseBranch); err != nil {
		return "", fmt.Errorf("fetch origin %s: %w", m.baseBranch, err)
	}
	if _, err := m.git.Run(dir, "checkout", "-B", m.baseBranch, "origin/"+m.baseBranch); err != nil {
		return "", fmt.Errorf("checkout %s: %w", m.baseBranch, err)
	}
	if _, err := m.git.Run(dir, "reset", "--hard", "origin/"+m.baseBranch); err != nil {
		return "", fmt.Errorf("reset %s: %w", m.baseBranch, err)
	}
	if _, err := m.git.Run(dir, "clean", "-fd"); err != nil {
		return "", fmt.Errorf("clean checkout: %w", err)
	}
	return dir, nil
}

// BranchFor returns the work branch for a job.
func BranchFor(jobID int64) string {
	return fmt.Sprintf("autotriage/job-%d", jobID)
}

// EnsureBranch checks out branch, creating it from HEAD when it does not
// exist yet. It returns the sanitized branch name.
func (m *Manager) EnsureBranch(dir, branch string) (string, error) {
	branch = sanitizeBranch(branch)
	if branch == "" || strings.HasPrefix(branch, "-") {
		return "", fmt.Errorf("invalid branch name %q", branch)
	}
	if _, err := m.git.Run(dir, "checkout", branch); err == nil {
		return branch, nil
	}
	if _, err := m.git.Run(dir, "checkout", "-b", branch); err != nil {
		return "", fmt.Errorf("create branch %s: %w", branch, err)
	}
	return branch, nil
}

// HasChanges reports whether the working tree differs from HEAD.
func (m *Manager) HasChanges(dir string) (bool, error) {
	out, err := m.git.Run(dir, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("git status: %w", err)
	}
	return out != "", nil
}

// Diff stages every change and returns the staged diff against HEAD.
func (m *Manager) Diff(dir string) (string, error) {
	if _, err := m.git.Run(dir, "add", "-A"); err != nil {
		return "", fmt.Errorf("stage changes: %w", err)
	}
	out, err := m.git.Run(dir, "diff", "--cached", "HEAD")
	if err != nil {
		return "", fmt.Errorf("diff: %w", err)
	}
	return out, nil
}

// BranchDiff returns the diff of HEAD against the remote base branch.
func (m *Manager) BranchDiff(dir string) (string, error) {
	out, err := m.git.Run(dir, "diff", "origin/"+m.baseBranch+"...HEAD")
	if err != nil {
		return "", fmt.Errorf("branch diff: %w", err)
	}
	return out, nil
}

// Commit stages all changes and commits them. With amend the previous
// commit is rewritten in place, keeping its message; an amend with nothing
// staged still produces a new commit id, which re-triggers CI.
func (m *Manager) Commit(dir, message string, amend bool) error {
	if _, err := m.git.Run(dir, "add", "-A"); err != nil {
		return fmt.Errorf("stage changes: %w", err)
	}
	args := []string{"commit"}
	if amend {
		args = append(args, "--amend", "--no-edit", "--allow-empty")
	} else {
		if strings.TrimSpace(message) == "" {
			return fmt.Errorf("commit: empty message")
		}
		args = append(args, "-m", message)
	}
	if _, err := m.git.Run(dir, args...); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Push pushes branch to origin and sets its upstream.
func (m *Manager) Push(dir, branch string) error {
	if strings.HasPrefix(branch, "-") {
		return fmt.Errorf("invalid branch name %q: must not start with -", branch)
	}
	if _, err := m.git.Run(dir, "push", "-u", "origin", branch); err != nil {
		return fmt.Errorf("push branch: %w", err)
	}
	return nil
}

// ForcePush pushes branch with --force-with-lease, for amended commits.
func (m *Manager) ForcePush(dir, branch string) error {
	if strings.HasPrefix(branch, "-") {
		return fmt.Errorf("invalid branch name %q: must not start with -", branch)
	}
	if _, err := m.git.Run(dir, "push", "--force-with-lease", "-u", "origin", branch); err != nil {
		return fmt.Errorf("force push branch: %w", err)
	}
	return nil
}

// ApplyPatch applies a unified diff file to the working tree.
func (m *Manager) ApplyPatch(dir, patchFile string) error {
	if _, err := m.git.Run(dir, "apply", "--whitespace=nowarn", patchFile); err != nil {
		return fmt.Errorf("apply patch: %w", err)
	}
	return nil
}

// Checkout switches dir to an existing remote branch, such as a pull
// request head, and resets it to the remote tip. The branch may also be
// checked out in a job worktree.
func (m *Manager) Checkout(dir, branch string) error {
	if branch == "" || strings.HasPrefix(branch, "-") {
		return fmt.Errorf("invalid branch name %q", branch)
	}
	if _, err := m.git.Run(dir, "fetch", "origin", branch); err != nil {
		return fmt.Errorf("fetch origin %s: %w", branch, err)
	}
	if _, err := m.git.Run(dir, "checkout", "--ignore-other-worktrees", "-B", branch, "origin/"+branch); err != nil {
		return fmt.Errorf("checkout %s: %w", branch, err)
	}
	return nil
}

var nonAlphaNum = regexp.MustCompile(`[^a-zA-Z0-9/_-]+`)

// sanitizeBranch cleans up a branch name.
func sanitizeBranch(name string) string {
	s := nonAlphaNum.ReplaceAllString(name, "-")
	s = strings.Trim(s, "-")
	if len(s) > 100 {
		s = s[:100]
	}
	return s
}
