// Package github wraps the gh CLI for pull requests and Actions run logs.
package github

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// CmdRunner provides command execution. Interface for testing.
type CmdRunner interface {
	Run(args ...string) (string, error)
}

// ExecRunner runs gh commands via exec.
type ExecRunner struct{}

func (r *ExecRunner) Run(args ...string) (string, error) {
	cmd := exec.Command("gh", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("gh %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Client provides GitHub operations.
type Client struct {
	cmd CmdRunner
}

// NewClient creates a GitHub client.
func NewClient(cmd CmdRunner) *Client {
	return &Client{cmd: cmd}
}

// ValidateNumber checks that a pull request number is positive.
func ValidateNumber(n int) error {
	if n <= 0 {
		return fmt.Errorf("invalid pull request number %d: must be positive", n)
	}
	return nil
}

func fullName(owner, repo string) (string, error) {
	if owner == "" || repo == "" || strings.HasPrefix(owner, "-") || strings.HasPrefix(repo, "-") {
		return "", fmt.Errorf("invalid repository %q/%q", owner, repo)
	}
	return owner + "/" + repo, nil
}

// PRCreateOpts holds options for creating a PR.
type PRCreateOpts struct {
	Owner  string
	Repo   string
	Title  string
	Body   string
	Branch string
	Base   string
}

// PRCreateResult holds the result of creating a PR.
type PRCreateResult struct {
	URL string
}

// CreatePR creates a pull request.
func (c *Client) CreatePR(opts PRCreateOpts) (*PRCreateResult, error) {
	name, err := fullName(opts.Owner, opts.Repo)
	if err != nil {
		return nil, err
	}
	args := []string{"pr", "create", "-R", name, "--title", opts.Title, "--body", opts.Body, "--head", opts.Branch}
	if opts.Base != "" {
		args = append(args, "--base", opts.Base)
	}

	out, err := c.cmd.Run(args...)
	if err != nil {
		return nil, fmt.Errorf("create PR: %w", err)
	}
	return &PRCreateResult{URL: lastLine(out)}, nil
}

// FindPRByBranch checks if a PR already exists for a given branch.
// Returns the PR result if found, nil if none exist.
func (c *Client) FindPRByBranch(owner, repo, branch string) (*PRCreateResult, error) {
	name, err := fullName(owner, repo)
	if err != nil {
		return nil, err
	}
	out, err := c.cmd.Run("pr", "list", "-R", name, "--head", branch, "--json", "url", "--limit", "1")
	if err != nil {
		return nil, fmt.Errorf("find PR by branch: %w", err)
	}

	var prs []struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal([]byte(out), &prs); err != nil {
		return nil, fmt.Errorf("parse PR list JSON: %w", err)
	}
	if len(prs) == 0 {
		return nil, nil
	}
	return &PRCreateResult{URL: prs[0].URL}, nil
}

// PullRequest is an open pull request.
type PullRequest struct {
	Number      int    `json:"number"`
	Title       string `json:"title"`
	HeadRefName string `json:"headRefName"`
	URL         string `json:"url"`
	Body        string `json:"body"`
}

// ListOpenPRs returns the repository's open pull requests, optionally
// limited to those whose head branch starts with headPrefix.
func (c *Client) ListOpenPRs(owner, repo, headPrefix string) ([]PullRequest, error) {
	name, err := fullName(owner, repo)
	if err != nil {
		return nil, err
	}
	out, err := c.cmd.Run("pr", "list", "-R", name, "--state", "open", "--json", "number,title,headRefName,url,body", "--limit", "100")
	if err != nil {
		return nil, fmt.Errorf("list PRs: %w", err)
	}
	var prs []PullRequest
	if err := json.Unmarshal([]byte(out), &prs); err != nil {
		return nil, fmt.Errorf("parse PR list JSON: %w", err)
	}
	if headPrefix == "" {
		return prs, nil
	}
	var filtered []PullRequest
	for _, pr := range prs {
		if strings.HasPrefix(pr.HeadRefName, headPrefix) {
			filtered = append(filtered, pr)
		}
	}
	return filtered, nil
}

// Comment posts a comment on a pull request.
func (c *Client) Comment(owner, repo string, number int, body string) error {
	if err := ValidateNumber(number); err != nil {
		return err
	}
	name, err := fullName(owner, repo)
	if err != nil {
		return err
	}
	if _, err := c.cmd.Run("pr", "comment", strconv.Itoa(number), "-R", name, "--body", body); err != nil {
		return fmt.Errorf("comment on PR #%d: %w", number, err)
	}
	return nil
}

// Run is a GitHub Actions workflow run.
type Run struct {
	ID         int64  `json:"databaseId"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
	HeadSHA    string `json:"headSha"`
	Name       string `json:"workflowName"`
}

// Failed reports whether the run completed unsuccessfully.
func (r *Run) Failed() bool {
	if r.Status != "completed" {
		return false
	}
	switch r.Conclusion {
	case "failure", "timed_out", "startup_failure":
		return true
	}
	return false
}

// LatestRun returns the most recent workflow run on branch, or nil if the
// branch has none.
func (c *Client) LatestRun(owner, repo, branch string) (*Run, error) {
	name, err := fullName(owner, repo)
	if err != nil {
		return nil, err
	}
	out, err := c.cmd.Run("run", "list", "-R", name, "--branch", branch, "--limit", "1", "--json", "databaseId,status,conclusion,headSha,workflowName")
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	var runs []Run
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		return nil, fmt.Errorf("parse run list JSON: %w", err)
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

// RunLog returns the logs of the failed jobs of a run.
func (c *Client) RunLog(owner, repo string, runID int64) (string, error) {
	name, err := fullName(owner, repo)
	if err != nil {
		return "", err
	}
	out, err := c.cmd.Run("run", "view", strconv.FormatInt(runID, 10), "-R", name, "--log-failed")
	if err != nil {
		return "", fmt.Errorf("view run %d log: %w", runID, err)
	}
	return out, nil
}

// lastLine returns the final non-empty line; gh prints the PR URL last.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
