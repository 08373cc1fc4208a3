// Package diagnose classifies failures of external calls (git, gh, HTTP
// checks, file edits) so the executor knows whether a retry can help.
package diagnose

import (
	"errors"
	"strings"
)

// Category names a failure class.
type Category string

const (
	ToolMissing        Category = "TOOL_MISSING"
	Network            Category = "NETWORK"
	GitHubAuth         Category = "GITHUB_AUTH"
	PushRejected       Category = "PUSH_REJECTED"
	VerificationHTTP   Category = "VERIFICATION_HTTP"
	EditAnchorMismatch Category = "EDIT_ANCHOR_MISMATCH"
	Unknown            Category = "UNKNOWN"
)

// Diagnosis is the classified failure.
type Diagnosis struct {
	Category  Category `json:"category"`
	Op        string   `json:"op"`
	Summary   string   `json:"summary"`
	Retryable bool     `json:"retryable"`
}

// ErrAnchorNotFound is returned by edit operations whose anchor text is absent.
var ErrAnchorNotFound = errors.New("edit anchor not found")

// ErrHTTPVerification is returned by endpoint checks that got an unexpected response.
var ErrHTTPVerification = errors.New("http verification failed")

type rule struct {
	category  Category
	retryable bool
	match     func(err error, lower string) bool
}

func containsAny(words ...string) func(error, string) bool {
	return func(_ error, lower string) bool {
		for _, w := range words {
			if strings.Contains(lower, w) {
				return true
			}
		}
		return false
	}
}

// rules are evaluated in order; the first match wins.
var rules = []rule{
	{EditAnchorMismatch, false, func(err error, _ string) bool { return errors.Is(err, ErrAnchorNotFound) }},
	{VerificationHTTP, false, func(err error, _ string) bool { return errors.Is(err, ErrHTTPVerification) }},
	{ToolMissing, false, containsAny("executable file not found", "command not found", ": not found", "no such file or directory")},
	{GitHubAuth, false, func(_ error, lower string) bool {
		return (strings.Contains(lower, "github") || strings.Contains(lower, "gh ")) &&
			(strings.Contains(lower, "401") || strings.Contains(lower, "403") ||
				strings.Contains(lower, "bad credentials") || strings.Contains(lower, "authentication"))
	}},
	{PushRejected, false, containsAny("non-fast-forward", "protected branch", "permission denied", "[rejected]", "failed to push")},
	{Network, true, containsAny("timed out", "timeout", "could not resolve", "name resolution", "connection refused",
		"connection reset", "connection error", "temporarily unavailable", "tls handshake", "unexpected eof")},
}

// Diagnose classifies err raised while running op. A nil err yields "".
func Diagnose(op string, err error) Diagnosis {
	if err == nil {
		return Diagnosis{}
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	d := Diagnosis{Category: Unknown, Op: op, Summary: firstLine(msg)}
	for _, r := range rules {
		if r.match(err, lower) {
			d.Category = r.category
			d.Retryable = r.retryable
			break
		}
	}
	return d
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 300 {
		s = s[:300]
	}
	return s
}
