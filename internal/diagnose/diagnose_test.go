package diagnose

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiagnose(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		want      Category
		retryable bool
	}{
		{"tool missing", errors.New(`exec: "gh": executable file not found in $PATH`), ToolMissing, false},
		{"network", errors.New("git fetch: fatal: unable to access: Could not resolve host: github.com"), Network, true},
		{"timeout", errors.New("dial tcp 140.82.112.3:443: i/o timeout"), Network, true},
		{"auth", errors.New("gh pr create: HTTP 401: Bad credentials (https://api.github.com/graphql)"), GitHubAuth, false},
		{"push rejected", errors.New("git push: ! [rejected] auto-fix-7 -> auto-fix-7 (non-fast-forward)"), PushRejected, false},
		{"anchor", fmt.Errorf("edit main.go: %w", ErrAnchorNotFound), EditAnchorMismatch, false},
		{"http", fmt.Errorf("GET /health: %w: status 500", ErrHTTPVerification), VerificationHTTP, false},
		{"unknown", errors.New("something odd"), Unknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Diagnose("op", tt.err)
			assert.Equal(t, tt.want, d.Category)
			assert.Equal(t, tt.retryable, d.Retryable)
			assert.Equal(t, "op", d.Op)
		})
	}
}

func TestDiagnose_OnlyNetworkRetryable(t *testing.T) {
	for _, r := range rules {
		assert.Equal(t, r.category == Network, r.retryable, r.category)
	}
}

func TestDiagnose_NilAndSummary(t *testing.T) {
	assert.Equal(t, Diagnosis{}, Diagnose("x", nil))
	d := Diagnose("x", errors.New("first line\nsecond line"))
	assert.Equal(t, "first line", d.Summary)
}
