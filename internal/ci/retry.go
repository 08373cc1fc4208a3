package ci

import "fmt"

// Route says what should happen after a CI failure.
type Route string

const (
	RouteRetry    Route = "retry"
	RouteFreshFix Route = "fresh_fix"
	RouteNone     Route = "none"
)

// Decision is the retry verdict.
type Decision struct {
	ShouldRetry    bool   `json:"should_retry"`
	Reason         string `json:"reason"`
	BackoffSeconds int    `json:"backoff_seconds"`
	Route          Route  `json:"route"`
}

// MaxRetryAttempts is the hard per-PR ceiling on infra and flaky retries.
// A policy asking for more is clamped to it.
const MaxRetryAttempts = 3

// RetryPolicy bounds automatic retries.
type RetryPolicy struct {
	MaxAttempts    int
	BackoffSeconds int
	// UnknownRetries is how many attempts an unclassified failure gets.
	UnknownRetries int
}

// DefaultRetryPolicy allows three infra/flaky retries five minutes apart and
// a single retry for unknown failures.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, BackoffSeconds: 300, UnknownRetries: 1}

// Decide returns the retry decision for o after attempts prior retries.
func Decide(o *Outcome, attempts int) Decision {
	return DefaultRetryPolicy.Decide(o, attempts)
}

// Decide returns the retry decision for o under p.
func (p RetryPolicy) Decide(o *Outcome, attempts int) Decision {
	if o == nil {
		return Decision{Reason: "no outcome", Route: RouteNone}
	}
	limit := min(p.MaxAttempts, MaxRetryAttempts)
	switch o.Category {
	case Infra, Flaky:
		if attempts < limit {
			return Decision{
				ShouldRetry:    true,
				Reason:         fmt.Sprintf("%s failure, attempt %d of %d", o.Category, attempts+1, limit),
				BackoffSeconds: p.BackoffSeconds,
				Route:          RouteRetry,
			}
		}
		return Decision{Reason: fmt.Sprintf("%s failure, %d attempts exhausted", o.Category, attempts), Route: RouteNone}
	case Legit, UnitFail:
		return Decision{Reason: fmt.Sprintf("%s failure needs a fresh fix", o.Category), Route: RouteFreshFix}
	default:
		if attempts < min(p.UnknownRetries, 1) {
			return Decision{ShouldRetry: true, Reason: "unknown failure, single retry", BackoffSeconds: p.BackoffSeconds, Route: RouteRetry}
		}
		return Decision{Reason: "unknown failure, retry already used", Route: RouteNone}
	}
}
