package analytics

import (
	"database/sql"
	"testing"

	"github.com/lucasnoah/autotriage/internal/store"
)

func testDB(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	if err := s.Migrate(); err != nil {
		t.Fatalf("migrate test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func exec(t *testing.T, conn *sql.DB, query string, args ...any) {
	t.Helper()
	if _, err := conn.Exec(query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}

func insertJob(t *testing.T, conn *sql.DB, action, status, reason, created string, finished any) {
	t.Helper()
	exec(t, conn, `INSERT INTO jobs (owner, repo, action, status, status_reason, created_at, updated_at, finished_at)
		VALUES ('acme', 'api', ?, ?, ?, ?, ?, ?)`, action, status, reason, created, created, finished)
}

// --- QueryOutcomes ---

func TestQueryOutcomes(t *testing.T) {
	d := testDB(t)
	c := d.Conn()

	insertJob(t, c, "fix_bugs", "COMPLETED", "", "2026-06-01T10:00:00Z", "2026-06-01T10:10:00Z")
	insertJob(t, c, "fix_bugs", "COMPLETED", "", "2026-06-01T11:00:00Z", "2026-06-01T11:10:00Z")
	insertJob(t, c, "fix_bugs", "FAILED", "execute: boom", "2026-06-01T12:00:00Z", "2026-06-01T12:01:00Z")
	insertJob(t, c, "fix_bugs", "RUNNING", "", "2026-06-01T13:00:00Z", nil)
	insertJob(t, c, "add_tests", "NEEDS_REVIEW", "", "2026-06-02T10:00:00Z", "2026-06-02T10:30:00Z")

	results, err := QueryOutcomes(d, "")
	if err != nil {
		t.Fatalf("QueryOutcomes: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(results))
	}

	tests := results[0]
	if tests.Action != "add_tests" || tests.Total != 1 || tests.NeedsReview != 100 {
		t.Errorf("add_tests = %+v", tests)
	}

	bugs := results[1]
	if bugs.Action != "fix_bugs" {
		t.Fatalf("action = %q, want fix_bugs", bugs.Action)
	}
	if bugs.Total != 4 {
		t.Errorf("total = %d, want 4", bugs.Total)
	}
	if bugs.Open != 1 {
		t.Errorf("open = %d, want 1", bugs.Open)
	}
	if bugs.Completed != 50 {
		t.Errorf("completed = %.1f, want 50", bugs.Completed)
	}
	if bugs.Failed != 25 {
		t.Errorf("failed = %.1f, want 25", bugs.Failed)
	}
}

func TestQueryOutcomesSince(t *testing.T) {
	d := testDB(t)
	c := d.Conn()

	insertJob(t, c, "fix_bugs", "COMPLETED", "", "2026-05-01T10:00:00Z", "2026-05-01T10:10:00Z")
	insertJob(t, c, "fix_bugs", "FAILED", "x", "2026-06-01T10:00:00Z", "2026-06-01T10:10:00Z")

	results, err := QueryOutcomes(d, "2026-05-15T00:00:00Z")
	if err != nil {
		t.Fatalf("QueryOutcomes: %v", err)
	}
	if len(results) != 1 || results[0].Total != 1 || results[0].Failed != 100 {
		t.Errorf("results = %+v", results)
	}
}

func TestQueryOutcomesEmpty(t *testing.T) {
	d := testDB(t)
	results, err := QueryOutcomes(d, "")
	if err != nil {
		t.Fatalf("QueryOutcomes: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

// --- QueryDurations ---

func TestQueryDurations(t *testing.T) {
	d := testDB(t)
	c := d.Conn()

	insertJob(t, c, "fix_bugs", "COMPLETED", "", "2026-06-01T10:00:00Z", "2026-06-01T10:10:00Z")
	insertJob(t, c, "fix_bugs", "COMPLETED", "", "2026-06-02T10:00:00Z", "2026-06-02T10:20:00Z")
	insertJob(t, c, "fix_bugs", "RUNNING", "", "2026-06-03T10:00:00Z", nil)
	insertJob(t, c, "refactor", "FAILED", "x", "not-a-time", "2026-06-02T10:20:00Z")

	results, err := QueryDurations(d, "")
	if err != nil {
		t.Fatalf("QueryDurations: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	r := results[0]
	if r.Action != "fix_bugs" || r.Count != 2 {
		t.Errorf("result = %+v", r)
	}
	if r.Avg != 15 {
		t.Errorf("avg = %.1f, want 15", r.Avg)
	}
	if r.P50 != 15 {
		t.Errorf("p50 = %.1f, want 15", r.P50)
	}
	if r.P95 != 19.5 {
		t.Errorf("p95 = %.1f, want 19.5", r.P95)
	}
}

// --- QueryGateDecisions ---

func TestQueryGateDecisions(t *testing.T) {
	d := testDB(t)
	c := d.Conn()

	insertJob(t, c, "fix_bugs", "RUNNING", "", "2026-06-01T10:00:00Z", nil)
	for _, payload := range []string{
		`{"mode":"APPLY","reason":"ok"}`,
		`{"mode":"APPLY","reason":"ok"}`,
		`{"mode":"PROPOSE","reason":"multi file"}`,
		`{"mode":"REJECT","reason":"no proposal"}`,
		`not json`,
	} {
		exec(t, c, `INSERT INTO job_events (job_id, type, payload, created_at) VALUES (1, 'DECISION', ?, '2026-06-01T10:05:00Z')`, payload)
	}
	exec(t, c, `INSERT INTO job_events (job_id, type, payload, created_at) VALUES (1, 'NOTE', '{"mode":"APPLY"}', '2026-06-01T10:05:00Z')`)

	stats, err := QueryGateDecisions(d, "")
	if err != nil {
		t.Fatalf("QueryGateDecisions: %v", err)
	}
	if stats.Total != 4 {
		t.Errorf("total = %d, want 4", stats.Total)
	}
	if stats.Apply != 50 || stats.Propose != 25 || stats.Reject != 25 {
		t.Errorf("stats = %+v", stats)
	}
}

// --- QueryFailureReasons ---

func TestQueryFailureReasons(t *testing.T) {
	d := testDB(t)
	c := d.Conn()

	insertJob(t, c, "fix_bugs", "FAILED", "no meaningful change", "2026-06-01T10:00:00Z", "2026-06-01T10:01:00Z")
	insertJob(t, c, "fix_bugs", "FAILED", "no meaningful change", "2026-06-01T11:00:00Z", "2026-06-01T11:01:00Z")
	insertJob(t, c, "refactor", "FAILED", "prepare: clone failed", "2026-06-01T12:00:00Z", "2026-06-01T12:01:00Z")
	insertJob(t, c, "refactor", "COMPLETED", "", "2026-06-01T13:00:00Z", "2026-06-01T13:01:00Z")

	results, err := QueryFailureReasons(d, "", 1)
	if err != nil {
		t.Fatalf("QueryFailureReasons: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result with limit, got %d", len(results))
	}
	if results[0].Reason != "no meaningful change" || results[0].Count != 2 {
		t.Errorf("top reason = %+v", results[0])
	}
}

// --- QueryCIOutcomes ---

func TestQueryCIOutcomes(t *testing.T) {
	d := testDB(t)
	c := d.Conn()

	insert := `INSERT INTO retry_state (owner, repo, number, attempts, last_outcome, last_run_id, active, updated_at)
		VALUES ('acme', 'api', ?, ?, ?, 0, ?, '2026-06-01T10:00:00Z')`
	exec(t, c, insert, 1, 1, "FLAKY", 1)
	exec(t, c, insert, 2, 2, "FLAKY", 0)
	exec(t, c, insert, 3, 0, "LEGIT", 0)

	results, err := QueryCIOutcomes(d)
	if err != nil {
		t.Fatalf("QueryCIOutcomes: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(results))
	}
	flaky := results[0]
	if flaky.Outcome != "FLAKY" || flaky.PRs != 2 || flaky.Active != 1 || flaky.AvgAttempts != 1.5 {
		t.Errorf("flaky = %+v", flaky)
	}
	if results[1].Outcome != "LEGIT" || results[1].AvgAttempts != 0 {
		t.Errorf("legit = %+v", results[1])
	}
}

func TestQuery(t *testing.T) {
	d := testDB(t)
	insertJob(t, d.Conn(), "fix_bugs", "COMPLETED", "", "2026-06-01T10:00:00Z", "2026-06-01T10:10:00Z")

	r, err := Query(d, "")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(r.Outcomes) != 1 || len(r.Durations) != 1 {
		t.Errorf("report = %+v", r)
	}
	if r.Gate.Total != 0 || len(r.Failures) != 0 || len(r.CI) != 0 {
		t.Errorf("expected empty gate, failures and ci, got %+v", r)
	}
}

// --- helpers ---

func TestPercentile(t *testing.T) {
	tests := []struct {
		values []float64
		p      int
		want   float64
	}{
		{nil, 50, 0},
		{[]float64{4}, 95, 4},
		{[]float64{1, 2, 3, 4, 5}, 50, 3},
		{[]float64{10, 20}, 95, 19.5},
	}
	for _, tt := range tests {
		if got := percentile(tt.values, tt.p); got != tt.want {
			t.Errorf("percentile(%v, %d) = %.1f, want %.1f", tt.values, tt.p, got, tt.want)
		}
	}
}

func TestPct(t *testing.T) {
	if got := pct(1, 3); got != 33.3 {
		t.Errorf("pct(1, 3) = %.1f, want 33.3", got)
	}
	if got := pct(1, 0); got != 0 {
		t.Errorf("pct(1, 0) = %.1f, want 0", got)
	}
}
