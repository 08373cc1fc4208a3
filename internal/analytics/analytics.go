// Package analytics summarizes job outcomes, gate decisions and CI retries
// from the store.
package analytics

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/lucasnoah/autotriage/internal/confidence"
	"github.com/lucasnoah/autotriage/internal/job"
)

// DB is the interface for database queries used by analytics.
type DB interface {
	Conn() *sql.DB
	Rebind(query string) string
}

// ActionOutcome holds terminal-status rates for one action.
type ActionOutcome struct {
	Action      string  `json:"action"`
	Total       int     `json:"total"`
	Open        int     `json:"open"`
	Completed   float64 `json:"completed_pct"`
	Failed      float64 `json:"failed_pct"`
	Aborted     float64 `json:"aborted_pct"`
	NeedsReview float64 `json:"needs_review_pct"`
}

// ActionDuration holds wall-clock duration stats for finished jobs.
type ActionDuration struct {
	Action string  `json:"action"`
	Count  int     `json:"count"`
	Avg    float64 `json:"avg_minutes"`
	P50    float64 `json:"p50_minutes"`
	P95    float64 `json:"p95_minutes"`
}

// GateStats counts confidence gate verdicts.
type GateStats struct {
	Total   int     `json:"total"`
	Apply   float64 `json:"apply_pct"`
	Propose float64 `json:"propose_pct"`
	Reject  float64 `json:"reject_pct"`
}

// FailureReason is a FAILED status reason and how often it occurred.
type FailureReason struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// CIOutcome aggregates retry state by last outcome.
type CIOutcome struct {
	Outcome     string  `json:"outcome"`
	PRs         int     `json:"prs"`
	Active      int     `json:"active"`
	AvgAttempts float64 `json:"avg_attempts"`
}

// Report bundles every summary.
type Report struct {
	Outcomes  []ActionOutcome  `json:"outcomes"`
	Durations []ActionDuration `json:"durations"`
	Gate      GateStats        `json:"gate"`
	Failures  []FailureReason  `json:"failures"`
	CI        []CIOutcome      `json:"ci"`
}

// Query runs every summary. since (RFC 3339, may be empty) bounds jobs and
// events by creation time.
func Query(database DB, since string) (*Report, error) {
	var r Report
	var err error
	if r.Outcomes, err = QueryOutcomes(database, since); err != nil {
		return nil, err
	}
	if r.Durations, err = QueryDurations(database, since); err != nil {
		return nil, err
	}
	if r.Gate, err = QueryGateDecisions(database, since); err != nil {
		return nil, err
	}
	if r.Failures, err = QueryFailureReasons(database, since, 10); err != nil {
		return nil, err
	}
	if r.CI, err = QueryCIOutcomes(database); err != nil {
		return nil, err
	}
	return &r, nil
}

// sinceClause appends a created_at bound when since is set.
func sinceClause(query, since string, args []any) (string, []any) {
	if since == "" {
		return query, args
	}
	return query + ` AND created_at >= ?`, append(args, since)
}

// QueryOutcomes returns status rates per action. Percentages use all jobs of
// the action, open ones included, as the denominator.
func QueryOutcomes(database DB, since string) ([]ActionOutcome, error) {
	query, args := sinceClause(`SELECT action, status, COUNT(*) FROM jobs WHERE 1=1`, since, nil)
	query += ` GROUP BY action, status`

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]map[job.Status]int)
	for rows.Next() {
		var action, status string
		var n int
		if err := rows.Scan(&action, &status, &n); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		if counts[action] == nil {
			counts[action] = make(map[job.Status]int)
		}
		counts[action][job.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []ActionOutcome
	for action, byStatus := range counts {
		o := ActionOutcome{Action: action}
		for st, n := range byStatus {
			o.Total += n
			if !st.Terminal() {
				o.Open += n
			}
		}
		o.Completed = pct(byStatus[job.Completed], o.Total)
		o.Failed = pct(byStatus[job.Failed], o.Total)
		o.Aborted = pct(byStatus[job.Aborted], o.Total)
		o.NeedsReview = pct(byStatus[job.NeedsReview], o.Total)
		results = append(results, o)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Action < results[j].Action
	})
	return results, nil
}

// QueryDurations returns created-to-finished durations per action.
func QueryDurations(database DB, since string) ([]ActionDuration, error) {
	query, args := sinceClause(`SELECT action, created_at, finished_at FROM jobs WHERE finished_at IS NOT NULL`, since, nil)

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query durations: %w", err)
	}
	defer rows.Close()

	durations := make(map[string][]float64)
	for rows.Next() {
		var action, created string
		var finished sql.NullString
		if err := rows.Scan(&action, &created, &finished); err != nil {
			return nil, fmt.Errorf("scan duration: %w", err)
		}
		start, err := time.Parse(time.RFC3339Nano, created)
		if err != nil {
			continue
		}
		end, err := time.Parse(time.RFC3339Nano, finished.String)
		if err != nil {
			continue
		}
		if minutes := end.Sub(start).Minutes(); minutes >= 0 {
			durations[action] = append(durations[action], minutes)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []ActionDuration
	for action, ds := range durations {
		sort.Float64s(ds)
		results = append(results, ActionDuration{
			Action: action,
			Count:  len(ds),
			Avg:    avg(ds),
			P50:    percentile(ds, 50),
			P95:    percentile(ds, 95),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Action < results[j].Action
	})
	return results, nil
}

// QueryGateDecisions counts DECISION events by mode.
func QueryGateDecisions(database DB, since string) (GateStats, error) {
	query, args := sinceClause(`SELECT payload FROM job_events WHERE type = ?`, since, []any{string(job.EventDecision)})

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return GateStats{}, fmt.Errorf("query gate decisions: %w", err)
	}
	defer rows.Close()

	counts := make(map[confidence.Mode]int)
	total := 0
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return GateStats{}, fmt.Errorf("scan gate decision: %w", err)
		}
		var d confidence.Decision
		if err := json.Unmarshal([]byte(payload), &d); err != nil {
			continue
		}
		counts[d.Mode]++
		total++
	}
	if err := rows.Err(); err != nil {
		return GateStats{}, err
	}
	return GateStats{
		Total:   total,
		Apply:   pct(counts[confidence.Apply], total),
		Propose: pct(counts[confidence.Propose], total),
		Reject:  pct(counts[confidence.Reject], total),
	}, nil
}

// QueryFailureReasons returns the most common FAILED reasons, most frequent
// first.
func QueryFailureReasons(database DB, since string, limit int) ([]FailureReason, error) {
	query, args := sinceClause(`SELECT status_reason, COUNT(*) AS n FROM jobs WHERE status = ?`, since, []any{string(job.Failed)})
	query += ` GROUP BY status_reason ORDER BY n DESC, status_reason`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := database.Conn().Query(database.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query failure reasons: %w", err)
	}
	defer rows.Close()

	var results []FailureReason
	for rows.Next() {
		var fr FailureReason
		if err := rows.Scan(&fr.Reason, &fr.Count); err != nil {
			return nil, fmt.Errorf("scan failure reason: %w", err)
		}
		results = append(results, fr)
	}
	return results, rows.Err()
}

// QueryCIOutcomes aggregates retry state by last outcome.
func QueryCIOutcomes(database DB) ([]CIOutcome, error) {
	rows, err := database.Conn().Query(`
		SELECT last_outcome, COUNT(*), SUM(active), SUM(attempts)
		FROM retry_state
		GROUP BY last_outcome
		ORDER BY last_outcome`)
	if err != nil {
		return nil, fmt.Errorf("query ci outcomes: %w", err)
	}
	defer rows.Close()

	var results []CIOutcome
	for rows.Next() {
		var o CIOutcome
		var attempts int
		if err := rows.Scan(&o.Outcome, &o.PRs, &o.Active, &attempts); err != nil {
			return nil, fmt.Errorf("scan ci outcome: %w", err)
		}
		o.AvgAttempts = math.Round(float64(attempts)/float64(o.PRs)*10) / 10
		results = append(results, o)
	}
	return results, rows.Err()
}

// --- helpers ---

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return math.Round(sum/float64(len(values))*10) / 10
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return math.Round(sorted[lower]*10) / 10
	}
	weight := rank - float64(lower)
	return math.Round((sorted[lower]*(1-weight)+sorted[upper]*weight)*10) / 10
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
