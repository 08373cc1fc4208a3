package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RetryState tracks self-healing attempts for one pull request.
type RetryState struct {
	Owner       string `json:"owner"`
	Repo        string `json:"repo"`
	Number      int    `json:"number"`
	Attempts    int    `json:"attempts"`
	LastOutcome string `json:"last_outcome"`
	LastRunID   int64  `json:"last_run_id"`
	Active      bool   `json:"active"`
	UpdatedAt   string `json:"updated_at"`
}

// GetRetryState returns the state for a pull request, or (nil, nil) if none.
func (s *Store) GetRetryState(ctx context.Context, owner, repo string, number int) (*RetryState, error) {
	var rs RetryState
	var active int
	err := s.queryRow(ctx, s.conn,
		`SELECT owner, repo, number, attempts, last_outcome, last_run_id, active, updated_at
		 FROM retry_state WHERE owner = ? AND repo = ? AND number = ?`,
		owner, repo, number,
	).Scan(&rs.Owner, &rs.Repo, &rs.Number, &rs.Attempts, &rs.LastOutcome, &rs.LastRunID, &active, &rs.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get retry state: %w", err)
	}
	rs.Active = active != 0
	return &rs, nil
}

// SaveRetryState inserts or replaces the state for a pull request.
func (s *Store) SaveRetryState(ctx context.Context, rs RetryState) error {
	active := 0
	if rs.Active {
		active = 1
	}
	_, err := s.exec(ctx, s.conn,
		`INSERT INTO retry_state (owner, repo, number, attempts, last_outcome, last_run_id, active, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (owner, repo, number) DO UPDATE SET
		   attempts = excluded.attempts,
		   last_outcome = excluded.last_outcome,
		   last_run_id = excluded.last_run_id,
		   active = excluded.active,
		   updated_at = excluded.updated_at`,
		rs.Owner, rs.Repo, rs.Number, rs.Attempts, rs.LastOutcome, rs.LastRunID, active, s.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("save retry state: %w", err)
	}
	return nil
}
