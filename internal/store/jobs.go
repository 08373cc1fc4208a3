package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lucasnoah/autotriage/internal/job"
)

// NewJob holds the fields needed to enqueue a job.
type NewJob struct {
	Owner    string
	Repo     string
	Action   string
	Prompt   string
	RepoPath string
}

// CreateJob inserts a QUEUED job and its first STATUS event.
func (s *Store) CreateJob(ctx context.Context, nj NewJob) (int64, error) {
	if nj.Owner == "" || nj.Repo == "" || nj.Action == "" {
		return 0, fmt.Errorf("create job: owner, repo and action are required")
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.timestamp()
	var id int64
	err = s.queryRow(ctx, tx,
		`INSERT INTO jobs (owner, repo, action, prompt, status, repo_path, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		nj.Owner, nj.Repo, nj.Action, nj.Prompt, string(job.Queued), nj.RepoPath, now, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create job: %w", err)
	}
	if _, err := s.appendEvent(ctx, tx, id, job.EventStatus, job.StatusPayload{To: job.Queued}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

const jobColumns = `id, owner, repo, action, prompt, status, status_reason, repo_path, pr_url, claimed_by, created_at, updated_at, finished_at`

func scanJob(row interface{ Scan(...any) error }) (*job.Job, error) {
	var j job.Job
	var status string
	var finished sql.NullString
	err := row.Scan(&j.ID, &j.Owner, &j.Repo, &j.Action, &j.Prompt, &status, &j.StatusReason,
		&j.RepoPath, &j.PRURL, &j.ClaimedBy, &j.CreatedAt, &j.UpdatedAt, &finished)
	if err != nil {
		return nil, err
	}
	j.Status = job.Status(status)
	if finished.Valid {
		j.FinishedAt = finished.String
	}
	return &j, nil
}

// Get returns a job by id, or job.ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (*job.Job, error) {
	j, err := scanJob(s.queryRow(ctx, s.conn, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %d: %w", id, job.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %d: %w", id, err)
	}
	return j, nil
}

// ListFilter narrows List.
type ListFilter struct {
	Status job.Status
	Owner  string
	Repo   string
	Limit  int
}

// List returns jobs newest first.
func (s *Store) List(ctx context.Context, f ListFilter) ([]job.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	var args []any
	if f.Status != "" {
		q += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.Owner != "" {
		q += ` AND owner = ?`
		args = append(args, f.Owner)
	}
	if f.Repo != "" {
		q += ` AND repo = ?`
		args = append(args, f.Repo)
	}
	q += ` ORDER BY id DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := s.query(ctx, s.conn, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// ClaimNext marks the oldest unclaimed QUEUED job as claimed by worker and
// returns it. It returns (nil, nil) when nothing is queued. The conditional
// update makes the claim safe against concurrent workers.
func (s *Store) ClaimNext(ctx context.Context, worker string) (*job.Job, error) {
	var id int64
	err := s.queryRow(ctx, s.conn,
		`UPDATE jobs SET claimed_by = ?, updated_at = ?
		 WHERE id = (SELECT id FROM jobs WHERE status = ? AND claimed_by = '' ORDER BY id LIMIT 1)
		   AND claimed_by = ''
		 RETURNING id`,
		worker, s.timestamp(), string(job.Queued),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return s.Get(ctx, id)
}

// SetStatus moves a job to a new status and records a STATUS event in the
// same transaction. Terminal jobs are never changed; setting the current
// status again is a no-op.
func (s *Store) SetStatus(ctx context.Context, id int64, to job.Status, reason string) error {
	if !to.Valid() {
		return fmt.Errorf("set status: unknown status %q", to)
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var cur string
	err = s.queryRow(ctx, tx, `SELECT status FROM jobs WHERE id = ?`, id).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("job %d: %w", id, job.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	from := job.Status(cur)
	if from == to {
		return nil
	}
	if from.Terminal() {
		return fmt.Errorf("job %d is %s: %w", id, from, job.ErrTerminal)
	}
	if !job.CanTransition(from, to) {
		return fmt.Errorf("job %d %s -> %s: %w", id, from, to, job.ErrInvalidTransition)
	}

	now := s.timestamp()
	var finished any
	if to.Terminal() {
		finished = now
	}
	res, err := s.exec(ctx, tx,
		`UPDATE jobs SET status = ?, status_reason = ?, updated_at = ?, finished_at = COALESCE(?, finished_at)
		 WHERE id = ? AND status = ?`,
		string(to), reason, now, finished, id, cur,
	)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %d status changed concurrently", id)
	}
	if _, err := s.appendEvent(ctx, tx, id, job.EventStatus, job.StatusPayload{From: from, To: to, Reason: reason}); err != nil {
		return err
	}
	return tx.Commit()
}

// SetRepoPath records the job's checkout directory.
func (s *Store) SetRepoPath(ctx context.Context, id int64, path string) error {
	return s.setField(ctx, id, "repo_path", path)
}

// SetPRURL records the pull request opened for the job.
func (s *Store) SetPRURL(ctx context.Context, id int64, url string) error {
	return s.setField(ctx, id, "pr_url", url)
}

// setField updates one text column; column names are fixed by callers.
func (s *Store) setField(ctx context.Context, id int64, column, value string) error {
	res, err := s.exec(ctx, s.conn, `UPDATE jobs SET `+column+` = ?, updated_at = ? WHERE id = ?`, value, s.timestamp(), id)
	if err != nil {
		return fmt.Errorf("set %s: %w", column, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %d: %w", id, job.ErrNotFound)
	}
	return nil
}

// AppendEvent adds an event to a job's log and returns its id. payload is
// stored as JSON; strings and []byte that already hold JSON are kept as is.
func (s *Store) AppendEvent(ctx context.Context, id int64, typ job.EventType, payload any) (int64, error) {
	return s.appendEvent(ctx, s.conn, id, typ, payload)
}

func (s *Store) appendEvent(ctx context.Context, q querier, id int64, typ job.EventType, payload any) (int64, error) {
	data, err := encodePayload(payload)
	if err != nil {
		return 0, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	var eventID int64
	err = s.queryRow(ctx, q,
		`INSERT INTO job_events (job_id, type, payload, created_at) VALUES (?, ?, ?, ?) RETURNING id`,
		id, string(typ), data, s.timestamp(),
	).Scan(&eventID)
	if err != nil {
		return 0, fmt.Errorf("append %s event: %w", typ, err)
	}
	return eventID, nil
}

func encodePayload(payload any) (string, error) {
	switch p := payload.(type) {
	case nil:
		return "{}", nil
	case json.RawMessage:
		return string(p), nil
	case []byte:
		if json.Valid(p) {
			return string(p), nil
		}
		payload = string(p)
	case string:
		if json.Valid([]byte(p)) {
			return p, nil
		}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// EventsSince returns a job's events with id greater than afterID, oldest first.
func (s *Store) EventsSince(ctx context.Context, id int64, afterID int64) ([]job.Event, error) {
	rows, err := s.query(ctx, s.conn,
		`SELECT id, job_id, type, payload, created_at FROM job_events WHERE job_id = ? AND id > ? ORDER BY id`,
		id, afterID,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []job.Event
	for rows.Next() {
		var e job.Event
		var typ string
		if err := rows.Scan(&e.ID, &e.JobID, &typ, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Type = job.EventType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}

// HasEvent reports whether the job's log contains an event of type typ.
func (s *Store) HasEvent(ctx context.Context, id int64, typ job.EventType) (bool, error) {
	var count int
	err := s.queryRow(ctx, s.conn, `SELECT COUNT(*) FROM job_events WHERE job_id = ? AND type = ?`, id, string(typ)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count events: %w", err)
	}
	return count > 0, nil
}
