package store

import (
	"context"
	"errors"
	"testing"

	"github.com/lucasnoah/autotriage/internal/job"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	if err := s.Migrate(); err != nil {
		t.Fatalf("migrate test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createJob(t *testing.T, s *Store) int64 {
	t.Helper()
	id, err := s.CreateJob(context.Background(), NewJob{Owner: "acme", Repo: "api", Action: "fix_bugs", Prompt: "fix the crash"})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return id
}

func TestMigrate(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if err := s.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for _, table := range []string{"schema_version", "jobs", "job_events", "retry_state"} {
		var name string
		err := s.conn.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
	if err := s.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestReset(t *testing.T) {
	s := testStore(t)
	createJob(t, s)

	if err := s.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	jobs, err := s.List(context.Background(), ListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("expected no jobs after reset, got %d", len(jobs))
	}
}

func TestDialectFor(t *testing.T) {
	cases := map[string]Dialect{
		"postgres://u@localhost/db":   Postgres,
		"postgresql://u@localhost/db": Postgres,
		"/tmp/autotriage.db":          SQLite,
		":memory:":                    SQLite,
	}
	for dsn, want := range cases {
		if got := DialectFor(dsn); got != want {
			t.Errorf("DialectFor(%q) = %q, want %q", dsn, got, want)
		}
	}
}

func TestRebind(t *testing.T) {
	s := &Store{dialect: Postgres}
	got := s.rebind("UPDATE jobs SET status = ? WHERE id = ? AND status = ?")
	want := "UPDATE jobs SET status = $1 WHERE id = $2 AND status = $3"
	if got != want {
		t.Errorf("rebind = %q, want %q", got, want)
	}

	s.dialect = SQLite
	if got := s.rebind("id = ?"); got != "id = ?" {
		t.Errorf("sqlite rebind = %q, want unchanged", got)
	}
}

func TestCreateAndGetJob(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	id := createJob(t, s)

	j, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if j.Status != job.Queued {
		t.Errorf("status = %q, want %q", j.Status, job.Queued)
	}
	if j.FullRepo() != "acme/api" {
		t.Errorf("FullRepo = %q, want %q", j.FullRepo(), "acme/api")
	}
	if j.CreatedAt == "" || j.FinishedAt != "" {
		t.Errorf("timestamps: created=%q finished=%q", j.CreatedAt, j.FinishedAt)
	}

	events, err := s.EventsSince(ctx, id, 0)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 || events[0].Type != job.EventStatus {
		t.Fatalf("expected one STATUS event, got %+v", events)
	}
}

func TestCreateJobRequiresFields(t *testing.T) {
	s := testStore(t)
	if _, err := s.CreateJob(context.Background(), NewJob{Owner: "acme"}); err == nil {
		t.Error("expected error for missing repo and action")
	}
}

func TestGetNotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.Get(context.Background(), 42)
	if !errors.Is(err, job.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSetStatus(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	id := createJob(t, s)

	if err := s.SetStatus(ctx, id, job.Running, ""); err != nil {
		t.Fatalf("running: %v", err)
	}
	// Same status is a no-op and writes no event.
	if err := s.SetStatus(ctx, id, job.Running, ""); err != nil {
		t.Fatalf("running again: %v", err)
	}
	if err := s.SetStatus(ctx, id, job.Completed, "done"); err != nil {
		t.Fatalf("completed: %v", err)
	}

	j, _ := s.Get(ctx, id)
	if j.Status != job.Completed || j.StatusReason != "done" {
		t.Errorf("job = %s/%q, want COMPLETED/done", j.Status, j.StatusReason)
	}
	if j.FinishedAt == "" {
		t.Error("expected finished_at on terminal status")
	}

	events, _ := s.EventsSince(ctx, id, 0)
	if len(events) != 3 {
		t.Fatalf("expected 3 STATUS events, got %d", len(events))
	}
	var p job.StatusPayload
	if err := events[2].Decode(&p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.From != job.Running || p.To != job.Completed {
		t.Errorf("payload = %+v, want RUNNING -> COMPLETED", p)
	}

	err := s.SetStatus(ctx, id, job.Failed, "late")
	if !errors.Is(err, job.ErrTerminal) {
		t.Errorf("err = %v, want ErrTerminal", err)
	}
}

func TestSetStatusInvalidTransition(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	id := createJob(t, s)

	err := s.SetStatus(ctx, id, job.Proposed, "")
	if !errors.Is(err, job.ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
	if err := s.SetStatus(ctx, id, job.Status("BOGUS"), ""); err == nil {
		t.Error("expected error for unknown status")
	}
	if err := s.SetStatus(ctx, 999, job.Running, ""); !errors.Is(err, job.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestClaimNext(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	j, err := s.ClaimNext(ctx, "w1")
	if err != nil || j != nil {
		t.Fatalf("empty queue: job=%v err=%v", j, err)
	}

	first := createJob(t, s)
	second := createJob(t, s)

	j, err = s.ClaimNext(ctx, "w1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if j.ID != first || j.ClaimedBy != "w1" {
		t.Errorf("claimed %d by %q, want %d by w1", j.ID, j.ClaimedBy, first)
	}

	j, _ = s.ClaimNext(ctx, "w2")
	if j == nil || j.ID != second {
		t.Fatalf("second claim = %+v, want job %d", j, second)
	}

	j, _ = s.ClaimNext(ctx, "w3")
	if j != nil {
		t.Errorf("expected nothing left to claim, got %d", j.ID)
	}
}

func TestListFilter(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	a := createJob(t, s)
	createJob(t, s)
	s.SetStatus(ctx, a, job.Running, "")

	running, err := s.List(ctx, ListFilter{Status: job.Running})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(running) != 1 || running[0].ID != a {
		t.Errorf("running = %+v, want job %d", running, a)
	}

	all, _ := s.List(ctx, ListFilter{Limit: 1})
	if len(all) != 1 || all[0].ID == a {
		t.Errorf("limit 1 should return the newest job, got %+v", all)
	}
}

func TestSetRepoPathAndPRURL(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	id := createJob(t, s)

	if err := s.SetRepoPath(ctx, id, "/work/acme/api"); err != nil {
		t.Fatalf("set repo path: %v", err)
	}
	if err := s.SetPRURL(ctx, id, "https://github.com/acme/api/pull/7"); err != nil {
		t.Fatalf("set pr url: %v", err)
	}
	j, _ := s.Get(ctx, id)
	if j.RepoPath != "/work/acme/api" || j.PRURL != "https://github.com/acme/api/pull/7" {
		t.Errorf("job = %+v", j)
	}
	if err := s.SetPRURL(ctx, 999, "x"); !errors.Is(err, job.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestAppendEventPayloads(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	id := createJob(t, s)

	first, err := s.AppendEvent(ctx, id, job.EventNote, nil)
	if err != nil {
		t.Fatalf("append nil: %v", err)
	}
	s.AppendEvent(ctx, id, job.EventNote, `{"raw":true}`)
	s.AppendEvent(ctx, id, job.EventNote, "plain text")
	s.AppendEvent(ctx, id, job.EventUserInput, job.InputPayload{Answer: "yes"})

	events, err := s.EventsSince(ctx, id, first-1)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	want := []string{`{}`, `{"raw":true}`, `"plain text"`, `{"answer":"yes"}`}
	for i, w := range want {
		if events[i].Payload != w {
			t.Errorf("event %d payload = %q, want %q", i, events[i].Payload, w)
		}
	}

	after, _ := s.EventsSince(ctx, id, events[2].ID)
	if len(after) != 1 || after[0].Type != job.EventUserInput {
		t.Errorf("EventsSince cursor = %+v", after)
	}

	ok, err := s.HasEvent(ctx, id, job.EventUserInput)
	if err != nil || !ok {
		t.Errorf("HasEvent(USER_INPUT) = %v, %v", ok, err)
	}
	ok, _ = s.HasEvent(ctx, id, job.EventPRCreated)
	if ok {
		t.Error("HasEvent(PR_CREATED) = true, want false")
	}
}

func TestRetryState(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rs, err := s.GetRetryState(ctx, "acme", "api", 7)
	if err != nil || rs != nil {
		t.Fatalf("missing state: rs=%v err=%v", rs, err)
	}

	if err := s.SaveRetryState(ctx, RetryState{Owner: "acme", Repo: "api", Number: 7, Attempts: 1, LastOutcome: "infra", Active: true}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveRetryState(ctx, RetryState{Owner: "acme", Repo: "api", Number: 7, Attempts: 2, LastOutcome: "flaky", LastRunID: 99}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	rs, err = s.GetRetryState(ctx, "acme", "api", 7)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rs.Attempts != 2 || rs.LastOutcome != "flaky" || rs.LastRunID != 99 || rs.Active {
		t.Errorf("state = %+v, want attempts=2 flaky inactive", rs)
	}
}
