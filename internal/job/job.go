// Package job defines job statuses, the allowed transitions between them,
// the typed event log, and the cooperative control loop that lets humans
// pause, abort, answer and approve running jobs.
package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Status is a job's lifecycle state.
type Status string

const (
	Queued      Status = "QUEUED"
	Running     Status = "RUNNING"
	Paused      Status = "PAUSED"
	Blocked     Status = "BLOCKED"
	Proposed    Status = "PROPOSED"
	NeedsReview Status = "NEEDS_REVIEW"
	Aborted     Status = "ABORTED"
	Failed      Status = "FAILED"
	Completed   Status = "COMPLETED"
)

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	switch s {
	case Completed, Failed, Aborted, NeedsReview:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

var transitions = map[Status][]Status{
	Queued:      {Running, Aborted, Failed},
	Running:     {Paused, Blocked, Proposed, Completed, Failed, Aborted, NeedsReview},
	Paused:      {Running, Aborted, Failed},
	Blocked:     {Running, Aborted, Failed},
	Proposed:    {Running, NeedsReview, Aborted, Failed},
	NeedsReview: nil,
	Aborted:     nil,
	Failed:      nil,
	Completed:   nil,
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

var (
	// ErrAborted unwinds a pipeline after a user abort.
	ErrAborted = errors.New("job aborted")
	// ErrTerminal is returned when changing a job that already finished.
	ErrTerminal = errors.New("job is in a terminal state")
	// ErrNotFound is returned for unknown job ids.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned for transitions outside the table.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Job is one persisted pipeline run.
type Job struct {
	ID           int64  `json:"id"`
	Owner        string `json:"owner"`
	Repo         string `json:"repo"`
	Action       string `json:"action"`
	Prompt       string `json:"prompt"`
	Status       Status `json:"status"`
	StatusReason string `json:"status_reason,omitempty"`
	RepoPath     string `json:"repo_path,omitempty"`
	PRURL        string `json:"pr_url,omitempty"`
	ClaimedBy    string `json:"claimed_by,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
	FinishedAt   string `json:"finished_at,omitempty"`
}

// FullRepo returns owner/repo.
func (j *Job) FullRepo() string { return j.Owner + "/" + j.Repo }

// EventType tags an entry in a job's event log.
type EventType string

const (
	EventStatus      EventType = "STATUS"
	EventArch        EventType = "ARCH"
	EventIntent      EventType = "INTENT"
	EventPolicy      EventType = "POLICY"
	EventPlanRaw     EventType = "PLAN_RAW"
	EventPlanAudited EventType = "PLAN_AUDITED"
	EventStep        EventType = "STEP"
	EventStepResult  EventType = "STEP_RESULT"
	EventDiagnosis   EventType = "DIAGNOSIS"
	EventConfidence  EventType = "CONFIDENCE"
	EventSafety      EventType = "SAFETY"
	EventDecision    EventType = "DECISION"
	EventDiff        EventType = "DIFF"
	EventPRCreated   EventType = "PR_CREATED"
	EventQuestion    EventType = "QUESTION"
	EventProposal    EventType = "PROPOSAL"
	EventError       EventType = "ERROR"
	EventNote        EventType = "NOTE"

	// Control events written by humans.
	EventUserInput EventType = "USER_INPUT"
	EventApprove   EventType = "APPROVE"
	EventReject    EventType = "REJECT"
	EventPause     EventType = "PAUSE"
	EventResume    EventType = "RESUME"
	EventAbort     EventType = "ABORT"
	EventRetry     EventType = "RETRY"
)

// Event is one append-only log entry. Payload is JSON.
type Event struct {
	ID        int64     `json:"id"`
	JobID     int64     `json:"job_id"`
	Type      EventType `json:"type"`
	Payload   string    `json:"payload"`
	CreatedAt string    `json:"created_at"`
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal([]byte(e.Payload), v); err != nil {
		return fmt.Errorf("decode %s event %d: %w", e.Type, e.ID, err)
	}
	return nil
}

// StatusPayload accompanies STATUS events.
type StatusPayload struct {
	From   Status `json:"from,omitempty"`
	To     Status `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// QuestionPayload accompanies QUESTION events.
type QuestionPayload struct {
	ID       string   `json:"id"`
	Key      string   `json:"key"`
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
}

// InputPayload accompanies USER_INPUT and RETRY events. An empty
// QuestionID answers whichever question is open.
type InputPayload struct {
	QuestionID string `json:"question_id,omitempty"`
	Answer     string `json:"answer"`
}

// ProposalPayload accompanies PROPOSAL events.
type ProposalPayload struct {
	ID       string  `json:"id"`
	Key      string  `json:"key"`
	Path     string  `json:"path,omitempty"`
	Summary  string  `json:"summary"`
	Score    float64 `json:"score"`
	Reason   string  `json:"reason,omitempty"`
	Artifact string  `json:"artifact,omitempty"`
}

// ReviewPayload accompanies APPROVE and REJECT events. An empty ProposalID
// answers whichever proposal is open.
type ReviewPayload struct {
	ProposalID string `json:"proposal_id,omitempty"`
	Comment    string `json:"comment,omitempty"`
}

// ErrorPayload accompanies ERROR events.
type ErrorPayload struct {
	Error string `json:"error"`
	Phase string `json:"phase,omitempty"`
}

// Repository is the persistence the job layer needs.
type Repository interface {
	Get(ctx context.Context, id int64) (*Job, error)
	SetStatus(ctx context.Context, id int64, to Status, reason string) error
	SetRepoPath(ctx context.Context, id int64, path string) error
	SetPRURL(ctx context.Context, id int64, url string) error
	AppendEvent(ctx context.Context, id int64, typ EventType, payload any) (int64, error)
	EventsSince(ctx context.Context, id int64, afterID int64) ([]Event, error)
}
