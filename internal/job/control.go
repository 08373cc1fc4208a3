package job

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// Poll interval bounds.
const (
	DefaultPollInterval = 2 * time.Second
	MaxPollInterval     = 30 * time.Second
)

// Control observes a job's event log for human control events. It is used
// by the single goroutine running the job and is not safe for concurrent use.
type Control struct {
	repo     Repository
	jobID    int64
	interval time.Duration
	cursor   int64
	paused   bool
	progress io.Writer

	// Sleep waits between polls; replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
	// NewID generates question and proposal ids.
	NewID func() string
}

// NewControl creates a Control for jobID. A non-positive interval uses
// DefaultPollInterval; intervals above MaxPollInterval are capped.
func NewControl(repo Repository, jobID int64, interval time.Duration) *Control {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if interval > MaxPollInterval {
		interval = MaxPollInterval
	}
	return &Control{
		repo:     repo,
		jobID:    jobID,
		interval: interval,
		progress: io.Discard,
		Sleep:    sleepCtx,
		NewID:    uuid.NewString,
	}
}

// SetProgress sets the writer for progress lines.
func (c *Control) SetProgress(w io.Writer) {
	if w != nil {
		c.progress = w
	}
}

func (c *Control) logf(format string, args ...any) {
	fmt.Fprintf(c.progress, "[job %d] "+format+"\n", append([]any{c.jobID}, args...)...)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// drain reads new events, applying PAUSE, RESUME and ABORT, and passes each
// to handle until handle reports done.
func (c *Control) drain(ctx context.Context, handle func(Event) (bool, error)) (bool, error) {
	events, err := c.repo.EventsSince(ctx, c.jobID, c.cursor)
	if err != nil {
		return false, fmt.Errorf("read events: %w", err)
	}
	for _, e := range events {
		c.cursor = e.ID
		switch e.Type {
		case EventAbort:
			return false, ErrAborted
		case EventPause:
			c.paused = true
		case EventResume:
			c.paused = false
		}
		if handle == nil {
			continue
		}
		done, err := handle(e)
		if err != nil || done {
			return done, err
		}
	}
	return false, nil
}

// wait polls until handle reports done, an abort is seen or ctx ends.
func (c *Control) wait(ctx context.Context, handle func(Event) (bool, error)) error {
	for {
		done, err := c.drain(ctx, handle)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if err := c.Sleep(ctx, c.interval); err != nil {
			return err
		}
	}
}

// Check applies pending control events between pipeline steps. A PAUSE
// parks the job in PAUSED until RESUME; an ABORT returns ErrAborted.
func (c *Control) Check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.drain(ctx, nil); err != nil {
		return err
	}
	if !c.paused {
		return nil
	}

	if err := c.repo.SetStatus(ctx, c.jobID, Paused, "paused by user"); err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	c.logf("paused")
	err := c.wait(ctx, func(Event) (bool, error) { return !c.paused, nil })
	if err != nil {
		return err
	}
	if err := c.repo.SetStatus(ctx, c.jobID, Running, ""); err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	c.logf("resumed")
	return nil
}

// Ask blocks the job on a question until a USER_INPUT (or RETRY) answers
// it. key identifies the question across re-entrant runs: if an earlier run
// asked the same key and got an answer, that answer is returned at once.
func (c *Control) Ask(ctx context.Context, key, question string, options ...string) (string, error) {
	if answer, ok, err := c.priorAnswer(ctx, key); err != nil || ok {
		return answer, err
	}

	id := c.NewID()
	eventID, err := c.repo.AppendEvent(ctx, c.jobID, EventQuestion, QuestionPayload{ID: id, Key: key, Question: question, Options: options})
	if err != nil {
		return "", fmt.Errorf("record question: %w", err)
	}
	if err := c.repo.SetStatus(ctx, c.jobID, Blocked, question); err != nil {
		return "", fmt.Errorf("block: %w", err)
	}
	c.logf("blocked: %s", question)

	var answer string
	err = c.wait(ctx, func(e Event) (bool, error) {
		if e.ID <= eventID || (e.Type != EventUserInput && e.Type != EventRetry) {
			return false, nil
		}
		var in InputPayload
		if err := e.Decode(&in); err != nil {
			return false, nil
		}
		if in.QuestionID != "" && in.QuestionID != id {
			return false, nil
		}
		answer = in.Answer
		if e.Type == EventRetry && answer == "" {
			answer = "retry"
		}
		return true, nil
	})
	if err != nil {
		return "", err
	}
	if err := c.repo.SetStatus(ctx, c.jobID, Running, ""); err != nil {
		return "", fmt.Errorf("unblock: %w", err)
	}
	c.logf("answered: %s", answer)
	return answer, nil
}

// AwaitApproval records a proposal, parks the job in PROPOSED and waits for
// APPROVE or REJECT. As with Ask, a decision already recorded for the same
// key is reused. On approval the job returns to RUNNING; on rejection the
// status is left for the caller to finish.
func (c *Control) AwaitApproval(ctx context.Context, p ProposalPayload) (bool, error) {
	if approved, ok, err := c.priorReview(ctx, p.Key); err != nil || ok {
		if ok && approved {
			err = c.repo.SetStatus(ctx, c.jobID, Running, "")
		}
		return approved, err
	}

	p.ID = c.NewID()
	eventID, err := c.repo.AppendEvent(ctx, c.jobID, EventProposal, p)
	if err != nil {
		return false, fmt.Errorf("record proposal: %w", err)
	}
	if err := c.repo.SetStatus(ctx, c.jobID, Proposed, p.Summary); err != nil {
		return false, fmt.Errorf("propose: %w", err)
	}
	c.logf("awaiting approval: %s", p.Summary)

	var approved bool
	err = c.wait(ctx, func(e Event) (bool, error) {
		if e.ID <= eventID || (e.Type != EventApprove && e.Type != EventReject) {
			return false, nil
		}
		var r ReviewPayload
		if err := e.Decode(&r); err != nil {
			return false, nil
		}
		if r.ProposalID != "" && r.ProposalID != p.ID {
			return false, nil
		}
		approved = e.Type == EventApprove
		return true, nil
	})
	if err != nil {
		return false, err
	}
	if approved {
		if err := c.repo.SetStatus(ctx, c.jobID, Running, ""); err != nil {
			return false, fmt.Errorf("resume after approval: %w", err)
		}
	}
	c.logf("proposal %s approved=%v", p.ID, approved)
	return approved, nil
}

// priorAnswer finds an answer given in an earlier run to a question with key.
func (c *Control) priorAnswer(ctx context.Context, key string) (string, bool, error) {
	events, err := c.repo.EventsSince(ctx, c.jobID, 0)
	if err != nil {
		return "", false, fmt.Errorf("read events: %w", err)
	}
	open := ""
	for _, e := range events {
		switch e.Type {
		case EventQuestion:
			var q QuestionPayload
			if e.Decode(&q) == nil {
				if q.Key == key {
					open = q.ID
				} else {
					open = ""
				}
			}
		case EventUserInput, EventRetry:
			var in InputPayload
			if open == "" || e.Decode(&in) != nil {
				continue
			}
			if in.QuestionID == "" || in.QuestionID == open {
				if e.Type == EventRetry && in.Answer == "" {
					in.Answer = "retry"
				}
				return in.Answer, true, nil
			}
		}
	}
	return "", false, nil
}

// priorReview finds a review given in an earlier run to a proposal with key.
func (c *Control) priorReview(ctx context.Context, key string) (approved, ok bool, err error) {
	events, err := c.repo.EventsSince(ctx, c.jobID, 0)
	if err != nil {
		return false, false, fmt.Errorf("read events: %w", err)
	}
	open := ""
	for _, e := range events {
		switch e.Type {
		case EventProposal:
			var p ProposalPayload
			if e.Decode(&p) == nil {
				if p.Key == key {
					open = p.ID
				} else {
					open = ""
				}
			}
		case EventApprove, EventReject:
			var r ReviewPayload
			if open == "" || e.Decode(&r) != nil {
				continue
			}
			if r.ProposalID == "" || r.ProposalID == open {
				return e.Type == EventApprove, true, nil
			}
		}
	}
	return false, false, nil
}
