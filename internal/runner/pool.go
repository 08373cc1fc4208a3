package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/lucasnoah/autotriage/internal/job"
)

// DefaultIdleInterval is how long a worker sleeps when the queue is empty.
const DefaultIdleInterval = 2 * time.Second

// Pool runs queued jobs on a fixed number of workers.
type Pool struct {
	runner   *Runner
	store    Store
	workers  int
	idle     time.Duration
	name     string
	progress io.Writer
}

// NewPool creates a Pool. workers below 1 is treated as 1.
func NewPool(r *Runner, s Store, workers int, idle time.Duration) *Pool {
	if workers < 1 {
		workers = 1
	}
	if idle <= 0 {
		idle = DefaultIdleInterval
	}
	host, _ := os.Hostname()
	if host == "" {
		host = "worker"
	}
	return &Pool{runner: r, store: s, workers: workers, idle: idle, name: fmt.Sprintf("%s-%d", host, os.Getpid())}
}

// SetProgress sets a writer for live progress output.
func (p *Pool) SetProgress(w io.Writer) {
	p.progress = w
}

func (p *Pool) logf(format string, args ...any) {
	if p.progress != nil {
		fmt.Fprintf(p.progress, format+"\n", args...)
	}
}

// Run blocks until ctx is cancelled. Each worker claims the oldest queued
// job and runs it to a terminal status before claiming another.
func (p *Pool) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p.work(ctx, fmt.Sprintf("%s/%d", p.name, n))
		}(i)
	}
	wg.Wait()
	return ctx.Err()
}

// Drain runs queued jobs on the calling goroutine until none are left.
func (p *Pool) Drain(ctx context.Context) ([]Result, error) {
	var out []Result
	for {
		res, ok, err := p.next(ctx, p.name)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		if res != nil {
			out = append(out, *res)
		}
	}
}

func (p *Pool) work(ctx context.Context, worker string) {
	for ctx.Err() == nil {
		_, ok, err := p.next(ctx, worker)
		if err != nil && ctx.Err() == nil {
			p.logf("[%s] %v", worker, err)
		}
		if ok && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
		case <-time.After(p.idle):
		}
	}
}

// next claims and runs one job. ok is false when the queue is empty.
func (p *Pool) next(ctx context.Context, worker string) (*Result, bool, error) {
	j, err := p.store.ClaimNext(ctx, worker)
	if err != nil {
		return nil, false, fmt.Errorf("claim job: %w", err)
	}
	if j == nil {
		return nil, false, nil
	}
	p.logf("[%s] claimed job %d (%s %s)", worker, j.ID, j.Action, j.FullRepo())
	res, err := p.runner.Run(ctx, Request{JobID: j.ID})
	if errors.Is(err, job.ErrTerminal) {
		// Aborted between claim and start.
		return nil, true, nil
	}
	if err != nil {
		return nil, true, fmt.Errorf("run job %d: %w", j.ID, err)
	}
	p.logf("[%s] job %d %s", worker, res.JobID, res.Status)
	return res, true, nil
}
