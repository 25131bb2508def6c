// Package jobs runs long-lived operations (publish, import) asynchronously
// and tracks their terminal state for polling. Jobs are not cancellable and
// never retried; a failed job reports its reason and the caller decides.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/transitkit/feedsmith/internal/apperror"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Job is the pollable state of one submitted operation. Result is set only on
// success, Error only on failure.
type Job struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Status     Status    `json:"status"`
	Result     any       `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt,omitzero"`
}

// Fn does the actual work. The returned value becomes the job's result.
type Fn func(ctx context.Context) (any, error)

// Coordinator owns the worker goroutines and the job table. Completed jobs
// stay in the table until Prune removes them.
type Coordinator struct {
	logger *slog.Logger

	mu   sync.Mutex
	jobs map[string]*Job
	wg   sync.WaitGroup

	baseCtx context.Context
	cancel  context.CancelFunc
}

func NewCoordinator(logger *slog.Logger) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		logger:  logger,
		jobs:    make(map[string]*Job),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Submit starts fn on its own goroutine and returns the job ID immediately.
// The job runs on the coordinator's base context, not the caller's request
// context, so it survives the submitting request.
func (c *Coordinator) Submit(kind string, fn Fn) string {
	job := &Job{
		ID:        xid.New().String(),
		Kind:      kind,
		Status:    StatusRunning,
		StartedAt: time.Now(),
	}
	c.mu.Lock()
	c.jobs[job.ID] = job
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		result, err := fn(c.baseCtx)

		c.mu.Lock()
		defer c.mu.Unlock()
		job.FinishedAt = time.Now()
		if err != nil {
			job.Status = StatusFailed
			job.Error = err.Error()
			c.logger.Error("job failed", "job_id", job.ID, "kind", kind, "error", err)
			return
		}
		job.Status = StatusSucceeded
		job.Result = result
		c.logger.Info("job finished", "job_id", job.ID, "kind", kind,
			"duration", job.FinishedAt.Sub(job.StartedAt))
	}()

	c.logger.Info("job submitted", "job_id", job.ID, "kind", kind)
	return job.ID
}

// Poll returns a copy of the job's current state.
func (c *Coordinator) Poll(id string) (*Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	job, ok := c.jobs[id]
	if !ok {
		return nil, apperror.NotFound("job", id)
	}
	snapshot := *job
	return &snapshot, nil
}

// Await polls until the job reaches a terminal state or ctx expires. A failed
// job surfaces as a job-failure error carrying the job's reason.
func (c *Coordinator) Await(ctx context.Context, id string) (*Job, error) {
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()

	for {
		job, err := c.Poll(id)
		if err != nil {
			return nil, err
		}
		switch job.Status {
		case StatusSucceeded:
			return job, nil
		case StatusFailed:
			return job, apperror.JobFailed(job.Kind, job.Error)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("awaiting job %s: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Prune drops terminal jobs older than maxAge and returns how many went.
func (c *Coordinator) Prune(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for id, job := range c.jobs {
		if job.Status != StatusRunning && job.FinishedAt.Before(cutoff) {
			delete(c.jobs, id)
			n++
		}
	}
	return n
}

// Close cancels the base context and waits for in-flight jobs to finish.
func (c *Coordinator) Close() {
	c.cancel()
	c.wg.Wait()
}
