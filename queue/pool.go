package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/liamcoop/loanorchestrator/internal/logger"
)

// HandlerFunc runs one attempt of a job and returns the final status it produced.
type HandlerFunc func(ctx context.Context, applicationID, pipelineID string) (string, error)

// RetryPolicy controls how failed attempts are repeated.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts per job, including the first.
	MaxAttempts int
	// Backoff is the fixed pause between attempts.
	Backoff time.Duration
	// JobTimeout bounds each attempt. Zero means no per-attempt limit.
	JobTimeout time.Duration
	// Retryable decides whether an error is worth another attempt. Nil retries every error.
	Retryable func(error) bool
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) retryable(err error) bool {
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

// WorkerPool pulls jobs off a Queue and runs them with a fixed number of workers.
type WorkerPool struct {
	queue   Queue
	tracker *Tracker
	handler HandlerFunc
	policy  RetryPolicy
	workers int
	now     func() time.Time
}

// NewWorkerPool creates a pool of workers goroutines consuming q.
func NewWorkerPool(q Queue, handler HandlerFunc, workers int, policy RetryPolicy) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	return &WorkerPool{
		queue:   q,
		tracker: NewTracker(),
		handler: handler,
		policy:  policy,
		workers: workers,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Submit records a pending job and enqueues it.
func (p *WorkerPool) Submit(ctx context.Context, applicationID, pipelineID string) (Job, error) {
	job := NewJob(applicationID, pipelineID, p.now())
	p.tracker.Put(job)

	if err := p.queue.Enqueue(ctx, job); err != nil {
		p.tracker.Update(job.ID, func(j *Job) {
			j.State = StateFailed
			j.LastError = err.Error()
			j.UpdatedAt = p.now()
		})
		return Job{}, fmt.Errorf("failed to enqueue job: %w", err)
	}

	logger.Debug("job enqueued", "job_id", job.ID, "application_id", applicationID, "pipeline_id", pipelineID)
	return job, nil
}

// Status returns the latest recorded state of a job.
func (p *WorkerPool) Status(id uuid.UUID) (Job, bool) {
	return p.tracker.Get(id)
}

// Counts returns the number of tracked jobs per state.
func (p *WorkerPool) Counts() map[State]int {
	return p.tracker.Counts()
}

// Run starts the workers and blocks until ctx is cancelled or the queue is closed and
// drained. Neither is reported as an error.
func (p *WorkerPool) Run(ctx context.Context) error {
	logger.Info("worker pool starting", "workers", p.workers, "max_attempts", p.policy.attempts())

	g, gCtx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		worker := i
		g.Go(func() error {
			return p.work(gCtx, worker)
		})
	}

	err := g.Wait()
	logger.Info("worker pool stopped")
	return err
}

func (p *WorkerPool) work(ctx context.Context, worker int) error {
	for {
		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("worker %d: %w", worker, err)
		}
		p.process(ctx, worker, job)
	}
}

func (p *WorkerPool) process(ctx context.Context, worker int, job Job) {
	maxAttempts := p.policy.attempts()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		p.tracker.Update(job.ID, func(j *Job) {
			j.State = StateRunning
			j.Attempts = attempt
			j.UpdatedAt = p.now()
		})

		status, err := p.attempt(ctx, job)
		if err == nil {
			p.tracker.Update(job.ID, func(j *Job) {
				j.State = StateSucceeded
				j.FinalStatus = status
				j.LastError = ""
				j.UpdatedAt = p.now()
			})
			logger.Info("job succeeded", "job_id", job.ID, "worker", worker, "attempts", attempt, "final_status", status)
			return
		}

		retry := attempt < maxAttempts && p.policy.retryable(err) && ctx.Err() == nil
		p.tracker.Update(job.ID, func(j *Job) {
			j.LastError = err.Error()
			j.UpdatedAt = p.now()
			if !retry {
				j.State = StateFailed
			}
		})
		if !retry {
			logger.Error("job failed", "job_id", job.ID, "worker", worker, "attempts", attempt, "error", err)
			return
		}

		logger.Warn("job attempt failed, retrying", "job_id", job.ID, "attempt", attempt, "error", err)
		if !sleep(ctx, p.policy.Backoff) {
			p.tracker.Update(job.ID, func(j *Job) {
				j.State = StateFailed
				j.UpdatedAt = p.now()
			})
			return
		}
	}
}

func (p *WorkerPool) attempt(ctx context.Context, job Job) (status string, err error) {
	if p.policy.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.policy.JobTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in job handler: %v", r)
		}
	}()

	return p.handler(ctx, job.ApplicationID, job.PipelineID)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
