// Package queue dispatches pipeline runs asynchronously.
//
// Jobs are pushed onto a [Queue], picked up by a fixed set of workers in a
// [WorkerPool] and retried according to a [RetryPolicy]. Every state transition is
// recorded in a [Tracker] so callers can poll a job by id.
package queue

import (
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle position of a job.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Done reports whether the job has reached a terminal state.
func (s State) Done() bool {
	return s == StateSucceeded || s == StateFailed
}

// Job is one requested run of a pipeline against an application.
type Job struct {
	ID            uuid.UUID `json:"jobId"`
	ApplicationID string    `json:"applicationId"`
	PipelineID    string    `json:"pipelineId"`
	State         State     `json:"status"`
	Attempts      int       `json:"attempts"`
	FinalStatus   string    `json:"finalStatus,omitempty"`
	LastError     string    `json:"lastError,omitempty"`
	EnqueuedAt    time.Time `json:"enqueuedAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// NewJob returns a pending job with a fresh id.
func NewJob(applicationID, pipelineID string, now time.Time) Job {
	return Job{
		ID:            uuid.New(),
		ApplicationID: applicationID,
		PipelineID:    pipelineID,
		State:         StatePending,
		EnqueuedAt:    now,
		UpdatedAt:     now,
	}
}
