package decision

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Store persists applications, pipeline configuration and run history.
type Store interface {
	GetApplication(ctx context.Context, id string) (*Application, error)
	SaveApplication(ctx context.Context, app *Application) error

	GetPipeline(ctx context.Context, id string) (*Pipeline, error)
	SavePipeline(ctx context.Context, p *Pipeline) error

	// ListRuns returns the runs for an application, newest first, each with its
	// step logs in execution order.
	ListRuns(ctx context.Context, applicationID string) ([]Run, error)

	// WithApplicationLock takes the exclusive lock on an application and calls fn with a
	// unit of work scoped to it. The unit commits only if fn returns nil; on any error or
	// panic every staged write is discarded. The lock is released on every path.
	// ErrApplicationNotFound is returned, without calling fn, if the application does
	// not exist.
	WithApplicationLock(ctx context.Context, applicationID string, fn func(ctx context.Context, uow UnitOfWork) error) error

	Ping(ctx context.Context) error
}

// UnitOfWork is the write set of one run. Nothing written through it is visible to
// other readers until the surrounding WithApplicationLock commits.
type UnitOfWork interface {
	// Application is the locked application as read at lock time.
	Application() *Application

	CreateRun(ctx context.Context, pipelineID string, start time.Time) (int64, error)
	AppendStepLog(ctx context.Context, log StepLog) error
	SetApplicationStatus(ctx context.Context, status Status) error
	CompleteRun(ctx context.Context, runID int64, status Status, end time.Time) error
}

// LockPolicy decides what a run does when another run holds its application.
type LockPolicy string

const (
	// LockWait queues behind the holder until the context ends.
	LockWait LockPolicy = "wait"
	// LockNoWait fails immediately with ErrLockUnavailable.
	LockNoWait LockPolicy = "nowait"
)

// ParseLockPolicy accepts "wait" (or empty) and "nowait".
func ParseLockPolicy(s string) (LockPolicy, error) {
	switch LockPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", LockWait:
		return LockWait, nil
	case LockNoWait:
		return LockNoWait, nil
	}
	return "", fmt.Errorf("invalid lock policy %q (want wait or nowait)", s)
}
