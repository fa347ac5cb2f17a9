package decision

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is wrapped by every not-found error the engine returns.
	ErrNotFound = errors.New("not found")

	ErrApplicationNotFound = fmt.Errorf("application %w", ErrNotFound)
	ErrPipelineNotFound    = fmt.Errorf("pipeline %w", ErrNotFound)

	// ErrLockUnavailable is returned under the nowait lock policy when another run
	// holds the application.
	ErrLockUnavailable = errors.New("application is locked by another run")
)

// ExecutionError reports a run that was aborted and rolled back.
type ExecutionError struct {
	ApplicationID string
	PipelineID    string
	Err           error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("run of pipeline %s for application %s failed: %v", e.PipelineID, e.ApplicationID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Retryable reports whether err is worth dispatching again. Not-found errors never are.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrNotFound)
}
