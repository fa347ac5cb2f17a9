// Package decision runs loan-decision pipelines.
//
// An [Executor] takes the exclusive lock on one application, runs the pipeline's steps
// in order, folds each result into an outcome context, resolves the final status from
// the pipeline's terminal rules and commits the status, the run record and every step
// log as one unit. Any fault other than a missing application or pipeline discards the
// whole write set and is reported as an [*ExecutionError].
package decision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/liamcoop/loanorchestrator/condition"
	"github.com/liamcoop/loanorchestrator/internal/logger"
	"github.com/liamcoop/loanorchestrator/steps"
)

// Executor runs pipelines against applications.
type Executor struct {
	store    Store
	registry *steps.Registry
	now      func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock replaces time.Now for run and step timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// NewExecutor creates an executor over store using the processors in registry.
func NewExecutor(store Store, registry *steps.Registry, opts ...Option) *Executor {
	e := &Executor{
		store:    store,
		registry: registry,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes pipelineID against applicationID and returns the completed run.
//
// Errors wrap ErrApplicationNotFound or ErrPipelineNotFound when either id is unknown
// (nothing is written), ErrLockUnavailable under the nowait lock policy, and are an
// *ExecutionError for everything else.
func (e *Executor) Run(ctx context.Context, applicationID, pipelineID string) (*Run, error) {
	logger.RunsStarted.Add(1)
	logger.Debug("pipeline run starting", "application_id", applicationID, "pipeline_id", pipelineID)

	var run *Run
	err := e.store.WithApplicationLock(ctx, applicationID, func(ctx context.Context, uow UnitOfWork) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic during run: %v", r)
			}
		}()

		pipeline, err := e.store.GetPipeline(ctx, pipelineID)
		if err != nil {
			return err
		}
		run, err = e.execute(ctx, uow, pipeline)
		return err
	})
	if err != nil {
		logger.RunsFailed.Add(1)
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrLockUnavailable) {
			logger.Warn("pipeline run not started", "application_id", applicationID, "pipeline_id", pipelineID, "error", err)
			return nil, err
		}
		logger.Error("pipeline run aborted", "application_id", applicationID, "pipeline_id", pipelineID, "error", err)
		return nil, &ExecutionError{ApplicationID: applicationID, PipelineID: pipelineID, Err: err}
	}

	logger.RunsSucceeded.Add(1)
	logger.Info("pipeline run completed",
		"application_id", applicationID,
		"pipeline_id", pipelineID,
		"run_id", run.ID,
		"final_status", *run.FinalStatus,
		"steps", len(run.StepLogs))
	return run, nil
}

func (e *Executor) execute(ctx context.Context, uow UnitOfWork, pipeline *Pipeline) (*Run, error) {
	app := uow.Application()
	start := e.now()
	runID, err := uow.CreateRun(ctx, pipeline.ID, start)
	if err != nil {
		return nil, err
	}
	run := &Run{ID: runID, ApplicationID: app.ID, PipelineID: pipeline.ID, StartTime: start}

	ordered := clonePipeline(pipeline)
	snapshot := app.Snapshot()
	outcomes := condition.Context{}

	for _, sc := range ordered.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, ok := e.registry.Run(ctx, sc.StepType, snapshot, sc.Params)
		if !ok {
			logger.StepsSkipped.Add(1)
			logger.Warn("unknown step type, skipping",
				"application_id", app.ID, "pipeline_id", pipeline.ID, "run_id", runID, "step_type", sc.StepType)
			continue
		}
		outcomes[sc.StepType] = result

		entry := StepLog{
			RunID:         runID,
			StepType:      sc.StepType,
			Outcome:       result.Outcome,
			Detail:        result.Detail,
			ExecutionTime: e.now(),
		}
		if err := uow.AppendStepLog(ctx, entry); err != nil {
			return nil, err
		}
		run.StepLogs = append(run.StepLogs, entry)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	final := resolveStatus(ordered.Rules, outcomes, runID)
	if err := uow.SetApplicationStatus(ctx, final); err != nil {
		return nil, err
	}
	end := e.now()
	if err := uow.CompleteRun(ctx, runID, final, end); err != nil {
		return nil, err
	}
	run.EndTime = &end
	run.FinalStatus = &final
	return run, nil
}

// resolveStatus returns the final status of the first rule, in order, whose condition
// holds. A rule whose condition cannot be evaluated, or whose status is not a decision
// state, does not match. Without a match the result is NEEDS_REVIEW.
func resolveStatus(rules []TerminalRule, outcomes condition.Context, runID int64) Status {
	for _, rule := range rules {
		matched, err := condition.Evaluate(rule.Condition, outcomes)
		if err != nil {
			logger.RuleFaults.Add(1)
			logger.Warn("terminal rule skipped",
				"run_id", runID, "rule_order", rule.Order, "condition", rule.Condition, "error", err)
			continue
		}
		if !matched {
			continue
		}
		if !rule.FinalStatus.Valid() {
			logger.RuleFaults.Add(1)
			logger.Warn("terminal rule has invalid final status",
				"run_id", runID, "rule_order", rule.Order, "final_status", rule.FinalStatus)
			continue
		}
		return rule.FinalStatus
	}
	return StatusNeedsReview
}
