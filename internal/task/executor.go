package task

import (
	"context"

	"github.com/google/uuid"
	"github.com/sctennis77/zazzle-agent-sub000/internal/domain"
)

// Executor is the worker strategy interface. Two implementations
// exist: PoolExecutor runs the pipeline in-process on a bounded worker
// pool, JobExecutor submits the task to an out-of-process job runner.
// The strategy is selected by task type at admission and is immutable
// for the task's lifetime; neither implementation may depend on the
// other's internals.
//
// Execute returns an error only when dispatch failed before execution
// started (the task is still reserved and should be requeued). Every
// outcome after execution starts, including failure, is reported
// through the Reporter exactly once.
type Executor interface {
	Execute(ctx context.Context, t *domain.Task) error
}

// Reporter receives execution lifecycle callbacks from a worker
// strategy and applies them to the task store and the progress bus.
// The Manager's ProgressReporter is the production implementation; the
// out-of-process job runner carries its own instance of the same type.
type Reporter interface {
	// ReportStarted transitions the task to in_progress. Returns
	// store.ErrTaskNotClaimable when the task was cancelled between the
	// queue claim and the dispatch; the strategy must then skip
	// execution.
	ReportStarted(ctx context.Context, taskID uuid.UUID) error

	// ReportProgress records a stage/percentage callback. Returns
	// pipeline.ErrCancelRequested when the task's cancellation flag is
	// set, which the pipeline observes at the next stage boundary.
	ReportProgress(ctx context.Context, taskID uuid.UUID, stage string, progress int) error

	// ReportCompletion records the terminal outcome. A nil runErr
	// completes the task; pipeline.ErrCancelRequested acknowledges the
	// cooperative abort; any other error fails the task and fires the
	// refund signal. Must be called exactly once per execution.
	ReportCompletion(ctx context.Context, taskID uuid.UUID, runErr error)
}
