package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sctennis77/zazzle-agent-sub000/internal/domain"
	"github.com/sctennis77/zazzle-agent-sub000/internal/store"
)

// JobSubmitter hands a task to the out-of-process job runner. The
// redis implementation pushes onto the job queue consumed by the
// jobworker binary; the runner's own scheduler bounds isolated-job
// concurrency, not this subsystem.
type JobSubmitter interface {
	SubmitJob(ctx context.Context, t *domain.Task) error
}

// JobExecutor is the isolated worker strategy: Execute only confirms
// submission and does not block for the pipeline. Progress arrives
// asynchronously from the job process, which persists through the
// shared task store and publishes on the progress bus under the same
// task ID. A job that dies silently is declared lost by the liveness
// monitor.
type JobExecutor struct {
	submitter JobSubmitter
	reporter  Reporter
	logger    *slog.Logger
}

// NewJobExecutor creates the isolated-job executor.
func NewJobExecutor(submitter JobSubmitter, reporter Reporter, logger *slog.Logger) *JobExecutor {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for JobExecutor")
	}
	return &JobExecutor{
		submitter: submitter,
		reporter:  reporter,
		logger:    logger.With("component", "job_executor"),
	}
}

var _ Executor = (*JobExecutor)(nil)

// Execute submits the job and marks the task started. A submission
// failure leaves the task reserved so the caller can requeue it; that
// is the one dispatch error the queue contract retries.
func (e *JobExecutor) Execute(ctx context.Context, t *domain.Task) error {
	if err := e.submitter.SubmitJob(ctx, t); err != nil {
		return fmt.Errorf("failed to submit isolated job: %w", err)
	}

	e.logger.Info("submitted isolated job", "task_id", t.ID)

	// MarkInProgress is idempotent for in_progress, so it does not
	// matter whether this replica or the job process reports the start
	// first.
	if err := e.reporter.ReportStarted(ctx, t.ID); err != nil {
		if errors.Is(err, store.ErrTaskNotClaimable) {
			// Cancelled between claim and submission; the job process will
			// observe the terminal state and drop its callbacks.
			e.logger.Info("submitted job for task no longer claimable", "task_id", t.ID)
			return nil
		}
		e.logger.Error("failed to mark submitted job started",
			"task_id", t.ID,
			"error", err)
	}
	return nil
}
