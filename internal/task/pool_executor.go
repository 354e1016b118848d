package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sctennis77/zazzle-agent-sub000/internal/domain"
	"github.com/sctennis77/zazzle-agent-sub000/internal/pipeline"
	"github.com/sctennis77/zazzle-agent-sub000/internal/store"
)

// PoolExecutor is the in-process worker strategy: it runs the pipeline
// call inside the dispatching worker goroutine, so concurrency is
// bounded by the Manager's worker count and backpressure keeps excess
// tasks pending in the queue.
type PoolExecutor struct {
	pipeline pipeline.Pipeline
	reporter Reporter
	logger   *slog.Logger
}

// NewPoolExecutor creates the in-process executor.
func NewPoolExecutor(p pipeline.Pipeline, reporter Reporter, logger *slog.Logger) *PoolExecutor {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for PoolExecutor")
	}
	return &PoolExecutor{
		pipeline: p,
		reporter: reporter,
		logger:   logger.With("component", "pool_executor"),
	}
}

var _ Executor = (*PoolExecutor)(nil)

// Execute runs the pipeline synchronously, forwarding stage callbacks
// to the reporter and reporting the terminal outcome exactly once.
// A panic inside the pipeline collaborator is caught at this boundary
// and normalized into a task failure.
func (e *PoolExecutor) Execute(ctx context.Context, t *domain.Task) error {
	if err := e.reporter.ReportStarted(ctx, t.ID); err != nil {
		if errors.Is(err, store.ErrTaskNotClaimable) {
			// Cancelled between the queue claim and dispatch. Nothing to run.
			e.logger.Info("skipping execution of non-claimable task", "task_id", t.ID)
			return nil
		}
		return fmt.Errorf("failed to start task: %w", err)
	}

	runErr := e.run(ctx, t)
	e.reporter.ReportCompletion(ctx, t.ID, runErr)
	return nil
}

func (e *PoolExecutor) run(ctx context.Context, t *domain.Task) (runErr error) {
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("pipeline panicked", "task_id", t.ID, "panic", p)
			runErr = fmt.Errorf("pipeline panic: %v", p)
		}
	}()

	report := func(stage string, progress int) error {
		return e.reporter.ReportProgress(ctx, t.ID, stage, progress)
	}
	return e.pipeline.Run(ctx, t, report)
}
