package task

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/sctennis77/zazzle-agent-sub000/internal/domain"
	"github.com/sctennis77/zazzle-agent-sub000/internal/pipeline"
	"github.com/sctennis77/zazzle-agent-sub000/internal/store"
)

// ProgressReporter applies execution callbacks to the task store and
// publishes the resulting snapshot on the progress bus. Both the API
// replica (for in-process execution) and the job runner process (for
// isolated execution) use this same type, so the guarded store
// transitions are the only arbiter of who performs a given edge.
type ProgressReporter struct {
	store  store.TaskStore
	bus    ProgressBus
	refund pipeline.RefundSignaler
	logger *slog.Logger
}

// NewProgressReporter creates a reporter over the given store, bus and
// refund collaborator.
func NewProgressReporter(
	taskStore store.TaskStore,
	bus ProgressBus,
	refund pipeline.RefundSignaler,
	logger *slog.Logger,
) *ProgressReporter {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for ProgressReporter")
	}
	return &ProgressReporter{
		store:  taskStore,
		bus:    bus,
		refund: refund,
		logger: logger.With("component", "progress_reporter"),
	}
}

var _ Reporter = (*ProgressReporter)(nil)

// ReportStarted transitions the task to in_progress and publishes the
// first task_update.
func (r *ProgressReporter) ReportStarted(ctx context.Context, taskID uuid.UUID) error {
	if err := r.store.MarkInProgress(ctx, taskID); err != nil {
		return err
	}

	t, err := r.store.GetTask(ctx, taskID)
	if err != nil {
		r.logger.Error("failed to load task after start", "task_id", taskID, "error", err)
		return nil
	}
	r.publish(ctx, domain.NewProgressEvent(domain.EventTaskUpdate, t))
	return nil
}

// ReportProgress records a stage/percentage callback, publishes the
// update and surfaces the cooperative cancellation flag.
func (r *ProgressReporter) ReportProgress(
	ctx context.Context,
	taskID uuid.UUID,
	stage string,
	progress int,
) error {
	t, err := r.store.UpdateProgress(ctx, taskID, stage, progress)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotRunning) {
			// Late callback after a terminal transition; drop it.
			r.logger.Debug("dropping progress callback for non-running task",
				"task_id", taskID,
				"stage", stage,
				"progress", progress)
			return nil
		}
		return err
	}

	r.publish(ctx, domain.NewProgressEvent(domain.EventTaskUpdate, t))

	if t.CancelRequested {
		return pipeline.ErrCancelRequested
	}
	return nil
}

// ReportCompletion records the terminal outcome. The guarded store
// transition decides whether this call wins the edge; only the winner
// publishes the final event, and only a winning failure fires the
// refund signal, which is what makes the signal exactly-once.
func (r *ProgressReporter) ReportCompletion(ctx context.Context, taskID uuid.UUID, runErr error) {
	log := r.logger.With("task_id", taskID)

	var (
		transitioned bool
		err          error
	)

	switch {
	case runErr == nil:
		transitioned, err = r.store.CompleteTask(ctx, taskID)
	case errors.Is(runErr, pipeline.ErrCancelRequested):
		transitioned, err = r.store.AcknowledgeCancel(ctx, taskID)
	default:
		transitioned, err = r.store.FailTask(ctx, taskID, runErr.Error())
	}

	if err != nil {
		log.Error("failed to record terminal task state", "error", err)
		return
	}
	if !transitioned {
		// Another signal already closed the task (cancel/complete race,
		// duplicate terminal callback). Idempotent no-op.
		log.Debug("terminal signal for already-terminal task ignored")
		return
	}

	t, err := r.store.GetTask(ctx, taskID)
	if err != nil {
		log.Error("failed to load task after terminal transition", "error", err)
		return
	}

	r.publish(ctx, domain.NewProgressEvent(domain.EventTaskUpdate, t))

	switch t.Status {
	case domain.TaskStatusCompleted:
		log.Info("task completed")
	case domain.TaskStatusCancelled:
		log.Info("task cancelled")
	case domain.TaskStatusFailed:
		log.Error("task failed", "error", t.ErrorMessage)
		r.signalRefund(ctx, t)
	}
}

func (r *ProgressReporter) signalRefund(ctx context.Context, t *domain.Task) {
	if r.refund == nil {
		return
	}
	if err := r.refund.SignalRefund(ctx, t.CommissionRef, t.ErrorMessage); err != nil {
		r.logger.Error("failed to signal refund",
			"task_id", t.ID,
			"commission_ref", t.CommissionRef,
			"error", err)
	}
}

func (r *ProgressReporter) publish(ctx context.Context, event domain.ProgressEvent) {
	if r.bus == nil {
		return
	}
	if err := r.bus.Publish(ctx, event); err != nil {
		r.logger.Error("failed to publish progress event",
			"task_id", event.TaskID,
			"event_type", event.Type,
			"error", err)
	}
}

// LoggingRefundSignaler is a RefundSignaler that records the signal in
// the log. Deployments wire the real payment collaborator instead.
type LoggingRefundSignaler struct {
	logger *slog.Logger
}

// NewLoggingRefundSignaler creates a refund signaler that only logs.
func NewLoggingRefundSignaler(logger *slog.Logger) *LoggingRefundSignaler {
	return &LoggingRefundSignaler{logger: logger.With("component", "refund_signaler")}
}

// SignalRefund logs the refund request.
func (s *LoggingRefundSignaler) SignalRefund(
	ctx context.Context,
	commissionRef string,
	reason string,
) error {
	s.logger.Info("refund signaled",
		"commission_ref", commissionRef,
		"reason", reason)
	return nil
}
