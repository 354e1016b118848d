// Package pipeline defines the contract between the task orchestrator
// and the external content-generation pipeline. The pipeline itself
// (post discovery, text and image generation, product creation) lives
// outside this system; the orchestrator only invokes it as an opaque,
// long-running operation that reports stage and percentage callbacks.
package pipeline

import (
	"context"

	"github.com/sctennis77/zazzle-agent-sub000/internal/domain"
)

// ProgressFunc is invoked by the pipeline at stage boundaries to report
// the current stage label and overall percentage. The returned error is
// the cooperative cancellation channel: when it is ErrCancelRequested
// the pipeline is expected to abort promptly and return that error from
// Run.
type ProgressFunc func(stage string, progress int) error

// Pipeline runs the content-generation pipeline for one commission
// task. Implementations must honor ctx cancellation and the error
// returned by report; any internal failure is normalized by the caller
// into a single error string on the task.
type Pipeline interface {
	Run(ctx context.Context, task *domain.Task, report ProgressFunc) error
}

// RefundSignaler is the compensating-action collaborator invoked
// exactly once when a task fails. The payment system owns the actual
// refund; this system only delivers the signal.
type RefundSignaler interface {
	SignalRefund(ctx context.Context, commissionRef string, reason string) error
}
