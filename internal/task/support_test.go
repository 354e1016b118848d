package task

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/sctennis77/zazzle-agent-sub000/internal/domain"
	"github.com/sctennis77/zazzle-agent-sub000/internal/pipeline"
)

// testLogger returns a logger suitable for tests, discarding output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// recordingBus is a ProgressBus that records every published event.
type recordingBus struct {
	mu     sync.Mutex
	events []domain.ProgressEvent
}

func (b *recordingBus) Publish(ctx context.Context, event domain.ProgressEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *recordingBus) Events() []domain.ProgressEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.ProgressEvent, len(b.events))
	copy(out, b.events)
	return out
}

// countingRefundSignaler records refund signals per commission
// reference.
type countingRefundSignaler struct {
	mu    sync.Mutex
	calls []string
}

func (s *countingRefundSignaler) SignalRefund(
	ctx context.Context,
	commissionRef string,
	reason string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, commissionRef)
	return nil
}

func (s *countingRefundSignaler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// pipelineFunc adapts a closure into a pipeline.Pipeline.
type pipelineFunc func(ctx context.Context, t *domain.Task, report pipeline.ProgressFunc) error

func (f pipelineFunc) Run(
	ctx context.Context,
	t *domain.Task,
	report pipeline.ProgressFunc,
) error {
	return f(ctx, t, report)
}

// fakeReporter records reporter calls and lets tests script the
// ReportStarted outcome.
type fakeReporter struct {
	mu         sync.Mutex
	startedErr error

	started     []uuid.UUID
	progress    []string
	progressFn  func(stage string, progress int) error
	completions []error
}

func (r *fakeReporter) ReportStarted(ctx context.Context, taskID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startedErr != nil {
		return r.startedErr
	}
	r.started = append(r.started, taskID)
	return nil
}

func (r *fakeReporter) ReportProgress(
	ctx context.Context,
	taskID uuid.UUID,
	stage string,
	progress int,
) error {
	r.mu.Lock()
	r.progress = append(r.progress, stage)
	fn := r.progressFn
	r.mu.Unlock()

	if fn != nil {
		return fn(stage, progress)
	}
	return nil
}

func (r *fakeReporter) ReportCompletion(ctx context.Context, taskID uuid.UUID, runErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completions = append(r.completions, runErr)
}

func (r *fakeReporter) StartedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.started)
}

func (r *fakeReporter) Completions() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]error, len(r.completions))
	copy(out, r.completions)
	return out
}

// mustCreateTask persists a fresh pending task in the store.
func mustCreateTask(
	s *MemoryTaskStore,
	taskType domain.TaskType,
	commissionRef string,
	priority int,
) *domain.Task {
	t, err := domain.NewTask(taskType, commissionRef, priority, domain.CommissionRequest{
		AmountCents: 1000,
		Currency:    "usd",
		Subreddit:   "golang",
	})
	if err != nil {
		panic(err)
	}
	if err := s.CreateTask(context.Background(), t); err != nil {
		panic(err)
	}
	return t
}
