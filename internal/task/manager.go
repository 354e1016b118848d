package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sctennis77/zazzle-agent-sub000/internal/domain"
	"github.com/sctennis77/zazzle-agent-sub000/internal/store"
)

// ManagerConfig holds configuration for the task manager.
type ManagerConfig struct {
	// WorkerCount determines how many concurrent dispatch workers pull
	// from the queue. For in-process tasks this is also the execution
	// concurrency bound.
	WorkerCount int

	// QueuePollInterval is how often an idle worker re-checks the queue
	// for tasks admitted by other replicas.
	QueuePollInterval time.Duration

	// LivenessTimeout is the maximum allowed silence from an
	// in_progress task before it is forcibly failed.
	LivenessTimeout time.Duration

	// LivenessCheckInterval defines how often to sweep for silent tasks.
	LivenessCheckInterval time.Duration
}

// DefaultManagerConfig returns a ManagerConfig with reasonable defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		WorkerCount:           2,
		QueuePollInterval:     2 * time.Second,
		LivenessTimeout:       10 * time.Minute,
		LivenessCheckInterval: time.Minute,
	}
}

// AdmitRequest carries the parameters of a task admission. The
// commission reference identifies the confirmed payment; admission is
// idempotent on it.
type AdmitRequest struct {
	CommissionRef string
	Type          domain.TaskType
	Priority      int
	Commission    domain.CommissionRequest
}

// Manager is the orchestrator: it admits new tasks, drives
// queue -> dispatch -> execution -> completion, applies cancellation
// and forces a liveness failure on silent tasks. All state lives in
// the task store; the Manager holds no task state of its own, so any
// replica can pick up any task.
type Manager struct {
	store     store.TaskStore
	bus       ProgressBus
	reporter  Reporter
	queue     *Queue
	executors map[domain.TaskType]Executor
	config    ManagerConfig
	logger    *slog.Logger

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewManager creates a task manager. The executors map must contain an
// entry for every task type admission accepts.
func NewManager(
	taskStore store.TaskStore,
	bus ProgressBus,
	reporter Reporter,
	executors map[domain.TaskType]Executor,
	config ManagerConfig,
	logger *slog.Logger,
) *Manager {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for Manager")
	}
	if config.WorkerCount <= 0 {
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
		config.WorkerCount = 1
	}
	if config.LivenessCheckInterval <= 0 {
		config.LivenessCheckInterval = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		store:      taskStore,
		bus:        bus,
		reporter:   reporter,
		queue:      NewQueue(taskStore, config.QueuePollInterval, logger),
		executors:  executors,
		config:     config,
		logger:     logger.With("component", "task_manager"),
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

// Queue exposes the manager's queue, used by the API layer to wake
// dispatch after out-of-band admissions in tests.
func (m *Manager) Queue() *Queue {
	return m.queue
}

// Start runs the recovery sweep, then launches the dispatch workers
// and the liveness monitor.
func (m *Manager) Start() error {
	if _, err := m.queue.RecoverReserved(m.ctx); err != nil {
		return fmt.Errorf("failed to recover reserved tasks: %w", err)
	}

	for i := 0; i < m.config.WorkerCount; i++ {
		m.wg.Add(1)
		go m.worker(i)
	}

	m.wg.Add(1)
	go m.livenessMonitor()

	m.logger.Info("task manager started",
		"worker_count", m.config.WorkerCount,
		"liveness_timeout", m.config.LivenessTimeout)
	return nil
}

// Stop gracefully shuts down the manager, waiting for in-flight
// executions to finish.
func (m *Manager) Stop() {
	m.cancelFunc()
	m.wg.Wait()
	m.logger.Info("task manager stopped")
}

// Admit validates and creates a task for a confirmed commission. When
// a non-terminal task already exists for the commission reference, the
// existing task is returned and created is false (idempotent
// admission). On success the task is pending, enqueued, and a
// task_created event has been published.
func (m *Manager) Admit(ctx context.Context, req AdmitRequest) (t *domain.Task, created bool, err error) {
	if !domain.IsValidTaskType(req.Type) {
		return nil, false, domain.ErrInvalidTaskType
	}
	if _, ok := m.executors[req.Type]; !ok {
		return nil, false, fmt.Errorf("%w: no executor registered for %q",
			domain.ErrInvalidTaskType, req.Type)
	}

	if existing, err := m.store.GetActiveTaskByCommissionRef(ctx, req.CommissionRef); err == nil {
		m.logger.Info("admission matched existing active task",
			"task_id", existing.ID,
			"commission_ref", req.CommissionRef)
		return existing, false, nil
	} else if !errors.Is(err, store.ErrTaskNotFound) {
		return nil, false, fmt.Errorf("failed to check commission reference: %w", err)
	}

	t, err = domain.NewTask(req.Type, req.CommissionRef, req.Priority, req.Commission)
	if err != nil {
		return nil, false, err
	}

	if err := m.store.CreateTask(ctx, t); err != nil {
		if errors.Is(err, store.ErrDuplicateCommission) {
			// Lost a concurrent admission race; return the winner's task.
			existing, lookupErr := m.store.GetActiveTaskByCommissionRef(ctx, req.CommissionRef)
			if lookupErr == nil {
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("failed to create task: %w", err)
	}

	m.logger.Info("task admitted",
		"task_id", t.ID,
		"task_type", t.Type,
		"priority", t.Priority,
		"commission_ref", t.CommissionRef)

	m.publish(ctx, domain.NewProgressEvent(domain.EventTaskCreated, t))
	m.queue.Notify()

	return t, true, nil
}

// Get retrieves a task by ID.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return m.store.GetTask(ctx, id)
}

// List returns all tasks, optionally restricted to active ones.
func (m *Manager) List(ctx context.Context, activeOnly bool) ([]*domain.Task, error) {
	return m.store.ListTasks(ctx, activeOnly)
}

// Cancel requests cancellation of a task. A pending (or reserved) task
// transitions to cancelled immediately; an in_progress task only gets
// its cancellation flag set and transitions once the worker
// acknowledges the abort at a stage boundary. Cancelling an
// already-terminal task is a no-op. The returned snapshot reflects the
// state after this call.
func (m *Manager) Cancel(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	t, err := m.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.IsTerminal() {
		return t, nil
	}

	transitioned, err := m.store.CancelBeforeDispatch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel task: %w", err)
	}
	if transitioned {
		t, err = m.store.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		m.logger.Info("cancelled task before dispatch", "task_id", id)
		m.publish(ctx, domain.NewProgressEvent(domain.EventTaskUpdate, t))
		return t, nil
	}

	// Already dispatched: set the cooperative flag. Cancellation is
	// advisory from here on; a completed/failed that races past the
	// flag is honored as-is.
	t, err = m.store.RequestCancel(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotRunning) {
			// Reached a terminal state between our read and the flag write.
			return m.store.GetTask(ctx, id)
		}
		return nil, fmt.Errorf("failed to request task cancellation: %w", err)
	}

	m.logger.Info("cancellation requested for running task", "task_id", id)
	return t, nil
}

// worker pulls tasks from the queue and dispatches them until the
// manager is stopped.
func (m *Manager) worker(id int) {
	defer m.wg.Done()

	log := m.logger.With("worker_id", id)
	log.Debug("starting dispatch worker")

	for {
		t, err := m.queue.Next(m.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Debug("stopping dispatch worker")
				return
			}
			log.Error("failed to pull next task", "error", err)
			select {
			case <-m.ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		m.dispatch(t, log)
	}
}

// dispatch hands a reserved task to its executor. Execution errors
// never reach here; an Execute error means the dispatch itself failed
// and the task goes back to pending.
func (m *Manager) dispatch(t *domain.Task, log *slog.Logger) {
	executor, ok := m.executors[t.Type]
	if !ok {
		// Admission validates the type, so this is a deployment mismatch
		// (e.g. a replica without the executor pulled the task). Requeue
		// for a replica that can run it.
		log.Error("no executor for task type", "task_id", t.ID, "task_type", t.Type)
		if err := m.queue.Requeue(m.ctx, t.ID); err != nil {
			log.Error("failed to requeue task", "task_id", t.ID, "error", err)
		}
		return
	}

	log.Info("dispatching task", "task_id", t.ID, "task_type", t.Type)

	if err := executor.Execute(m.ctx, t); err != nil {
		log.Error("dispatch failed, requeueing task",
			"task_id", t.ID,
			"task_type", t.Type,
			"error", err)
		if requeueErr := m.queue.Requeue(m.ctx, t.ID); requeueErr != nil {
			log.Error("failed to requeue task after dispatch failure",
				"task_id", t.ID,
				"error", requeueErr)
		}
	}
}

func (m *Manager) publish(ctx context.Context, event domain.ProgressEvent) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(ctx, event); err != nil {
		m.logger.Error("failed to publish task event",
			"task_id", event.TaskID,
			"event_type", event.Type,
			"error", err)
	}
}
