// Package api provides HTTP handlers for the API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/sctennis77/zazzle-agent-sub000/internal/api/shared"
	"github.com/sctennis77/zazzle-agent-sub000/internal/domain"
	"github.com/sctennis77/zazzle-agent-sub000/internal/platform/logger"
	"github.com/sctennis77/zazzle-agent-sub000/internal/store"
	"github.com/sctennis77/zazzle-agent-sub000/internal/task"
)

// TaskService is the orchestration surface the handler depends on.
// *task.Manager is the production implementation.
type TaskService interface {
	Admit(ctx context.Context, req task.AdmitRequest) (*domain.Task, bool, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	List(ctx context.Context, activeOnly bool) ([]*domain.Task, error)
	Cancel(ctx context.Context, id uuid.UUID) (*domain.Task, error)
}

// CreateTaskRequest is the request body for task admission.
type CreateTaskRequest struct {
	CommissionRef string                   `json:"commission_ref" validate:"required"`
	TaskType      string                   `json:"task_type"      validate:"required,oneof=in_process isolated_job"`
	Priority      int                      `json:"priority"       validate:"gte=0,lte=100"`
	Commission    domain.CommissionRequest `json:"commission"`
}

// TaskResponse represents the response data for a task. The internal
// reserved state is reported as pending.
type TaskResponse struct {
	TaskID        string     `json:"task_id"`
	TaskType      string     `json:"task_type"`
	Status        string     `json:"status"`
	Priority      int        `json:"priority"`
	CommissionRef string     `json:"commission_ref"`
	Stage         string     `json:"stage,omitempty"`
	Progress      int        `json:"progress"`
	Error         string     `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// TaskHandler handles task-related HTTP requests.
type TaskHandler struct {
	service  TaskService
	validate *validator.Validate
	logger   *slog.Logger
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(service TaskService, logger *slog.Logger) *TaskHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for TaskHandler")
	}
	return &TaskHandler{
		service:  service,
		validate: validator.New(),
		logger:   logger.With(slog.String("component", "task_handler")),
	}
}

// CreateTask handles POST /tasks requests. Admission is idempotent on
// the commission reference: when a non-terminal task already exists
// for it, that task is returned with 200 instead of creating a
// duplicate.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		log.Debug("create task validation failed", slog.String("error", err.Error()))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task parameters")
		return
	}

	t, created, err := h.service.Admit(r.Context(), task.AdmitRequest{
		CommissionRef: req.CommissionRef,
		Type:          domain.TaskType(req.TaskType),
		Priority:      req.Priority,
		Commission:    req.Commission,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTaskType) {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task type")
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to create task", err)
		return
	}

	status := http.StatusCreated
	if !created {
		// Existing active task for this commission reference.
		status = http.StatusOK
	}

	log.Debug("task admission handled",
		slog.String("task_id", t.ID.String()),
		slog.Bool("created", created))
	shared.RespondWithJSON(w, r, status, taskToResponse(t))
}

// ListTasks handles GET /tasks requests. The active query parameter
// restricts the result to pending and in-progress tasks.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"

	tasks, err := h.service.List(r.Context(), activeOnly)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to list tasks", err)
		return
	}

	responses := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		responses = append(responses, taskToResponse(t))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, responses)
}

// GetTask handles GET /tasks/{id} requests.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskIDFromPath(w, r)
	if !ok {
		return
	}

	t, err := h.service.Get(r.Context(), id)
	if err != nil {
		if store.IsNotFoundError(err) {
			shared.RespondWithError(w, r, http.StatusNotFound, "Task not found")
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to get task", err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(t))
}

// CancelTask handles DELETE /tasks/{id} requests. Cancellation of an
// already-terminal task is a no-op; for a running task the response
// reflects that cancellation was requested, not that it happened.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	id, ok := h.taskIDFromPath(w, r)
	if !ok {
		return
	}

	t, err := h.service.Cancel(r.Context(), id)
	if err != nil {
		if store.IsNotFoundError(err) {
			shared.RespondWithError(w, r, http.StatusNotFound, "Task not found")
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
			"Failed to cancel task", err)
		return
	}

	log.Debug("cancellation requested",
		slog.String("task_id", id.String()),
		slog.String("status", string(t.Status)))
	shared.RespondWithJSON(w, r, http.StatusAccepted, taskToResponse(t))
}

func (h *TaskHandler) taskIDFromPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	pathID := chi.URLParam(r, "id")
	if pathID == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Task ID is required")
		return uuid.Nil, false
	}

	id, err := uuid.Parse(pathID)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID format")
		return uuid.Nil, false
	}
	return id, true
}

// taskToResponse transforms a domain task into its API representation.
func taskToResponse(t *domain.Task) TaskResponse {
	return TaskResponse{
		TaskID:        t.ID.String(),
		TaskType:      string(t.Type),
		Status:        string(t.PublicStatus()),
		Priority:      t.Priority,
		CommissionRef: t.CommissionRef,
		Stage:         t.Stage,
		Progress:      t.Progress,
		Error:         t.ErrorMessage,
		CreatedAt:     t.CreatedAt,
		StartedAt:     t.StartedAt,
		CompletedAt:   t.CompletedAt,
	}
}
