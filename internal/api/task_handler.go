package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/phrazzld/docsage-api/internal/api/shared"
	"github.com/phrazzld/docsage-api/internal/domain"
	"github.com/phrazzld/docsage-api/internal/platform/logger"
	"github.com/phrazzld/docsage-api/internal/service"
)

// TaskService defines the task operations used by TaskHandler.
type TaskService interface {
	CreateTask(ctx context.Context, ownerID uuid.UUID, req service.CreateTaskRequest) (*service.CreateTaskResult, error)
	Get(ctx context.Context, ownerID, taskID uuid.UUID) (*domain.Task, error)
	List(ctx context.Context, ownerID uuid.UUID, filter service.ListFilter, page, pageSize int) (*service.TaskPage, error)
	Cancel(ctx context.Context, ownerID, taskID uuid.UUID) (*domain.Task, error)
	Stats(ctx context.Context, ownerID uuid.UUID) (*service.TaskStats, error)
}

// TaskHandler handles task-related HTTP requests
type TaskHandler struct {
	tasks TaskService
}

// NewTaskHandler creates a new TaskHandler
func NewTaskHandler(tasks TaskService) *TaskHandler {
	return &TaskHandler{tasks: tasks}
}

// CreateTask handles POST /api/tasks requests.
// A newly dispatched task is answered with 202 Accepted; an existing active
// task or a cached result with 200 OK.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := handleUserID(w, r)
	if !ok {
		return
	}

	var req CreateTaskRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	contentID, err := uuid.Parse(req.ContentID)
	if err != nil {
		HandleAPIError(w, r, domain.NewValidationError("content_id", "has invalid format", domain.ErrInvalidID), "")
		return
	}

	result, err := h.tasks.CreateTask(r.Context(), userID, service.CreateTaskRequest{
		ContentID: contentID,
		Type:      domain.TaskType(req.Type),
		Options:   req.Options,
		Force:     req.Force,
	})
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	status := http.StatusOK
	if result.Outcome == service.OutcomeCreated {
		status = http.StatusAccepted
	}
	logger.FromContext(r.Context()).Debug("task requested",
		"task_id", result.Task.ID,
		"outcome", result.Outcome,
		"user_id", userID)

	shared.RespondWithJSON(w, r, status, CreateTaskResponse{
		Task:    taskToResponse(result.Task),
		Outcome: string(result.Outcome),
	})
}

// GetTask handles GET /api/tasks/{id} requests.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	userID, taskID, ok := handleUserIDAndPathUUID(w, r, "id")
	if !ok {
		return
	}

	t, err := h.tasks.Get(r.Context(), userID, taskID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(t))
}

// ListTasks handles GET /api/tasks requests with optional status, type,
// page, and page_size query parameters.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	userID, ok := handleUserID(w, r)
	if !ok {
		return
	}

	page, err := queryInt(r, "page", 1)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	pageSize, err := queryInt(r, "page_size", service.DefaultPageSize)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	query := r.URL.Query()
	result, err := h.tasks.List(r.Context(), userID, service.ListFilter{
		Status: domain.TaskStatus(query.Get("status")),
		Type:   domain.TaskType(query.Get("type")),
	}, page, pageSize)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, taskPageToResponse(result))
}

// CancelTask handles POST /api/tasks/{id}/cancel requests.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	userID, taskID, ok := handleUserIDAndPathUUID(w, r, "id")
	if !ok {
		return
	}

	t, err := h.tasks.Cancel(r.Context(), userID, taskID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(t))
}

// GetStats handles GET /api/tasks/stats requests.
func (h *TaskHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := handleUserID(w, r)
	if !ok {
		return
	}

	stats, err := h.tasks.Stats(r.Context(), userID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, statsToResponse(stats))
}
