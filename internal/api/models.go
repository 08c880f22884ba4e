package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/docsage-api/internal/domain"
	"github.com/phrazzld/docsage-api/internal/service"
)

// ContentResponse describes a stored content item.
type ContentResponse struct {
	ID          uuid.UUID `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	SizeBytes   int64     `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at"`
}

// UploadContentResponse is returned by the upload endpoint. IsNew is false
// when identical content was already stored.
type UploadContentResponse struct {
	Content ContentResponse `json:"content"`
	IsNew   bool            `json:"is_new"`
}

// ContentListResponse is one page of the caller's uploads.
type ContentListResponse struct {
	Contents   []ContentResponse `json:"contents"`
	Total      int               `json:"total"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
	TotalPages int               `json:"total_pages"`
}

// CreateTaskRequest defines the payload for the task creation endpoint.
type CreateTaskRequest struct {
	ContentID string          `json:"content_id" validate:"required,uuid"`
	Type      string          `json:"type"       validate:"required,oneof=extract summarize qa rewrite mindmap"`
	Options   json.RawMessage `json:"options,omitempty"`
	Force     bool            `json:"force,omitempty"`
}

// TaskErrorResponse is the failure detail of a failed or cancelled task.
type TaskErrorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// TaskResponse is the API representation of a task.
type TaskResponse struct {
	ID          uuid.UUID          `json:"id"`
	Type        string             `json:"type"`
	ContentID   uuid.UUID          `json:"content_id"`
	Status      string             `json:"status"`
	Progress    int                `json:"progress"`
	Options     json.RawMessage    `json:"options,omitempty"`
	Result      json.RawMessage    `json:"result,omitempty"`
	Error       *TaskErrorResponse `json:"error,omitempty"`
	Attempts    int                `json:"attempts"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
}

// CreateTaskResponse wraps the task that satisfies a creation request.
// Outcome is one of "created", "existing", or "cached".
type CreateTaskResponse struct {
	Task    TaskResponse `json:"task"`
	Outcome string       `json:"outcome"`
}

// TaskListResponse is one page of tasks.
type TaskListResponse struct {
	Tasks      []TaskResponse `json:"tasks"`
	Total      int            `json:"total"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
	TotalPages int            `json:"total_pages"`
}

// StatsResponse holds task counts per status.
type StatsResponse struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
	Total      int `json:"total"`
}

func contentToResponse(item *domain.ContentItem) ContentResponse {
	return ContentResponse{
		ID:          item.ID,
		Fingerprint: item.Fingerprint,
		SizeBytes:   item.SizeBytes,
		CreatedAt:   item.CreatedAt,
	}
}

func contentPageToResponse(items []*domain.ContentItem, total, page, pageSize int) ContentListResponse {
	contents := make([]ContentResponse, 0, len(items))
	for _, item := range items {
		contents = append(contents, contentToResponse(item))
	}
	return ContentListResponse{
		Contents:   contents,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: (total + pageSize - 1) / pageSize,
	}
}

func taskToResponse(t *domain.Task) TaskResponse {
	resp := TaskResponse{
		ID:          t.ID,
		Type:        string(t.Type),
		ContentID:   t.ContentID,
		Status:      string(t.Status),
		Progress:    t.Progress,
		Options:     t.Options,
		Result:      t.Result,
		Attempts:    t.Attempts,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
	}
	if t.Error != nil {
		resp.Error = &TaskErrorResponse{Kind: string(t.Error.Kind), Message: t.Error.Message}
	}
	return resp
}

func taskPageToResponse(page *service.TaskPage) TaskListResponse {
	tasks := make([]TaskResponse, 0, len(page.Tasks))
	for _, t := range page.Tasks {
		tasks = append(tasks, taskToResponse(t))
	}
	return TaskListResponse{
		Tasks:      tasks,
		Total:      page.Total,
		Page:       page.Page,
		PageSize:   page.PageSize,
		TotalPages: page.TotalPages,
	}
}

func statsToResponse(stats *service.TaskStats) StatsResponse {
	return StatsResponse{
		Pending:    stats.Counts[domain.TaskStatusPending],
		Processing: stats.Counts[domain.TaskStatusProcessing],
		Completed:  stats.Counts[domain.TaskStatusCompleted],
		Failed:     stats.Counts[domain.TaskStatusFailed],
		Cancelled:  stats.Counts[domain.TaskStatusCancelled],
		Total:      stats.Total,
	}
}
