package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaskType identifies the kind of analysis a task performs.
type TaskType string

// Supported analysis types.
const (
	TaskTypeExtract   TaskType = "extract"
	TaskTypeSummarize TaskType = "summarize"
	TaskTypeQA        TaskType = "qa"
	TaskTypeRewrite   TaskType = "rewrite"
	TaskTypeMindmap   TaskType = "mindmap"
)

// TaskTypes lists every supported task type.
var TaskTypes = []TaskType{
	TaskTypeExtract,
	TaskTypeSummarize,
	TaskTypeQA,
	TaskTypeRewrite,
	TaskTypeMindmap,
}

// Valid reports whether t is a known task type.
func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeExtract, TaskTypeSummarize, TaskTypeQA, TaskTypeRewrite, TaskTypeMindmap:
		return true
	}
	return false
}

// Interactive reports whether the type is latency sensitive and belongs on
// the high-priority dispatch lane.
func (t TaskType) Interactive() bool {
	return t == TaskTypeQA
}

// TaskStatus represents the current state of a task
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// ActiveStatuses are the non-terminal statuses.
var ActiveStatuses = []TaskStatus{TaskStatusPending, TaskStatusProcessing}

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusProcessing,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether s is absorbing.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// CanTransition reports whether the lifecycle allows moving from one status to another.
// processing -> processing is a re-claim after redelivery of the same dispatch.
func CanTransition(from, to TaskStatus) bool {
	switch from {
	case TaskStatusPending:
		return to == TaskStatusProcessing || to == TaskStatusCancelled || to == TaskStatusFailed
	case TaskStatusProcessing:
		return to == TaskStatusProcessing || to == TaskStatusCompleted ||
			to == TaskStatusFailed || to == TaskStatusCancelled
	}
	return false
}

// ErrorKind classifies why a task did not complete.
type ErrorKind string

// Error kinds recorded on failed and cancelled tasks.
const (
	ErrorKindEngine             ErrorKind = "engine_error"
	ErrorKindTimeout            ErrorKind = "timeout"
	ErrorKindMaxRetriesExceeded ErrorKind = "max_retries_exceeded"
	ErrorKindCancelled          ErrorKind = "cancelled"
	ErrorKindQueueSaturated     ErrorKind = "queue_saturated"
	ErrorKindContentMissing     ErrorKind = "content_missing"
)

// TaskError is the error information stored on a terminal task.
type TaskError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Task represents one unit of background analysis work.
type Task struct {
	ID            uuid.UUID       `json:"id"`
	Type          TaskType        `json:"type"`
	OwnerID       uuid.UUID       `json:"owner_id"`
	ContentID     uuid.UUID       `json:"content_id"`
	Status        TaskStatus      `json:"status"`
	Progress      int             `json:"progress"`
	Options       json.RawMessage `json:"options,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         *TaskError      `json:"error,omitempty"`
	Attempts      int             `json:"attempts"`
	DispatchToken string          `json:"-"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// NewTask creates a pending task for the given owner, content, and type.
func NewTask(ownerID, contentID uuid.UUID, taskType TaskType, options json.RawMessage) (*Task, error) {
	now := time.Now().UTC()
	task := &Task{
		ID:        uuid.New(),
		Type:      taskType,
		OwnerID:   ownerID,
		ContentID: contentID,
		Status:    TaskStatusPending,
		Options:   options,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}
	return task, nil
}

// Validate checks the task's fields and lifecycle invariants.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return NewValidationError("id", "cannot be empty", ErrInvalidID)
	}
	if t.OwnerID == uuid.Nil {
		return NewValidationError("owner_id", "cannot be empty", ErrInvalidID)
	}
	if t.ContentID == uuid.Nil {
		return NewValidationError("content_id", "cannot be empty", ErrInvalidID)
	}
	if !t.Type.Valid() {
		return NewValidationError("type", "is not a supported task type", ErrInvalidTaskType)
	}
	if !t.Status.Valid() {
		return NewValidationError("status", "is not a valid status", ErrInvalidTaskStatus)
	}
	if t.Progress < 0 || t.Progress > 100 {
		return NewValidationError("progress", "must be between 0 and 100", ErrValidation)
	}
	if len(t.Options) > 0 && !json.Valid(t.Options) {
		return NewValidationError("options", "must be valid JSON", ErrValidation)
	}

	switch t.Status {
	case TaskStatusPending:
		if t.Progress != 0 {
			return NewValidationError("progress", "must be 0 while pending", ErrValidation)
		}
	case TaskStatusCompleted:
		if t.Progress != 100 || len(t.Result) == 0 || t.Error != nil {
			return NewValidationError("result", "completed tasks carry a result and full progress", ErrValidation)
		}
	case TaskStatusFailed, TaskStatusCancelled:
		if t.Error == nil || len(t.Result) != 0 {
			return NewValidationError("error", "failed and cancelled tasks carry only error info", ErrValidation)
		}
	}
	if t.Status != TaskStatusCompleted && t.Progress == 100 {
		return NewValidationError("progress", "is 100 only for completed tasks", ErrValidation)
	}
	return nil
}

// Clone returns a deep copy safe to hand to another goroutine.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.Options != nil {
		c.Options = append(json.RawMessage(nil), t.Options...)
	}
	if t.Result != nil {
		c.Result = append(json.RawMessage(nil), t.Result...)
	}
	if t.Error != nil {
		e := *t.Error
		c.Error = &e
	}
	if t.StartedAt != nil {
		s := *t.StartedAt
		c.StartedAt = &s
	}
	if t.CompletedAt != nil {
		d := *t.CompletedAt
		c.CompletedAt = &d
	}
	return &c
}

// ClampProgress bounds a progress report reported while processing.
// 100 is reserved for the completed state.
func ClampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 99 {
		return 99
	}
	return p
}
