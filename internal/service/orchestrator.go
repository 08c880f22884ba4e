package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/docsage-api/internal/domain"
	"github.com/phrazzld/docsage-api/internal/lock"
	"github.com/phrazzld/docsage-api/internal/metrics"
	"github.com/phrazzld/docsage-api/internal/platform/logger"
	"github.com/phrazzld/docsage-api/internal/store"
	"github.com/phrazzld/docsage-api/internal/task"
)

// Outcome describes how CreateTask satisfied a request.
type Outcome string

const (
	// OutcomeCreated means a new task was persisted and dispatched.
	OutcomeCreated Outcome = "created"
	// OutcomeExisting means an active task for the same request was returned.
	OutcomeExisting Outcome = "existing"
	// OutcomeCached means a previously completed task was returned without new work.
	OutcomeCached Outcome = "cached"
)

// Page size limits for List.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ContentLookup resolves content items by id.
type ContentLookup interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.ContentItem, error)
}

// Canceller interrupts a task that is currently executing.
type Canceller interface {
	CancelRunning(taskID uuid.UUID) bool
}

// CreateTaskRequest describes a request for analysis.
type CreateTaskRequest struct {
	ContentID uuid.UUID
	Type      domain.TaskType
	Options   json.RawMessage

	// Force skips the cached-result shortcut and recomputes.
	Force bool
}

// CreateTaskResult is the task that satisfies a CreateTaskRequest.
type CreateTaskResult struct {
	Task    *domain.Task
	Outcome Outcome
}

// ListFilter narrows List. Zero values mean "any".
type ListFilter struct {
	Status domain.TaskStatus
	Type   domain.TaskType
}

// TaskPage is one page of an owner's tasks.
type TaskPage struct {
	Tasks      []*domain.Task
	Total      int
	Page       int
	PageSize   int
	TotalPages int
}

// TaskStats holds an owner's task counts.
type TaskStats struct {
	Counts map[domain.TaskStatus]int
	Total  int
}

// OrchestratorConfig holds the orchestrator's limits.
type OrchestratorConfig struct {
	// QueueCeiling is the queue depth at which CreateTask rejects new work.
	QueueCeiling int
}

// Orchestrator is the entry point for task creation, reads, and cancellation.
type Orchestrator struct {
	tasks     store.TaskStore
	contents  ContentLookup
	queue     task.WorkQueue
	canceller Canceller
	publisher task.Publisher
	locks     *lock.MutexMap
	config    OrchestratorConfig
	logger    *slog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(
	tasks store.TaskStore,
	contents ContentLookup,
	queue task.WorkQueue,
	canceller Canceller,
	publisher task.Publisher,
	config OrchestratorConfig,
	logger *slog.Logger,
) *Orchestrator {
	if config.QueueCeiling <= 0 {
		config.QueueCeiling = task.DefaultQueueConfig().Capacity
	}
	return &Orchestrator{
		tasks:     tasks,
		contents:  contents,
		queue:     queue,
		canceller: canceller,
		publisher: publisher,
		locks:     lock.NewMutexMap(),
		config:    config,
		logger:    logger.With("component", "orchestrator"),
	}
}

func (o *Orchestrator) log(ctx context.Context) *slog.Logger {
	return logger.FromContextOrDefault(ctx, o.logger)
}

// CreateTask returns the task that satisfies req: an active task for the same
// owner, content, and type if one exists; otherwise the latest completed one
// unless req.Force is set; otherwise a newly created and dispatched task.
func (o *Orchestrator) CreateTask(
	ctx context.Context,
	ownerID uuid.UUID,
	req CreateTaskRequest,
) (*CreateTaskResult, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}
	if _, err := o.contents.Get(ctx, req.ContentID); err != nil {
		return nil, wrapError("create_task", "failed to resolve content", err)
	}

	key := fmt.Sprintf("%s/%s/%s", ownerID, req.ContentID, req.Type)
	o.locks.Lock(key)
	defer o.locks.Unlock(key)

	existing, err := o.tasks.FindActive(ctx, ownerID, req.ContentID, req.Type)
	switch {
	case err == nil:
		return o.result(existing, OutcomeExisting), nil
	case !errors.Is(err, store.ErrTaskNotFound):
		return nil, wrapError("create_task", "failed to look up active task", err)
	}

	if !req.Force {
		done, err := o.tasks.FindLatestCompleted(ctx, ownerID, req.ContentID, req.Type)
		switch {
		case err == nil:
			return o.result(done, OutcomeCached), nil
		case !errors.Is(err, store.ErrTaskNotFound):
			return nil, wrapError("create_task", "failed to look up completed task", err)
		}
	}

	depth, err := o.queue.Depth(ctx)
	if err != nil {
		return nil, wrapError("create_task", "failed to read queue depth", err)
	}
	if depth >= o.config.QueueCeiling {
		metrics.TasksRejected.Inc()
		o.log(ctx).Warn("rejecting task, queue saturated",
			"depth", depth,
			"ceiling", o.config.QueueCeiling)
		return nil, ErrQueueSaturated
	}

	t, err := domain.NewTask(ownerID, req.ContentID, req.Type, req.Options)
	if err != nil {
		return nil, err
	}
	t.DispatchToken = uuid.NewString()

	if err := o.tasks.Create(ctx, t); err != nil {
		if errors.Is(err, store.ErrActiveTaskExists) {
			// Another instance won the race for this request.
			existing, findErr := o.tasks.FindActive(ctx, ownerID, req.ContentID, req.Type)
			if findErr == nil {
				return o.result(existing, OutcomeExisting), nil
			}
		}
		return nil, wrapError("create_task", "failed to persist task", err)
	}

	// A content delete that ran before the row existed could not see it.
	if _, err := o.contents.Get(ctx, req.ContentID); err != nil {
		o.discard(ctx, t, domain.ErrorKindContentMissing)
		return nil, wrapError("create_task", "failed to resolve content", err)
	}

	if _, err := o.queue.Enqueue(ctx, task.Job{
		TaskID:     t.ID,
		Type:       t.Type,
		PayloadRef: t.ContentID,
		Token:      t.DispatchToken,
	}); err != nil {
		o.discard(ctx, t, domain.ErrorKindQueueSaturated)
		if errors.Is(err, task.ErrQueueFull) {
			metrics.TasksRejected.Inc()
			return nil, ErrQueueSaturated
		}
		return nil, wrapError("create_task", "failed to enqueue task", err)
	}
	o.publisher.Publish(ownerID, t)

	o.log(ctx).Info("task created",
		"task_id", t.ID,
		"task_type", t.Type,
		"content_id", t.ContentID,
		"forced", req.Force)
	return o.result(t, OutcomeCreated), nil
}

// discard removes a task that was persisted but never dispatched, so a
// refused request leaves no task behind. If the row cannot be removed it is
// failed with kind instead of lingering as pending.
func (o *Orchestrator) discard(ctx context.Context, t *domain.Task, kind domain.ErrorKind) {
	err := o.tasks.DiscardPending(ctx, t.ID, t.DispatchToken)
	if err == nil {
		return
	}
	o.log(ctx).Warn("failed to discard undispatched task",
		"task_id", t.ID,
		"error", err)

	failed, err := o.tasks.Transition(ctx, t.ID, store.TransitionRequest{
		From:          []domain.TaskStatus{domain.TaskStatusPending},
		To:            domain.TaskStatusFailed,
		DispatchToken: t.DispatchToken,
		Error: &domain.TaskError{
			Kind:    kind,
			Message: "task could not be dispatched",
		},
	})
	if err != nil {
		o.log(ctx).Error("failed to mark undispatched task as failed",
			"task_id", t.ID,
			"error", err)
		return
	}
	metrics.TasksFinished.WithLabelValues(string(t.Type), string(failed.Status)).Inc()
	o.publisher.Publish(t.OwnerID, failed)
}

func (o *Orchestrator) result(t *domain.Task, outcome Outcome) *CreateTaskResult {
	metrics.TasksCreated.WithLabelValues(string(t.Type), string(outcome)).Inc()
	return &CreateTaskResult{Task: t, Outcome: outcome}
}

func validateCreate(req CreateTaskRequest) error {
	if req.ContentID == uuid.Nil {
		return domain.NewValidationError("content_id", "cannot be empty", domain.ErrInvalidID)
	}
	if !req.Type.Valid() {
		return domain.NewValidationError("type", "is not a supported task type", domain.ErrInvalidTaskType)
	}
	if len(req.Options) > 0 {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(req.Options, &obj); err != nil {
			return domain.NewValidationError("options", "must be a JSON object", domain.ErrValidation)
		}
	}
	if req.Type == domain.TaskTypeQA {
		var opts task.QAOptions
		if len(req.Options) > 0 {
			_ = json.Unmarshal(req.Options, &opts)
		}
		if strings.TrimSpace(opts.Question) == "" {
			return domain.NewValidationError("options.question", "is required for qa tasks", domain.ErrValidation)
		}
	}
	return nil
}

// Get returns the owner's task. Tasks of other owners are reported as not found.
func (o *Orchestrator) Get(ctx context.Context, ownerID, taskID uuid.UUID) (*domain.Task, error) {
	t, err := o.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, wrapError("get_task", "failed to load task", err)
	}
	if t.OwnerID != ownerID {
		return nil, ErrTaskNotFound
	}
	return t, nil
}

// List returns a page of the owner's tasks, newest first.
func (o *Orchestrator) List(
	ctx context.Context,
	ownerID uuid.UUID,
	filter ListFilter,
	page, pageSize int,
) (*TaskPage, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.NewValidationError("status", "is not a valid status", domain.ErrInvalidTaskStatus)
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, domain.NewValidationError("type", "is not a supported task type", domain.ErrInvalidTaskType)
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	pageSize = min(pageSize, MaxPageSize)

	tasks, total, err := o.tasks.List(ctx, ownerID,
		store.TaskFilter{Status: filter.Status, Type: filter.Type},
		store.Page{Number: page, Size: pageSize})
	if err != nil {
		return nil, wrapError("list_tasks", "failed to list tasks", err)
	}
	return &TaskPage{
		Tasks:      tasks,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: (total + pageSize - 1) / pageSize,
	}, nil
}

// Cancel moves the owner's active task to cancelled and interrupts it if it
// is executing. A worker that finishes concurrently loses the race: its
// completion write finds the task no longer processing.
func (o *Orchestrator) Cancel(ctx context.Context, ownerID, taskID uuid.UUID) (*domain.Task, error) {
	t, err := o.Get(ctx, ownerID, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status.IsTerminal() {
		return nil, ErrAlreadyTerminal
	}

	cancelled, err := o.tasks.Transition(ctx, taskID, store.TransitionRequest{
		From: domain.ActiveStatuses,
		To:   domain.TaskStatusCancelled,
		Error: &domain.TaskError{
			Kind:    domain.ErrorKindCancelled,
			Message: "cancelled by user",
		},
	})
	if errors.Is(err, store.ErrTransitionConflict) {
		return nil, ErrAlreadyTerminal
	}
	if err != nil {
		return nil, wrapError("cancel_task", "failed to cancel task", err)
	}

	interrupted := o.canceller.CancelRunning(taskID)
	metrics.TasksFinished.WithLabelValues(string(cancelled.Type), string(cancelled.Status)).Inc()
	o.publisher.Publish(ownerID, cancelled)

	o.log(ctx).Info("task cancelled",
		"task_id", taskID,
		"previous_status", t.Status,
		"interrupted", interrupted)
	return cancelled, nil
}

// Stats returns the owner's task counts by status.
func (o *Orchestrator) Stats(ctx context.Context, ownerID uuid.UUID) (*TaskStats, error) {
	counts, err := o.tasks.CountByStatus(ctx, ownerID)
	if err != nil {
		return nil, wrapError("task_stats", "failed to count tasks", err)
	}
	stats := &TaskStats{Counts: make(map[domain.TaskStatus]int, 5)}
	for _, s := range []domain.TaskStatus{
		domain.TaskStatusPending, domain.TaskStatusProcessing, domain.TaskStatusCompleted,
		domain.TaskStatusFailed, domain.TaskStatusCancelled,
	} {
		stats.Counts[s] = counts[s]
		stats.Total += counts[s]
	}
	return stats, nil
}
