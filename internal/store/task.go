package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/docsage-api/internal/domain"
)

// TaskFilter narrows a task listing. Zero values mean "any".
type TaskFilter struct {
	Status domain.TaskStatus
	Type   domain.TaskType
}

// Page selects a 1-indexed page of results.
type Page struct {
	Number int
	Size   int
}

// Offset returns the number of rows to skip for the page.
func (p Page) Offset() int {
	if p.Number <= 1 {
		return 0
	}
	return (p.Number - 1) * p.Size
}

// TransitionRequest describes a compare-and-swap status change.
// The update applies only when the row's status is one of From and,
// if DispatchToken is set, the row carries that token.
type TransitionRequest struct {
	From []domain.TaskStatus
	To   domain.TaskStatus

	// DispatchToken guards the update against late or duplicate deliveries.
	DispatchToken string

	Result json.RawMessage
	Error  *domain.TaskError

	// ClaimAttempt increments the attempt counter; set by workers claiming a delivery.
	ClaimAttempt bool

	// At is the transition time; zero means now.
	At time.Time
}

// Allows reports whether a row in status s satisfies the precondition.
func (r TransitionRequest) Allows(s domain.TaskStatus, token string) bool {
	if r.DispatchToken != "" && r.DispatchToken != token {
		return false
	}
	for _, from := range r.From {
		if from == s {
			return true
		}
	}
	return false
}

// Permitted narrows From to the statuses the task lifecycle lets move to To.
func (r TransitionRequest) Permitted() []domain.TaskStatus {
	var from []domain.TaskStatus
	for _, s := range r.From {
		if domain.CanTransition(s, r.To) {
			from = append(from, s)
		}
	}
	return from
}

// Validate returns domain.ErrInvalidTransition when no status in From may
// move to To. Such a request can never succeed, whatever the row holds.
func (r TransitionRequest) Validate() error {
	if len(r.Permitted()) == 0 {
		return fmt.Errorf("%w: no status in %v may move to %s", domain.ErrInvalidTransition, r.From, r.To)
	}
	return nil
}

// TaskStore defines the interface for task persistence. Every mutation is a
// conditional update; there is no unconditional status write.
// Version: 2.0
type TaskStore interface {
	// Create persists a new pending task.
	// Returns ErrActiveTaskExists if an active task for the same
	// owner, content, and type already exists.
	Create(ctx context.Context, task *domain.Task) error

	// Get retrieves a task by ID.
	// Returns ErrTaskNotFound if the task does not exist.
	Get(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// List returns the owner's tasks, newest first, and the total number of matches.
	List(ctx context.Context, ownerID uuid.UUID, filter TaskFilter, page Page) ([]*domain.Task, int, error)

	// FindActive returns the pending or processing task for the triple.
	// Returns ErrTaskNotFound if there is none.
	FindActive(ctx context.Context, ownerID, contentID uuid.UUID, taskType domain.TaskType) (*domain.Task, error)

	// FindLatestCompleted returns the most recently completed task for the triple.
	// Returns ErrTaskNotFound if there is none.
	FindLatestCompleted(ctx context.Context, ownerID, contentID uuid.UUID, taskType domain.TaskType) (*domain.Task, error)

	// Transition applies a compare-and-swap status change and returns the new snapshot.
	// Returns domain.ErrInvalidTransition if the lifecycle forbids the request,
	// ErrTransitionConflict if the precondition does not hold, and
	// ErrTaskNotFound if the task does not exist.
	Transition(ctx context.Context, id uuid.UUID, req TransitionRequest) (*domain.Task, error)

	// DiscardPending deletes a pending task that still carries token. It is
	// used for tasks that were persisted but never dispatched. Returns
	// ErrTransitionConflict if the task has moved on and ErrTaskNotFound if
	// it does not exist.
	DiscardPending(ctx context.Context, id uuid.UUID, token string) error

	// UpdateProgress raises the progress of a processing task holding token.
	// Progress never decreases. Returns ErrTransitionConflict if the task is no
	// longer processing under that token.
	UpdateProgress(ctx context.Context, id uuid.UUID, token string, progress int) (*domain.Task, error)

	// ListByStatus returns all tasks in the given status, oldest first.
	ListByStatus(ctx context.Context, status domain.TaskStatus) ([]*domain.Task, error)

	// ListStale returns processing tasks not updated within olderThan.
	ListStale(ctx context.Context, olderThan time.Duration) ([]*domain.Task, error)

	// CountByStatus returns the owner's task counts keyed by status.
	CountByStatus(ctx context.Context, ownerID uuid.UUID) (map[domain.TaskStatus]int, error)
}
