package service

import (
	"errors"
	"fmt"

	"github.com/phrazzld/docsage-api/internal/store"
)

// Common service errors - sentinel errors used across service implementations.
// Callers check them with errors.Is; the API layer maps them to HTTP status codes.
var (
	// ErrTaskNotFound indicates the task does not exist or belongs to another owner.
	// API layer should map this to HTTP 404 Not Found.
	ErrTaskNotFound = errors.New("task not found")

	// ErrContentNotFound indicates the referenced content item does not exist.
	// API layer should map this to HTTP 404 Not Found.
	ErrContentNotFound = errors.New("content not found")

	// ErrAlreadyTerminal indicates a cancel request for a task that has already finished.
	// API layer should map this to HTTP 409 Conflict.
	ErrAlreadyTerminal = errors.New("task already finished")

	// ErrQueueSaturated indicates the dispatch backlog is at its ceiling. No task
	// was created; callers should retry later.
	// API layer should map this to HTTP 429 Too Many Requests.
	ErrQueueSaturated = errors.New("task queue saturated")
)

// OrchestratorError wraps unexpected failures with the operation that failed.
type OrchestratorError struct {
	// Operation is the operation that failed (e.g., "create_task", "cancel_task")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for OrchestratorError.
func (e *OrchestratorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("orchestrator %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("orchestrator %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *OrchestratorError) Unwrap() error {
	return e.Err
}

// wrapError returns known sentinel errors directly and wraps everything else.
func wrapError(operation, message string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrTaskNotFound),
		errors.Is(err, ErrContentNotFound),
		errors.Is(err, ErrAlreadyTerminal),
		errors.Is(err, ErrQueueSaturated):
		return err
	case errors.Is(err, store.ErrTaskNotFound):
		return ErrTaskNotFound
	case errors.Is(err, store.ErrContentNotFound):
		return ErrContentNotFound
	}
	return &OrchestratorError{Operation: operation, Message: message, Err: err}
}
