package task

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/docsage-api/internal/domain"
)

// Common errors returned by WorkQueue implementations
var (
	ErrQueueClosed = errors.New("task queue is closed")
	ErrQueueFull   = errors.New("task queue is full")

	// ErrRetriesExhausted is returned by Nack when the message has used its
	// last attempt. The message is moved to the dead-letter list.
	ErrRetriesExhausted = errors.New("delivery attempts exhausted")

	// ErrUnknownToken is returned by Ack and Nack for a token the queue no
	// longer holds, typically because another delivery already settled it.
	ErrUnknownToken = errors.New("unknown dispatch token")
)

// Job is a request to dispatch a task.
type Job struct {
	TaskID     uuid.UUID
	Type       domain.TaskType
	PayloadRef uuid.UUID

	// Token identifies the dispatch. Empty means the queue assigns one.
	// Enqueueing a token the queue already holds is a no-op.
	Token string
}

// Message is one delivery of a job.
type Message struct {
	TaskID     uuid.UUID       `json:"task_id"`
	Type       domain.TaskType `json:"type"`
	PayloadRef uuid.UUID       `json:"payload_ref"`
	Token      string          `json:"token"`

	// Attempt is 1 on first delivery and grows with every redelivery.
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	LastError  string    `json:"last_error,omitempty"`
}

// WorkQueue is an at-least-once dispatch queue. Every Dequeue leases the
// message for a visibility timeout; a message that is neither acked nor
// nacked before the lease ends is delivered again. Interactive task types
// are always served before batch types.
// Version: 2.0
type WorkQueue interface {
	// Enqueue adds a job and returns its dispatch token.
	// Returns ErrQueueFull at capacity and ErrQueueClosed after Close.
	Enqueue(ctx context.Context, job Job) (string, error)

	// Dequeue blocks until a message is available, ctx ends, or the queue closes.
	Dequeue(ctx context.Context) (Message, error)

	// Ack settles a delivery permanently.
	Ack(ctx context.Context, token string) error

	// Nack releases a delivery for retry. Returns ErrRetriesExhausted once the
	// message has reached the attempt limit.
	Nack(ctx context.Context, token string, reason string) error

	// Depth returns the number of queued and in-flight messages.
	Depth(ctx context.Context) (int, error)

	// Close stops accepting jobs and wakes blocked consumers.
	Close()
}

// QueueConfig holds the limits shared by queue implementations.
type QueueConfig struct {
	// Capacity is the maximum number of queued plus in-flight messages.
	Capacity int

	// MaxAttempts is the number of deliveries before a nack dead-letters the message.
	MaxAttempts int

	// VisibilityTimeout is how long a dequeued message stays invisible.
	VisibilityTimeout time.Duration
}

// DefaultQueueConfig returns a QueueConfig with reasonable defaults
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Capacity:          500,
		MaxAttempts:       3,
		VisibilityTimeout: 6 * time.Minute,
	}
}

// WithDefaults fills zero fields from DefaultQueueConfig.
func (c QueueConfig) WithDefaults() QueueConfig {
	d := DefaultQueueConfig()
	if c.Capacity <= 0 {
		c.Capacity = d.Capacity
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = d.VisibilityTimeout
	}
	return c
}

// Lane returns the dispatch lane index for a task type: 0 for interactive, 1 for batch.
func Lane(t domain.TaskType) int {
	if t.Interactive() {
		return 0
	}
	return 1
}
