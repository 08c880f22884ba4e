package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/docsage-api/internal/metrics"
)

type queueEntry struct {
	msg         Message
	leased      bool
	leasedUntil time.Time
}

// MemoryQueue implements WorkQueue in process memory. It offers the same
// lease and retry semantics as the durable queue but loses its contents on
// restart; the Reclaimer re-dispatches unfinished tasks on startup.
type MemoryQueue struct {
	mu      sync.Mutex
	lanes   [2][]string
	entries map[string]*queueEntry
	dead    []Message

	// notify carries at most one wake-up for blocked consumers
	notify chan struct{}
	done   chan struct{}
	closed bool

	config QueueConfig
	logger *slog.Logger
	now    func() time.Time
}

var _ WorkQueue = (*MemoryQueue)(nil)

// NewMemoryQueue creates a new in-memory queue
func NewMemoryQueue(config QueueConfig, logger *slog.Logger) *MemoryQueue {
	return &MemoryQueue{
		entries: make(map[string]*queueEntry),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		config:  config.WithDefaults(),
		logger:  logger.With("component", "memory_queue"),
		now:     time.Now,
	}
}

// Enqueue adds a job to its lane.
func (q *MemoryQueue) Enqueue(_ context.Context, job Job) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return "", ErrQueueClosed
	}
	if job.Token != "" {
		if _, ok := q.entries[job.Token]; ok {
			return job.Token, nil
		}
	}
	if len(q.entries) >= q.config.Capacity {
		return "", fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, q.config.Capacity)
	}

	token := job.Token
	if token == "" {
		token = uuid.NewString()
	}
	q.entries[token] = &queueEntry{msg: Message{
		TaskID:     job.TaskID,
		Type:       job.Type,
		PayloadRef: job.PayloadRef,
		Token:      token,
		EnqueuedAt: q.now().UTC(),
	}}
	lane := Lane(job.Type)
	q.lanes[lane] = append(q.lanes[lane], token)
	q.signal()

	q.logger.Debug("task enqueued",
		"task_id", job.TaskID,
		"task_type", job.Type,
		"lane", lane,
		"queue_len", len(q.entries),
		"queue_cap", q.config.Capacity)
	return token, nil
}

// Dequeue blocks until a message can be leased.
func (q *MemoryQueue) Dequeue(ctx context.Context) (Message, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Message{}, ErrQueueClosed
		}
		now := q.now()
		q.reapLocked(now)
		if msg, ok := q.popLocked(now); ok {
			if q.readyLocked() {
				q.signal()
			}
			q.mu.Unlock()
			return msg, nil
		}
		wait := q.nextExpiryLocked(now)
		q.mu.Unlock()

		if err := q.wait(ctx, wait); err != nil {
			return Message{}, err
		}
	}
}

// wait blocks until a wake-up, the next lease expiry, or cancellation.
func (q *MemoryQueue) wait(ctx context.Context, d time.Duration) error {
	var expiry <-chan time.Time
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		expiry = t.C
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrQueueClosed
	case <-q.notify:
	case <-expiry:
	}
	return nil
}

// Ack removes a delivered message.
func (q *MemoryQueue) Ack(_ context.Context, token string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.entries[token]; !ok {
		return ErrUnknownToken
	}
	delete(q.entries, token)
	return nil
}

// Nack returns a leased message to its lane or dead-letters it.
func (q *MemoryQueue) Nack(_ context.Context, token string, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[token]
	if !ok {
		return ErrUnknownToken
	}
	e.msg.LastError = reason
	if e.msg.Attempt >= q.config.MaxAttempts {
		delete(q.entries, token)
		q.dead = append(q.dead, e.msg)
		metrics.QueueDeadLetters.Inc()
		q.logger.Warn("message dead-lettered",
			"task_id", e.msg.TaskID,
			"attempt", e.msg.Attempt,
			"reason", reason)
		return ErrRetriesExhausted
	}
	q.requeueLocked(e)
	return nil
}

// Depth returns the number of queued and in-flight messages.
func (q *MemoryQueue) Depth(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries), nil
}

// DeadLetters returns a copy of the dead-lettered messages.
func (q *MemoryQueue) DeadLetters() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Message(nil), q.dead...)
}

// Close closes the queue, preventing further submission and waking consumers
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
		q.logger.Info("task queue closed")
	}
}

func (q *MemoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// popLocked leases the first live token, interactive lane first.
// Tokens that were acked or re-leased while queued are skipped.
func (q *MemoryQueue) popLocked(now time.Time) (Message, bool) {
	for lane := range q.lanes {
		for len(q.lanes[lane]) > 0 {
			token := q.lanes[lane][0]
			q.lanes[lane] = q.lanes[lane][1:]
			e, ok := q.entries[token]
			if !ok || e.leased {
				continue
			}
			e.leased = true
			e.leasedUntil = now.Add(q.config.VisibilityTimeout)
			e.msg.Attempt++
			return e.msg, true
		}
	}
	return Message{}, false
}

func (q *MemoryQueue) readyLocked() bool {
	for lane := range q.lanes {
		for _, token := range q.lanes[lane] {
			if e, ok := q.entries[token]; ok && !e.leased {
				return true
			}
		}
	}
	return false
}

// reapLocked puts messages whose lease ran out back in their lane.
func (q *MemoryQueue) reapLocked(now time.Time) {
	for _, e := range q.entries {
		if e.leased && !now.Before(e.leasedUntil) {
			q.logger.Info("lease expired, redelivering",
				"task_id", e.msg.TaskID,
				"attempt", e.msg.Attempt)
			q.requeueLocked(e)
		}
	}
}

func (q *MemoryQueue) requeueLocked(e *queueEntry) {
	e.leased = false
	e.leasedUntil = time.Time{}
	lane := Lane(e.msg.Type)
	q.lanes[lane] = append(q.lanes[lane], e.msg.Token)
	metrics.QueueRedeliveries.Inc()
	q.signal()
}

// nextExpiryLocked returns how long until the earliest lease ends, or 0 if none is held.
func (q *MemoryQueue) nextExpiryLocked(now time.Time) time.Duration {
	var next time.Duration
	for _, e := range q.entries {
		if !e.leased {
			continue
		}
		d := e.leasedUntil.Sub(now)
		if d <= 0 {
			d = time.Millisecond
		}
		if next == 0 || d < next {
			next = d
		}
	}
	return next
}
