package task

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/docsage-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestQueue(config QueueConfig) (*MemoryQueue, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	q := NewMemoryQueue(config, setupTestLogger())
	q.now = clock.Now
	return q, clock
}

func job(taskType domain.TaskType) Job {
	return Job{TaskID: uuid.New(), Type: taskType, PayloadRef: uuid.New()}
}

func dequeueNow(t *testing.T, q *MemoryQueue) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := q.Dequeue(ctx)
	require.NoError(t, err)
	return msg
}

func TestMemoryQueueEnqueueDequeue(t *testing.T) {
	q, _ := newTestQueue(QueueConfig{Capacity: 10})
	ctx := context.Background()

	j := job(domain.TaskTypeSummarize)
	token, err := q.Enqueue(ctx, j)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	msg := dequeueNow(t, q)
	assert.Equal(t, j.TaskID, msg.TaskID)
	assert.Equal(t, j.PayloadRef, msg.PayloadRef)
	assert.Equal(t, token, msg.Token)
	assert.Equal(t, 1, msg.Attempt)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth, "leased messages still count toward depth")

	require.NoError(t, q.Ack(ctx, token))
	depth, _ = q.Depth(ctx)
	assert.Zero(t, depth)
	assert.ErrorIs(t, q.Ack(ctx, token), ErrUnknownToken)
}

func TestMemoryQueueEnqueueKnownTokenIsNoop(t *testing.T) {
	q, _ := newTestQueue(QueueConfig{Capacity: 10})
	ctx := context.Background()

	j := job(domain.TaskTypeExtract)
	j.Token = "fixed-token"
	token, err := q.Enqueue(ctx, j)
	require.NoError(t, err)
	assert.Equal(t, "fixed-token", token)

	_, err = q.Enqueue(ctx, j)
	require.NoError(t, err)

	depth, _ := q.Depth(ctx)
	assert.Equal(t, 1, depth)
}

func TestMemoryQueueFull(t *testing.T) {
	q, _ := newTestQueue(QueueConfig{Capacity: 2})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, job(domain.TaskTypeExtract))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, job(domain.TaskTypeExtract))
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, job(domain.TaskTypeExtract))
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestMemoryQueueInteractiveLaneFirst(t *testing.T) {
	q, _ := newTestQueue(QueueConfig{Capacity: 10})
	ctx := context.Background()

	batch := job(domain.TaskTypeSummarize)
	interactive := job(domain.TaskTypeQA)
	_, err := q.Enqueue(ctx, batch)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, interactive)
	require.NoError(t, err)

	assert.Equal(t, interactive.TaskID, dequeueNow(t, q).TaskID)
	assert.Equal(t, batch.TaskID, dequeueNow(t, q).TaskID)
}

func TestMemoryQueueNackRedeliversThenDeadLetters(t *testing.T) {
	q, _ := newTestQueue(QueueConfig{Capacity: 10, MaxAttempts: 2})
	ctx := context.Background()

	token, err := q.Enqueue(ctx, job(domain.TaskTypeRewrite))
	require.NoError(t, err)

	first := dequeueNow(t, q)
	require.NoError(t, q.Nack(ctx, token, "upstream unavailable"))

	second := dequeueNow(t, q)
	assert.Equal(t, first.TaskID, second.TaskID)
	assert.Equal(t, 2, second.Attempt)
	assert.Equal(t, "upstream unavailable", second.LastError)

	err = q.Nack(ctx, token, "still unavailable")
	assert.ErrorIs(t, err, ErrRetriesExhausted)

	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, first.TaskID, dead[0].TaskID)
	depth, _ := q.Depth(ctx)
	assert.Zero(t, depth)
}

func TestMemoryQueueLeaseExpiryRedelivers(t *testing.T) {
	q, clock := newTestQueue(QueueConfig{Capacity: 10, VisibilityTimeout: time.Minute})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, job(domain.TaskTypeMindmap))
	require.NoError(t, err)
	first := dequeueNow(t, q)

	clock.Advance(2 * time.Minute)

	again := dequeueNow(t, q)
	assert.Equal(t, first.Token, again.Token)
	assert.Equal(t, 2, again.Attempt)
}

func TestMemoryQueueDequeueBlocksUntilEnqueue(t *testing.T) {
	q, _ := newTestQueue(QueueConfig{Capacity: 10})

	got := make(chan Message, 1)
	go func() {
		msg, err := q.Dequeue(context.Background())
		if err == nil {
			got <- msg
		}
	}()

	time.Sleep(20 * time.Millisecond)
	j := job(domain.TaskTypeExtract)
	_, err := q.Enqueue(context.Background(), j)
	require.NoError(t, err)

	select {
	case msg := <-got:
		assert.Equal(t, j.TaskID, msg.TaskID)
	case <-time.After(time.Second):
		t.Fatal("consumer was not woken")
	}
}

func TestMemoryQueueDequeueHonoursContext(t *testing.T) {
	q, _ := newTestQueue(QueueConfig{Capacity: 10})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryQueueClose(t *testing.T) {
	q, _ := newTestQueue(QueueConfig{Capacity: 10})

	errs := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		errs <- err
	}()
	time.Sleep(20 * time.Millisecond)

	q.Close()
	q.Close()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("consumer was not woken by Close")
	}

	_, err := q.Enqueue(context.Background(), job(domain.TaskTypeExtract))
	assert.ErrorIs(t, err, ErrQueueClosed)
}
