package task_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/docsage-api/internal/domain"
	"github.com/phrazzld/docsage-api/internal/platform/memory"
	"github.com/phrazzld/docsage-api/internal/store"
	"github.com/phrazzld/docsage-api/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTask(t *testing.T, s *memory.Store, taskType domain.TaskType) *domain.Task {
	t.Helper()
	tk, err := domain.NewTask(uuid.New(), uuid.New(), taskType, nil)
	require.NoError(t, err)
	tk.DispatchToken = uuid.NewString()
	require.NoError(t, s.Create(context.Background(), tk))
	return tk
}

func claim(t *testing.T, s *memory.Store, tk *domain.Task) {
	t.Helper()
	_, err := s.Transition(context.Background(), tk.ID, store.TransitionRequest{
		From:          []domain.TaskStatus{domain.TaskStatusPending},
		To:            domain.TaskStatusProcessing,
		DispatchToken: tk.DispatchToken,
		ClaimAttempt:  true,
	})
	require.NoError(t, err)
}

func TestReclaimerRecoverRedispatchesUnfinishedTasks(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := memory.NewStore()
	q := task.NewMemoryQueue(task.QueueConfig{Capacity: 10}, logger)

	pending := createTask(t, s, domain.TaskTypeSummarize)
	processing := createTask(t, s, domain.TaskTypeQA)
	claim(t, s, processing)
	finished := createTask(t, s, domain.TaskTypeExtract)
	_, err := s.Transition(context.Background(), finished.ID, store.TransitionRequest{
		From:  domain.ActiveStatuses,
		To:    domain.TaskStatusCancelled,
		Error: &domain.TaskError{Kind: domain.ErrorKindCancelled},
	})
	require.NoError(t, err)

	r := task.NewReclaimer(s, q, task.DefaultReclaimerConfig(), logger)
	require.NoError(t, r.Recover(context.Background()))

	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, depth)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	second, err := q.Dequeue(ctx)
	require.NoError(t, err)

	assert.Equal(t, processing.ID, first.TaskID, "interactive task is served first")
	assert.Equal(t, processing.DispatchToken, first.Token)
	assert.Equal(t, pending.ID, second.TaskID)
	assert.Equal(t, pending.DispatchToken, second.Token)

	// A second recovery does not duplicate deliveries the queue still holds.
	require.NoError(t, r.Recover(context.Background()))
	depth, _ = q.Depth(context.Background())
	assert.Equal(t, 2, depth)
}

func TestReclaimerCheckStale(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := memory.NewStore()
	q := task.NewMemoryQueue(task.QueueConfig{Capacity: 10}, logger)

	stale := createTask(t, s, domain.TaskTypeRewrite)
	claim(t, s, stale)
	createTask(t, s, domain.TaskTypeExtract)

	time.Sleep(5 * time.Millisecond)
	r := task.NewReclaimer(s, q, task.ReclaimerConfig{StaleAge: time.Millisecond, CheckInterval: time.Hour}, logger)
	r.CheckStale(context.Background())

	depth, _ := q.Depth(context.Background())
	require.Equal(t, 1, depth, "only processing tasks are stale candidates")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, stale.ID, msg.TaskID)
}

func TestReclaimerRunStopsWithContext(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := memory.NewStore()
	q := task.NewMemoryQueue(task.QueueConfig{Capacity: 10}, logger)
	createTask(t, s, domain.TaskTypeMindmap)

	r := task.NewReclaimer(s, q, task.ReclaimerConfig{StaleAge: time.Minute, CheckInterval: 10 * time.Millisecond}, logger)
	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() { errs <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		depth, _ := q.Depth(context.Background())
		return depth == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-errs:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reclaimer did not stop")
	}
}
