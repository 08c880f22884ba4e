package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/docsage-api/internal/domain"
	"github.com/phrazzld/docsage-api/internal/store"
)

// ReclaimerConfig holds configuration for the reclaimer
type ReclaimerConfig struct {
	// StaleAge defines how long a task can sit in processing without an
	// update before it is dispatched again
	StaleAge time.Duration

	// CheckInterval defines how often to check for stale tasks
	// If zero, defaults to 5 minutes
	CheckInterval time.Duration
}

// DefaultReclaimerConfig returns a ReclaimerConfig with reasonable defaults
func DefaultReclaimerConfig() ReclaimerConfig {
	return ReclaimerConfig{
		StaleAge:      30 * time.Minute,
		CheckInterval: 5 * time.Minute,
	}
}

// Reclaimer re-dispatches tasks whose delivery may have been lost: all
// unfinished tasks on startup, and processing tasks that stopped reporting
// while running. Tasks keep their dispatch token, so a delivery the queue
// still holds is not duplicated, and the attempt counter on the task row
// bounds how often a task can be picked up again.
type Reclaimer struct {
	tasks  store.TaskStore
	queue  WorkQueue
	config ReclaimerConfig
	logger *slog.Logger
}

// NewReclaimer creates a new Reclaimer
func NewReclaimer(tasks store.TaskStore, queue WorkQueue, config ReclaimerConfig, logger *slog.Logger) *Reclaimer {
	d := DefaultReclaimerConfig()
	if config.CheckInterval <= 0 {
		config.CheckInterval = d.CheckInterval
	}
	if config.StaleAge <= 0 {
		config.StaleAge = d.StaleAge
	}
	return &Reclaimer{
		tasks:  tasks,
		queue:  queue,
		config: config,
		logger: logger.With("component", "reclaimer"),
	}
}

// Recover dispatches every pending and processing task again.
func (r *Reclaimer) Recover(ctx context.Context) error {
	pending, err := r.tasks.ListByStatus(ctx, domain.TaskStatusPending)
	if err != nil {
		return fmt.Errorf("failed to get pending tasks: %w", err)
	}
	processing, err := r.tasks.ListByStatus(ctx, domain.TaskStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to get processing tasks: %w", err)
	}

	r.logger.Info("recovering unfinished tasks",
		"pending_count", len(pending),
		"processing_count", len(processing))

	r.redispatch(ctx, pending)
	r.redispatch(ctx, processing)
	return nil
}

// Run recovers unfinished tasks and then checks for stale tasks until ctx ends.
func (r *Reclaimer) Run(ctx context.Context) error {
	if err := r.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover tasks: %w", err)
	}

	ticker := time.NewTicker(r.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.CheckStale(ctx)
		}
	}
}

// CheckStale re-dispatches processing tasks not updated within StaleAge.
func (r *Reclaimer) CheckStale(ctx context.Context) {
	stale, err := r.tasks.ListStale(ctx, r.config.StaleAge)
	if err != nil {
		r.logger.Error("failed to check for stale tasks", "error", err)
		return
	}
	if len(stale) > 0 {
		r.logger.Info("found stale tasks", "count", len(stale))
		r.redispatch(ctx, stale)
	}
}

func (r *Reclaimer) redispatch(ctx context.Context, tasks []*domain.Task) {
	for _, t := range tasks {
		_, err := r.queue.Enqueue(ctx, Job{
			TaskID:     t.ID,
			Type:       t.Type,
			PayloadRef: t.ContentID,
			Token:      t.DispatchToken,
		})
		switch {
		case err == nil:
			r.logger.Debug("task dispatched again",
				"task_id", t.ID,
				"task_type", t.Type,
				"status", t.Status)
		case errors.Is(err, ErrQueueFull):
			r.logger.Error("failed to requeue task, queue is full",
				"task_id", t.ID,
				"task_type", t.Type)
		default:
			r.logger.Error("failed to requeue task",
				"task_id", t.ID,
				"task_type", t.Type,
				"error", err)
		}
	}
}
