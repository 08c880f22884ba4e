package task

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/docsage-api/internal/domain"
	"github.com/phrazzld/docsage-api/internal/metrics"
	"github.com/phrazzld/docsage-api/internal/platform/logger"
	"github.com/phrazzld/docsage-api/internal/redact"
	"github.com/phrazzld/docsage-api/internal/store"
)

// errTaskCancelled is the cause attached to an engine context when the task
// left processing underneath the worker.
var errTaskCancelled = errors.New("task cancelled")

// Publisher receives every persisted task snapshot.
type Publisher interface {
	Publish(ownerID uuid.UUID, task *domain.Task)
}

// WorkerPoolConfig holds configuration options for the worker pool
type WorkerPoolConfig struct {
	// WorkerCount determines how many concurrent worker goroutines to start
	// If zero or negative, defaults to 1
	WorkerCount int

	// MaxAttempts bounds how many times one task may be claimed.
	MaxAttempts int

	// Budget returns the maximum execution time for a task type.
	// If nil, every type gets DefaultBudget.
	Budget func(domain.TaskType) time.Duration
}

// DefaultBudget is the execution budget used when none is configured.
const DefaultBudget = 5 * time.Minute

// DefaultWorkerPoolConfig returns a WorkerPoolConfig with reasonable defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount: 2,
		MaxAttempts: 3,
	}
}

// WorkerPool manages a pool of worker goroutines that process deliveries
// from a WorkQueue. It handles graceful shutdown and worker lifecycle.
type WorkerPool struct {
	queue     WorkQueue
	tasks     store.TaskStore
	engine    AnalysisEngine
	publisher Publisher
	config    WorkerPoolConfig

	// wg tracks active worker goroutines for clean shutdown
	wg sync.WaitGroup

	// ctx is used for cancellation and shutdown signaling
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running map[uuid.UUID]context.CancelCauseFunc

	logger *slog.Logger
}

// NewWorkerPool creates a new worker pool with the specified configuration
func NewWorkerPool(
	queue WorkQueue,
	tasks store.TaskStore,
	engine AnalysisEngine,
	publisher Publisher,
	config WorkerPoolConfig,
	logger *slog.Logger,
) *WorkerPool {
	logger = logger.With("component", "worker_pool")
	if config.WorkerCount <= 0 {
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
		config.WorkerCount = 1
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultWorkerPoolConfig().MaxAttempts
	}
	if config.Budget == nil {
		config.Budget = func(domain.TaskType) time.Duration { return DefaultBudget }
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		queue:     queue,
		tasks:     tasks,
		engine:    engine,
		publisher: publisher,
		config:    config,
		ctx:       ctx,
		cancel:    cancel,
		running:   make(map[uuid.UUID]context.CancelCauseFunc),
		logger:    logger,
	}
}

// Start launches the workers.
func (p *WorkerPool) Start() {
	p.logger.Info("starting worker pool", "worker_count", p.config.WorkerCount)
	for i := 0; i < p.config.WorkerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop cancels in-flight work and waits for the workers to exit. Deliveries
// that were in flight stay unacked and are redelivered after their lease.
func (p *WorkerPool) Stop() {
	p.cancel()
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

// Run starts the pool and stops it when ctx ends.
func (p *WorkerPool) Run(ctx context.Context) error {
	p.Start()
	select {
	case <-ctx.Done():
	case <-p.ctx.Done():
	}
	p.Stop()
	return nil
}

// CancelRunning interrupts the engine working on taskID, if any worker in
// this pool holds it. It reports whether a running execution was signalled.
func (p *WorkerPool) CancelRunning(taskID uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	cancel, ok := p.running[taskID]
	if ok {
		cancel(errTaskCancelled)
	}
	return ok
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	p.logger.Debug("starting worker", "worker_id", id)

	for {
		msg, err := p.queue.Dequeue(p.ctx)
		if err != nil {
			if p.ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
				p.logger.Debug("stopping worker", "worker_id", id)
				return
			}
			p.logger.Error("dequeue failed", "worker_id", id, "error", err)
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		p.process(msg, id)
	}
}

// process handles one delivery end to end. Every status write is a
// compare-and-swap; losing one means another actor (usually a cancel)
// settled the task first and this worker's outcome is discarded.
func (p *WorkerPool) process(msg Message, workerID int) {
	log := p.logger.With(
		"task_id", msg.TaskID,
		"task_type", msg.Type,
		"attempt", msg.Attempt,
		"worker_id", workerID,
	)
	ctx := logger.WithLogger(p.ctx, log)

	t, err := p.tasks.Get(ctx, msg.TaskID)
	if err != nil {
		if store.IsNotFoundError(err) {
			log.Warn("dropping delivery for unknown task")
			p.ack(ctx, msg)
			return
		}
		log.Error("failed to load task", "error", err)
		p.nack(ctx, msg, err.Error())
		return
	}
	if t.Status.IsTerminal() || t.DispatchToken != msg.Token {
		log.Debug("dropping stale delivery", "status", t.Status)
		p.ack(ctx, msg)
		return
	}

	if msg.Attempt > p.config.MaxAttempts || t.Attempts >= p.config.MaxAttempts {
		log.Warn("task exceeded its attempt limit", "claims", t.Attempts)
		p.fail(ctx, t, msg, domain.ErrorKindMaxRetriesExceeded, "delivery attempts exhausted")
		p.ack(ctx, msg)
		return
	}

	claimed, err := p.tasks.Transition(ctx, t.ID, store.TransitionRequest{
		From:          domain.ActiveStatuses,
		To:            domain.TaskStatusProcessing,
		DispatchToken: msg.Token,
		ClaimAttempt:  true,
	})
	if err != nil {
		if errors.Is(err, store.ErrTransitionConflict) {
			log.Info("task changed before claim, dropping delivery")
			p.ack(ctx, msg)
			return
		}
		log.Error("failed to claim task", "error", err)
		p.nack(ctx, msg, err.Error())
		return
	}
	p.publish(claimed)
	log.Info("processing task")

	out := p.execute(ctx, claimed, msg)
	result, runErr := out.result, out.err
	if runErr == nil && !json.Valid(result) {
		runErr = errors.New("engine returned an invalid result")
	}

	switch {
	case p.ctx.Err() != nil:
		// Shutdown: leave the delivery unacked for redelivery.
		log.Info("worker pool stopping, abandoning task")
		return
	case errors.Is(out.cause, errTaskCancelled):
		log.Info("task cancelled during execution, discarding outcome")
		p.ack(ctx, msg)
		return
	case errors.Is(out.cause, context.DeadlineExceeded):
		log.Warn("task exceeded its execution budget")
		p.fail(ctx, claimed, msg, domain.ErrorKindTimeout, "execution budget exceeded")
		p.ack(ctx, msg)
		return
	}

	switch {
	case runErr == nil:
		done, err := p.tasks.Transition(ctx, claimed.ID, store.TransitionRequest{
			From:          []domain.TaskStatus{domain.TaskStatusProcessing},
			To:            domain.TaskStatusCompleted,
			DispatchToken: msg.Token,
			Result:        result,
		})
		if err != nil {
			log.Info("completion lost to a concurrent update, discarding result", "error", err)
		} else {
			log.Info("task completed successfully")
			metrics.TasksFinished.WithLabelValues(string(done.Type), string(done.Status)).Inc()
			p.publish(done)
		}
		p.ack(ctx, msg)

	case errors.Is(runErr, ErrTransient):
		log.Warn("transient engine failure, releasing for retry", "error", redact.Error(runErr))
		if err := p.queue.Nack(ctx, msg.Token, redact.Error(runErr)); errors.Is(err, ErrRetriesExhausted) {
			p.fail(ctx, claimed, msg, domain.ErrorKindMaxRetriesExceeded, redact.Error(runErr))
		} else if err != nil {
			log.Error("failed to release delivery", "error", err)
		}

	case errors.Is(runErr, store.ErrContentNotFound):
		log.Warn("task content is missing")
		p.fail(ctx, claimed, msg, domain.ErrorKindContentMissing, "content no longer exists")
		p.ack(ctx, msg)

	default:
		log.Error("task execution failed", "error", redact.Error(runErr))
		p.fail(ctx, claimed, msg, domain.ErrorKindEngine, redact.Error(runErr))
		p.ack(ctx, msg)
	}
}

// execution is the outcome of one engine run. cause is set when the
// execution context ended before the engine returned.
type execution struct {
	result json.RawMessage
	err    error
	cause  error
}

// execute runs the engine under the type budget.
func (p *WorkerPool) execute(ctx context.Context, t *domain.Task, msg Message) execution {
	budgetCtx, cancelBudget := context.WithTimeout(ctx, p.config.Budget(t.Type))
	defer cancelBudget()
	execCtx, cancel := context.WithCancelCause(budgetCtx)
	defer cancel(nil)

	p.mu.Lock()
	p.running[t.ID] = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.running, t.ID)
		p.mu.Unlock()
	}()

	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()
	start := time.Now()
	defer func() {
		metrics.TaskDuration.WithLabelValues(string(t.Type)).Observe(time.Since(start).Seconds())
	}()

	progress := func(pct int) {
		updated, err := p.tasks.UpdateProgress(ctx, t.ID, msg.Token, pct)
		switch {
		case errors.Is(err, store.ErrTransitionConflict):
			cancel(errTaskCancelled)
		case err != nil:
			logger.FromContextOrDefault(ctx, p.logger).Warn("failed to record progress", "error", err)
		default:
			p.publish(updated)
		}
	}

	result, err := p.engine.Execute(execCtx, Request{
		TaskID:    t.ID,
		Type:      t.Type,
		ContentID: t.ContentID,
		Options:   t.Options,
	}, progress)

	out := execution{result: result, err: err}
	if execCtx.Err() != nil {
		out.cause = context.Cause(execCtx)
	}
	return out
}

// fail records a terminal failure for an active task.
func (p *WorkerPool) fail(ctx context.Context, t *domain.Task, msg Message, kind domain.ErrorKind, message string) {
	failed, err := p.tasks.Transition(ctx, t.ID, store.TransitionRequest{
		From:          domain.ActiveStatuses,
		To:            domain.TaskStatusFailed,
		DispatchToken: msg.Token,
		Error:         &domain.TaskError{Kind: kind, Message: message},
	})
	if err != nil {
		logger.FromContextOrDefault(ctx, p.logger).
			Info("failure not recorded, task already settled", "error", err)
		return
	}
	metrics.TasksFinished.WithLabelValues(string(failed.Type), string(failed.Status)).Inc()
	p.publish(failed)
}

func (p *WorkerPool) publish(t *domain.Task) {
	if p.publisher != nil && t != nil {
		p.publisher.Publish(t.OwnerID, t)
	}
}

func (p *WorkerPool) ack(ctx context.Context, msg Message) {
	if err := p.queue.Ack(ctx, msg.Token); err != nil && !errors.Is(err, ErrUnknownToken) {
		logger.FromContextOrDefault(ctx, p.logger).Error("failed to ack delivery", "error", err)
	}
}

func (p *WorkerPool) nack(ctx context.Context, msg Message, reason string) {
	err := p.queue.Nack(ctx, msg.Token, reason)
	if errors.Is(err, ErrRetriesExhausted) {
		// The attempt check on the next claim cannot run; settle the task now.
		if t, getErr := p.tasks.Get(ctx, msg.TaskID); getErr == nil {
			p.fail(ctx, t, msg, domain.ErrorKindMaxRetriesExceeded, reason)
		}
		return
	}
	if err != nil && !errors.Is(err, ErrUnknownToken) {
		logger.FromContextOrDefault(ctx, p.logger).Error("failed to nack delivery", "error", err)
	}
}
