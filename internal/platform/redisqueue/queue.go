package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/docsage-api/internal/metrics"
	"github.com/phrazzld/docsage-api/internal/task"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

// Config configures the Redis queue.
type Config struct {
	// Prefix namespaces every key the queue touches.
	Prefix string

	// PollInterval is the first wait after an empty poll. Consecutive empty
	// polls back off exponentially up to MaxPollInterval.
	PollInterval    time.Duration
	MaxPollInterval time.Duration

	Queue task.QueueConfig
}

// Queue implements task.WorkQueue on Redis.
type Queue struct {
	client redis.UniversalClient
	config Config
	logger *slog.Logger
	now    func() time.Time

	tokensKey string
	leasesKey string
	deadKey   string
	msgPrefix string
	laneKeys  [2]string

	closeOnce sync.Once
	done      chan struct{}
}

var _ task.WorkQueue = (*Queue)(nil)

// New creates a Queue. The caller owns client and closes it after Close.
func New(client redis.UniversalClient, config Config, logger *slog.Logger) *Queue {
	if config.Prefix == "" {
		config.Prefix = "docsage"
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 50 * time.Millisecond
	}
	if config.MaxPollInterval < config.PollInterval {
		config.MaxPollInterval = time.Second
	}
	config.Queue = config.Queue.WithDefaults()

	p := config.Prefix + ":queue:"
	return &Queue{
		client:    client,
		config:    config,
		logger:    logger.With("component", "redis_queue"),
		now:       time.Now,
		tokensKey: p + "tokens",
		leasesKey: p + "leases",
		deadKey:   p + "dead",
		msgPrefix: p + "msg:",
		laneKeys:  [2]string{p + "lane:interactive", p + "lane:batch"},
		done:      make(chan struct{}),
	}
}

func (q *Queue) msgKey(token string) string {
	return q.msgPrefix + token
}

func (q *Queue) closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// Enqueue adds a job to its lane. A token the queue already holds is a no-op.
func (q *Queue) Enqueue(ctx context.Context, job task.Job) (string, error) {
	if q.closed() {
		return "", task.ErrQueueClosed
	}
	token := job.Token
	if token == "" {
		token = uuid.NewString()
	}
	body, err := json.Marshal(task.Message{
		TaskID:     job.TaskID,
		Type:       job.Type,
		PayloadRef: job.PayloadRef,
		Token:      token,
		EnqueuedAt: q.now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode message: %w", err)
	}

	lane := task.Lane(job.Type)
	code, err := enqueueScript.Run(ctx, q.client,
		[]string{q.tokensKey, q.msgKey(token), q.laneKeys[lane]},
		token, q.config.Queue.Capacity, string(body), lane,
	).Int()
	if err != nil {
		return "", fmt.Errorf("failed to enqueue task %s: %w", job.TaskID, err)
	}
	switch code {
	case codeFull:
		return "", fmt.Errorf("%w: queue capacity %d reached", task.ErrQueueFull, q.config.Queue.Capacity)
	case codeDuplicate:
		q.logger.Debug("dispatch token already queued", "task_id", job.TaskID)
	default:
		q.logger.Debug("task enqueued",
			"task_id", job.TaskID,
			"task_type", job.Type,
			"lane", lane)
	}
	return token, nil
}

// Dequeue polls until a message can be leased, ctx ends, or the queue closes.
func (q *Queue) Dequeue(ctx context.Context) (task.Message, error) {
	backoff := retry.WithCappedDuration(q.config.MaxPollInterval, retry.NewExponential(q.config.PollInterval))
	for {
		if q.closed() {
			return task.Message{}, task.ErrQueueClosed
		}
		msg, ok, err := q.tryDequeue(ctx)
		if err != nil {
			return task.Message{}, err
		}
		if ok {
			return msg, nil
		}

		wait, _ := backoff.Next()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return task.Message{}, ctx.Err()
		case <-q.done:
			timer.Stop()
			return task.Message{}, task.ErrQueueClosed
		case <-timer.C:
		}
	}
}

func (q *Queue) tryDequeue(ctx context.Context) (task.Message, bool, error) {
	now := q.now()
	reaped, err := reapScript.Run(ctx, q.client,
		[]string{q.leasesKey, q.laneKeys[0], q.laneKeys[1]},
		now.UnixMilli(), q.msgPrefix,
	).Int()
	if err != nil {
		return task.Message{}, false, fmt.Errorf("failed to reap leases: %w", err)
	}
	if reaped > 0 {
		metrics.QueueRedeliveries.Add(float64(reaped))
		q.logger.Info("leases expired, redelivering", "count", reaped)
	}

	res, err := popScript.Run(ctx, q.client,
		[]string{q.laneKeys[0], q.laneKeys[1], q.leasesKey},
		q.msgPrefix, now.Add(q.config.Queue.VisibilityTimeout).UnixMilli(),
	).StringSlice()
	if errors.Is(err, redis.Nil) {
		return task.Message{}, false, nil
	}
	if err != nil {
		return task.Message{}, false, fmt.Errorf("failed to lease message: %w", err)
	}
	if len(res) != 4 {
		return task.Message{}, false, fmt.Errorf("unexpected lease reply with %d fields", len(res))
	}

	var msg task.Message
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		return task.Message{}, false, fmt.Errorf("failed to decode message %s: %w", res[0], err)
	}
	msg.Token = res[0]
	msg.Attempt, err = strconv.Atoi(res[2])
	if err != nil {
		return task.Message{}, false, fmt.Errorf("invalid attempt for message %s: %w", res[0], err)
	}
	msg.LastError = res[3]
	return msg, true, nil
}

// Ack removes a delivered message.
func (q *Queue) Ack(ctx context.Context, token string) error {
	code, err := ackScript.Run(ctx, q.client,
		[]string{q.tokensKey, q.leasesKey, q.msgKey(token), q.laneKeys[0], q.laneKeys[1]},
		token,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	if code == codeUnknown {
		return task.ErrUnknownToken
	}
	return nil
}

// Nack returns a leased message to its lane or dead-letters it.
func (q *Queue) Nack(ctx context.Context, token string, reason string) error {
	code, err := nackScript.Run(ctx, q.client,
		[]string{q.tokensKey, q.leasesKey, q.msgKey(token), q.deadKey, q.laneKeys[0], q.laneKeys[1]},
		token, reason, q.config.Queue.MaxAttempts,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to nack message: %w", err)
	}
	switch code {
	case codeUnknown:
		return task.ErrUnknownToken
	case codeDead:
		metrics.QueueDeadLetters.Inc()
		q.logger.Warn("message dead-lettered", "token", token, "reason", reason)
		return task.ErrRetriesExhausted
	}
	metrics.QueueRedeliveries.Inc()
	return nil
}

// Depth returns the number of queued and in-flight messages.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	n, err := q.client.SCard(ctx, q.tokensKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue depth: %w", err)
	}
	return int(n), nil
}

// DeadLetters returns the dead-lettered messages, oldest first.
func (q *Queue) DeadLetters(ctx context.Context) ([]task.Message, error) {
	raw, err := q.client.LRange(ctx, q.deadKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letters: %w", err)
	}
	msgs := make([]task.Message, 0, len(raw))
	for _, r := range raw {
		var msg task.Message
		if err := json.Unmarshal([]byte(r), &msg); err != nil {
			q.logger.Warn("skipping undecodable dead letter", "error", err)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Close stops accepting jobs and wakes blocked consumers. Messages stay in Redis.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
		q.logger.Info("task queue closed")
	})
}
