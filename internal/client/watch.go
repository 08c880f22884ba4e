package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/phrazzld/docsage-api/internal/api"
	"github.com/phrazzld/docsage-api/internal/events"
	"github.com/sethvargo/go-retry"
)

// reconcilePageSize is the number of recent tasks fetched after each
// (re)connect to catch up on updates missed while disconnected.
const reconcilePageSize = 100

// UpdateFunc receives task snapshots. Watch calls it from a single goroutine.
type UpdateFunc func(api.TaskResponse)

type wireEvent struct {
	Type string            `json:"type"`
	Task *api.TaskResponse `json:"task,omitempty"`
}

// Watch delivers updates for the caller's tasks until ctx ends.
//
// After every successful connect it lists recent tasks so that updates
// published while disconnected are not lost. Dropped connections are
// retried with capped exponential backoff; after MaxReconnects consecutive
// failures Watch polls ListTasks every PollInterval instead. Snapshots may
// repeat; consumers should treat them as idempotent.
func (c *Client) Watch(ctx context.Context, onUpdate UpdateFunc) error {
	log := c.logger().With("component", "task_watch")
	backoff := c.newBackoff()

	for {
		connected, err := c.stream(ctx, onUpdate)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			// A healthy session resets the failure budget.
			backoff = c.newBackoff()
		}

		delay, stop := backoff.Next()
		if stop {
			log.Warn("websocket unavailable, falling back to polling", "error", err)
			return c.poll(ctx, onUpdate)
		}
		log.Debug("websocket disconnected, reconnecting", "error", err, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (c *Client) newBackoff() retry.Backoff {
	base := c.ReconnectBase
	if base <= 0 {
		base = DefaultReconnectBase
	}
	ceiling := c.ReconnectMax
	if ceiling <= 0 {
		ceiling = DefaultReconnectMax
	}
	attempts := c.MaxReconnects
	if attempts == 0 {
		attempts = DefaultMaxReconnects
	}
	b := retry.NewExponential(base)
	b = retry.WithCappedDuration(ceiling, b)
	return retry.WithMaxRetries(attempts, b)
}

func (c *Client) wsURL() (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/tasks"
	u.RawQuery = url.Values{"token": {c.Token}}.Encode()
	return u.String(), nil
}

// stream runs one WebSocket session. connected reports whether the dial
// succeeded, so the caller can tell a dropped session from a failed dial.
func (c *Client) stream(ctx context.Context, onUpdate UpdateFunc) (connected bool, err error) {
	target, err := c.wsURL()
	if err != nil {
		return false, err
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("websocket dial: %w (status %d)", err, resp.StatusCode)
		}
		return false, fmt.Errorf("websocket dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	readTimeout := c.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	extend := func() { _ = conn.SetReadDeadline(time.Now().Add(readTimeout)) }
	extend()
	conn.SetPingHandler(func(data string) error {
		extend()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	// Subscribed first, then reconciled: an update racing the listing is
	// delivered by the stream if the listing missed it.
	if err := c.reconcile(ctx, onUpdate); err != nil {
		return true, err
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("websocket read: %w", err)
		}
		extend()

		var event wireEvent
		if err := json.Unmarshal(data, &event); err != nil {
			c.logger().Debug("ignoring malformed websocket message", "error", err)
			continue
		}
		if event.Type == events.TypeTaskUpdate && event.Task != nil {
			onUpdate(*event.Task)
		}
	}
}

func (c *Client) reconcile(ctx context.Context, onUpdate UpdateFunc) error {
	page, err := c.ListTasks(ctx, ListOptions{PageSize: reconcilePageSize})
	if err != nil {
		return fmt.Errorf("failed to reconcile tasks: %w", err)
	}
	for _, t := range page.Tasks {
		onUpdate(t)
	}
	return nil
}

// poll lists recent tasks every PollInterval and reports those that changed.
func (c *Client) poll(ctx context.Context, onUpdate UpdateFunc) error {
	interval := c.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	seen := make(map[uuid.UUID]time.Time)

	check := func() {
		page, err := c.ListTasks(ctx, ListOptions{PageSize: reconcilePageSize})
		if err != nil {
			if ctx.Err() == nil {
				c.logger().Warn("failed to poll tasks", "error", err)
			}
			return
		}
		for _, t := range page.Tasks {
			if last, ok := seen[t.ID]; ok && !t.UpdatedAt.After(last) {
				continue
			}
			seen[t.ID] = t.UpdatedAt
			onUpdate(t)
		}
	}

	check()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			check()
		}
	}
}
