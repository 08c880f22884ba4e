package events

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/docsage-api/internal/domain"
	"github.com/phrazzld/docsage-api/internal/metrics"
)

// DefaultBufferSize is the per-subscription buffer used when none is configured.
const DefaultBufferSize = 32

// Subscription is one consumer of an owner's task updates.
type Subscription struct {
	ownerID uuid.UUID
	remote  string
	updates chan TaskUpdateEvent
	once    sync.Once
}

// Updates returns the stream of events. It is closed by Unsubscribe or Hub.Close.
func (s *Subscription) Updates() <-chan TaskUpdateEvent {
	return s.updates
}

// OwnerID returns the owner this subscription receives updates for.
func (s *Subscription) OwnerID() uuid.UUID {
	return s.ownerID
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.updates) })
}

// Hub is an in-memory publish/subscribe hub keyed by owner.
type Hub struct {
	mu         sync.RWMutex
	subs       map[uuid.UUID]map[*Subscription]struct{}
	closed     bool
	bufferSize int
	logger     *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(bufferSize int, logger *slog.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		subs:       make(map[uuid.UUID]map[*Subscription]struct{}),
		bufferSize: bufferSize,
		logger:     logger.With("component", "progress_hub"),
	}
}

// Subscribe registers a consumer for the owner's updates. remote is only
// used for logging. Subscribing to a closed hub returns a closed subscription.
func (h *Hub) Subscribe(ownerID uuid.UUID, remote string) *Subscription {
	sub := &Subscription{
		ownerID: ownerID,
		remote:  remote,
		updates: make(chan TaskUpdateEvent, h.bufferSize),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.close()
		return sub
	}
	if h.subs[ownerID] == nil {
		h.subs[ownerID] = make(map[*Subscription]struct{})
	}
	h.subs[ownerID][sub] = struct{}{}
	metrics.HubSubscribers.Inc()

	h.logger.Debug("subscribed",
		"user_id", ownerID,
		"remote", remote,
		"owner_subscriptions", len(h.subs[ownerID]))
	return sub
}

// Unsubscribe removes the subscription and closes its stream. It is safe
// to call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if owned, ok := h.subs[sub.ownerID]; ok {
		if _, ok := owned[sub]; ok {
			delete(owned, sub)
			metrics.HubSubscribers.Dec()
			if len(owned) == 0 {
				delete(h.subs, sub.ownerID)
			}
			h.logger.Debug("unsubscribed", "user_id", sub.ownerID, "remote", sub.remote)
		}
	}
	sub.close()
}

// Publish delivers a snapshot of task to every subscription of ownerID
// without blocking. Subscribers with a full buffer miss the update.
func (h *Hub) Publish(ownerID uuid.UUID, task *domain.Task) {
	if task == nil {
		return
	}
	event := NewTaskUpdateEvent(task.Clone())

	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[ownerID] {
		select {
		case sub.updates <- event:
		default:
			metrics.HubDropped.Inc()
			h.logger.Debug("dropping update for slow subscriber",
				"user_id", ownerID,
				"remote", sub.remote,
				"task_id", task.ID)
		}
	}
}

// SubscriberCount returns the number of open subscriptions for ownerID.
func (h *Hub) SubscriberCount(ownerID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[ownerID])
}

// Close ends every subscription. Later publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, owned := range h.subs {
		for sub := range owned {
			sub.close()
			metrics.HubSubscribers.Dec()
		}
	}
	h.subs = make(map[uuid.UUID]map[*Subscription]struct{})
	h.logger.Info("progress hub closed")
}
