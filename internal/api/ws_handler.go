package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/phrazzld/docsage-api/internal/events"
	"github.com/phrazzld/docsage-api/internal/platform/logger"
)

// Defaults for the push channel heartbeat.
const (
	DefaultPingInterval = 30 * time.Second
	DefaultPongWait     = 60 * time.Second

	writeWait      = 10 * time.Second
	maxClientFrame = 512
)

// ProgressSubscriber hands out subscriptions to an owner's task updates.
type ProgressSubscriber interface {
	Subscribe(ownerID uuid.UUID, remote string) *events.Subscription
	Unsubscribe(sub *events.Subscription)
}

// WSConfig configures the WebSocket heartbeat.
type WSConfig struct {
	PingInterval time.Duration
	PongWait     time.Duration
}

// WSHandler streams task updates to authenticated WebSocket clients.
type WSHandler struct {
	hub      ProgressSubscriber
	config   WSConfig
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(hub ProgressSubscriber, config WSConfig) *WSHandler {
	if config.PingInterval <= 0 {
		config.PingInterval = DefaultPingInterval
	}
	if config.PongWait <= config.PingInterval {
		config.PongWait = 2 * config.PingInterval
	}
	return &WSHandler{
		hub:    hub,
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Clients authenticate with a query token, never cookies.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Stream handles GET /ws/tasks. The caller must already be authenticated.
// Every update for the caller's tasks is pushed as a task_update message.
// The server pings every PingInterval and drops the connection when nothing
// is received for PongWait. A client {"type":"ping"} is answered with
// {"type":"pong"}.
func (h *WSHandler) Stream(w http.ResponseWriter, r *http.Request) {
	userID, ok := handleUserID(w, r)
	if !ok {
		return
	}
	log := logger.FromContext(r.Context()).With("user_id", userID, "remote", r.RemoteAddr)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written an error response.
		log.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	sub := h.hub.Subscribe(userID, r.RemoteAddr)
	defer h.hub.Unsubscribe(sub)

	pongs := make(chan struct{}, 1)
	done := make(chan struct{})
	go h.readLoop(conn, pongs, done)

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case event, open := <-sub.Updates():
			if !open {
				_ = h.write(conn, websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				log.Error("failed to encode task update", "error", err)
				continue
			}
			if err := h.write(conn, websocket.TextMessage, payload); err != nil {
				log.Debug("websocket write failed", "error", err)
				return
			}
		case <-pongs:
			payload, _ := json.Marshal(events.ControlMessage{Type: events.TypePong})
			if err := h.write(conn, websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := h.write(conn, websocket.PingMessage, nil); err != nil {
				log.Debug("websocket ping failed", "error", err)
				return
			}
		case <-done:
			log.Debug("websocket closed by peer")
			return
		}
	}
}

func (h *WSHandler) write(conn *websocket.Conn, messageType int, payload []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, payload)
}

// readLoop owns all reads on conn. Any frame from the client, including a
// pong, extends the read deadline.
func (h *WSHandler) readLoop(conn *websocket.Conn, pongs chan<- struct{}, done chan<- struct{}) {
	defer close(done)

	extend := func() { _ = conn.SetReadDeadline(time.Now().Add(h.config.PongWait)) }
	conn.SetReadLimit(maxClientFrame)
	extend()
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		extend()

		var msg events.ControlMessage
		if json.Unmarshal(data, &msg) != nil || msg.Type != events.TypePing {
			continue
		}
		select {
		case pongs <- struct{}{}:
		default:
		}
	}
}
