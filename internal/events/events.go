package events

import (
	"github.com/phrazzld/docsage-api/internal/domain"
)

// Message types exchanged on the push channel.
const (
	TypeTaskUpdate = "task_update"
	TypePing       = "ping"
	TypePong       = "pong"
)

// TaskUpdateEvent carries a snapshot of a task after a persisted change.
type TaskUpdateEvent struct {
	Type string       `json:"type"`
	Task *domain.Task `json:"task"`
}

// NewTaskUpdateEvent wraps a task snapshot for delivery.
func NewTaskUpdateEvent(task *domain.Task) TaskUpdateEvent {
	return TaskUpdateEvent{Type: TypeTaskUpdate, Task: task}
}

// ControlMessage is a heartbeat message without payload.
type ControlMessage struct {
	Type string `json:"type"`
}
