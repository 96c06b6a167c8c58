package history

import (
	"context"
	"time"
)

// EventType defines the kind of pipeline event.
type EventType string

const (
	// EventRequest records a build-request message published to the queue.
	EventRequest EventType = "request"
	// EventUpdate records a status notification applied to the tracker.
	EventUpdate EventType = "update"
)

// Event represents a pipeline event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Key        string    `json:"key"`
	BuildID    string    `json:"build_id,omitempty"`
	Branch     string    `json:"branch,omitempty"`
	Commit     string    `json:"commit,omitempty"`
	Status     string    `json:"status,omitempty"`
	Artifact   string    `json:"artifact,omitempty"`
	IsTest     bool      `json:"is_test,omitempty"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
