package notification

import (
	"context"
	"time"
)

// EventType names a push event kind.
type EventType string

const (
	EventReminder         EventType = "reminder"
	EventReminderCreated  EventType = "reminder_created"
	EventReminderUpdated  EventType = "reminder_updated"
	EventReminderDeleted  EventType = "reminder_deleted"
	EventProactiveMessage EventType = "proactive_message"
)

// Event is the unit pushed to every live channel.
type Event struct {
	Type      EventType `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent stamps an event with the given instant.
func NewEvent(eventType EventType, data any, at time.Time) Event {
	return Event{Type: eventType, Data: data, Timestamp: at}
}

// Handle identifies one live client channel.
type Handle string

// Sink performs the actual per-channel send. Implementations must be safe for
// concurrent use across different handles.
type Sink interface {
	Send(ctx context.Context, handle Handle, event Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, handle Handle, event Event) error

func (f SinkFunc) Send(ctx context.Context, handle Handle, event Event) error {
	return f(ctx, handle, event)
}

// BroadcastResult summarizes one broadcast pass.
type BroadcastResult struct {
	Attempted int
	Delivered int
	// Failed lists handles removed from the live set during this pass.
	Failed []Handle
	Errors []error
}
