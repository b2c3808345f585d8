package events

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
)

// EventBus carries lifecycle events from the dispatcher to the history
// recorder, the websocket hub and the events API
type EventBus interface {
	// Publish publishes an event, waiting for buffer space until ctx is done
	Publish(ctx context.Context, event Event) error

	// PublishAsync publishes an event without blocking; a full buffer drops it
	PublishAsync(event Event) error

	// Subscribe registers handler for events matching filter. The
	// subscription lives until Unsubscribe; ctx is not watched.
	Subscribe(ctx context.Context, filter EventFilter, handler EventHandler) (*Subscription, error)

	// Unsubscribe drops a subscription by id
	Unsubscribe(subscriptionID string) error

	// GetEvents pages through stored events, newest first
	GetEvents(filter EventFilter, limit, offset int) ([]Event, int64, error)

	// GetStats reports counters since Start
	GetStats() EventStats

	// Start launches event delivery
	Start(ctx context.Context) error

	// Stop delivers buffered events and stops the bus
	Stop(ctx context.Context) error

	// Health is nil while the bus runs with buffer headroom
	Health() error
}

// EventLogger defines the logging interface for events. hclog.Logger
// satisfies it.
type EventLogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// EventStorage persists events so history survives restarts
type EventStorage interface {
	Store(ctx context.Context, event Event) error
	Get(ctx context.Context, filter EventFilter, limit, offset int) ([]Event, int64, error)

	// Delete prunes events older than olderThan
	Delete(ctx context.Context, olderThan time.Duration) error

	Count(ctx context.Context) (int64, error)
	Close() error
}

// NewEvent returns a normal-priority event stamped with a fresh id and the
// current time
func NewEvent(eventType EventType, source string, title string, message string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Title:     title,
		Message:   message,
		Data:      make(map[string]interface{}),
		Priority:  PriorityNormal,
		Tags:      []string{},
		Timestamp: time.Now(),
	}
}

// NewEventWithData returns an untitled event carrying data. Conversion
// notifications are built this way.
func NewEventWithData(eventType EventType, source string, data map[string]interface{}) Event {
	event := NewEvent(eventType, source, "", "")
	if data != nil {
		event.Data = data
	}
	return event
}

// NewSystemEvent returns an event from the "system" source
func NewSystemEvent(eventType EventType, title string, message string) Event {
	return NewEvent(eventType, "system", title, message)
}

// MatchesFilter reports whether event passes every field of filter
func MatchesFilter(event Event, filter EventFilter) bool {
	switch {
	case len(filter.Types) > 0 && !slices.Contains(filter.Types, event.Type):
		return false
	case len(filter.Sources) > 0 && !slices.Contains(filter.Sources, event.Source):
		return false
	case filter.JobID != "" && event.JobID() != filter.JobID:
		return false
	case filter.Priority != nil && event.Priority < *filter.Priority:
		return false
	case len(filter.Tags) > 0:
		return slices.ContainsFunc(filter.Tags, func(tag string) bool {
			return slices.Contains(event.Tags, tag)
		})
	}
	return true
}

// FilterEvents returns the events that match filter, keeping their order
func FilterEvents(events []Event, filter EventFilter) []Event {
	filtered := make([]Event, 0, len(events))
	for _, event := range events {
		if MatchesFilter(event, filter) {
			filtered = append(filtered, event)
		}
	}
	return filtered
}

func paginate(events []Event, limit, offset int) []Event {
	if offset >= len(events) {
		return []Event{}
	}
	events = events[offset:]
	if limit > 0 && limit < len(events) {
		events = events[:limit]
	}
	return events
}
