// Package events provides the in-process event bus that carries conversion
// lifecycle notifications to websocket clients and the job history store.
package events

import (
	"time"
)

// EventType names an event, e.g. "job-completed"
type EventType string

// System-wide event types. Conversion lifecycle events use the job event
// names verbatim as their type.
const (
	EventSystemStarted EventType = "system.started"
	EventSystemStopped EventType = "system.stopped"

	EventPluginLoaded EventType = "plugin.loaded"
	EventPluginError  EventType = "plugin.error"

	EventConfigReloaded EventType = "config.reloaded"
)

// EventPriority orders events for filtering. Higher is more urgent.
type EventPriority int

const (
	PriorityLow      EventPriority = 1
	PriorityNormal   EventPriority = 5
	PriorityHigh     EventPriority = 10
	PriorityCritical EventPriority = 20
)

// Event is one notification on the bus. Conversion events carry the job
// id under Data["id"].
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"` // system, module:conversion, plugin:id
	Title     string                 `json:"title,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data"`
	Priority  EventPriority          `json:"priority"`
	Tags      []string               `json:"tags,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// JobID returns the conversion job the event belongs to, or "" for
// events that are not about a single job
func (e Event) JobID() string {
	id, _ := e.Data["id"].(string)
	return id
}

// EventHandler handles one delivered event. A returned error is logged.
type EventHandler func(event Event) error

// EventFilter selects events. Empty fields match everything; Tags matches
// when any one tag is present.
type EventFilter struct {
	Types    []EventType    `json:"types,omitempty"`
	Sources  []string       `json:"sources,omitempty"`
	JobID    string         `json:"job_id,omitempty"`
	Tags     []string       `json:"tags,omitempty"`
	Priority *EventPriority `json:"priority,omitempty"`
}

// Subscription is a registered handler and its delivery counters
type Subscription struct {
	ID            string       `json:"id"`
	Filter        EventFilter  `json:"filter"`
	Handler       EventHandler `json:"-"`
	Subscriber    string       `json:"subscriber"`
	Created       time.Time    `json:"created"`
	LastTriggered *time.Time   `json:"last_triggered,omitempty"`
	TriggerCount  int64        `json:"trigger_count"`
}

// EventStats counts what the bus has seen since Start
type EventStats struct {
	TotalEvents         int64            `json:"total_events"`
	DroppedEvents       int64            `json:"dropped_events"`
	EventsByType        map[string]int64 `json:"events_by_type"`
	EventsBySource      map[string]int64 `json:"events_by_source"`
	ActiveSubscriptions int              `json:"active_subscriptions"`
}

// EventBusConfig tunes the bus. RecentEvents bounds the in-memory history
// served when persistence is off.
type EventBusConfig struct {
	BufferSize        int           `json:"buffer_size"`
	MaxEventAge       time.Duration `json:"max_event_age"`
	RecentEvents      int           `json:"recent_events"`
	EnablePersistence bool          `json:"enable_persistence"`
}

// DefaultEventBusConfig returns the settings used when events config is absent
func DefaultEventBusConfig() EventBusConfig {
	return EventBusConfig{
		BufferSize:        1000,
		MaxEventAge:       7 * 24 * time.Hour,
		RecentEvents:      100,
		EnablePersistence: false,
	}
}
