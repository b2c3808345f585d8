package conversionmodule

import (
	"errors"

	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/mediaconv/internal/events"
	"github.com/mantonx/mediaconv/internal/modules/conversionmodule/core/pipeline"
)

// EventSource tags every event the conversion module publishes
const EventSource = "module:conversion"

// EventNotifier forwards dispatcher notifications to the event bus. Publishing
// never blocks; events the bus cannot buffer are dropped and logged.
type EventNotifier struct {
	bus    events.EventBus
	logger hclog.Logger
}

var _ pipeline.Notifier = (*EventNotifier)(nil)

// NewEventNotifier creates a notifier publishing to bus
func NewEventNotifier(bus events.EventBus, logger hclog.Logger) *EventNotifier {
	return &EventNotifier{bus: bus, logger: logger}
}

// Notify publishes name with payload as its data
func (n *EventNotifier) Notify(name string, payload map[string]interface{}) {
	if n.bus == nil {
		return
	}
	event := events.NewEventWithData(events.EventType(name), EventSource, payload)
	switch err := n.bus.PublishAsync(event); {
	case err == nil, errors.Is(err, events.ErrBufferFull):
		// the bus logs its own drops
	case errors.Is(err, events.ErrBusStopped):
		n.logger.Debug("Event bus stopped, conversion event not published", "event", name)
	default:
		n.logger.Warn("Dropped conversion event", "event", name, "error", err)
	}
}
