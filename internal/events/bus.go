package events

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrBusStopped is returned when publishing to a bus that is not running
	ErrBusStopped = errors.New("event bus is not running")

	// ErrBufferFull is returned by PublishAsync when the event was dropped
	ErrBufferFull = errors.New("event buffer full")
)

// eventBus implements the EventBus interface. A single processor goroutine
// delivers events, so subscribers observe them in publish order.
type eventBus struct {
	config  EventBusConfig
	logger  EventLogger
	storage EventStorage

	// lifecycleMu guards running, eventChannel and stopCh. Publishers hold
	// it for reading while they send; the processor never takes it.
	lifecycleMu  sync.RWMutex
	eventChannel chan Event
	running      bool
	stopCh       chan struct{}
	wg           sync.WaitGroup

	// mu guards subscriptions, recentEvents and eventStats
	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	recentEvents  []Event
	eventStats    EventStats
}

// NewEventBus creates a new event bus instance. storage may be nil.
func NewEventBus(config EventBusConfig, logger EventLogger, storage EventStorage) EventBus {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultEventBusConfig().BufferSize
	}
	if config.RecentEvents <= 0 {
		config.RecentEvents = DefaultEventBusConfig().RecentEvents
	}
	return &eventBus{
		config:        config,
		logger:        logger,
		storage:       storage,
		subscriptions: make(map[string]*Subscription),
		recentEvents:  make([]Event, 0, config.RecentEvents),
		eventStats: EventStats{
			EventsByType:   make(map[string]int64),
			EventsBySource: make(map[string]int64),
		},
	}
}

// Start launches the processor, plus the pruner when events are persisted
func (eb *eventBus) Start(ctx context.Context) error {
	eb.lifecycleMu.Lock()
	defer eb.lifecycleMu.Unlock()

	if eb.running {
		return fmt.Errorf("event bus is already running")
	}

	eb.running = true
	eb.stopCh = make(chan struct{})
	eb.eventChannel = make(chan Event, eb.config.BufferSize)

	eb.wg.Add(1)
	go eb.processEvents(eb.eventChannel)

	if eb.config.EnablePersistence && eb.storage != nil && eb.config.MaxEventAge > 0 {
		eb.wg.Add(1)
		go eb.pruneEvents(ctx, eb.stopCh)
	}

	eb.logger.Info("Event bus started", "buffer_size", eb.config.BufferSize, "persist", eb.config.EnablePersistence)
	return nil
}

// Stop stops the event bus gracefully. Events already buffered are delivered
// before the processor exits.
func (eb *eventBus) Stop(ctx context.Context) error {
	eb.lifecycleMu.Lock()
	if !eb.running {
		eb.lifecycleMu.Unlock()
		return nil
	}
	eb.running = false
	close(eb.stopCh)
	// publishers hold the read lock while sending, so nobody is mid-send here
	close(eb.eventChannel)
	eb.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		eb.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		eb.logger.Info("Event bus stopped gracefully")
	case <-ctx.Done():
		eb.logger.Warn("Event bus stop timed out")
		return ctx.Err()
	}

	if eb.storage != nil {
		return eb.storage.Close()
	}
	return nil
}

// Publish waits for buffer space until ctx is done
func (eb *eventBus) Publish(ctx context.Context, event Event) error {
	return eb.enqueue(ctx, event)
}

// PublishAsync never blocks. A full buffer drops the event and counts it.
func (eb *eventBus) PublishAsync(event Event) error {
	return eb.enqueue(nil, event)
}

// enqueue hands event to the processor. A nil ctx means do not wait.
func (eb *eventBus) enqueue(ctx context.Context, event Event) error {
	event, err := eb.prepare(event)
	if err != nil {
		return err
	}

	eb.lifecycleMu.RLock()
	defer eb.lifecycleMu.RUnlock()
	if !eb.running {
		return ErrBusStopped
	}

	if ctx == nil {
		select {
		case eb.eventChannel <- event:
			return nil
		default:
			eb.logger.Warn("Event buffer full, dropping event", "event_type", event.Type, "job_id", event.JobID())
			eb.recordDrop()
			return ErrBufferFull
		}
	}

	select {
	case eb.eventChannel <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe subscribes to events matching the filter
func (eb *eventBus) Subscribe(ctx context.Context, filter EventFilter, handler EventHandler) (*Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()

	subscription := &Subscription{
		ID:         "sub-" + uuid.NewString(),
		Filter:     filter,
		Handler:    handler,
		Subscriber: "system",
		Created:    time.Now(),
	}
	eb.subscriptions[subscription.ID] = subscription

	eb.logger.Debug("Subscribed", "subscription_id", subscription.ID, "types", filter.Types, "job_id", filter.JobID)
	return subscription, nil
}

// Unsubscribe removes a subscription
func (eb *eventBus) Unsubscribe(subscriptionID string) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if _, exists := eb.subscriptions[subscriptionID]; !exists {
		return fmt.Errorf("subscription not found: %s", subscriptionID)
	}
	delete(eb.subscriptions, subscriptionID)

	eb.logger.Debug("Unsubscribed", "subscription_id", subscriptionID)
	return nil
}

// GetEvents returns stored events based on filter and pagination, newest first
func (eb *eventBus) GetEvents(filter EventFilter, limit, offset int) ([]Event, int64, error) {
	if eb.storage != nil && eb.config.EnablePersistence {
		return eb.storage.Get(context.Background(), filter, limit, offset)
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()

	matched := FilterEvents(eb.recentEvents, filter)
	slices.Reverse(matched)
	return paginate(matched, limit, offset), int64(len(matched)), nil
}

// GetStats returns a copy of the bus counters
func (eb *eventBus) GetStats() EventStats {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	stats := eb.eventStats
	stats.EventsByType = maps.Clone(eb.eventStats.EventsByType)
	stats.EventsBySource = maps.Clone(eb.eventStats.EventsBySource)
	stats.ActiveSubscriptions = len(eb.subscriptions)
	return stats
}

// Health fails when the bus is stopped or its buffer is nearly full
func (eb *eventBus) Health() error {
	eb.lifecycleMu.RLock()
	defer eb.lifecycleMu.RUnlock()

	if !eb.running {
		return ErrBusStopped
	}
	if used, size := len(eb.eventChannel), cap(eb.eventChannel); used*10 > size*9 {
		return fmt.Errorf("event buffer backlog %d/%d", used, size)
	}
	return nil
}

func (eb *eventBus) prepare(event Event) (Event, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	switch {
	case event.Type == "":
		return event, errors.New("invalid event: missing type")
	case event.Source == "":
		return event, errors.New("invalid event: missing source")
	}
	return event, nil
}

func (eb *eventBus) recordDrop() {
	eb.mu.Lock()
	eb.eventStats.DroppedEvents++
	eb.mu.Unlock()
}

// processEvents delivers events until the channel is closed by Stop
func (eb *eventBus) processEvents(events <-chan Event) {
	defer eb.wg.Done()

	for event := range events {
		eb.handleEvent(event)
	}
	eb.logger.Debug("Event processor stopped")
}

// handleEvent processes a single event
func (eb *eventBus) handleEvent(event Event) {
	if eb.config.EnablePersistence && eb.storage != nil {
		if err := eb.storage.Store(context.Background(), event); err != nil {
			eb.logger.Error("Failed to store event", "error", err, "event_type", event.Type, "job_id", event.JobID())
		}
	}

	eb.mu.Lock()
	if len(eb.recentEvents) == eb.config.RecentEvents {
		eb.recentEvents = slices.Delete(eb.recentEvents, 0, 1)
	}
	eb.recentEvents = append(eb.recentEvents, event)

	eb.eventStats.TotalEvents++
	eb.eventStats.EventsByType[string(event.Type)]++
	eb.eventStats.EventsBySource[event.Source]++

	var matching []*Subscription
	for _, sub := range eb.subscriptions {
		if MatchesFilter(event, sub.Filter) {
			matching = append(matching, sub)
		}
	}
	eb.mu.Unlock()

	for _, sub := range matching {
		eb.notifySubscriber(sub, event)
	}
}

// notifySubscriber runs one handler. A panicking handler is logged and the
// processor carries on with the next subscriber.
func (eb *eventBus) notifySubscriber(sub *Subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("Event handler panicked", "subscription_id", sub.ID, "event_type", event.Type, "panic", r)
		}
	}()

	if err := sub.Handler(event); err != nil {
		eb.logger.Error("Event handler failed", "subscription_id", sub.ID, "event_type", event.Type, "error", err)
		return
	}

	now := time.Now()
	eb.mu.Lock()
	sub.TriggerCount++
	sub.LastTriggered = &now
	eb.mu.Unlock()
}

// pruneEvents deletes persisted events older than MaxEventAge, once at
// start and then hourly
func (eb *eventBus) pruneEvents(ctx context.Context, stop <-chan struct{}) {
	defer eb.wg.Done()

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		if err := eb.storage.Delete(ctx, eb.config.MaxEventAge); err != nil {
			eb.logger.Error("Failed to prune old events", "error", err)
		}
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
