package history

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/mediaconv/internal/database"
	"github.com/mantonx/mediaconv/internal/events"
	"github.com/mantonx/mediaconv/internal/modules/conversionmodule/types"
)

const writeTimeout = 5 * time.Second

// Recorder writes job lifecycle events from the bus into the store. The bus
// delivers events in publish order, so a job's row always exists before its
// started or terminal event is applied.
type Recorder struct {
	store  *Store
	logger hclog.Logger
}

// NewRecorder creates a recorder backed by store
func NewRecorder(store *Store, logger hclog.Logger) *Recorder {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Recorder{store: store, logger: logger.Named("history")}
}

// Attach subscribes the recorder to the job lifecycle events on bus
func (r *Recorder) Attach(ctx context.Context, bus events.EventBus) (*events.Subscription, error) {
	filter := events.EventFilter{
		Types: []events.EventType{
			types.EventJobQueued,
			types.EventJobStarted,
			types.EventJobCompleted,
			types.EventJobFailed,
			types.EventJobCancelled,
			types.EventJobsCancelled,
		},
	}
	return bus.Subscribe(ctx, filter, r.Handle)
}

// Handle applies one event to the store
func (r *Recorder) Handle(event events.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	at := event.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	var err error
	switch string(event.Type) {
	case types.EventJobQueued:
		err = r.store.Queued(ctx, &database.ConversionJob{
			ID:           stringField(event.Data, "id"),
			SourcePath:   stringField(event.Data, "input_file"),
			TargetFormat: stringField(event.Data, "target_format"),
			Category:     stringField(event.Data, "category"),
			QueuedAt:     at,
		})

	case types.EventJobStarted:
		err = r.store.Started(ctx, stringField(event.Data, "id"), at)

	case types.EventJobCompleted:
		err = r.store.Completed(ctx,
			stringField(event.Data, "id"),
			stringField(event.Data, "new_file_path"),
			int64Field(event.Data, "total_time"),
			completionMetadata(event.Data),
			at)

	case types.EventJobFailed:
		err = r.store.Failed(ctx, stringField(event.Data, "id"), stringField(event.Data, "error"), at)

	case types.EventJobCancelled:
		err = r.store.Cancelled(ctx, []string{stringField(event.Data, "id")}, at)

	case types.EventJobsCancelled:
		err = r.store.Cancelled(ctx, stringsField(event.Data, "ids"), at)

	default:
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to record %s: %w", event.Type, err)
	}
	r.logger.Trace("Recorded event", "type", event.Type, "event_id", event.ID)
	return nil
}

// completionMetadata keeps the executor-supplied keys of a completion payload
func completionMetadata(data map[string]interface{}) map[string]string {
	meta := make(map[string]string)
	for k, v := range data {
		switch k {
		case "id", "total_time", "input_file", "new_file_path":
			continue
		}
		if s, ok := v.(string); ok {
			meta[k] = s
		}
	}
	return meta
}

func stringField(data map[string]interface{}, key string) string {
	s, _ := data[key].(string)
	return s
}

func int64Field(data map[string]interface{}, key string) int64 {
	switch v := data[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func stringsField(data map[string]interface{}, key string) []string {
	switch v := data[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
