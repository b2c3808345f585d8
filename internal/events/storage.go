package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// SystemEvent is the persisted form of an Event. Conversion events carry
// their job id in a dedicated column so one job's timeline is a single
// indexed lookup.
type SystemEvent struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	EventID   string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"event_id"`
	Type      string    `gorm:"type:varchar(64);not null;index" json:"type"`
	Source    string    `gorm:"type:varchar(128);not null;index" json:"source"`
	JobID     string    `gorm:"type:varchar(64);index" json:"job_id,omitempty"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Data      string    `gorm:"type:text" json:"data"` // JSON object
	Priority  int       `gorm:"not null" json:"priority"`
	Tags      string    `gorm:"type:text" json:"tags"` // JSON array
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// TableName returns the table name for SystemEvent
func (SystemEvent) TableName() string {
	return "system_events"
}

// newSystemEvent flattens event for storage
func newSystemEvent(event Event) (*SystemEvent, error) {
	data, err := encodeJSON(event.Data)
	if err != nil {
		return nil, fmt.Errorf("event data: %w", err)
	}
	tags, err := encodeJSON(event.Tags)
	if err != nil {
		return nil, fmt.Errorf("event tags: %w", err)
	}

	return &SystemEvent{
		EventID:   event.ID,
		Type:      string(event.Type),
		Source:    event.Source,
		JobID:     event.JobID(),
		Title:     event.Title,
		Message:   event.Message,
		Data:      data,
		Priority:  int(event.Priority),
		Tags:      tags,
		CreatedAt: event.Timestamp,
	}, nil
}

// ToEvent restores the Event a row was stored from
func (se *SystemEvent) ToEvent() (Event, error) {
	event := Event{
		ID:        se.EventID,
		Type:      EventType(se.Type),
		Source:    se.Source,
		Title:     se.Title,
		Message:   se.Message,
		Data:      map[string]interface{}{},
		Priority:  EventPriority(se.Priority),
		Tags:      []string{},
		Timestamp: se.CreatedAt,
	}
	if err := decodeJSON(se.Data, &event.Data); err != nil {
		return event, fmt.Errorf("event %s data: %w", se.EventID, err)
	}
	if err := decodeJSON(se.Tags, &event.Tags); err != nil {
		return event, fmt.Errorf("event %s tags: %w", se.EventID, err)
	}
	return event, nil
}

func encodeJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return "", nil
	}
	return string(b), nil
}

func decodeJSON(s string, v interface{}) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}

// databaseEventStorage implements EventStorage using GORM
type databaseEventStorage struct {
	db *gorm.DB
}

// NewDatabaseEventStorage creates a new database event storage. The caller
// is responsible for migrating SystemEvent.
func NewDatabaseEventStorage(db *gorm.DB) EventStorage {
	return &databaseEventStorage{db: db}
}

// Store inserts one event
func (s *databaseEventStorage) Store(ctx context.Context, event Event) error {
	row, err := newSystemEvent(event)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to store event: %w", err)
	}
	return nil
}

// Get retrieves events based on filter, newest first. Tags are stored as
// JSON text, so a tag filter is applied after loading and total counts
// rows before it.
func (s *databaseEventStorage) Get(ctx context.Context, filter EventFilter, limit, offset int) ([]Event, int64, error) {
	query := s.db.WithContext(ctx).Model(&SystemEvent{})

	if len(filter.Types) > 0 {
		names := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			names[i] = string(t)
		}
		query = query.Where("type IN ?", names)
	}
	if len(filter.Sources) > 0 {
		query = query.Where("source IN ?", filter.Sources)
	}
	if filter.JobID != "" {
		query = query.Where("job_id = ?", filter.JobID)
	}
	if filter.Priority != nil {
		query = query.Where("priority >= ?", int(*filter.Priority))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count events: %w", err)
	}

	if limit <= 0 {
		limit = -1
	}
	var rows []SystemEvent
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to retrieve events: %w", err)
	}

	result := make([]Event, 0, len(rows))
	for i := range rows {
		event, err := rows[i].ToEvent()
		if err != nil {
			continue
		}
		if len(filter.Tags) > 0 && !MatchesFilter(event, filter) {
			continue
		}
		result = append(result, event)
	}
	return result, total, nil
}

// Delete removes events older than olderThan
func (s *databaseEventStorage) Delete(ctx context.Context, olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan)
	if err := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&SystemEvent{}).Error; err != nil {
		return fmt.Errorf("failed to delete old events: %w", err)
	}
	return nil
}

// Count returns the total number of stored events
func (s *databaseEventStorage) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&SystemEvent{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// Close is a no-op; the database handle is owned by the caller
func (s *databaseEventStorage) Close() error {
	return nil
}
