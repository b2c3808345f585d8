// Package history persists the outcome of every conversion job.
package history

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mantonx/mediaconv/internal/database"
)

// Filter narrows a history listing
type Filter struct {
	Status   database.JobStatus
	Category string
	Limit    int
	Offset   int
}

// Stats summarizes the history table
type Stats struct {
	Total     int64 `json:"total"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
}

// Store handles conversion job history data access
type Store struct {
	db *gorm.DB
}

// NewStore creates a new history store
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Queued inserts the row for a newly queued job. A row left over from an
// earlier job with the same id is replaced.
func (s *Store) Queued(ctx context.Context, job *database.ConversionJob) error {
	if job.Status == "" {
		job.Status = database.JobStatusQueued
	}
	if job.QueuedAt.IsZero() {
		job.QueuedAt = time.Now()
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(job).Error
}

// Started marks a job as running
func (s *Store) Started(ctx context.Context, id string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&database.ConversionJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     database.JobStatusRunning,
			"started_at": at,
		}).Error
}

// Completed records a successful conversion
func (s *Store) Completed(ctx context.Context, id, outputPath string, totalSeconds int64, metadata map[string]string, at time.Time) error {
	row := database.ConversionJob{}
	if err := row.SetMetadata(metadata); err != nil {
		return err
	}
	return s.finish(ctx, id, map[string]interface{}{
		"status":        database.JobStatusCompleted,
		"output_path":   outputPath,
		"total_seconds": totalSeconds,
		"metadata":      row.Metadata,
		"finished_at":   at,
	})
}

// Failed records a failed conversion
func (s *Store) Failed(ctx context.Context, id, detail string, at time.Time) error {
	return s.finish(ctx, id, map[string]interface{}{
		"status":      database.JobStatusFailed,
		"error":       detail,
		"finished_at": at,
	})
}

// Cancelled records cancellation of one or more jobs
func (s *Store) Cancelled(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&database.ConversionJob{}).
		Where("id IN ? AND status IN ?", ids, activeStatuses()).
		Updates(map[string]interface{}{
			"status":      database.JobStatusCancelled,
			"finished_at": at,
		}).Error
}

// Get retrieves a job by id
func (s *Store) Get(ctx context.Context, id string) (*database.ConversionJob, error) {
	var job database.ConversionJob
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// List returns jobs newest first along with the total matching count
func (s *Store) List(ctx context.Context, filter Filter) ([]*database.ConversionJob, int64, error) {
	query := s.db.WithContext(ctx).Model(&database.ConversionJob{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var jobs []*database.ConversionJob
	err := query.Order("queued_at DESC").
		Limit(limit).
		Offset(filter.Offset).
		Find(&jobs).Error
	return jobs, total, err
}

// Stats counts jobs by state
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var rows []struct {
		Status database.JobStatus
		Count  int64
	}
	err := s.db.WithContext(ctx).Model(&database.ConversionJob{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	for _, row := range rows {
		stats.Total += row.Count
		switch row.Status {
		case database.JobStatusQueued, database.JobStatusRunning:
			stats.Active += row.Count
		case database.JobStatusCompleted:
			stats.Completed = row.Count
		case database.JobStatusFailed:
			stats.Failed = row.Count
		case database.JobStatusCancelled:
			stats.Cancelled = row.Count
		}
	}
	return stats, nil
}

// Cleanup removes finished jobs older than the given age
func (s *Store) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result := s.db.WithContext(ctx).
		Where("finished_at < ? AND status IN ?", cutoff, []database.JobStatus{
			database.JobStatusCompleted, database.JobStatusFailed, database.JobStatusCancelled,
		}).
		Delete(&database.ConversionJob{})
	return result.RowsAffected, result.Error
}

// AbandonActive marks jobs left queued or running by a previous process as
// cancelled. Nothing survives a restart.
func (s *Store) AbandonActive(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).Model(&database.ConversionJob{}).
		Where("status IN ?", activeStatuses()).
		Updates(map[string]interface{}{
			"status":      database.JobStatusCancelled,
			"error":       "interrupted by restart",
			"finished_at": time.Now(),
		})
	return result.RowsAffected, result.Error
}

// finish applies a terminal update once. A job that already has a terminal
// status keeps it.
func (s *Store) finish(ctx context.Context, id string, updates map[string]interface{}) error {
	return s.db.WithContext(ctx).Model(&database.ConversionJob{}).
		Where("id = ? AND status IN ?", id, activeStatuses()).
		Updates(updates).Error
}

func activeStatuses() []database.JobStatus {
	return []database.JobStatus{database.JobStatusQueued, database.JobStatusRunning}
}
