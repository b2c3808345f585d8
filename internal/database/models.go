package database

import (
	"encoding/json"
	"time"
)

// JobStatus represents the state of a conversion job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the status ends a job's lifecycle
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// ConversionJob is the persisted history of one conversion
type ConversionJob struct {
	ID           string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	SourcePath   string     `gorm:"type:varchar(1024);not null" json:"source_path"`
	TargetFormat string     `gorm:"type:varchar(16);not null" json:"target_format"`
	Category     string     `gorm:"type:varchar(16);not null;index" json:"category"`
	Status       JobStatus  `gorm:"type:varchar(32);not null;index" json:"status"`
	OutputPath   string     `gorm:"type:varchar(1024)" json:"output_path,omitempty"`
	Error        string     `gorm:"type:text" json:"error,omitempty"`
	Metadata     string     `gorm:"type:text" json:"-"` // JSON string
	QueuedAt     time.Time  `gorm:"not null;index" json:"queued_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `gorm:"index" json:"finished_at,omitempty"`
	TotalSeconds int64      `json:"total_seconds"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TableName returns the table name for GORM
func (ConversionJob) TableName() string {
	return "conversion_jobs"
}

// GetMetadata deserializes the Metadata JSON string
func (j *ConversionJob) GetMetadata() (map[string]string, error) {
	if j.Metadata == "" {
		return nil, nil
	}
	var meta map[string]string
	if err := json.Unmarshal([]byte(j.Metadata), &meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// SetMetadata serializes meta into the Metadata column
func (j *ConversionJob) SetMetadata(meta map[string]string) error {
	if len(meta) == 0 {
		j.Metadata = ""
		return nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	j.Metadata = string(data)
	return nil
}
