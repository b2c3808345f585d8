// Package types provides types and interfaces for the conversion module.
package types

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Category is the broad media kind of a job
type Category string

const (
	CategoryVideo Category = "video"
	CategoryAudio Category = "audio"
	CategoryImage Category = "image"
)

// ParseCategory normalizes a category name
func ParseCategory(s string) (Category, error) {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case CategoryVideo, CategoryAudio, CategoryImage:
		return c, nil
	default:
		return "", fmt.Errorf("unknown category %q", s)
	}
}

// Job is an immutable description of one conversion. The identity is supplied
// by the submitter and must be unique among queued and running jobs.
type Job struct {
	ID           string   `json:"id"`
	SourcePath   string   `json:"sourcePath"`
	TargetFormat string   `json:"targetFormat"`
	Category     Category `json:"category"`
}

// OutputPath returns where the converted file is written: next to the source,
// same stem, target extension.
func (j Job) OutputPath() string {
	ext := filepath.Ext(j.SourcePath)
	stem := strings.TrimSuffix(j.SourcePath, ext)
	target := strings.ToLower(strings.TrimPrefix(j.TargetFormat, "."))

	out := stem + "." + target
	if out == j.SourcePath {
		out = stem + "_converted." + target
	}
	return out
}

// Result is what an executor reports for a successful conversion
type Result struct {
	OutputPath string            `json:"outputPath"`
	Duration   time.Duration     `json:"duration"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// JobRequest is the API payload for a single job
type JobRequest struct {
	ID           string `json:"id"`
	SourcePath   string `json:"sourcePath" binding:"required"`
	TargetFormat string `json:"targetFormat" binding:"required"`
	Category     string `json:"category" binding:"required"`
}

// BatchRequest is the API payload for several jobs submitted at once
type BatchRequest struct {
	Jobs []JobRequest `json:"jobs" binding:"required,dive"`
}

// Snapshot describes the pipeline at a point in time
type Snapshot struct {
	Queued        []string `json:"queued"`
	Running       []string `json:"running"`
	Limit         int      `json:"limit"`
	Available     int      `json:"available"`
	PendingRetire int      `json:"pendingRetire"`
}
