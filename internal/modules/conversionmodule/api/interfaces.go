// Package api exposes the conversion module over HTTP.
package api

import (
	"context"

	"github.com/mantonx/mediaconv/internal/database"
	"github.com/mantonx/mediaconv/internal/modules/conversionmodule/core/history"
	"github.com/mantonx/mediaconv/internal/modules/conversionmodule/core/system"
	"github.com/mantonx/mediaconv/internal/modules/conversionmodule/types"
)

// ConversionService is what the handlers need from the conversion module
type ConversionService interface {
	// Submission and cancellation
	Submit(job types.Job) error
	SubmitBatch(jobs []types.Job) error
	Cancel(id string) error
	CancelAll()
	Snapshot() types.Snapshot

	// Settings
	Settings() types.Settings
	UpdateSettings(update types.SettingsUpdate) (types.Settings, error)

	// History and host information
	History(ctx context.Context, filter history.Filter) ([]*database.ConversionJob, int64, error)
	HistoryStats(ctx context.Context) (history.Stats, error)
	SystemInfo(ctx context.Context) (*system.Info, error)
}
