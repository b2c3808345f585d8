// Package conversionmodule converts media files in the background.
//
// The module owns a single dispatcher that runs at most a configurable number
// of conversions at once. Jobs are routed by category to ffmpeg (audio and
// video) or to the image converter, and every lifecycle step is published on
// the event bus, where the history recorder and the websocket hub pick it up.
//
// Architecture:
//
//	HTTP API → Module → Dispatcher → Router → ffmpeg runner | image converter
//	                        ↓
//	                   EventNotifier → event bus → history, websocket clients
//
// The concurrency limit follows conversion.max_concurrency. A value of 0
// derives the limit from the host's CPU count.
package conversionmodule

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/mantonx/mediaconv/internal/config"
	"github.com/mantonx/mediaconv/internal/database"
	"github.com/mantonx/mediaconv/internal/events"
	"github.com/mantonx/mediaconv/internal/modules/conversionmodule/api"
	"github.com/mantonx/mediaconv/internal/modules/conversionmodule/core/executor"
	"github.com/mantonx/mediaconv/internal/modules/conversionmodule/core/ffmpeg"
	"github.com/mantonx/mediaconv/internal/modules/conversionmodule/core/history"
	"github.com/mantonx/mediaconv/internal/modules/conversionmodule/core/imageconv"
	"github.com/mantonx/mediaconv/internal/modules/conversionmodule/core/pipeline"
	"github.com/mantonx/mediaconv/internal/modules/conversionmodule/core/system"
	"github.com/mantonx/mediaconv/internal/modules/conversionmodule/types"
	"github.com/mantonx/mediaconv/internal/plugins"
)

const (
	// ModuleID is the unique identifier for the conversion module
	ModuleID = "system.conversion"

	// ModuleName is the display name for the conversion module
	ModuleName = "Conversion Manager"

	// ModuleVersion is the version of the conversion module
	ModuleVersion = "1.0.0"
)

// Options holds the module's dependencies. Only Config is required.
type Options struct {
	Config *config.ConfigManager

	// DB enables the job history. Nil disables it.
	DB *gorm.DB

	EventBus events.EventBus

	// Plugins serves hardware encoder profiles. Nil uses the built-in table.
	Plugins *plugins.Manager

	// Stream serves the websocket event feed under /conversion/events/ws
	Stream gin.HandlerFunc

	// Executor replaces the ffmpeg/image router, mainly for tests
	Executor pipeline.Executor

	// Inspector replaces the host inspector, mainly for tests
	Inspector *system.Inspector

	Logger hclog.Logger
}

// Module wires the dispatcher to its collaborators
type Module struct {
	cfg        *config.ConfigManager
	bus        events.EventBus
	dispatcher *pipeline.Dispatcher
	inspector  *system.Inspector
	store      *history.Store
	recorder   *history.Recorder
	stream     gin.HandlerFunc
	logger     hclog.Logger
}

var _ api.ConversionService = (*Module)(nil)

// NewModule builds the module and starts its dispatcher with the configured
// concurrency limit
func NewModule(opts Options) (*Module, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("conversion module requires a config manager")
	}

	log := opts.Logger
	if log == nil {
		log = hclog.NewNullLogger()
	}
	log = log.Named("conversion")

	inspector := opts.Inspector
	if inspector == nil {
		inspector = system.NewInspector(log)
	}

	m := &Module{
		cfg:       opts.Config,
		bus:       opts.EventBus,
		inspector: inspector,
		stream:    opts.Stream,
		logger:    log,
	}

	settings := configSettings{cm: opts.Config}
	exec := opts.Executor
	if exec == nil {
		exec = m.newRouter(settings, opts.Plugins)
	}

	if opts.DB != nil {
		if err := database.Migrate(opts.DB); err != nil {
			return nil, fmt.Errorf("failed to migrate conversion history: %w", err)
		}
		m.store = history.NewStore(opts.DB)
		m.recorder = history.NewRecorder(m.store, log)
	}

	limit := m.resolveLimit(opts.Config.GetConfig().Conversion.MaxConcurrency)
	m.dispatcher = pipeline.NewDispatcher(
		&pipeline.Config{MaxConcurrency: limit},
		exec,
		NewEventNotifier(opts.EventBus, log),
		log,
	)

	opts.Config.AddWatcher(m.onConfigChange)
	return m, nil
}

func (m *Module) newRouter(settings configSettings, source *plugins.Manager) *executor.Router {
	conv := m.cfg.GetConfig().Conversion
	runner := ffmpeg.NewRunner(ffmpeg.RunnerConfig{
		FFmpegPath:   conv.FFmpegPath,
		FFprobePath:  conv.FFprobePath,
		ProgressRate: conv.ProgressRatePerSec,
	}, m.logger)

	var profiles executor.ProfileSource
	if source != nil {
		profiles = source
	}
	hardware := executor.NewHardwareResolver(settings.hwaccelVendor, m.inspector, profiles, m.logger)

	return executor.NewRouter(runner, imageconv.NewConverter(m.logger), settings, hardware, m.logger)
}

// ID returns the unique module identifier
func (m *Module) ID() string {
	return ModuleID
}

// Name returns the module display name
func (m *Module) Name() string {
	return ModuleName
}

// GetVersion returns the module version
func (m *Module) GetVersion() string {
	return ModuleVersion
}

// Start marks jobs left active by a previous run as cancelled and attaches
// the history recorder to the event bus
func (m *Module) Start(ctx context.Context) error {
	if m.store == nil {
		return nil
	}

	abandoned, err := m.store.AbandonActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to close out interrupted jobs: %w", err)
	}
	if abandoned > 0 {
		m.logger.Warn("Marked interrupted jobs as cancelled", "count", abandoned)
	}

	if m.bus != nil {
		if _, err := m.recorder.Attach(ctx, m.bus); err != nil {
			return fmt.Errorf("failed to attach history recorder: %w", err)
		}
	}

	m.logger.Info("Conversion module started", "limit", m.dispatcher.Limit())
	return nil
}

// Shutdown stops the dispatcher, cancelling queued and running jobs
func (m *Module) Shutdown(ctx context.Context) error {
	return m.dispatcher.Shutdown(ctx)
}

// Dispatcher exposes the underlying dispatcher
func (m *Module) Dispatcher() *pipeline.Dispatcher {
	return m.dispatcher
}

// RegisterRoutes mounts the conversion API on the /api/v1 group
func (m *Module) RegisterRoutes(group *gin.RouterGroup) {
	api.RegisterRoutes(group, api.NewAPIHandler(m), m.stream)
}

// Submit queues one job and dispatches it
func (m *Module) Submit(job types.Job) error {
	return m.dispatcher.Submit(job)
}

// SubmitBatch queues several jobs and dispatches once
func (m *Module) SubmitBatch(jobs []types.Job) error {
	return m.dispatcher.SubmitBatch(jobs)
}

// Cancel cancels one queued or running job
func (m *Module) Cancel(id string) error {
	return m.dispatcher.Cancel(id)
}

// CancelAll drops the queue and cancels every running job
func (m *Module) CancelAll() {
	m.dispatcher.CancelAll()
}

// Snapshot returns the dispatcher state
func (m *Module) Snapshot() types.Snapshot {
	return m.dispatcher.Snapshot()
}

// Settings returns the current conversion settings
func (m *Module) Settings() types.Settings {
	cfg := m.cfg.GetConfig()
	return types.Settings{
		MaxConcurrency:   cfg.Conversion.MaxConcurrency,
		EffectiveLimit:   m.dispatcher.Limit(),
		ConversionMode:   cfg.Conversion.ConversionMode,
		DefaultEncoder:   cfg.Conversion.DefaultEncoder,
		OpenWhenFinished: cfg.Conversion.OpenWhenFinished,
		HWAccelVendor:    cfg.HWAccel.Vendor,
	}
}

// UpdateSettings saves a settings change. Config watchers run before this
// returns, so a new limit is already in effect.
func (m *Module) UpdateSettings(update types.SettingsUpdate) (types.Settings, error) {
	if _, err := m.cfg.Update(func(cfg *config.Config) { applyUpdate(cfg, update) }); err != nil {
		return types.Settings{}, err
	}
	return m.Settings(), nil
}

// History lists persisted jobs, newest first
func (m *Module) History(ctx context.Context, filter history.Filter) ([]*database.ConversionJob, int64, error) {
	if m.store == nil {
		return []*database.ConversionJob{}, 0, nil
	}
	return m.store.List(ctx, filter)
}

// HistoryStats summarizes persisted jobs
func (m *Module) HistoryStats(ctx context.Context) (history.Stats, error) {
	if m.store == nil {
		return history.Stats{}, nil
	}
	return m.store.Stats(ctx)
}

// SystemInfo reports host CPU, memory and GPU
func (m *Module) SystemInfo(ctx context.Context) (*system.Info, error) {
	return m.inspector.Info(ctx)
}

func (m *Module) onConfigChange(oldConfig, newConfig *config.Config) {
	if oldConfig.Conversion.MaxConcurrency == newConfig.Conversion.MaxConcurrency {
		return
	}
	limit := m.resolveLimit(newConfig.Conversion.MaxConcurrency)
	if err := m.dispatcher.SetLimit(limit); err != nil {
		m.logger.Error("Failed to apply concurrency limit", "limit", limit, "error", err)
	}
}

// resolveLimit turns a configured limit into an effective one
func (m *Module) resolveLimit(configured int) int {
	if configured > 0 {
		return configured
	}
	return m.inspector.DefaultConcurrency(context.Background())
}
