package conversionmodule

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mantonx/mediaconv/internal/config"
	"github.com/mantonx/mediaconv/internal/database"
	"github.com/mantonx/mediaconv/internal/events"
	"github.com/mantonx/mediaconv/internal/modules/conversionmodule/core/history"
	"github.com/mantonx/mediaconv/internal/modules/conversionmodule/core/pipeline"
	"github.com/mantonx/mediaconv/internal/modules/conversionmodule/types"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

func init() {
	gin.SetMode(gin.TestMode)
}

// blockingExecutor holds every job until release is closed
type blockingExecutor struct {
	release chan struct{}

	mu   sync.Mutex
	seen []string
}

func (e *blockingExecutor) Execute(ctx context.Context, job types.Job, _ pipeline.ProgressFunc) (*types.Result, error) {
	e.mu.Lock()
	e.seen = append(e.seen, job.ID)
	e.mu.Unlock()

	select {
	case <-e.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &types.Result{
		OutputPath: job.OutputPath(),
		Duration:   1500 * time.Millisecond,
		Metadata:   map[string]string{"title": "Track"},
	}, nil
}

type fixture struct {
	module *Module
	cfg    *config.ConfigManager
	path   string
	db     *gorm.DB
	exec   *blockingExecutor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	path := filepath.Join(dir, "mediaconv.yaml")
	require.NoError(t, os.WriteFile(path, []byte("conversion:\n  max_concurrency: 1\n"), 0o644))
	cm := config.NewConfigManager()
	require.NoError(t, cm.LoadConfig(path))

	dbCfg := cm.GetConfig().Database
	dbCfg.DatabasePath = filepath.Join(dir, "mediaconv.db")
	db, err := database.Open(dbCfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	bus := events.NewEventBus(events.DefaultEventBusConfig(), hclog.NewNullLogger(), nil)
	require.NoError(t, bus.Start(context.Background()))
	t.Cleanup(func() { _ = bus.Stop(context.Background()) })

	exec := &blockingExecutor{release: make(chan struct{})}
	m, err := NewModule(Options{
		Config:   cm,
		DB:       db,
		EventBus: bus,
		Executor: exec,
		Stream:   func(c *gin.Context) { c.Status(http.StatusNoContent) },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	return &fixture{module: m, cfg: cm, path: path, db: db, exec: exec}
}

func newJob(format string) types.Job {
	return types.Job{
		ID:           uuid.NewString(),
		SourcePath:   "/media/in/song.flac",
		TargetFormat: format,
		Category:     types.CategoryAudio,
	}
}

func TestModule_JobLifecycleIsRecorded(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.module.Start(context.Background()))

	job := newJob("mp3")
	require.NoError(t, f.module.Submit(job))

	assert.Eventually(t, func() bool {
		return len(f.module.Snapshot().Running) == 1
	}, waitFor, tick)
	close(f.exec.release)

	var entry *database.ConversionJob
	require.Eventually(t, func() bool {
		jobs, _, err := f.module.History(context.Background(), history.Filter{})
		if err != nil || len(jobs) != 1 {
			return false
		}
		entry = jobs[0]
		return entry.Status == database.JobStatusCompleted
	}, waitFor, tick)

	assert.Equal(t, job.ID, entry.ID)
	assert.Equal(t, "/media/in/song.mp3", entry.OutputPath)
	meta, err := entry.GetMetadata()
	require.NoError(t, err)
	assert.Equal(t, "Track", meta["title"])

	stats, err := f.module.HistoryStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Completed)
}

func TestModule_CancelAllIsRecorded(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.module.Start(context.Background()))

	running, queued := newJob("mp3"), newJob("ogg")
	require.NoError(t, f.module.SubmitBatch([]types.Job{running, queued}))
	require.Eventually(t, func() bool {
		snap := f.module.Snapshot()
		return len(snap.Running) == 1 && len(snap.Queued) == 1
	}, waitFor, tick)

	f.module.CancelAll()

	require.Eventually(t, func() bool {
		stats, err := f.module.HistoryStats(context.Background())
		return err == nil && stats.Cancelled == 2 && stats.Active == 0
	}, waitFor, tick)
}

func TestModule_UpdateSettingsAppliesLimit(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, 1, f.module.Dispatcher().Limit())

	limit, mode := 3, "lossless"
	settings, err := f.module.UpdateSettings(types.SettingsUpdate{MaxConcurrency: &limit, ConversionMode: &mode})
	require.NoError(t, err)
	assert.Equal(t, 3, settings.EffectiveLimit)
	assert.Equal(t, "lossless", settings.ConversionMode)
	assert.Equal(t, 3, f.module.Dispatcher().Limit())

	// persisted for the next start
	data, err := os.ReadFile(f.path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "max_concurrency: 3")

	// an invalid change leaves everything as it was
	bad := "turbo"
	_, err = f.module.UpdateSettings(types.SettingsUpdate{ConversionMode: &bad})
	assert.Error(t, err)
	assert.Equal(t, "lossless", f.module.Settings().ConversionMode)
}

func TestModule_ConfigReloadAppliesLimit(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, os.WriteFile(f.path, []byte("conversion:\n  max_concurrency: 4\n"), 0o644))
	require.NoError(t, f.cfg.Reload())
	assert.Equal(t, 4, f.module.Dispatcher().Limit())
}

func TestModule_StartAbandonsInterruptedJobs(t *testing.T) {
	f := newFixture(t)

	stale := &database.ConversionJob{
		ID:           uuid.NewString(),
		SourcePath:   "/media/in/old.mov",
		TargetFormat: "mp4",
		Category:     "video",
		Status:       database.JobStatusRunning,
		QueuedAt:     time.Now().Add(-time.Hour),
	}
	require.NoError(t, f.db.Create(stale).Error)

	require.NoError(t, f.module.Start(context.Background()))

	var got database.ConversionJob
	require.NoError(t, f.db.First(&got, "id = ?", stale.ID).Error)
	assert.Equal(t, database.JobStatusCancelled, got.Status)
}

func TestModule_RoutesEndToEnd(t *testing.T) {
	f := newFixture(t)
	close(f.exec.release)

	r := gin.New()
	f.module.RegisterRoutes(r.Group("/api/v1"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversion/jobs",
		strings.NewReader(`{"sourcePath":"/media/in/a.wav","targetFormat":"flac","category":"audio"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	assert.Eventually(t, func() bool {
		snap := f.module.Snapshot()
		return len(snap.Queued) == 0 && len(snap.Running) == 0
	}, waitFor, tick)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/conversion/settings", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"effectiveLimit":1`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/conversion/events/ws", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}
