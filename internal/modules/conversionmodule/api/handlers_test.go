package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantonx/mediaconv/internal/database"
	"github.com/mantonx/mediaconv/internal/modules/conversionmodule/core/history"
	"github.com/mantonx/mediaconv/internal/modules/conversionmodule/core/system"
	converrors "github.com/mantonx/mediaconv/internal/modules/conversionmodule/errors"
	"github.com/mantonx/mediaconv/internal/modules/conversionmodule/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeService struct {
	mu         sync.Mutex
	submitted  []types.Job
	cancelled  []string
	cancelAll  int
	submitErr  error
	cancelErr  error
	settings   types.Settings
	lastUpdate types.SettingsUpdate
	jobs       []*database.ConversionJob
	lastFilter history.Filter
}

func (f *fakeService) Submit(job types.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submitted = append(f.submitted, job)
	return nil
}

func (f *fakeService) SubmitBatch(jobs []types.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submitted = append(f.submitted, jobs...)
	return nil
}

func (f *fakeService) Cancel(id string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeService) CancelAll() { f.cancelAll++ }

func (f *fakeService) Snapshot() types.Snapshot {
	return types.Snapshot{Queued: []string{"q1"}, Running: []string{"r1"}, Limit: 2, Available: 1}
}

func (f *fakeService) Settings() types.Settings { return f.settings }

func (f *fakeService) UpdateSettings(update types.SettingsUpdate) (types.Settings, error) {
	f.lastUpdate = update
	if update.MaxConcurrency != nil {
		f.settings.MaxConcurrency = *update.MaxConcurrency
		f.settings.EffectiveLimit = *update.MaxConcurrency
	}
	if update.ConversionMode != nil {
		f.settings.ConversionMode = *update.ConversionMode
	}
	return f.settings, nil
}

func (f *fakeService) History(_ context.Context, filter history.Filter) ([]*database.ConversionJob, int64, error) {
	f.lastFilter = filter
	return f.jobs, int64(len(f.jobs)), nil
}

func (f *fakeService) HistoryStats(context.Context) (history.Stats, error) {
	return history.Stats{Total: 3, Completed: 2, Failed: 1}, nil
}

func (f *fakeService) SystemInfo(context.Context) (*system.Info, error) {
	return &system.Info{LogicalCores: 8, GPUVendor: "nvidia"}, nil
}

func newTestRouter(svc ConversionService) *gin.Engine {
	r := gin.New()
	RegisterRoutes(r.Group("/api/v1"), NewAPIHandler(svc), func(c *gin.Context) {
		c.String(http.StatusOK, "stream")
	})
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestSubmitJobs_Single(t *testing.T) {
	svc := &fakeService{}
	r := newTestRouter(svc)

	id := "3f2504e0-4f89-41d3-9a0c-0305e82c3301"
	w := do(r, http.MethodPost, "/api/v1/conversion/jobs",
		`{"id":"`+id+`","sourcePath":"/in/clip.mov","targetFormat":".MP4","category":"Video"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	require.Len(t, svc.submitted, 1)
	job := svc.submitted[0]
	assert.Equal(t, id, job.ID)
	assert.Equal(t, "mp4", job.TargetFormat)
	assert.Equal(t, types.CategoryVideo, job.Category)
	assert.Equal(t, []interface{}{id}, decode(t, w)["ids"])
}

func TestSubmitJobs_GeneratesID(t *testing.T) {
	svc := &fakeService{}
	r := newTestRouter(svc)

	w := do(r, http.MethodPost, "/api/v1/conversion/jobs",
		`{"sourcePath":"/in/song.flac","targetFormat":"mp3","category":"audio"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, svc.submitted, 1)
	assert.Len(t, svc.submitted[0].ID, 36)
}

func TestSubmitJobs_Batch(t *testing.T) {
	svc := &fakeService{}
	r := newTestRouter(svc)

	w := do(r, http.MethodPost, "/api/v1/conversion/jobs", `{"jobs":[
		{"sourcePath":"/in/a.png","targetFormat":"webp","category":"image"},
		{"sourcePath":"/in/b.wav","targetFormat":"ogg","category":"audio"}
	]}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	require.Len(t, svc.submitted, 2)
	assert.Len(t, decode(t, w)["ids"], 2)
}

func TestSubmitJobs_Rejected(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		code int
	}{
		{"malformed json", `{"sourcePath":`, nil, http.StatusBadRequest},
		{"missing fields", `{"sourcePath":"/in/a.mov"}`, nil, http.StatusBadRequest},
		{"unknown category", `{"sourcePath":"/a","targetFormat":"mp4","category":"hologram"}`, nil, http.StatusBadRequest},
		{"unsupported image format", `{"sourcePath":"/a.png","targetFormat":"psd","category":"image"}`, nil, http.StatusBadRequest},
		{"empty batch", `{"jobs":[]}`, nil, http.StatusBadRequest},
		{"batch with bad entry", `{"jobs":[{"sourcePath":"/a"}]}`, nil, http.StatusBadRequest},
		{"duplicate", `{"sourcePath":"/a.mov","targetFormat":"mp4","category":"video"}`,
			converrors.PipelineError("submit", converrors.ErrDuplicateJob), http.StatusConflict},
		{"invalid identity", `{"id":"nope","sourcePath":"/a.mov","targetFormat":"mp4","category":"video"}`,
			converrors.ValidationError("submit", converrors.ErrInvalidIdentity), http.StatusBadRequest},
		{"shutting down", `{"sourcePath":"/a.mov","targetFormat":"mp4","category":"video"}`,
			converrors.PipelineError("submit", converrors.ErrShuttingDown), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{submitErr: tt.err}
			w := do(newTestRouter(svc), http.MethodPost, "/api/v1/conversion/jobs", tt.body)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
			assert.Contains(t, decode(t, w), "error")
			assert.Empty(t, svc.submitted)
		})
	}
}

func TestCancel(t *testing.T) {
	svc := &fakeService{}
	r := newTestRouter(svc)

	w := do(r, http.MethodDelete, "/api/v1/conversion/jobs/abc", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"abc"}, svc.cancelled)

	w = do(r, http.MethodDelete, "/api/v1/conversion/jobs", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 1, svc.cancelAll)

	svc.cancelErr = converrors.PipelineError("cancel", converrors.ErrJobNotFound)
	w = do(r, http.MethodDelete, "/api/v1/conversion/jobs/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetJobs(t *testing.T) {
	w := do(newTestRouter(&fakeService{}), http.MethodGet, "/api/v1/conversion/jobs", "")
	require.Equal(t, http.StatusOK, w.Code)

	var snap types.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, []string{"q1"}, snap.Queued)
	assert.Equal(t, []string{"r1"}, snap.Running)
	assert.Equal(t, 2, snap.Limit)
}

func TestSettings(t *testing.T) {
	svc := &fakeService{settings: types.Settings{MaxConcurrency: 2, EffectiveLimit: 2, ConversionMode: "normal"}}
	r := newTestRouter(svc)

	w := do(r, http.MethodGet, "/api/v1/conversion/settings", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decode(t, w)["maxConcurrency"])

	w = do(r, http.MethodPut, "/api/v1/conversion/settings", `{"maxConcurrency":5,"conversionMode":"lossless"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, float64(5), body["effectiveLimit"])
	assert.Equal(t, "lossless", body["conversionMode"])
	assert.Nil(t, svc.lastUpdate.DefaultEncoder)

	for _, bad := range []string{`{}`, `{"maxConcurrency":-1}`, `{"conversionMode":"turbo"}`, `{"hwaccelVendor":"matrox"}`} {
		w = do(r, http.MethodPut, "/api/v1/conversion/settings", bad)
		assert.Equal(t, http.StatusBadRequest, w.Code, bad)
	}
}

func TestHistory(t *testing.T) {
	job := &database.ConversionJob{ID: "j1", SourcePath: "/in/a.flac", TargetFormat: "mp3", Status: database.JobStatusCompleted}
	require.NoError(t, job.SetMetadata(map[string]string{"title": "Song"}))
	svc := &fakeService{jobs: []*database.ConversionJob{job}}
	r := newTestRouter(svc)

	w := do(r, http.MethodGet, "/api/v1/conversion/history?status=Completed&limit=9999&offset=-4", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, database.JobStatusCompleted, svc.lastFilter.Status)
	assert.Equal(t, maxHistoryLimit, svc.lastFilter.Limit)
	assert.Equal(t, 0, svc.lastFilter.Offset)

	body := decode(t, w)
	assert.Equal(t, float64(1), body["total"])
	entries := body["jobs"].([]interface{})
	require.Len(t, entries, 1)
	entry := entries[0].(map[string]interface{})
	assert.Equal(t, "j1", entry["id"])
	assert.Equal(t, "Song", entry["metadata"].(map[string]interface{})["title"])

	w = do(r, http.MethodGet, "/api/v1/conversion/history/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decode(t, w)["completed"])
}

func TestSystemAndStream(t *testing.T) {
	r := newTestRouter(&fakeService{})

	w := do(r, http.MethodGet, "/api/v1/conversion/system", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "nvidia", decode(t, w)["gpuVendor"])

	w = do(r, http.MethodGet, "/api/v1/conversion/events/ws", "")
	assert.Equal(t, "stream", w.Body.String())
}
