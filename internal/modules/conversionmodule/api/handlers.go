package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"

	"github.com/mantonx/mediaconv/internal/database"
	"github.com/mantonx/mediaconv/internal/logger"
	"github.com/mantonx/mediaconv/internal/modules/conversionmodule/core/history"
	"github.com/mantonx/mediaconv/internal/modules/conversionmodule/core/imageconv"
	converrors "github.com/mantonx/mediaconv/internal/modules/conversionmodule/errors"
	"github.com/mantonx/mediaconv/internal/modules/conversionmodule/types"
)

const maxHistoryLimit = 500

// APIHandler handles HTTP requests for the conversion module
type APIHandler struct {
	service ConversionService
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(service ConversionService) *APIHandler {
	return &APIHandler{service: service}
}

// historyEntry adds the decoded metadata that the model keeps as a JSON string
type historyEntry struct {
	*database.ConversionJob
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SubmitJobs handles POST /api/v1/conversion/jobs
//
// Request body, either a single job:
//
//	{"id": "uuid", "sourcePath": "/in/a.mov", "targetFormat": "mp4", "category": "video"}
//
// or a batch:
//
//	{"jobs": [{...}, {...}]}
//
// The id may be omitted, in which case one is generated.
//
// Response (202):
//
//	{"ids": ["uuid", ...]}
func (h *APIHandler) SubmitJobs(c *gin.Context) {
	var probe struct {
		Jobs []types.JobRequest `json:"jobs"`
	}
	if err := c.ShouldBindBodyWith(&probe, binding.JSON); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	if probe.Jobs != nil {
		var req types.BatchRequest
		if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if len(req.Jobs) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "jobs must not be empty"})
			return
		}

		jobs := make([]types.Job, 0, len(req.Jobs))
		for _, r := range req.Jobs {
			job, err := buildJob(r)
			if err != nil {
				respondError(c, err)
				return
			}
			jobs = append(jobs, job)
		}

		if err := h.service.SubmitBatch(jobs); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"ids": jobIDs(jobs)})
		return
	}

	var req types.JobRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	job, err := buildJob(req)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.service.Submit(job); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"ids": []string{job.ID}})
}

// CancelJob handles DELETE /api/v1/conversion/jobs/:id
func (h *APIHandler) CancelJob(c *gin.Context) {
	id := c.Param("id")
	if err := h.service.Cancel(id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id, "status": "cancelling"})
}

// CancelAllJobs handles DELETE /api/v1/conversion/jobs
func (h *APIHandler) CancelAllJobs(c *gin.Context) {
	h.service.CancelAll()
	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
}

// GetJobs handles GET /api/v1/conversion/jobs
//
// Response:
//
//	{"queued": [...], "running": [...], "limit": 4, "available": 2, "pendingRetire": 0}
func (h *APIHandler) GetJobs(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Snapshot())
}

// GetSettings handles GET /api/v1/conversion/settings
func (h *APIHandler) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Settings())
}

// UpdateSettings handles PUT /api/v1/conversion/settings
//
// Only the fields present in the body change. A new maxConcurrency is applied
// to the dispatcher before the response is written.
func (h *APIHandler) UpdateSettings(c *gin.Context) {
	var update types.SettingsUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if update.Empty() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no settings to update"})
		return
	}

	settings, err := h.service.UpdateSettings(update)
	if err != nil {
		logger.Error("Failed to update conversion settings: %v", err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// GetHistory handles GET /api/v1/conversion/history
//
// Query parameters: status, category, limit (default 50, max 500), offset.
//
// Response:
//
//	{"jobs": [...], "total": 12, "limit": 50, "offset": 0}
func (h *APIHandler) GetHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 {
		limit = 50
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	filter := history.Filter{
		Status:   database.JobStatus(strings.ToLower(c.Query("status"))),
		Category: strings.ToLower(c.Query("category")),
		Limit:    limit,
		Offset:   offset,
	}

	jobs, total, err := h.service.History(c.Request.Context(), filter)
	if err != nil {
		logger.Error("Failed to list conversion history: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list history"})
		return
	}

	entries := make([]historyEntry, 0, len(jobs))
	for _, job := range jobs {
		meta, err := job.GetMetadata()
		if err != nil {
			logger.Warn("Ignoring unreadable metadata for job %s: %v", job.ID, err)
		}
		entries = append(entries, historyEntry{ConversionJob: job, Metadata: meta})
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":   entries,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// GetHistoryStats handles GET /api/v1/conversion/history/stats
func (h *APIHandler) GetHistoryStats(c *gin.Context) {
	stats, err := h.service.HistoryStats(c.Request.Context())
	if err != nil {
		logger.Error("Failed to read history stats: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read history stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetSystemInfo handles GET /api/v1/conversion/system
func (h *APIHandler) GetSystemInfo(c *gin.Context) {
	info, err := h.service.SystemInfo(c.Request.Context())
	if err != nil {
		logger.Error("Failed to read system info: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read system info"})
		return
	}
	c.JSON(http.StatusOK, info)
}

// buildJob validates a request and fills in a generated id when none was given
func buildJob(req types.JobRequest) (types.Job, error) {
	category, err := types.ParseCategory(req.Category)
	if err != nil {
		return types.Job{}, converrors.ValidationError("submit", converrors.ErrUnsupportedCategory).
			WithDetail("category", req.Category)
	}

	format := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(req.TargetFormat), "."))
	if format == "" || (category == types.CategoryImage && !imageconv.SupportedFormat(format)) {
		return types.Job{}, converrors.ValidationError("submit", converrors.ErrUnsupportedFormat).
			WithDetail("format", req.TargetFormat)
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}

	return types.Job{
		ID:           id,
		SourcePath:   req.SourcePath,
		TargetFormat: format,
		Category:     category,
	}, nil
}

func jobIDs(jobs []types.Job) []string {
	ids := make([]string, len(jobs))
	for i, job := range jobs {
		ids[i] = job.ID
	}
	return ids
}

func respondError(c *gin.Context, err error) {
	c.JSON(converrors.HTTPStatus(err), gin.H{"error": err.Error()})
}
