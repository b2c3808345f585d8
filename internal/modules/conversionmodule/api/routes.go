package api

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the conversion routes under group, which is expected
// to be the /api/v1 group. stream serves the websocket event feed and may be
// nil when no event hub is running.
//
// API Structure:
//
//	/api/v1/conversion
//	├── /jobs           - Submit, list and cancel jobs
//	├── /settings       - Read and update conversion settings
//	├── /history        - Persisted job outcomes
//	├── /system         - Host CPU, memory and GPU
//	└── /events/ws      - Live lifecycle events
func RegisterRoutes(group *gin.RouterGroup, handler *APIHandler, stream gin.HandlerFunc) {
	conv := group.Group("/conversion")
	{
		// Jobs
		conv.POST("/jobs", handler.SubmitJobs)
		conv.GET("/jobs", handler.GetJobs)
		conv.DELETE("/jobs", handler.CancelAllJobs)
		conv.DELETE("/jobs/:id", handler.CancelJob)

		// Settings
		conv.GET("/settings", handler.GetSettings)
		conv.PUT("/settings", handler.UpdateSettings)

		// History
		conv.GET("/history", handler.GetHistory)
		conv.GET("/history/stats", handler.GetHistoryStats)

		conv.GET("/system", handler.GetSystemInfo)

		if stream != nil {
			conv.GET("/events/ws", stream)
		}
	}
}
