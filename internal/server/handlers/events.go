package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mantonx/mediaconv/internal/events"
)

// EventsHandler exposes the event bus history over HTTP
type EventsHandler struct {
	eventBus events.EventBus
}

// NewEventsHandler serves eventBus over HTTP
func NewEventsHandler(eventBus events.EventBus) *EventsHandler {
	return &EventsHandler{eventBus: eventBus}
}

// GetEvents lists recent events, newest first. job_id narrows the list to
// one conversion's timeline.
func (h *EventsHandler) GetEvents(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}

	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	filter := events.EventFilter{}
	if eventType := c.Query("type"); eventType != "" {
		filter.Types = []events.EventType{events.EventType(eventType)}
	}
	if source := c.Query("source"); source != "" {
		filter.Sources = []string{source}
	}
	filter.JobID = c.Query("job_id")
	if tags := c.QueryArray("tags"); len(tags) > 0 {
		filter.Tags = tags
	}

	eventList, total, err := h.eventBus.GetEvents(filter, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "event history unavailable",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": eventList,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// GetEventStats returns bus statistics
func (h *EventsHandler) GetEventStats(c *gin.Context) {
	status := "healthy"
	if err := h.eventBus.Health(); err != nil {
		status = err.Error()
	}
	c.JSON(http.StatusOK, gin.H{
		"stats":  h.eventBus.GetStats(),
		"health": status,
	})
}
