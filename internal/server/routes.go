package server

import (
	"github.com/mantonx/mediaconv/internal/server/handlers"
)

// setupRoutes configures the host routes. Module routes are added through
// Register.
func (s *Server) setupRoutes() {
	api := s.engine.Group("/api")
	{
		api.GET("/health", handlers.HandleHealthCheck)
		api.GET("/db-health", handlers.NewHealthHandler(s.config.DB).DatabaseHealth)
	}

	s.v1 = api.Group("/v1")
	s.v1.Use(s.auth.RequireAuth())

	if s.bus != nil {
		eventsHandler := handlers.NewEventsHandler(s.bus)
		eventsGroup := s.v1.Group("/events")
		{
			eventsGroup.GET("", eventsHandler.GetEvents)
			eventsGroup.GET("/stats", eventsHandler.GetEventStats)
			eventsGroup.GET("/ws", s.hub.ServeWS)
		}
	}
}
