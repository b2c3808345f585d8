// Package server hosts the HTTP API: health endpoints, the event log, the
// websocket event stream and the route groups modules register into.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/mantonx/mediaconv/internal/config"
	"github.com/mantonx/mediaconv/internal/events"
	"github.com/mantonx/mediaconv/internal/middleware"
)

// RouteRegistrar is implemented by modules that expose HTTP endpoints
type RouteRegistrar interface {
	RegisterRoutes(api *gin.RouterGroup)
}

// Server wraps the gin engine and its http.Server
type Server struct {
	config ServerOptions
	engine *gin.Engine
	v1     *gin.RouterGroup
	bus    events.EventBus
	hub    *EventHub
	auth   *Authenticator
	logger hclog.Logger
}

// ServerOptions is the subset of configuration the server needs
type ServerOptions struct {
	config.ServerConfig
	DB *gorm.DB
}

// New builds the router. bus may be nil, in which case the event routes and
// the websocket hub are not wired.
func New(opts ServerOptions, bus events.EventBus, logger hclog.Logger) (*Server, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.RequestLogger(), middleware.ErrorLogger())
	if opts.EnableCORS {
		engine.Use(middleware.CORS())
	}
	if err := engine.SetTrustedProxies(opts.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}

	s := &Server{
		config: opts,
		engine: engine,
		bus:    bus,
		hub:    NewEventHub(logger),
		auth:   NewAuthenticator(opts.AuthSecret),
		logger: logger.Named("http"),
	}

	if bus != nil {
		if _, err := s.hub.Attach(context.Background(), bus); err != nil {
			return nil, fmt.Errorf("failed to attach event hub: %w", err)
		}
	}

	s.setupRoutes()
	return s, nil
}

// Engine returns the underlying gin engine
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Hub returns the websocket event hub
func (s *Server) Hub() *EventHub {
	return s.hub
}

// Auth returns the token authenticator
func (s *Server) Auth() *Authenticator {
	return s.auth
}

// Register lets a module add routes under /api/v1
func (s *Server) Register(registrar RouteRegistrar) {
	registrar.RegisterRoutes(s.v1)
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:      s.engine,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", srv.Addr, "auth", s.auth.Enabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if s.hub != nil {
		s.hub.Close()
	}
	s.logger.Info("Shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return <-errCh
}
