// Package api exposes the subtitle engine over HTTP: searching for
// candidates, running the download pipeline, and inspecting provider
// and history state.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/sublight/sublight/internal/config"
	"github.com/sublight/sublight/internal/engine"
	"github.com/sublight/sublight/internal/history"
	"github.com/sublight/sublight/internal/notify"
	"github.com/sublight/sublight/internal/provider/pool"
)

// Server handles HTTP requests for the sublight API.
type Server struct {
	echo     *echo.Echo
	cfg      *config.Config
	engine   *engine.Engine
	pool     *pool.Pool
	history  *history.Store
	notifier *notify.Notifier
	logger   zerolog.Logger
	started  time.Time
}

// NewServer creates a new API server instance. The pool lives as long
// as the server, so provider discards accumulate across requests and
// show up in the providers endpoint. The history store and notifier
// may be nil.
func NewServer(cfg *config.Config, eng *engine.Engine, pl *pool.Pool, hist *history.Store, notifier *notify.Notifier, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		cfg:      cfg,
		engine:   eng,
		pool:     pl,
		history:  hist,
		notifier: notifier,
		logger:   logger,
		started:  time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures Echo middleware.
func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())

	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))

	// Request logging
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogMethod:   true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Err(v.Error).
					Msg("request error")
			} else {
				s.logger.Info().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Msg("request")
			}
			return nil
		},
	}))

	s.echo.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Level: 5,
	}))
}

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)

	api := s.echo.Group("/api/v1")
	api.GET("/status", s.getStatus)
	api.POST("/search", s.search)
	api.POST("/download", s.download)
	api.GET("/history", s.getHistory)
	api.GET("/providers", s.getProviders)
	api.POST("/notifications/test", s.testNotification)
}

// Start begins listening for HTTP requests.
func (s *Server) Start(address string) error {
	s.logger.Info().Str("address", address).Msg("starting HTTP server")
	return s.echo.Start(address)
}

// Shutdown gracefully stops the server and terminates the provider
// pool.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")
	s.pool.Terminate(ctx)
	return s.echo.Shutdown(ctx)
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
