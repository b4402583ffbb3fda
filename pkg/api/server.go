// Package api exposes the HTTP+SSE surface: session lifecycle, ad-hoc
// keyword actions, suite runs, scheduler commands, the live event stream and
// the keyword catalog.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/optics-suite/optics/pkg/config"
	"github.com/optics-suite/optics/pkg/keyword"
	"github.com/optics-suite/optics/pkg/scheduler"
	"github.com/optics-suite/optics/pkg/session"
)

// Server fronts the session manager, keyword registry and suite runner.
type Server struct {
	echo     *echo.Echo
	http     *http.Server
	manager  *session.Manager
	keywords *keyword.Registry
	runner   *scheduler.Runner
	global   config.Global
	logger   *slog.Logger

	// heartbeat overrides the SSE heartbeat interval; zero selects the
	// default. Tests shorten it.
	heartbeat time.Duration
}

// NewServer wires the routes and returns a server ready to Start.
func NewServer(manager *session.Manager, keywords *keyword.Registry, runner *scheduler.Runner, global config.Global, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		echo:     echo.New(),
		manager:  manager,
		keywords: keywords,
		runner:   runner,
		global:   global,
		logger:   logger,
	}
	s.registerRoutes()
	s.http = &http.Server{
		Addr:              global.ServerAddr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: the event stream holds its response open.
	}
	return s
}

func (s *Server) registerRoutes() {
	e := s.echo
	e.Use(securityHeaders())
	e.Use(s.requestLogger())

	e.GET("/", s.healthHandler)

	e.POST("/v1/sessions/start", s.startSessionHandler)
	e.GET("/v1/sessions", s.listSessionsHandler)
	e.DELETE("/v1/sessions/:id/stop", s.stopSessionHandler)

	e.POST("/v1/sessions/:id/action", s.actionHandler)
	e.GET("/v1/sessions/:id/screenshot", s.dispatchKeyword("capture_screenshot"))
	e.GET("/v1/sessions/:id/source", s.dispatchKeyword("get_page_source"))
	e.GET("/v1/sessions/:id/elements", s.elementsHandler)
	e.GET("/v1/sessions/:id/screen_elements", s.dispatchKeyword("get_screen_elements"))
	e.GET("/v1/sessions/:id/driver-id", s.dispatchKeyword("get_driver_id"))

	e.POST("/v1/sessions/:id/run", s.runSuiteHandler)
	e.POST("/v1/sessions/:id/command", s.commandHandler)
	e.GET("/v1/sessions/:id/events", s.eventsHandler)

	e.GET("/v1/keywords", s.keywordCatalogHandler)
}

// schedOptions are the per-request scheduler options derived from the global
// config.
func (s *Server) schedOptions() scheduler.Options {
	return scheduler.Options{
		CombinationCap: s.global.CombinationCap,
		Logger:         s.logger,
	}
}

// Start begins serving and blocks until the listener closes.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartWithListener serves on a caller-provided listener. Tests use it to
// bind a random port.
func (s *Server) StartWithListener(ln net.Listener) error {
	if err := s.http.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("HTTP server shutting down")
	return s.http.Shutdown(ctx)
}
