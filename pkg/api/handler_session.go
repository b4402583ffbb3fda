package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/optics-suite/optics/pkg/config"
	"github.com/optics-suite/optics/pkg/scheduler"
	"github.com/optics-suite/optics/pkg/suite"
)

// startSessionHandler handles POST /v1/sessions/start. The body is a session
// config; the suite is loaded from its suite_files (or discovered under the
// project path) and the driver is launched before the response returns.
func (s *Server) startSessionHandler(c *echo.Context) error {
	var cfg config.SessionConfig
	if err := c.Bind(&cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cfg.Normalize()
	if err := config.ApplyEnvOverrides(&cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return respondError(c, err)
	}

	ts, err := s.loadSuite(cfg)
	if err != nil {
		return respondError(c, err)
	}

	sess, err := s.manager.Create(c.Request().Context(), cfg, ts)
	if err != nil {
		return respondError(c, err)
	}

	s.logger.Info("Session started",
		"session_id", sess.ID(), "driver_id", sess.DriverID(), "author", extractAuthor(c))
	return c.JSON(http.StatusCreated, &StartSessionResponse{
		SessionID: sess.ID(),
		DriverID:  sess.DriverID(),
		Status:    "created",
	})
}

// loadSuite parses the suite named by the config: explicit suite_files when
// given, otherwise every suite file found under the project path. A project
// with no suite files yields an empty suite; such sessions serve ad-hoc
// actions only.
func (s *Server) loadSuite(cfg config.SessionConfig) (*suite.Suite, error) {
	known := s.keywords.Matcher()

	var (
		def *suite.Definition
		err error
	)
	if len(cfg.SuiteFiles) > 0 {
		def, err = suite.LoadFiles(cfg.SuiteFiles, known)
	} else {
		def, err = suite.LoadDirectory(cfg.ProjectPath, known)
	}
	if err != nil {
		return nil, err
	}
	return def.Build()
}

// listSessionsHandler handles GET /v1/sessions.
func (s *Server) listSessionsHandler(c *echo.Context) error {
	ids := s.manager.List()
	infos := make([]SessionInfo, 0, len(ids))
	for _, id := range ids {
		sess, err := s.manager.Get(id)
		if err != nil {
			continue // terminated between List and Get
		}
		info := SessionInfo{
			SessionID: id,
			DriverID:  sess.DriverID(),
			CreatedAt: sess.CreatedAt(),
		}
		if s.runner != nil {
			if execID, ok := s.runner.Active(id); ok {
				info.ActiveExecution = execID
			}
		}
		infos = append(infos, info)
	}

	return c.JSON(http.StatusOK, &SessionListResponse{
		Sessions: infos,
		Count:    len(infos),
	})
}

// stopSessionHandler handles DELETE /v1/sessions/:id/stop. The app is closed
// via its keyword first; teardown proceeds regardless of the outcome.
func (s *Server) stopSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	sess, err := s.manager.Get(sessionID)
	if err != nil {
		return respondError(c, err)
	}

	if s.runner != nil && s.runner.Cancel(sessionID) {
		s.runner.Wait(sessionID)
	}

	sched := scheduler.New(sess, sess.Bus(), s.schedOptions())
	if _, err := sched.RunKeyword(c.Request().Context(), "close_and_terminate_app", nil); err != nil {
		s.logger.Warn("App close failed during stop", "session_id", sessionID, "error", err)
	}

	if err := s.manager.Terminate(c.Request().Context(), sessionID); err != nil {
		return respondError(c, err)
	}

	s.logger.Info("Session stopped", "session_id", sessionID, "author", extractAuthor(c))
	return c.JSON(http.StatusOK, &StopSessionResponse{
		SessionID: sessionID,
		Message:   "Session terminated",
	})
}
