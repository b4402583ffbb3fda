package api

import (
	"fmt"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/optics-suite/optics/pkg/events"
)

// runSuiteHandler handles POST /v1/sessions/:id/run. The suite executes in
// the background; progress is observable on the events stream. One run per
// session at a time.
func (s *Server) runSuiteHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}
	if s.runner == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "suite runner not available")
	}

	var req RunSuiteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	sess, err := s.manager.Get(sessionID)
	if err != nil {
		return respondError(c, err)
	}

	execID, err := s.runner.Start(sess, s.schedOptions(), req.DryRun)
	if err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}

	status := "started"
	if req.DryRun {
		status = "dry_run_started"
	}
	return c.JSON(http.StatusAccepted, &RunSuiteResponse{
		ExecutionID: execID,
		SessionID:   sessionID,
		Status:      status,
		DryRun:      req.DryRun,
	})
}

// commandHandler handles POST /v1/sessions/:id/command, queuing a control
// command the scheduler consumes at its next suspension point.
func (s *Server) commandHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	var req CommandRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	kind := events.CommandKind(req.Kind)
	switch kind {
	case events.CommandRetry, events.CommandAdd, events.CommandSkip,
		events.CommandPause, events.CommandResume:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown command kind %q", req.Kind))
	}
	if req.EntityID == "" && kind != events.CommandPause && kind != events.CommandResume {
		return echo.NewHTTPError(http.StatusBadRequest, "entity_id is required for "+req.Kind)
	}

	sess, err := s.manager.Get(sessionID)
	if err != nil {
		return respondError(c, err)
	}

	cmd := events.Command{
		Kind:     kind,
		EntityID: req.EntityID,
		Params:   req.Params,
		ParentID: req.ParentID,
	}
	if err := sess.Bus().PublishCommand(cmd); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}

	return c.JSON(http.StatusAccepted, &CommandResponse{
		SessionID: sessionID,
		Kind:      req.Kind,
		Status:    "accepted",
	})
}
