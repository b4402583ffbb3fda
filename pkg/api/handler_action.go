package api

import (
	"fmt"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/optics-suite/optics/pkg/scheduler"
)

// actionHandler handles POST /v1/sessions/:id/action. It runs one keyword
// synchronously against the session and returns the execution result; failed
// keywords return their structured error payload instead.
func (s *Server) actionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	var req ActionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Mode != "" && req.Mode != "keyword" {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unsupported mode %q", req.Mode))
	}
	if req.Keyword == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "keyword field is required")
	}

	sess, err := s.manager.Get(sessionID)
	if err != nil {
		return respondError(c, err)
	}

	sched := scheduler.New(sess, sess.Bus(), s.schedOptions())
	res, err := sched.RunKeyword(c.Request().Context(), req.Keyword, req.Params)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, res)
}

// dispatchKeyword builds a GET handler running one fixed keyword, backing
// the screenshot/source/screen_elements/driver-id convenience routes.
func (s *Server) dispatchKeyword(name string) echo.HandlerFunc {
	return func(c *echo.Context) error {
		sessionID := c.Param("id")
		if sessionID == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
		}

		sess, err := s.manager.Get(sessionID)
		if err != nil {
			return respondError(c, err)
		}

		sched := scheduler.New(sess, sess.Bus(), s.schedOptions())
		res, err := sched.RunKeyword(c.Request().Context(), name, nil)
		if err != nil {
			return respondError(c, err)
		}

		return c.JSON(http.StatusOK, res)
	}
}

// elementsHandler handles GET /v1/sessions/:id/elements with the element
// store contents: suite-defined values plus anything set at runtime.
func (s *Server) elementsHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	sess, err := s.manager.Get(sessionID)
	if err != nil {
		return respondError(c, err)
	}

	store := sess.Elements()
	return c.JSON(http.StatusOK, &ElementsResponse{
		Elements: store.Snapshot(),
		Count:    store.Len(),
	})
}
