package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/optics-suite/optics/pkg/version"
)

// healthHandler handles GET /. The engine has no external dependencies to
// probe; the response is a liveness signal with version and session count.
func (s *Server) healthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, &HealthResponse{
		Status:   "ok",
		Version:  version.GitCommit,
		Sessions: s.manager.Len(),
	})
}
