package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/optics-suite/optics/pkg/errcode"
	"github.com/optics-suite/optics/pkg/session"
)

// respondError maps domain errors to HTTP responses. Coded errors render
// their structured payload with their own status; unknown session ids map
// to 404; anything else becomes a 500 with an E0801 envelope.
func respondError(c *echo.Context, err error) error {
	if errors.Is(err, session.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}

	var coded *errcode.Error
	if errors.As(err, &coded) {
		return c.JSON(coded.Status, coded.Payload())
	}

	// Unexpected error
	slog.Error("Unexpected handler error", "error", err)
	return c.JSON(http.StatusInternalServerError, errcode.PayloadOf(err))
}
