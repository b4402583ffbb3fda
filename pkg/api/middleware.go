package api

import (
	"time"

	echo "github.com/labstack/echo/v5"
)

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			return next(c)
		}
	}
}

// requestLogger returns middleware logging one line per request. For the
// events stream the line lands at disconnect, when the handler returns.
func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			req := c.Request()
			start := time.Now()
			err := next(c)

			attrs := []any{
				"method", req.Method,
				"path", req.URL.Path,
				"author", extractAuthor(c),
				"elapsed_ms", time.Since(start).Milliseconds(),
			}
			if err != nil {
				s.logger.Warn("Request failed", append(attrs, "error", err)...)
			} else {
				s.logger.Debug("Request served", attrs...)
			}
			return err
		}
	}
}
