package api

import (
	echo "github.com/labstack/echo/v5"
)

// extractAuthor identifies the caller from reverse-proxy headers for request
// logging. Priority: X-Forwarded-User > X-Forwarded-Email > X-Remote-User >
// "api-client". The engine itself does no authentication; that is the
// proxy's job.
func extractAuthor(c *echo.Context) string {
	if user := c.Request().Header.Get("X-Forwarded-User"); user != "" {
		return user
	}
	if email := c.Request().Header.Get("X-Forwarded-Email"); email != "" {
		return email
	}
	if user := c.Request().Header.Get("X-Remote-User"); user != "" {
		return user
	}
	return "api-client"
}
