package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// keywordCatalogHandler handles GET /v1/keywords with every registered
// keyword and its parameter metadata, sorted by name.
func (s *Server) keywordCatalogHandler(c *echo.Context) error {
	defs := s.keywords.Definitions()
	return c.JSON(http.StatusOK, &KeywordCatalogResponse{
		Keywords: defs,
		Count:    len(defs),
	})
}
