package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HealthRoutes registers the health endpoint.
type HealthRoutes struct {
	warnings []string
}

// NewHealthRoutes constructs health routes. Warnings surface degraded but
// non-fatal configuration, e.g. a missing inference upstream.
func NewHealthRoutes(warnings ...string) *HealthRoutes {
	return &HealthRoutes{warnings: warnings}
}

// RegisterRoutes registers the health endpoint.
func (h *HealthRoutes) RegisterRoutes(s *echo.Echo) {
	s.GET("/health", h.handleHealth)
}

func (h *HealthRoutes) handleHealth(c echo.Context) error {
	response := map[string]any{"status": "ok"}
	if len(h.warnings) > 0 {
		response["warnings"] = h.warnings
	}
	return c.JSON(http.StatusOK, response)
}
