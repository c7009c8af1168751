package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"engiero/internal/entry"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	registry *entry.Registry
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(registry *entry.Registry) *HealthHandler {
	return &HealthHandler{registry: registry}
}

// GetHealth returns the health status of the service. The service is UP
// while it runs; entries that failed their last cycle are reported as
// degraded without failing the check.
// GET /health
func (h *HealthHandler) GetHealth(c *gin.Context) {
	entries := h.registry.List()
	available := 0
	for _, e := range entries {
		if e.Poller().LastUpdateSuccess() {
			available++
		}
	}

	status := "UP"
	if available < len(entries) {
		status = "DEGRADED"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":            status,
		"service":           "engiero",
		"entries":           len(entries),
		"entries_available": available,
	})
}
