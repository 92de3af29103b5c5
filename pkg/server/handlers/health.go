package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noemakg/noema/pkg/store"
)

// HealthHandler handles health check requests.
type HealthHandler struct {
	store store.Store
}

func NewHealthHandler(s store.Store) *HealthHandler {
	return &HealthHandler{store: s}
}

// HealthCheck handles GET /health, verifying store connectivity.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	if err := h.store.DB().PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"store":  "connected",
	})
}
