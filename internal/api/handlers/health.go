package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yaroslav/stackform/internal/store"
)

const pingTimeout = 2 * time.Second

// Health is the body of both probe endpoints.
type Health struct {
	Status     string `json:"status"`
	InstanceID string `json:"instance_id"`
	Database   string `json:"database,omitempty"`
}

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	store      *store.Store
	instanceID string
}

// NewHealthHandler creates a new health check handler.
func NewHealthHandler(st *store.Store, instanceID string) *HealthHandler {
	return &HealthHandler{store: st, instanceID: instanceID}
}

// Liveness handles GET /health/live. It answers as long as the process serves HTTP.
func (h *HealthHandler) Liveness(c *gin.Context) {
	respondSuccess(c, http.StatusOK, Health{Status: "ok", InstanceID: h.instanceID})
}

// Readiness handles GET /health/ready.
// It answers 503 when the store does not respond to a ping within pingTimeout.
func (h *HealthHandler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), pingTimeout)
	defer cancel()

	if err := h.store.DB().PingContext(ctx); err != nil {
		respondError(c, http.StatusServiceUnavailable, "unhealthy", "Database unavailable")
		return
	}
	respondSuccess(c, http.StatusOK, Health{Status: "ready", InstanceID: h.instanceID, Database: "ok"})
}
