// Package health exposes liveness and readiness endpoints for orchestration.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/driftchat/driftchat/internal/v1/logging"
)

// Pinger is any backend whose connectivity gates readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler aggregates backend checks behind the two probe endpoints.
type Handler struct {
	redis Pinger
	store Pinger
}

func NewHandler(redis, store Pinger) *Handler {
	return &Handler{redis: redis, store: store}
}

// Register mounts the probes on the router.
func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/health/live", h.Liveness)
	r.GET("/health/ready", h.Readiness)
}

// Liveness reports that the process is up.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readiness reports whether the shared backends are reachable. Any failed
// check answers 503 with the per-backend status.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := gin.H{}
	healthy := true

	if err := h.redis.Ping(ctx); err != nil {
		logging.Warn(ctx, "readiness: redis unreachable", zap.Error(err))
		checks["redis"] = "unreachable"
		healthy = false
	} else {
		checks["redis"] = "ok"
	}

	if err := h.store.Ping(ctx); err != nil {
		logging.Warn(ctx, "readiness: postgres unreachable", zap.Error(err))
		checks["postgres"] = "unreachable"
		healthy = false
	} else {
		checks["postgres"] = "ok"
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"status": checks})
}
