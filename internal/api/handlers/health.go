package handlers

import (
	"context"
	"net/http"
	"time"

	"charity-service/internal/ws"

	"github.com/gin-gonic/gin"
)

type StatsSource interface {
	Stats() ws.Stats
}

type MetricsSource interface {
	Snapshot() ws.MetricsSnapshot
}

// Pinger is a dependency whose reachability is reported by /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	stats        StatsSource
	metrics      MetricsSource
	dependencies map[string]Pinger
	startedAt    time.Time
}

func NewHealthHandler(stats StatsSource, metrics MetricsSource, dependencies map[string]Pinger) *HealthHandler {
	return &HealthHandler{
		stats:        stats,
		metrics:      metrics,
		dependencies: dependencies,
		startedAt:    time.Now(),
	}
}

// Health godoc
// @Summary Service health
// @Description "healthy" while connection utilization stays below 90%, "warning" above
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	stats := h.stats.Stats()
	status := "healthy"
	if !stats.Healthy() {
		status = "warning"
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	deps := make(map[string]string, len(h.dependencies))
	for name, dep := range h.dependencies {
		if err := dep.Ping(ctx); err != nil {
			deps[name] = "down"
			continue
		}
		deps[name] = "up"
	}

	body := gin.H{
		"status":       status,
		"timestamp":    time.Now().UTC(),
		"uptime":       time.Since(h.startedAt).Round(time.Second).String(),
		"websocket":    stats,
		"dependencies": deps,
	}
	if h.metrics != nil {
		body["broadcast"] = h.metrics.Snapshot()
	}
	c.JSON(http.StatusOK, body)
}

// WebSocketStats godoc
// @Summary Realtime connection statistics
// @Tags websocket
// @Produce json
// @Success 200 {object} ws.Stats
// @Router /websocket/stats [get]
func (h *HealthHandler) WebSocketStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.stats.Stats())
}
