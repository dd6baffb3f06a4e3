package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"reflex-engine/internal/pkg/config"
	"reflex-engine/internal/scheduler"
)

// HealthHandler reports liveness based on the heartbeat job.
type HealthHandler struct {
	cfg   *config.Config
	stats *scheduler.Stats
}

func NewHealthHandler(cfg *config.Config, stats *scheduler.Stats) *HealthHandler {
	return &HealthHandler{cfg: cfg, stats: stats}
}

// Check returns 204 when the heartbeat is current, 503 when it is stale.
// With ?detail=true a small status body is included instead.
func (h *HealthHandler) Check(c *gin.Context) {
	last := h.stats.LastHeartbeat()
	stale := last != 0 && last+int64(h.cfg.Heartbeat) < time.Now().Unix()

	if c.Query("detail") != "true" {
		if stale {
			c.Status(http.StatusServiceUnavailable)
			return
		}
		c.Status(http.StatusNoContent)
		return
	}

	body := gin.H{
		"last-heartbeat": last,
		"version":        h.cfg.DeployVer,
	}
	if stale {
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}
