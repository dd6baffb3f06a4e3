package middleware

import (
	"github.com/gin-gonic/gin"

	"reflex-engine/internal/scheduler"
)

// StatsMiddleware counts requests for the periodic status report.
func StatsMiddleware(stats *scheduler.Stats) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats.IncRequests()
		c.Next()
	}
}
