package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"reflex-engine/internal/pkg/logger"
)

// HeaderRequestID carries a caller supplied correlation id.
const HeaderRequestID = "X-Request-Id"

// ContextRequestID is the gin context key holding the request id.
const ContextRequestID = "reqid"

// RequestIDMiddleware accepts or assigns a correlation id for each request
// and echoes it on the response.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqid := c.GetHeader(HeaderRequestID)
		if reqid == "" {
			reqid = uuid.NewString()
		}
		c.Set(ContextRequestID, reqid)
		c.Header(HeaderRequestID, reqid)
		c.Next()
	}
}

// LoggerMiddleware logs one line per request with timing and the request id.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		cost := time.Since(start)

		logger.Info(fmt.Sprintf("%s %s %s %v %.2fs %v", c.Request.Proto, c.Request.Method, path, c.Writer.Status(), cost.Seconds(), query),
			zap.String("ip", c.ClientIP()),
			zap.String("reqid", c.GetString(ContextRequestID)),
			zap.String("user-agent", c.Request.UserAgent()),
			zap.String("errors", c.Errors.ByType(gin.ErrorTypePrivate).String()),
		)
	}
}
