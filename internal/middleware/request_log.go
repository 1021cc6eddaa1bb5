package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pulsenote/pulsenote-backend/internal/logger"
)

func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	requestLog := log.With("middleware", "RequestLogger")
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		fields := []interface{}{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration", time.Since(start).String(),
			"client_ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}
		switch {
		case status >= 500:
			requestLog.Error("request completed", fields...)
		case status >= 400:
			requestLog.Warn("request completed", fields...)
		default:
			requestLog.Info("request completed", fields...)
		}
	}
}
