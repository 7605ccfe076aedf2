package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"analytica/pkg/logger"
)

// Logger writes one structured line per request after it completes.
func Logger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		fields := []any{
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if query != "" {
			fields = append(fields, "query", query)
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}

		entry := log.WithContext(c.Request.Context())
		switch {
		case c.Writer.Status() >= 500:
			entry.Errorw("request failed", fields...)
		case c.Writer.Status() >= 400:
			entry.Warnw("request rejected", fields...)
		default:
			entry.Infow("request", fields...)
		}
	}
}
