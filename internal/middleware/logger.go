package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/opd-api/pkg/logger"
	"github.com/jwalitptl/opd-api/pkg/metrics"
)

// Logger logs each request and records HTTP metrics. Bodies are never logged
// since they carry patient data.
func Logger(log *logger.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		latency := time.Since(start)
		method := c.Request.Method
		statusCode := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
		m.HTTPLatency.WithLabelValues(method, route).Observe(latency.Seconds())

		kv := []interface{}{
			"request_id", c.GetString(ContextRequestID),
			"client_ip", c.ClientIP(),
			"method", method,
			"route", route,
			"status", statusCode,
			"latency_ms", latency.Milliseconds(),
		}
		if actor, ok := ActorFrom(c); ok {
			kv = append(kv, "user_id", actor.UserID, "role", string(actor.Role))
		}

		switch {
		case statusCode >= 500:
			var err error
			if last := c.Errors.Last(); last != nil {
				err = last.Err
			}
			log.Error(err, "Server error", kv...)
		case statusCode >= 400:
			log.Warn("Client error", kv...)
		default:
			log.Info("Request processed", kv...)
		}
	}
}
