package middleware

import (
	"strconv"
	"time"

	"github.com/aitorroca/wn-securityheaders-plugin/internal/metrics"
	"github.com/gin-gonic/gin"
)

// UnmatchedPath labels requests that matched no route, which is every request
// handed to the backend. Keeps the path label bounded.
const UnmatchedPath = "unmatched"

// MetricsMiddleware records HTTP metrics for each request
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		path := c.FullPath()
		if path == "" {
			path = UnmatchedPath
		}

		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(duration)
	}
}
