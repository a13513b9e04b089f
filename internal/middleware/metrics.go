package middleware

import (
	"time"

	"github.com/averix/toolgate/internal/metrics"
	"github.com/gin-gonic/gin"
)

// Metrics records request counts and latency per route template
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		// FullPath keeps the cardinality down, raw paths with IDs in
		// them would blow up the label space
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		m.RecordHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start).Seconds())
	}
}
