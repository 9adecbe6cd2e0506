package httpapi

import (
	"strconv"
	"time"

	"billpay-platform/internal/metrics"

	"github.com/gin-gonic/gin"
)

// MetricsMiddleware records per-route request latency. Uses the route
// template, not the raw path, to keep label cardinality bounded.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
