package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"lazone/api/internal/metrics"
)

// MetricsMiddleware counts requests by matched route.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
