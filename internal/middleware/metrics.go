package middleware

import (
	"strconv"
	"time"

	"github.com/SergeiKhy/linkresolver/internal/metrics"
	"github.com/gin-gonic/gin"
)

// Metrics записывает длительность запросов по шаблону маршрута
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		metrics.RequestDuration.WithLabelValues(
			c.Request.Method,
			route,
			strconv.Itoa(c.Writer.Status()),
		).Observe(time.Since(start).Seconds())
	}
}
