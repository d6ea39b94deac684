package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/altrii/altrii/pkg/metrics"
)

const unmatchedRoute = "unmatched"

// Metrics observes latency labelled by route template rather than raw path, keeping
// device ids out of label values.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		metrics.APIInFlight.Inc()
		defer metrics.APIInFlight.Dec()

		timer := prometheus.NewTimer(prometheus.ObserverFunc(func(seconds float64) {
			route := c.FullPath()
			if route == "" {
				route = unmatchedRoute
			}
			metrics.APILatency.
				WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
				Observe(seconds)
		}))
		defer timer.ObserveDuration()

		c.Next()
	}
}
