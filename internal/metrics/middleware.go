package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quotaledger/quotaledger/internal/logging"
)

// UnmatchedRoute labels requests that hit no registered route, keeping
// the endpoint label bounded to the router's paths.
const UnmatchedRoute = "unmatched"

// Middleware records latency, totals and in-flight requests per route.
// Panics still release the in-flight gauge.
func Middleware(m *Metrics, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.IncHTTPRequestsInFlight()
		defer m.DecHTTPRequestsInFlight()

		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = UnmatchedRoute
		}
		code := c.Writer.Status()
		status := strconv.Itoa(code)
		m.RecordRequestLatency(endpoint, c.Request.Method, status, time.Since(start).Seconds())
		m.RecordHTTPRequest(endpoint, c.Request.Method, status)

		if len(c.Errors) > 0 {
			m.RecordError("handler", endpoint, c.Request.Method)
			logger.ErrorWithContext(c.Request.Context(), "request error",
				"endpoint", endpoint, "status", code, "error", c.Errors.String())
		} else if code == http.StatusTooManyRequests {
			m.RecordError("rate_limited", endpoint, c.Request.Method)
		}
	}
}
