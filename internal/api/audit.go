package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quotaledger/quotaledger/internal/logging"
)

// auditMiddleware records an API_ACCESS event for every request that
// mutates the ledger or is refused by authentication. Reads are left to
// the request log.
func auditMiddleware(sink logging.AuditSink) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		if c.Request.Method == http.MethodGet && status != http.StatusUnauthorized {
			return
		}

		outcome := logging.StatusSuccess
		if status >= http.StatusBadRequest {
			outcome = logging.StatusFailure
		}
		route := c.FullPath()
		event := logging.NewAuditEvent(logging.APIAccess, c.Request.Method+" "+route, outcome).
			WithResource(c.Request.URL.Path).
			WithDetail("status", status).
			WithDetail("client_ip", c.ClientIP()).
			WithDetail("latency_ms", time.Since(start).Milliseconds())
		if key, ok := c.Get("api_key"); ok {
			event.WithActor(key.(string))
		}
		sink.Record(c.Request.Context(), event)
	}
}
