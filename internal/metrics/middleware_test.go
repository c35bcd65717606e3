package metrics

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotaledger/quotaledger/internal/logging"
)

func TestMiddlewareRecordsRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	m := NewMetrics("testmw")
	var buf bytes.Buffer
	logger := logging.NewLogger(logging.WithOutput(&buf), logging.WithLevel(logging.LevelDebug))

	r := gin.New()
	r.Use(Middleware(m, logger))
	r.GET("/quotas/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/err", func(c *gin.Context) {
		_ = c.Error(errors.New("boom"))
		c.Status(http.StatusInternalServerError)
	})

	for _, path := range []string{"/quotas/a", "/quotas/b", "/err", "/missing", "/other"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Contains(t, buf.String(), "request error")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("/quotas/:id", "GET", "200")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(UnmatchedRoute, "GET", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorCounter.WithLabelValues("handler", "/err", "GET")))
	assert.Zero(t, testutil.ToFloat64(m.HTTPRequestsInFlight))

	families, err := m.registry.Gather()
	require.NoError(t, err)
	assert.False(t, metricHasLabel(families, "testmw_http_requests_total", "endpoint", "/missing"))
}

func TestMiddlewareReleasesInFlightOnPanic(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics("testpanic")

	r := gin.New()
	r.Use(gin.Recovery(), Middleware(m, logging.Discard()))
	r.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Zero(t, testutil.ToFloat64(m.HTTPRequestsInFlight))
}

func metricHasLabel(families []*dto.MetricFamily, name, key, value string) bool {
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.Metric {
			for _, label := range metric.Label {
				if label.GetName() == key && label.GetValue() == value {
					return true
				}
			}
		}
	}
	return false
}
