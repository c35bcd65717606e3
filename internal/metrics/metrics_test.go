package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordingAndHandler(t *testing.T) {
	m := NewMetrics("test")

	m.RecordRequestLatency("/health", "GET", "200", 0.01)
	m.RecordHTTPRequest("/health", "GET", "200")
	m.IncHTTPRequestsInFlight()
	m.DecHTTPRequestsInFlight()
	m.RecordError("timeout", "/health", "GET")
	m.RecordAdmission("allowed", "none", 0.002)
	m.RecordAdmission("denied", "quota", 0.001)
	m.RecordReservation("reserve", "success")
	m.SetEntryUtilization("quota", "quota_1", 3, 4)
	m.SetOverEntries("budget", 2)
	m.RecordSyncCycle("ok", 0.5)
	m.RecordSyncPair("drifted")
	m.RecordStaleDiscarded(3)
	m.RecordOracleRequest("usage", "success")
	m.SetOracleCircuitState(BreakerOpen)
	m.RecordNotification("sent")

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	body := w.Body.String()
	for _, name := range []string{
		"test_request_latency_seconds",
		"test_admission_decisions_total",
		"test_entry_utilization_ratio",
		"test_sync_cycles_total",
		"test_oracle_circuit_state",
	} {
		assert.True(t, strings.Contains(body, name), "expected %s in output", name)
	}

	assert.Equal(t, 0.75, testutil.ToFloat64(m.EntryUtilization.WithLabelValues("quota", "quota_1")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.StaleReservationsDiscarded))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AdmissionDecisions.WithLabelValues("denied", "quota")))

	_, err := m.registry.Gather()
	require.NoError(t, err)
}

func TestEntryUtilizationZeroLimit(t *testing.T) {
	m := NewMetrics("zero")

	m.SetEntryUtilization("quota", "q", 0, 0)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.EntryUtilization.WithLabelValues("quota", "q")))

	m.SetEntryUtilization("quota", "q", 2, 0)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EntryUtilization.WithLabelValues("quota", "q")))

	m.DeleteEntry("quota", "q")
	assert.Equal(t, 0, testutil.CollectAndCount(m.EntryUtilization))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordAdmission("allowed", "none", 0)
		m.RecordReservation("release", "success")
		m.SetOverEntries("quota", 1)
		m.RecordSyncCycle("ok", 1)
		m.RecordNotification("sent")
	})
}
