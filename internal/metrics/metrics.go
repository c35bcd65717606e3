package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Circuit breaker states as exported by the oracle_circuit_state gauge.
const (
	BreakerClosed   = 0
	BreakerHalfOpen = 1
	BreakerOpen     = 2
)

// Metrics holds all Prometheus metrics for the application.
// Every Record/Set method is safe on a nil *Metrics.
type Metrics struct {
	// RequestLatency tracks HTTP request latency by endpoint and method
	RequestLatency *prometheus.HistogramVec
	// HTTPRequestsTotal total HTTP requests
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTPRequestsInFlight current HTTP requests being processed
	HTTPRequestsInFlight prometheus.Gauge
	// ErrorCounter counts errors by type and endpoint
	ErrorCounter *prometheus.CounterVec

	// AdmissionDecisions counts checks by outcome (allowed, denied, error)
	// and limiting factor.
	AdmissionDecisions *prometheus.CounterVec
	// AdmissionLatency tracks how long a check takes, rollback included.
	AdmissionLatency *prometheus.HistogramVec
	// ReservationOperations counts reserve, release, confirm and rollback calls.
	ReservationOperations *prometheus.CounterVec

	// EntryUtilization is consumed/limit per entry after the latest sync.
	EntryUtilization *prometheus.GaugeVec
	// OverEntries counts entries whose consumption exceeds their limit.
	OverEntries *prometheus.GaugeVec

	// SyncCycles counts reconciliation cycles by result.
	SyncCycles *prometheus.CounterVec
	// SyncDuration tracks reconciliation cycle duration.
	SyncDuration prometheus.Histogram
	// SyncPairs counts reconciled pairs by resulting state.
	SyncPairs *prometheus.CounterVec
	// StaleReservationsDiscarded counts reservations dropped after the grace window.
	StaleReservationsDiscarded prometheus.Counter
	// OracleRequests counts oracle calls by operation and status.
	OracleRequests *prometheus.CounterVec
	// OracleCircuitState is the breaker state (0 closed, 1 half-open, 2 open).
	OracleCircuitState prometheus.Gauge

	// Notifications counts overage notifications by status.
	Notifications *prometheus.CounterVec

	// registry is the custom registry for this metrics instance
	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_latency_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"endpoint", "method", "status"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"endpoint", "method", "status"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
		ErrorCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors",
			},
			[]string{"type", "endpoint", "method"},
		),
		AdmissionDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "admission_decisions_total",
				Help:      "Total number of admission checks by outcome",
			},
			[]string{"outcome", "factor"},
		),
		AdmissionLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "admission_latency_seconds",
				Help:      "Admission check latency in seconds",
				Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"outcome"},
		),
		ReservationOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reservation_operations_total",
				Help:      "Total number of reservation operations",
			},
			[]string{"operation", "status"},
		),
		EntryUtilization: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "entry_utilization_ratio",
				Help:      "Consumed divided by limit after the latest sync",
			},
			[]string{"kind", "entry_id"},
		),
		OverEntries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "over_entries",
				Help:      "Number of entries whose consumption exceeds their limit",
			},
			[]string{"kind"},
		),
		SyncCycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_cycles_total",
				Help:      "Total number of reconciliation cycles by result",
			},
			[]string{"result"},
		),
		SyncDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sync_duration_seconds",
				Help:      "Reconciliation cycle duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		SyncPairs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_pairs_total",
				Help:      "Total number of reconciled pairs by resulting state",
			},
			[]string{"state"},
		),
		StaleReservationsDiscarded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stale_reservations_discarded_total",
				Help:      "Reservations discarded by reconciliation after the grace window",
			},
		),
		OracleRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "oracle_requests_total",
				Help:      "Total number of usage oracle requests",
			},
			[]string{"operation", "status"},
		),
		OracleCircuitState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "oracle_circuit_state",
				Help:      "Oracle circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
		),
		Notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Total number of overage notifications",
			},
			[]string{"status"},
		),
	}

	// Register metrics with custom registry
	registry.MustRegister(
		m.RequestLatency,
		m.HTTPRequestsTotal,
		m.HTTPRequestsInFlight,
		m.ErrorCounter,
		m.AdmissionDecisions,
		m.AdmissionLatency,
		m.ReservationOperations,
		m.EntryUtilization,
		m.OverEntries,
		m.SyncCycles,
		m.SyncDuration,
		m.SyncPairs,
		m.StaleReservationsDiscarded,
		m.OracleRequests,
		m.OracleCircuitState,
		m.Notifications,
	)

	return m
}

// Handler returns a Prometheus handler for these metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry so other collectors can be added.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRequestLatency records the latency of an HTTP request
func (m *Metrics) RecordRequestLatency(endpoint, method, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RequestLatency.WithLabelValues(endpoint, method, status).Observe(durationSeconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(endpoint, method, status string) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

// IncHTTPRequestsInFlight increments the in-flight requests counter
func (m *Metrics) IncHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.HTTPRequestsInFlight.Inc()
}

// DecHTTPRequestsInFlight decrements the in-flight requests counter
func (m *Metrics) DecHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.HTTPRequestsInFlight.Dec()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, endpoint, method string) {
	if m == nil {
		return
	}
	m.ErrorCounter.WithLabelValues(errorType, endpoint, method).Inc()
}

// RecordAdmission records the outcome of one admission check.
func (m *Metrics) RecordAdmission(outcome, factor string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.AdmissionDecisions.WithLabelValues(outcome, factor).Inc()
	m.AdmissionLatency.WithLabelValues(outcome).Observe(durationSeconds)
}

// RecordReservation records a reservation operation
func (m *Metrics) RecordReservation(operation, status string) {
	if m == nil {
		return
	}
	m.ReservationOperations.WithLabelValues(operation, status).Inc()
}

// SetEntryUtilization sets consumed/limit for an entry. A zero limit
// reports 0 when nothing is consumed and 1 otherwise.
func (m *Metrics) SetEntryUtilization(kind, entryID string, consumed, limit int64) {
	if m == nil {
		return
	}
	var ratio float64
	switch {
	case limit > 0:
		ratio = float64(consumed) / float64(limit)
	case consumed > 0:
		ratio = 1
	}
	m.EntryUtilization.WithLabelValues(kind, entryID).Set(ratio)
}

// DeleteEntry drops the per-entry series of a deleted entry.
func (m *Metrics) DeleteEntry(kind, entryID string) {
	if m == nil {
		return
	}
	m.EntryUtilization.DeleteLabelValues(kind, entryID)
}

// SetOverEntries sets the number of over entries of a kind.
func (m *Metrics) SetOverEntries(kind string, count int) {
	if m == nil {
		return
	}
	m.OverEntries.WithLabelValues(kind).Set(float64(count))
}

// RecordSyncCycle records a finished reconciliation cycle.
func (m *Metrics) RecordSyncCycle(result string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SyncCycles.WithLabelValues(result).Inc()
	m.SyncDuration.Observe(durationSeconds)
}

// RecordSyncPair records the state a pair ended a cycle in.
func (m *Metrics) RecordSyncPair(state string) {
	if m == nil {
		return
	}
	m.SyncPairs.WithLabelValues(state).Inc()
}

// RecordStaleDiscarded adds n discarded reservations.
func (m *Metrics) RecordStaleDiscarded(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.StaleReservationsDiscarded.Add(float64(n))
}

// RecordOracleRequest records one oracle call.
func (m *Metrics) RecordOracleRequest(operation, status string) {
	if m == nil {
		return
	}
	m.OracleRequests.WithLabelValues(operation, status).Inc()
}

// SetOracleCircuitState sets the breaker state gauge.
func (m *Metrics) SetOracleCircuitState(state int) {
	if m == nil {
		return
	}
	m.OracleCircuitState.Set(float64(state))
}

// RecordNotification records a notification attempt.
func (m *Metrics) RecordNotification(status string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(status).Inc()
}
