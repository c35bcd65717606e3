package reconcile

import (
	"sync"
	"time"

	"github.com/quotaledger/quotaledger/internal/errors"
	"github.com/quotaledger/quotaledger/internal/metrics"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// CircuitClosed means cycles query the oracle normally
	CircuitClosed CircuitState = iota
	// CircuitOpen means cycles are skipped without querying the oracle
	CircuitOpen
	// CircuitHalfOpen means a trial cycle is allowed through
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

func (s CircuitState) gauge() int {
	switch s {
	case CircuitOpen:
		return metrics.BreakerOpen
	case CircuitHalfOpen:
		return metrics.BreakerHalfOpen
	}
	return metrics.BreakerClosed
}

// CircuitBreaker trips after a number of consecutive cycles in which every
// oracle call failed, and lets a trial cycle through after a timeout.
type CircuitBreaker struct {
	mu               sync.Mutex
	failures         int
	successes        int
	failureThreshold int
	halfOpenLimit    int
	timeout          time.Duration
	lastFailureTime  time.Time
	state            CircuitState
	metrics          *metrics.Metrics
	now              func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(failureThreshold, halfOpenLimit int, timeout time.Duration, m *metrics.Metrics) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	if halfOpenLimit <= 0 {
		halfOpenLimit = 1
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		halfOpenLimit:    halfOpenLimit,
		timeout:          timeout,
		state:            CircuitClosed,
		metrics:          m,
		now:              time.Now,
	}
}

// Allow checks if a cycle should query the oracle
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		return true
	case CircuitOpen:
		if cb.now().Sub(cb.lastFailureTime) > cb.timeout {
			cb.setState(CircuitHalfOpen)
			cb.successes = 0
			return true
		}
	}
	return false
}

// RecordSuccess records a cycle in which at least one oracle call succeeded
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	if cb.state != CircuitHalfOpen {
		return
	}
	cb.successes++
	if cb.successes >= cb.halfOpenLimit {
		cb.successes = 0
		cb.setState(CircuitClosed)
	}
}

// RecordFailure records a cycle in which every oracle call failed
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailureTime = cb.now()

	// Any failure while half-open reopens the circuit.
	if cb.state == CircuitHalfOpen || cb.failures >= cb.failureThreshold {
		cb.successes = 0
		cb.setState(CircuitOpen)
	}
}

// State returns the current circuit state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the circuit and clears the counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.successes = 0
	cb.setState(CircuitClosed)
}

func (cb *CircuitBreaker) setState(s CircuitState) {
	cb.state = s
	cb.metrics.SetOracleCircuitState(s.gauge())
}

// CircuitOpenError is returned for a cycle skipped by the open circuit.
type CircuitOpenError struct {
	Until time.Time
}

func (e *CircuitOpenError) Error() string {
	return "oracle circuit breaker is open until " + e.Until.UTC().Format(time.RFC3339)
}

func (e *CircuitOpenError) Unwrap() error {
	return errors.ErrOracleUnavailable
}

// openUntil returns when the circuit will next allow a trial cycle.
func (cb *CircuitBreaker) openUntil() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.lastFailureTime.Add(cb.timeout)
}
