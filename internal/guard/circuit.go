package guard

import (
	"sync"
	"time"

	"github.com/tablestakes/platform/internal/metrics"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitHalfOpen
	CircuitOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreaker wraps a single upstream: N consecutive failures open the
// circuit for a cooldown, after which one half-open probe is allowed.
type CircuitBreaker struct {
	mu            sync.Mutex
	state         CircuitState
	failures      int
	lastFailure   time.Time
	probeInFlight bool

	failThreshold int
	cooldown      time.Duration
}

// NewCircuitBreaker creates a breaker with the given threshold and cooldown.
func NewCircuitBreaker(failThreshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{failThreshold: failThreshold, cooldown: cooldown}
}

// Allow reports whether a request may proceed, transitioning OPEN ->
// HALF_OPEN after the cooldown and admitting a single probe.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if time.Since(cb.lastFailure) < cb.cooldown {
			return false
		}
		cb.setState(CircuitHalfOpen)
		cb.probeInFlight = true
		return true
	case CircuitHalfOpen:
		if cb.probeInFlight {
			return false
		}
		cb.probeInFlight = true
		return true
	default:
		return true
	}
}

// RecordSuccess closes the circuit and resets the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.probeInFlight = false
	cb.setState(CircuitClosed)
}

// RecordFailure counts a failure; the half-open probe failing or reaching
// the threshold re-opens the circuit.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = time.Now()
	cb.probeInFlight = false

	if cb.state == CircuitHalfOpen || cb.failures >= cb.failThreshold {
		cb.setState(CircuitOpen)
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) setState(s CircuitState) {
	cb.state = s
	metrics.ProviderBreakerState.Set(float64(s))
}
