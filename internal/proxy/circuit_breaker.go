package proxy

import (
	"sync"
	"time"

	"github.com/aitorroca/wn-securityheaders-plugin/internal/metrics"
	"go.uber.org/zap"
)

// CircuitBreaker stops forwarding to a failing backend for a cool-down
// period, then lets a single trial request through.
type CircuitBreaker struct {
	mu           sync.RWMutex
	threshold    int
	timeout      time.Duration
	failures     int
	lastFailTime time.Time
	state        CircuitState
	trialStarted time.Time // zero when no trial request is in flight
	backend      string
	logger       *zap.Logger
}

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed means the circuit is closed and requests are allowed
	StateClosed CircuitState = iota
	// StateOpen means the circuit is open and requests are rejected
	StateOpen
	// StateHalfOpen means a trial request is testing the backend
	StateHalfOpen
)

// String returns string representation of circuit state
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// NewCircuitBreaker creates a circuit breaker for backend. A threshold below
// one is treated as one.
func NewCircuitBreaker(threshold int, timeout time.Duration, backend string, logger *zap.Logger) *CircuitBreaker {
	if threshold < 1 {
		threshold = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := &CircuitBreaker{
		threshold: threshold,
		timeout:   timeout,
		state:     StateClosed,
		backend:   backend,
		logger:    logger,
	}
	metrics.CircuitBreakerState.WithLabelValues(backend).Set(float64(StateClosed))
	return cb
}

// Allow checks if a request should be allowed through
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		// a trial that never reported back is given up after timeout
		if !cb.trialStarted.IsZero() && time.Since(cb.trialStarted) <= cb.timeout {
			return false
		}
		cb.trialStarted = time.Now()
		return true
	case StateOpen:
		if time.Since(cb.lastFailTime) > cb.timeout {
			cb.setState(StateHalfOpen)
			cb.trialStarted = time.Now()
			cb.logger.Info("Circuit breaker half-open, trying backend", zap.String("backend", cb.backend))
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess records a successful request
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.setState(StateClosed)
		cb.logger.Info("Circuit breaker closed after successful trial request", zap.String("backend", cb.backend))
	}
	cb.failures = 0
}

// RecordFailure records a failed request
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailTime = time.Now()
	metrics.CircuitBreakerFailures.WithLabelValues(cb.backend).Inc()

	switch {
	case cb.state == StateClosed && cb.failures >= cb.threshold:
		cb.setState(StateOpen)
		cb.logger.Warn("Circuit breaker opened",
			zap.String("backend", cb.backend),
			zap.Int("failures", cb.failures),
			zap.Int("threshold", cb.threshold),
		)
	case cb.state == StateHalfOpen:
		cb.setState(StateOpen)
		cb.logger.Warn("Circuit breaker re-opened after failed trial request", zap.String("backend", cb.backend))
	}
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Failures returns the current failure count
func (cb *CircuitBreaker) Failures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures
}

// Reset resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.setState(StateClosed)
	cb.failures = 0
	cb.logger.Info("Circuit breaker reset", zap.String("backend", cb.backend))
}

// setState must be called with mu held
func (cb *CircuitBreaker) setState(s CircuitState) {
	cb.state = s
	cb.trialStarted = time.Time{}
	metrics.CircuitBreakerState.WithLabelValues(cb.backend).Set(float64(s))
}
