package transcription

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultBreakerThreshold is the consecutive-failure count that opens
	// the circuit.
	DefaultBreakerThreshold = 5
	// DefaultBreakerResetWindow is how long the circuit stays open with no
	// further failures before it lazily closes again.
	DefaultBreakerResetWindow = 60 * time.Second
)

// CircuitBreaker halts job dispatch after repeated engine failures. The
// open state is derived on every IsOpen call; there is no background timer,
// so callers must re-evaluate before each dispatch decision.
type CircuitBreaker struct {
	mu           sync.Mutex
	failureCount int
	lastFailure  time.Time
	threshold    int
	resetWindow  time.Duration

	onOpen  func()
	onReset func()

	log *logrus.Entry

	now func() time.Time
}

// NewCircuitBreaker creates a breaker with the given threshold and reset
// window; zero values select the defaults.
func NewCircuitBreaker(threshold int, resetWindow time.Duration, log *logrus.Entry) *CircuitBreaker {
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	if resetWindow <= 0 {
		resetWindow = DefaultBreakerResetWindow
	}
	return &CircuitBreaker{
		threshold:   threshold,
		resetWindow: resetWindow,
		log:         log,
		now:         time.Now,
	}
}

// OnOpen registers a callback fired once when the threshold is first reached.
func (cb *CircuitBreaker) OnOpen(fn func()) {
	cb.mu.Lock()
	cb.onOpen = fn
	cb.mu.Unlock()
}

// OnReset registers a callback fired when a success clears a nonzero count.
func (cb *CircuitBreaker) OnReset(fn func()) {
	cb.mu.Lock()
	cb.onReset = fn
	cb.mu.Unlock()
}

// RecordSuccess clears the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	wasFailing := cb.failureCount > 0
	cb.failureCount = 0
	fn := cb.onReset
	cb.mu.Unlock()

	if wasFailing {
		cb.log.Info("circuit breaker reset after success")
		if fn != nil {
			fn()
		}
	}
}

// RecordFailure increments the failure count and stamps the failure time.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	cb.failureCount++
	cb.lastFailure = cb.now()
	justOpened := cb.failureCount == cb.threshold
	count := cb.failureCount
	fn := cb.onOpen
	cb.mu.Unlock()

	if justOpened {
		cb.log.WithField("failures", count).Warn("circuit breaker opened")
		if fn != nil {
			fn()
		}
	}
}

// IsOpen recomputes the derived open state, lazily closing the circuit once
// the reset window has elapsed since the last failure.
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.failureCount < cb.threshold {
		return false
	}
	if cb.now().Sub(cb.lastFailure) >= cb.resetWindow {
		cb.failureCount = 0
		return false
	}
	return true
}

// Reset is a manual operator override clearing the breaker state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	cb.failureCount = 0
	cb.lastFailure = time.Time{}
	cb.mu.Unlock()
	cb.log.Info("circuit breaker manually reset")
}

// FailureCount returns the current consecutive failure count.
func (cb *CircuitBreaker) FailureCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureCount
}
