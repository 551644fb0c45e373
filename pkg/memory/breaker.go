package memory

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	// BreakerClosed passes calls through and counts failures.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls immediately without attempting them.
	BreakerOpen
	// BreakerHalfOpen allows a single trial call after the cooldown.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreaker guards a failing dependency. Consecutive failures beyond
// the threshold open the circuit; after the cooldown a single trial call
// is allowed through, and its outcome decides between closing again and
// restarting the cooldown.
//
// The embedder and storage each get their own instance so an embedding
// outage does not also disable the storage layer.
type CircuitBreaker struct {
	mu sync.Mutex

	name         string
	threshold    uint32
	cooldown     time.Duration
	failureCount uint32
	state        BreakerState
	lastFailure  time.Time
	logger       zerolog.Logger

	// now is swappable in tests.
	now func() time.Time
}

// NewCircuitBreaker creates a closed breaker with the given consecutive
// failure threshold and cooldown.
func NewCircuitBreaker(name string, threshold uint32, cooldown time.Duration, logger zerolog.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		state:     BreakerClosed,
		logger:    logger,
		now:       time.Now,
	}
}

// Allow reports whether a guarded call may proceed. When the cooldown has
// elapsed in the open state, the breaker moves to half-open and permits
// one trial call.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		if cb.now().Sub(cb.lastFailure) >= cb.cooldown {
			cb.state = BreakerHalfOpen
			cb.logger.Info().Str("breaker", cb.name).Msg("Circuit breaker entering half-open state")
			return true
		}
		return false
	}
	return false
}

// RecordSuccess resets the breaker after a successful guarded call. A
// success in half-open closes the circuit and clears the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerHalfOpen:
		cb.state = BreakerClosed
		cb.failureCount = 0
		cb.logger.Info().Str("breaker", cb.name).Msg("Circuit breaker closed after successful recovery")
	case BreakerClosed:
		cb.failureCount = 0
	}
}

// RecordFailure counts a failed guarded call. Reaching the threshold in
// the closed state opens the circuit; any failure in half-open reopens it
// and restarts the cooldown.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailure = cb.now()

	switch cb.state {
	case BreakerClosed:
		if cb.failureCount >= cb.threshold {
			cb.state = BreakerOpen
			cb.logger.Warn().
				Str("breaker", cb.name).
				Uint32("failures", cb.failureCount).
				Msg("Circuit breaker opened")
		}
	case BreakerHalfOpen:
		cb.state = BreakerOpen
		cb.logger.Warn().Str("breaker", cb.name).Msg("Circuit breaker reopened after half-open failure")
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// FailureCount returns the current consecutive failure count.
func (cb *CircuitBreaker) FailureCount() uint32 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureCount
}
