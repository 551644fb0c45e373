package memory

import (
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func newTestBreaker(threshold uint32, cooldown time.Duration) (*CircuitBreaker, *time.Time) {
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	cb := NewCircuitBreaker("test", threshold, cooldown, logger)

	now := time.Now()
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)

	assert.Equal(t, BreakerClosed, cb.State())
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, BreakerClosed, cb.State())
	assert.True(t, cb.Allow())

	cb.RecordFailure()
	assert.Equal(t, BreakerOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	assert.Zero(t, cb.FailureCount())

	// A fresh run of failures is needed to open.
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, BreakerClosed, cb.State())
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	cb, now := newTestBreaker(1, time.Minute)

	cb.RecordFailure()
	assert.Equal(t, BreakerOpen, cb.State())
	assert.False(t, cb.Allow())

	*now = now.Add(time.Minute)
	assert.True(t, cb.Allow())
	assert.Equal(t, BreakerHalfOpen, cb.State())
}

func TestBreaker_SingleSuccessCloses(t *testing.T) {
	cb, now := newTestBreaker(1, time.Minute)

	cb.RecordFailure()
	*now = now.Add(time.Minute)
	assert.True(t, cb.Allow())

	cb.RecordSuccess()
	assert.Equal(t, BreakerClosed, cb.State())
	assert.Zero(t, cb.FailureCount())
	assert.True(t, cb.Allow())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, now := newTestBreaker(1, time.Minute)

	cb.RecordFailure()
	*now = now.Add(time.Minute)
	assert.True(t, cb.Allow())

	cb.RecordFailure()
	assert.Equal(t, BreakerOpen, cb.State())
	assert.False(t, cb.Allow())

	// The cooldown restarts from the half-open failure.
	*now = now.Add(30 * time.Second)
	assert.False(t, cb.Allow())
	*now = now.Add(30 * time.Second)
	assert.True(t, cb.Allow())
}

func TestBreakerState_String(t *testing.T) {
	assert.Equal(t, "closed", BreakerClosed.String())
	assert.Equal(t, "open", BreakerOpen.String())
	assert.Equal(t, "half-open", BreakerHalfOpen.String())
}
