package memory

import (
	"errors"
	"fmt"

	sqlite3 "github.com/mattn/go-sqlite3"
)

var (
	// ErrBreakerOpen is returned when a circuit breaker short-circuits a
	// guarded call without attempting it. It clears automatically once
	// the breaker's cooldown elapses.
	ErrBreakerOpen = errors.New("circuit breaker open")

	// ErrStorageFull is returned when long-term storage has reached its
	// configured size limit. Reads continue to be served; writes are
	// refused until a retention sweep frees space or the limit is raised.
	ErrStorageFull = errors.New("memory storage full")

	// ErrStorageLocked is returned after a bounded retry when the
	// underlying database is held by another process.
	ErrStorageLocked = errors.New("memory storage locked")

	// ErrDisabled is returned when the memory system is switched off in
	// configuration.
	ErrDisabled = errors.New("memory disabled")
)

// DimensionError reports an embedding whose length does not match the
// configured index dimensionality. The operation is rejected; vectors are
// never truncated or padded.
type DimensionError struct {
	Want int
	Got  int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: expected %d, got %d", e.Want, e.Got)
}

// IsLocked reports whether err is a sqlite busy/locked condition.
func IsLocked(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}
