// Package pool manages rotated sets of backend instances. A pool call
// picks an instance by rotation strategy, respects per-instance
// concurrency caps, tracks instance health and retries a bounded number
// of distinct instances before giving up.
package pool

import (
	"errors"
	"fmt"
	"strings"
)

// Common pool errors that can be checked with errors.Is().
var (
	// ErrPoolNotFound is returned when a call names an unknown pool.
	ErrPoolNotFound = errors.New("pool not found")

	// ErrNoInstanceAvailable is returned when no instance becomes
	// available within the selection timeout.
	ErrNoInstanceAvailable = errors.New("no instance available")
)

// AttemptError records one failed instance attempt.
type AttemptError struct {
	// InstanceID identifies the instance that was tried.
	InstanceID string

	// Err is the failure, ErrNoInstanceAvailable when selection timed
	// out before any instance could be tried.
	Err error
}

// ExhaustedError is returned when every instance attempt in a pool
// failed.
type ExhaustedError struct {
	// Pool is the pool name.
	Pool string

	// Attempts lists the failed attempts in order.
	Attempts []AttemptError
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		if a.InstanceID == "" {
			parts[i] = a.Err.Error()
		} else {
			parts[i] = fmt.Sprintf("%s: %v", a.InstanceID, a.Err)
		}
	}
	return fmt.Sprintf("pool %q exhausted after %d attempts: %s", e.Pool, len(e.Attempts), strings.Join(parts, "; "))
}

// Unwrap exposes the last attempt's error for errors.Is/As chains.
func (e *ExhaustedError) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}
