// Package storage persists per-target usage state so request counters
// survive restarts. Two backends are provided: an in-memory map for
// tests and ephemeral deployments, and SQLite for single-instance
// durability.
package storage

import (
	"context"
	"time"
)

// Backend is the persistence contract for usage state.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Save persists the usage record for a target, updating any
	// existing record.
	Save(ctx context.Context, record *UsageRecord) error

	// Load retrieves the usage record for a target. Returns nil when no
	// record exists.
	Load(ctx context.Context, target string) (*UsageRecord, error)

	// List returns all stored usage records.
	List(ctx context.Context) ([]*UsageRecord, error)

	// Delete removes the record for a target. No-op when absent.
	Delete(ctx context.Context, target string) error

	// Cleanup removes records not updated since olderThan and returns
	// how many were removed.
	Cleanup(ctx context.Context, olderThan time.Time) (int, error)

	// Close releases backend resources. The backend must not be used
	// afterwards.
	Close() error
}

// UsageRecord is the persisted usage state for one routing target
// (a group reference or a pool name).
type UsageRecord struct {
	// Target is the target's stable identity.
	Target string `json:"target"`

	// Requests counts all requests routed at this target.
	Requests uint64 `json:"requests"`

	// Successes counts requests the target served.
	Successes uint64 `json:"successes"`

	// Failures counts requests the target failed.
	Failures uint64 `json:"failures"`

	// TokensUsed accumulates reported token consumption.
	TokensUsed uint64 `json:"tokens_used"`

	// LastUpdated is when this record was last modified.
	LastUpdated time.Time `json:"last_updated"`

	// CreatedAt is when this record was first created.
	CreatedAt time.Time `json:"created_at"`
}
