package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend implements Backend with an in-process map. State is
// lost on restart; intended for tests and ephemeral deployments.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string]*UsageRecord
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string]*UsageRecord)}
}

// Save stores a copy of the record so callers cannot mutate stored
// state afterwards.
func (m *MemoryBackend) Save(ctx context.Context, record *UsageRecord) error {
	if err := validateRecord(record); err != nil {
		return err
	}

	now := time.Now()
	cp := *record
	if cp.LastUpdated.IsZero() {
		cp.LastUpdated = now
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.records[cp.Target]; ok && cp.CreatedAt.IsZero() {
		cp.CreatedAt = existing.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	m.records[cp.Target] = &cp
	return nil
}

// Load returns a copy of the record for a target, or nil when absent.
func (m *MemoryBackend) Load(ctx context.Context, target string) (*UsageRecord, error) {
	if target == "" {
		return nil, errEmptyTarget
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[target]
	if !ok {
		return nil, nil
	}
	cp := *record
	return &cp, nil
}

// List returns copies of all stored records.
func (m *MemoryBackend) List(ctx context.Context) ([]*UsageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*UsageRecord, 0, len(m.records))
	for _, record := range m.records {
		cp := *record
		out = append(out, &cp)
	}
	return out, nil
}

// Delete removes a target's record.
func (m *MemoryBackend) Delete(ctx context.Context, target string) error {
	if target == "" {
		return errEmptyTarget
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, target)
	return nil
}

// Cleanup removes records not updated since olderThan.
func (m *MemoryBackend) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for target, record := range m.records {
		if record.LastUpdated.Before(olderThan) {
			delete(m.records, target)
			removed++
		}
	}
	return removed, nil
}

// Close is a no-op for the memory backend.
func (m *MemoryBackend) Close() error {
	return nil
}
