// Package fallback orchestrates degraded execution: it walks an ordered
// chain of targets, honoring per-target circuit breakers and admission
// limits, until one succeeds or the attempt budget runs out.
package fallback

import (
	"sync"
	"time"
)

// historyCapacity bounds the in-memory attempt log. Oldest entries are
// evicted first.
const historyCapacity = 100

// Attempt records one fallback attempt for observability.
type Attempt struct {
	// RequestID ties the attempt to its originating request.
	RequestID string `json:"request_id"`

	// Target is the attempted target's name.
	Target string `json:"target"`

	// Model is the model that served the attempt, when one was reached.
	Model string `json:"model,omitempty"`

	// Success reports whether the attempt succeeded.
	Success bool `json:"success"`

	// Error holds the failure message for unsuccessful attempts.
	Error string `json:"error,omitempty"`

	// Timestamp is when the attempt settled.
	Timestamp time.Time `json:"timestamp"`

	// Elapsed is how long the attempt took.
	Elapsed time.Duration `json:"elapsed"`
}

// History is a fixed-capacity ring of recent fallback attempts.
type History struct {
	mu      sync.Mutex
	entries []Attempt
	start   int
	size    int
}

// NewHistory creates an empty attempt history.
func NewHistory() *History {
	return &History{entries: make([]Attempt, historyCapacity)}
}

// Record appends an attempt, evicting the oldest when full.
func (h *History) Record(a Attempt) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.size < len(h.entries) {
		h.entries[(h.start+h.size)%len(h.entries)] = a
		h.size++
		return
	}
	h.entries[h.start] = a
	h.start = (h.start + 1) % len(h.entries)
}

// Snapshot returns up to limit most recent attempts, newest first.
// A non-positive limit returns everything retained.
func (h *History) Snapshot(limit int) []Attempt {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := h.size
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]Attempt, n)
	for i := 0; i < n; i++ {
		// Walk backwards from the newest entry.
		idx := (h.start + h.size - 1 - i + len(h.entries)) % len(h.entries)
		out[i] = h.entries[idx]
	}
	return out
}

// Len returns the number of retained attempts.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.size
}
