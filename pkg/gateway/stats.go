package gateway

import (
	"sync"
	"sync/atomic"
	"time"
)

// AtomicStats tracks request statistics with lock-free counters.
type AtomicStats struct {
	// totalRequests is the total number of requests processed
	totalRequests atomic.Int64

	// successfulRequests counts requests that produced a response
	successfulRequests atomic.Int64

	// failedRequests counts requests that exhausted every target
	failedRequests atomic.Int64

	// fallbackServed counts requests served by a non-primary target
	fallbackServed atomic.Int64

	// totalDurationNanos accumulates request latency for averaging
	totalDurationNanos atomic.Int64

	// requestsPerTarget tracks requests per wrapper target
	// Uses sync.Map for thread-safe concurrent access
	requestsPerTarget sync.Map // map[string]*atomic.Int64

	// lastResetTime is when statistics were last reset
	lastResetTime time.Time

	// mu protects lastResetTime
	mu sync.RWMutex
}

// Stats is a point-in-time snapshot, safe to read without locks.
type Stats struct {
	TotalRequests      int64            `json:"total_requests"`
	SuccessfulRequests int64            `json:"successful_requests"`
	FailedRequests     int64            `json:"failed_requests"`
	FallbackServed     int64            `json:"fallback_served"`
	AvgResponseTime    time.Duration    `json:"avg_response_time"`
	RequestsPerTarget  map[string]int64 `json:"requests_per_target"`
	LastResetTime      time.Time        `json:"last_reset_time"`
}

// NewAtomicStats creates a statistics tracker.
func NewAtomicStats() *AtomicStats {
	return &AtomicStats{lastResetTime: time.Now()}
}

// RecordRequest records one settled request.
func (s *AtomicStats) RecordRequest(target string, success, viaFallback bool, elapsed time.Duration) {
	s.totalRequests.Add(1)
	if success {
		s.successfulRequests.Add(1)
	} else {
		s.failedRequests.Add(1)
	}
	if viaFallback {
		s.fallbackServed.Add(1)
	}
	s.totalDurationNanos.Add(int64(elapsed))

	val, _ := s.requestsPerTarget.LoadOrStore(target, &atomic.Int64{})
	val.(*atomic.Int64).Add(1)
}

// Snapshot returns the current statistics.
func (s *AtomicStats) Snapshot() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	perTarget := make(map[string]int64)
	s.requestsPerTarget.Range(func(key, value any) bool {
		perTarget[key.(string)] = value.(*atomic.Int64).Load()
		return true
	})

	total := s.totalRequests.Load()
	var avg time.Duration
	if total > 0 {
		avg = time.Duration(s.totalDurationNanos.Load() / total)
	}

	return Stats{
		TotalRequests:      total,
		SuccessfulRequests: s.successfulRequests.Load(),
		FailedRequests:     s.failedRequests.Load(),
		FallbackServed:     s.fallbackServed.Load(),
		AvgResponseTime:    avg,
		RequestsPerTarget:  perTarget,
		LastResetTime:      s.lastResetTime,
	}
}

// Reset clears all counters.
func (s *AtomicStats) Reset() {
	s.totalRequests.Store(0)
	s.successfulRequests.Store(0)
	s.failedRequests.Store(0)
	s.fallbackServed.Store(0)
	s.totalDurationNanos.Store(0)

	s.requestsPerTarget.Range(func(key, value any) bool {
		s.requestsPerTarget.Delete(key)
		return true
	})

	s.mu.Lock()
	s.lastResetTime = time.Now()
	s.mu.Unlock()
}
