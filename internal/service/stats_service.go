// Package service contains application services.
package service

import (
	"sync"
	"sync/atomic"
)

// StatsService tracks HTTP harvesting statistics using lock-free atomic
// counters. All counter operations are safe for concurrent access from
// multiple goroutines (the HTTP engine's request completions fire from
// worker goroutines under the concurrency semaphore).
type StatsService struct {
	requests  atomic.Int64
	responses atomic.Int64
	timeouts  atomic.Int64
	errors    atomic.Int64
	issues    atomic.Int64

	// Per-status-code and per-module counters (mutex-protected maps).
	mu            sync.Mutex
	statusCounts  map[int]int64
	moduleCounts  map[string]int64
}

// NewStatsService creates a new StatsService with all counters initialized to zero.
func NewStatsService() *StatsService {
	return &StatsService{
		statusCounts: make(map[int]int64),
		moduleCounts: make(map[string]int64),
	}
}

// RecordRequest increments the outbound request counter.
func (s *StatsService) RecordRequest() {
	s.requests.Add(1)
}

// RecordResponse increments the completed response counter and the
// per-status-code counter.
func (s *StatsService) RecordResponse(statusCode int) {
	s.responses.Add(1)
	s.mu.Lock()
	s.statusCounts[statusCode]++
	s.mu.Unlock()
}

// RecordTimeout increments the request-timeout counter.
func (s *StatsService) RecordTimeout() {
	s.timeouts.Add(1)
}

// RecordError increments the error counter.
func (s *StatsService) RecordError() {
	s.errors.Add(1)
}

// RecordIssue increments the total-issues-found counter and the
// per-module counter. Empty module IDs are skipped.
func (s *StatsService) RecordIssue(moduleID string) {
	s.issues.Add(1)
	if moduleID == "" {
		return
	}
	s.mu.Lock()
	s.moduleCounts[moduleID]++
	s.mu.Unlock()
}

// Stats holds a snapshot of all counters at a point in time.
type Stats struct {
	Requests     int64           `json:"requests"`
	Responses    int64           `json:"responses"`
	Timeouts     int64           `json:"timeouts"`
	Errors       int64           `json:"errors"`
	Issues       int64           `json:"issues"`
	StatusCounts map[int]int64   `json:"status_counts"`
	ModuleCounts map[string]int64 `json:"module_counts"`
}

// GetStats returns a snapshot of all counters.
// The snapshot is consistent per-counter but not atomically across all counters.
func (s *StatsService) GetStats() Stats {
	s.mu.Lock()
	sc := make(map[int]int64, len(s.statusCounts))
	for k, v := range s.statusCounts {
		sc[k] = v
	}
	mc := make(map[string]int64, len(s.moduleCounts))
	for k, v := range s.moduleCounts {
		mc[k] = v
	}
	s.mu.Unlock()

	return Stats{
		Requests:     s.requests.Load(),
		Responses:    s.responses.Load(),
		Timeouts:     s.timeouts.Load(),
		Errors:       s.errors.Load(),
		Issues:       s.issues.Load(),
		StatusCounts: sc,
		ModuleCounts: mc,
	}
}

// Reset sets all counters to zero.
func (s *StatsService) Reset() {
	s.requests.Store(0)
	s.responses.Store(0)
	s.timeouts.Store(0)
	s.errors.Store(0)
	s.issues.Store(0)

	s.mu.Lock()
	s.statusCounts = make(map[int]int64)
	s.moduleCounts = make(map[string]int64)
	s.mu.Unlock()
}
