package service

import (
	"sync"
	"testing"
)

func TestStatsService_RecordAndGet(t *testing.T) {
	s := NewStatsService()

	s.RecordRequest()
	s.RecordRequest()
	s.RecordResponse(200)
	s.RecordTimeout()
	s.RecordError()
	s.RecordError()
	s.RecordError()
	s.RecordIssue("xss-reflected")

	stats := s.GetStats()

	if stats.Requests != 2 {
		t.Errorf("Requests = %d, want 2", stats.Requests)
	}
	if stats.Responses != 1 {
		t.Errorf("Responses = %d, want 1", stats.Responses)
	}
	if stats.Timeouts != 1 {
		t.Errorf("Timeouts = %d, want 1", stats.Timeouts)
	}
	if stats.Errors != 3 {
		t.Errorf("Errors = %d, want 3", stats.Errors)
	}
	if stats.Issues != 1 {
		t.Errorf("Issues = %d, want 1", stats.Issues)
	}
}

func TestStatsService_Reset(t *testing.T) {
	s := NewStatsService()

	s.RecordRequest()
	s.RecordResponse(500)
	s.RecordTimeout()
	s.RecordError()
	s.RecordIssue("sql-injection")

	s.Reset()

	stats := s.GetStats()
	if stats.Requests != 0 || stats.Responses != 0 || stats.Timeouts != 0 || stats.Errors != 0 || stats.Issues != 0 {
		t.Errorf("after Reset, stats should be all zero: got %+v", stats)
	}
}

func TestStatsService_ConcurrentAccess(t *testing.T) {
	s := NewStatsService()

	const goroutines = 100
	const opsPerGoroutine = 1000

	var wg sync.WaitGroup
	wg.Add(goroutines * 4)

	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < opsPerGoroutine; j++ {
				s.RecordRequest()
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < opsPerGoroutine; j++ {
				s.RecordResponse(200)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < opsPerGoroutine; j++ {
				s.RecordTimeout()
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < opsPerGoroutine; j++ {
				s.RecordError()
			}
		}()
	}

	wg.Wait()

	stats := s.GetStats()
	expected := int64(goroutines * opsPerGoroutine)

	if stats.Requests != expected {
		t.Errorf("Requests = %d, want %d", stats.Requests, expected)
	}
	if stats.Responses != expected {
		t.Errorf("Responses = %d, want %d", stats.Responses, expected)
	}
	if stats.Timeouts != expected {
		t.Errorf("Timeouts = %d, want %d", stats.Timeouts, expected)
	}
	if stats.Errors != expected {
		t.Errorf("Errors = %d, want %d", stats.Errors, expected)
	}
}

func TestStatsService_InitialZero(t *testing.T) {
	s := NewStatsService()
	stats := s.GetStats()

	if stats.Requests != 0 || stats.Responses != 0 || stats.Timeouts != 0 || stats.Errors != 0 || stats.Issues != 0 {
		t.Errorf("new StatsService should have all zero counters: got %+v", stats)
	}
	if len(stats.StatusCounts) != 0 {
		t.Errorf("new StatsService should have empty status counts, got %+v", stats.StatusCounts)
	}
	if len(stats.ModuleCounts) != 0 {
		t.Errorf("new StatsService should have empty module counts, got %+v", stats.ModuleCounts)
	}
}

func TestStatsService_RecordResponse_StatusCounts(t *testing.T) {
	s := NewStatsService()

	s.RecordResponse(200)
	s.RecordResponse(200)
	s.RecordResponse(404)
	s.RecordResponse(500)
	s.RecordResponse(200)

	stats := s.GetStats()
	if stats.StatusCounts[200] != 3 {
		t.Errorf("200 = %d, want 3", stats.StatusCounts[200])
	}
	if stats.StatusCounts[404] != 1 {
		t.Errorf("404 = %d, want 1", stats.StatusCounts[404])
	}
	if stats.StatusCounts[500] != 1 {
		t.Errorf("500 = %d, want 1", stats.StatusCounts[500])
	}
}

func TestStatsService_RecordIssue(t *testing.T) {
	s := NewStatsService()

	s.RecordIssue("xss-reflected")
	s.RecordIssue("xss-reflected")
	s.RecordIssue("sql-injection")
	s.RecordIssue("timing-leak")
	s.RecordIssue("sql-injection")
	s.RecordIssue("sql-injection")

	stats := s.GetStats()
	if stats.ModuleCounts["xss-reflected"] != 2 {
		t.Errorf("xss-reflected = %d, want 2", stats.ModuleCounts["xss-reflected"])
	}
	if stats.ModuleCounts["sql-injection"] != 3 {
		t.Errorf("sql-injection = %d, want 3", stats.ModuleCounts["sql-injection"])
	}
	if stats.Issues != 6 {
		t.Errorf("Issues = %d, want 6", stats.Issues)
	}
}

func TestStatsService_RecordIssue_SkipsEmptyModuleID(t *testing.T) {
	s := NewStatsService()

	s.RecordIssue("")
	s.RecordIssue("xss-reflected")

	stats := s.GetStats()
	if len(stats.ModuleCounts) != 1 {
		t.Errorf("expected 1 module entry, got %d: %+v", len(stats.ModuleCounts), stats.ModuleCounts)
	}
	if stats.Issues != 2 {
		t.Errorf("Issues = %d, want 2 (empty module id still counts toward total)", stats.Issues)
	}
}

func TestStatsService_GetStats_Snapshot(t *testing.T) {
	s := NewStatsService()

	s.RecordResponse(200)
	s.RecordIssue("xss-reflected")

	stats := s.GetStats()

	// Verify it's a copy (modifying returned map shouldn't affect service)
	stats.StatusCounts[200] = 999
	stats.ModuleCounts["xss-reflected"] = 999

	stats2 := s.GetStats()
	if stats2.StatusCounts[200] != 1 {
		t.Errorf("snapshot should be a copy, got 200 = %d", stats2.StatusCounts[200])
	}
	if stats2.ModuleCounts["xss-reflected"] != 1 {
		t.Errorf("snapshot should be a copy, got xss-reflected = %d", stats2.ModuleCounts["xss-reflected"])
	}
}

func TestStatsService_Reset_ClearsStatusModuleCounts(t *testing.T) {
	s := NewStatsService()

	s.RecordResponse(200)
	s.RecordResponse(404)
	s.RecordIssue("xss-reflected")
	s.RecordIssue("sql-injection")

	s.Reset()

	stats := s.GetStats()
	if len(stats.StatusCounts) != 0 {
		t.Errorf("after Reset, status counts should be empty: got %+v", stats.StatusCounts)
	}
	if len(stats.ModuleCounts) != 0 {
		t.Errorf("after Reset, module counts should be empty: got %+v", stats.ModuleCounts)
	}
}

func TestStatsService_ConcurrentStatusModule(t *testing.T) {
	s := NewStatsService()

	const goroutines = 50
	const opsPerGoroutine = 100

	var wg sync.WaitGroup
	wg.Add(goroutines * 2)

	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < opsPerGoroutine; j++ {
				s.RecordResponse(200)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < opsPerGoroutine; j++ {
				s.RecordIssue("xss-reflected")
			}
		}()
	}

	wg.Wait()

	stats := s.GetStats()
	expected := int64(goroutines * opsPerGoroutine)
	if stats.StatusCounts[200] != expected {
		t.Errorf("200 = %d, want %d", stats.StatusCounts[200], expected)
	}
	if stats.ModuleCounts["xss-reflected"] != expected {
		t.Errorf("xss-reflected = %d, want %d", stats.ModuleCounts["xss-reflected"], expected)
	}
}
