package compcache

import "sync/atomic"

// Stats tracks orchestrator counters. All fields are updated
// atomically; Snapshot returns a consistent-enough copy for reporting.
type Stats struct {
	CompileRequests atomic.Int64
	CacheHits       atomic.Int64
	CacheMisses     atomic.Int64
	Uncacheable     atomic.Int64
	ForcedRecaches  atomic.Int64
	CompileFailures atomic.Int64
	CacheWriteSkips atomic.Int64
	CacheErrors     atomic.Int64
}

// StatsSnapshot is a plain-value copy of Stats, safe to serialize.
type StatsSnapshot struct {
	CompileRequests int64 `json:"compile_requests"`
	CacheHits       int64 `json:"cache_hits"`
	CacheMisses     int64 `json:"cache_misses"`
	Uncacheable     int64 `json:"uncacheable"`
	ForcedRecaches  int64 `json:"forced_recaches"`
	CompileFailures int64 `json:"compile_failures"`
	CacheWriteSkips int64 `json:"cache_write_skips"`
	CacheErrors     int64 `json:"cache_errors"`
}

// Snapshot copies the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		CompileRequests: s.CompileRequests.Load(),
		CacheHits:       s.CacheHits.Load(),
		CacheMisses:     s.CacheMisses.Load(),
		Uncacheable:     s.Uncacheable.Load(),
		ForcedRecaches:  s.ForcedRecaches.Load(),
		CompileFailures: s.CompileFailures.Load(),
		CacheWriteSkips: s.CacheWriteSkips.Load(),
		CacheErrors:     s.CacheErrors.Load(),
	}
}

// Zero resets all counters.
func (s *Stats) Zero() {
	s.CompileRequests.Store(0)
	s.CacheHits.Store(0)
	s.CacheMisses.Store(0)
	s.Uncacheable.Store(0)
	s.ForcedRecaches.Store(0)
	s.CompileFailures.Store(0)
	s.CacheWriteSkips.Store(0)
	s.CacheErrors.Store(0)
}
