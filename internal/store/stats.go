package store

import (
	"sync/atomic"
)

// StatsCollector tracks operation counters for a store
type StatsCollector struct {
	totalReads   uint64
	totalWrites  uint64
	totalDeletes uint64
	flushes      uint64

	// Cached file stats (updated during open/flush/compaction)
	fileBytes int64
	deadBytes int64
}

// NewStatsCollector creates a new stats collector
func NewStatsCollector() *StatsCollector {
	return &StatsCollector{}
}

// IncrementReads atomically increments the read counter
func (s *StatsCollector) IncrementReads() {
	atomic.AddUint64(&s.totalReads, 1)
}

// IncrementWrites atomically increments the write counter
func (s *StatsCollector) IncrementWrites() {
	atomic.AddUint64(&s.totalWrites, 1)
}

// IncrementDeletes atomically increments the delete counter
func (s *StatsCollector) IncrementDeletes() {
	atomic.AddUint64(&s.totalDeletes, 1)
}

// IncrementFlushes atomically increments the flush counter
func (s *StatsCollector) IncrementFlushes() {
	atomic.AddUint64(&s.flushes, 1)
}

// SetFileStats updates the on-disk size and the bytes held by superseded records
func (s *StatsCollector) SetFileStats(fileBytes, deadBytes int64) {
	atomic.StoreInt64(&s.fileBytes, fileBytes)
	atomic.StoreInt64(&s.deadBytes, deadBytes)
}

// Stats returns the current counters. Frame and pending counts are filled
// in by the store.
func (s *StatsCollector) Stats() Stats {
	return Stats{
		TotalReads:   atomic.LoadUint64(&s.totalReads),
		TotalWrites:  atomic.LoadUint64(&s.totalWrites),
		TotalDeletes: atomic.LoadUint64(&s.totalDeletes),
		Flushes:      atomic.LoadUint64(&s.flushes),
		FileBytes:    atomic.LoadInt64(&s.fileBytes),
		DeadBytes:    atomic.LoadInt64(&s.deadBytes),
	}
}
