package lshkv

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordIndex is called after each Index or Ingest call.
	// indexed and skipped are vector counts; err is nil if successful.
	RecordIndex(indexed, skipped int, duration time.Duration, err error)

	// RecordQuery is called after each query.
	// candidates is the stage-1 count, dropped the number of unfetchable candidates.
	RecordQuery(candidates, results, dropped int, duration time.Duration, err error)

	// RecordDelete is called after each delete of a single id.
	RecordDelete(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordIndex(int, int, time.Duration, error)      {}
func (NoopMetricsCollector) RecordQuery(int, int, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordDelete(time.Duration, error)               {}

// BasicMetricsCollector provides simple in-memory metrics collection.
type BasicMetricsCollector struct {
	IndexCalls      atomic.Int64
	IndexErrors     atomic.Int64
	IndexedVectors  atomic.Int64
	SkippedVectors  atomic.Int64
	QueryCount      atomic.Int64
	QueryErrors     atomic.Int64
	QueryTotalNanos atomic.Int64
	QueryCandidates atomic.Int64
	QueryDropped    atomic.Int64
	DeleteCount     atomic.Int64
	DeleteErrors    atomic.Int64
}

// RecordIndex implements MetricsCollector.
func (b *BasicMetricsCollector) RecordIndex(indexed, skipped int, _ time.Duration, err error) {
	b.IndexCalls.Add(1)
	b.IndexedVectors.Add(int64(indexed))
	b.SkippedVectors.Add(int64(skipped))
	if err != nil {
		b.IndexErrors.Add(1)
	}
}

// RecordQuery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQuery(candidates, _, dropped int, duration time.Duration, err error) {
	b.QueryCount.Add(1)
	b.QueryTotalNanos.Add(duration.Nanoseconds())
	b.QueryCandidates.Add(int64(candidates))
	b.QueryDropped.Add(int64(dropped))
	if err != nil {
		b.QueryErrors.Add(1)
	}
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(_ time.Duration, err error) {
	b.DeleteCount.Add(1)
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	s := BasicMetricsStats{
		IndexCalls:      b.IndexCalls.Load(),
		IndexErrors:     b.IndexErrors.Load(),
		IndexedVectors:  b.IndexedVectors.Load(),
		SkippedVectors:  b.SkippedVectors.Load(),
		QueryCount:      b.QueryCount.Load(),
		QueryErrors:     b.QueryErrors.Load(),
		QueryCandidates: b.QueryCandidates.Load(),
		QueryDropped:    b.QueryDropped.Load(),
		DeleteCount:     b.DeleteCount.Load(),
		DeleteErrors:    b.DeleteErrors.Load(),
	}
	if s.QueryCount > 0 {
		s.QueryAvgNanos = b.QueryTotalNanos.Load() / s.QueryCount
	}
	return s
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	IndexCalls      int64
	IndexErrors     int64
	IndexedVectors  int64
	SkippedVectors  int64
	QueryCount      int64
	QueryErrors     int64
	QueryAvgNanos   int64
	QueryCandidates int64
	QueryDropped    int64
	DeleteCount     int64
	DeleteErrors    int64
}
