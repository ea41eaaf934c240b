package session

import (
	"sync/atomic"
	"time"
)

// MetricsCollector receives the outcome of every store write attempt
type MetricsCollector interface {
	RecordSyncAttempt(op string, attempt int, success bool, duration time.Duration)
	RecordSyncExhausted(op string)
}

// NoOpMetricsCollector is used when no collector is configured
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordSyncAttempt(op string, attempt int, success bool, duration time.Duration) {}
func (NoOpMetricsCollector) RecordSyncExhausted(op string)                                                  {}

// SyncStats counts write attempts across all sessions of a process
type SyncStats struct {
	attempts  atomic.Int64
	failures  atomic.Int64
	retried   atomic.Int64
	exhausted atomic.Int64
	latency   atomic.Int64 // nanoseconds, summed over attempts
}

// SyncStatsSnapshot is a point-in-time copy of SyncStats
type SyncStatsSnapshot struct {
	Attempts      int64         `json:"attempts"`
	Failures      int64         `json:"failures"`
	Retried       int64         `json:"retried"`
	Exhausted     int64         `json:"exhausted"`
	MeanLatency   time.Duration `json:"-"`
	MeanLatencyMS float64       `json:"mean_latency_ms"`
}

func (s *SyncStats) RecordSyncAttempt(op string, attempt int, success bool, duration time.Duration) {
	s.attempts.Add(1)
	s.latency.Add(int64(duration))
	if !success {
		s.failures.Add(1)
	}
	if attempt > 1 {
		s.retried.Add(1)
	}
}

func (s *SyncStats) RecordSyncExhausted(op string) {
	s.exhausted.Add(1)
}

func (s *SyncStats) Snapshot() SyncStatsSnapshot {
	snap := SyncStatsSnapshot{
		Attempts:  s.attempts.Load(),
		Failures:  s.failures.Load(),
		Retried:   s.retried.Load(),
		Exhausted: s.exhausted.Load(),
	}
	if snap.Attempts > 0 {
		snap.MeanLatency = time.Duration(s.latency.Load() / snap.Attempts)
		snap.MeanLatencyMS = float64(snap.MeanLatency) / float64(time.Millisecond)
	}
	return snap
}
