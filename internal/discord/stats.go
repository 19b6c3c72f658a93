package discord

import (
	"math"
	"slices"
	"sync"
	"time"
)

// ReplyStats collects reply latency samples and counters for the
// /persona status embed. Latencies live in a bounded ring buffer from which
// percentiles are computed on demand.
//
// Thread-safe for concurrent use.
type ReplyStats struct {
	mu sync.Mutex

	latency latencyBuffer

	replies   int64
	fallbacks int64
	errors    int64
}

// NewReplyStats creates a ReplyStats retaining at most windowSize latency
// samples. Non-positive sizes default to 100.
func NewReplyStats(windowSize int) *ReplyStats {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &ReplyStats{latency: newLatencyBuffer(windowSize)}
}

// Record counts one delivered reply that took d end to end.
func (rs *ReplyStats) Record(d time.Duration, fallback bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.latency.add(d)
	rs.replies++
	if fallback {
		rs.fallbacks++
	}
}

// IncrErrors counts a reply that could not be generated or sent.
func (rs *ReplyStats) IncrErrors() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.errors++
}

// LatencyPercentiles holds p50 and p95 reply latency.
type LatencyPercentiles struct {
	P50 time.Duration
	P95 time.Duration
}

// Snapshot is a point-in-time view of the statistics.
type Snapshot struct {
	Latency   LatencyPercentiles
	Replies   int64
	Fallbacks int64
	Errors    int64
}

// Snapshot returns a point-in-time view of the statistics.
func (rs *ReplyStats) Snapshot() Snapshot {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return Snapshot{
		Latency:   rs.latency.percentiles(),
		Replies:   rs.replies,
		Fallbacks: rs.fallbacks,
		Errors:    rs.errors,
	}
}

// latencyBuffer is a bounded ring buffer of duration samples.
type latencyBuffer struct {
	data []time.Duration
	pos  int
	full bool
}

func newLatencyBuffer(size int) latencyBuffer {
	return latencyBuffer{data: make([]time.Duration, size)}
}

func (lb *latencyBuffer) add(d time.Duration) {
	lb.data[lb.pos] = d
	lb.pos++
	if lb.pos == len(lb.data) {
		lb.pos = 0
		lb.full = true
	}
}

func (lb *latencyBuffer) percentiles() LatencyPercentiles {
	n := lb.pos
	if lb.full {
		n = len(lb.data)
	}
	if n == 0 {
		return LatencyPercentiles{}
	}
	sorted := slices.Clone(lb.data[:n])
	slices.Sort(sorted)
	return LatencyPercentiles{
		P50: percentile(sorted, 0.50),
		P95: percentile(sorted, 0.95),
	}
}

// percentile returns the nearest-rank value at p (0.0-1.0) of sorted.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}
