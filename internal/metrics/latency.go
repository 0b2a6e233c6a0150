// Package metrics provides prometheus instruments and in-memory run statistics.
package metrics

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/gateway-fm/openbook-loadgen/pkg/types"
)

// StreamingLatencyStats provides streaming percentile calculation.
// Uses reservoir sampling for percentile estimation without storing all samples.
type StreamingLatencyStats struct {
	mu sync.RWMutex

	// Running totals over every sample.
	count int64
	sum   float64
	min   float64
	max   float64

	// Uniform sample for percentiles, kept with Algorithm R (Vitter):
	// the first reservoirSize samples fill it, then sample n replaces a
	// random slot with probability reservoirSize/n.
	reservoir     []float64
	reservoirSize int
	seen          int64

	// Histogram over bucketBounds; the last bucket is open ended.
	buckets      []int64
	bucketBounds []float64

	// xorshift64* state. Per instance so that two collectors never share
	// a generator across goroutines.
	randState uint64
}

const (
	// DefaultReservoirSize is the number of samples kept for percentile estimation.
	// A run confirms a few thousand transactions at most, so small runs keep
	// every sample and p99 is exact.
	DefaultReservoirSize = 2000

	// Solana confirmation latency bucket bounds in milliseconds
	bucket0 = 500.0
	bucket1 = 1000.0
	bucket2 = 2000.0
	bucket3 = 5000.0
)

var bucketLabels = []string{"0-500ms", "500ms-1s", "1-2s", "2-5s", "5s+"}

// NewStreamingLatencyStats creates a new streaming latency calculator.
func NewStreamingLatencyStats() *StreamingLatencyStats {
	return &StreamingLatencyStats{
		min:           math.MaxFloat64,
		reservoir:     make([]float64, 0, DefaultReservoirSize),
		reservoirSize: DefaultReservoirSize,
		buckets:       make([]int64, len(bucketLabels)),
		bucketBounds:  []float64{bucket0, bucket1, bucket2, bucket3},
		randState:     1,
	}
}

// Add records a latency sample in milliseconds. It is O(1) and safe for
// concurrent use.
func (s *StreamingLatencyStats) Add(latencyMs float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	s.sum += latencyMs
	s.seen++

	if latencyMs < s.min {
		s.min = latencyMs
	}
	if latencyMs > s.max {
		s.max = latencyMs
	}

	s.buckets[s.bucketIndex(latencyMs)]++

	if len(s.reservoir) < s.reservoirSize {
		s.reservoir = append(s.reservoir, latencyMs)
		return
	}
	// replace with probability reservoirSize/seen
	if j := s.fastRand() % uint64(s.seen); j < uint64(s.reservoirSize) {
		s.reservoir[j] = latencyMs
	}
}

// AddDuration records d as a millisecond sample.
func (s *StreamingLatencyStats) AddDuration(d time.Duration) {
	s.Add(float64(d) / float64(time.Millisecond))
}

func (s *StreamingLatencyStats) bucketIndex(latencyMs float64) int {
	for i, bound := range s.bucketBounds {
		if latencyMs < bound {
			return i
		}
	}
	return len(s.bucketBounds)
}

// fastRand is xorshift64* (Marsaglia shifts 12/25/27 with Vigna's
// multiplier). It only needs to be uniform enough for slot selection.
func (s *StreamingLatencyStats) fastRand() uint64 {
	s.randState ^= s.randState >> 12
	s.randState ^= s.randState << 25
	s.randState ^= s.randState >> 27
	return s.randState * 0x2545F4914F6CDD1D
}

// GetStats returns the current statistics, or nil when nothing was recorded.
// Percentiles come from a sorted copy of the reservoir, so the cost is
// O(r log r) in the reservoir size.
func (s *StreamingLatencyStats) GetStats() *types.LatencyStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.count == 0 {
		return nil
	}

	sorted := make([]float64, len(s.reservoir))
	copy(sorted, s.reservoir)
	sort.Float64s(sorted)

	stats := &types.LatencyStats{
		Count:   int(s.count),
		Min:     s.min,
		Max:     s.max,
		Avg:     s.sum / float64(s.count),
		P50:     percentile(sorted, 0.50),
		P90:     percentile(sorted, 0.90),
		P99:     percentile(sorted, 0.99),
		Buckets: make([]types.LatencyBucket, len(bucketLabels)),
	}
	for i, label := range bucketLabels {
		stats.Buckets[i] = types.LatencyBucket{Label: label, Count: int(s.buckets[i])}
	}
	return stats
}

// percentile linearly interpolates the p-th percentile of a sorted slice
// between its two nearest ranks.
func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}

	idx := p * float64(len(sorted)-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := idx - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}

// Reset clears all statistics.
func (s *StreamingLatencyStats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count = 0
	s.sum = 0
	s.min = math.MaxFloat64
	s.max = 0
	s.reservoir = s.reservoir[:0]
	s.seen = 0
	for i := range s.buckets {
		s.buckets[i] = 0
	}
}

// Count returns the number of samples recorded.
func (s *StreamingLatencyStats) Count() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}
