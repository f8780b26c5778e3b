package execution

import (
	"sort"
	"sync"
	"time"
)

// LatencyStats summarizes recent delay samples, in milliseconds.
type LatencyStats struct {
	Count int
	P50   float64
	P95   float64
	P99   float64
	Min   float64
	Max   float64
	Mean  float64
}

// PercentileTracker keeps a bounded ring of recent latency samples and
// reports order statistics on demand.
type PercentileTracker struct {
	mu       sync.Mutex
	samples  []float64
	next     int
	filled   bool
	capacity int
}

// NewPercentileTracker creates a tracker retaining up to capacity samples.
func NewPercentileTracker(capacity int) *PercentileTracker {
	if capacity < 1 {
		capacity = 1
	}
	return &PercentileTracker{
		samples:  make([]float64, capacity),
		capacity: capacity,
	}
}

// Record adds one delay sample, evicting the oldest when full.
func (t *PercentileTracker) Record(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples[t.next] = float64(d) / float64(time.Millisecond)
	t.next++
	if t.next == t.capacity {
		t.next = 0
		t.filled = true
	}
}

// Stats computes percentiles over the retained window. Zero-valued when no
// samples have been recorded.
func (t *PercentileTracker) Stats() LatencyStats {
	t.mu.Lock()
	n := t.next
	if t.filled {
		n = t.capacity
	}
	window := make([]float64, n)
	copy(window, t.samples[:n])
	t.mu.Unlock()

	if n == 0 {
		return LatencyStats{}
	}

	sort.Float64s(window)

	sum := 0.0
	for _, v := range window {
		sum += v
	}

	return LatencyStats{
		Count: n,
		P50:   percentile(window, 50),
		P95:   percentile(window, 95),
		P99:   percentile(window, 99),
		Min:   window[0],
		Max:   window[n-1],
		Mean:  sum / float64(n),
	}
}

// percentile uses the nearest-rank method on a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	rank := int(p/100*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
