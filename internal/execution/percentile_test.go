package execution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPercentileTracker_Stats(t *testing.T) {
	tr := NewPercentileTracker(200)
	for i := 1; i <= 100; i++ {
		tr.Record(time.Duration(i) * time.Millisecond)
	}

	stats := tr.Stats()
	assert.Equal(t, 100, stats.Count)
	assert.InDelta(t, 50, stats.P50, 1)
	assert.InDelta(t, 95, stats.P95, 1)
	assert.InDelta(t, 99, stats.P99, 1)
	assert.Equal(t, 1.0, stats.Min)
	assert.Equal(t, 100.0, stats.Max)
	assert.InDelta(t, 50.5, stats.Mean, 0.001)
}

func TestPercentileTracker_BoundedWindow(t *testing.T) {
	tr := NewPercentileTracker(10)
	for i := 1; i <= 50; i++ {
		tr.Record(time.Duration(i) * time.Millisecond)
	}

	stats := tr.Stats()
	assert.Equal(t, 10, stats.Count)
	assert.Equal(t, 41.0, stats.Min, "old samples must be evicted")
	assert.Equal(t, 50.0, stats.Max)
}

func TestPercentileTracker_Empty(t *testing.T) {
	tr := NewPercentileTracker(10)
	assert.Equal(t, LatencyStats{}, tr.Stats())
}
