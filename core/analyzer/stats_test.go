package analyzer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatisticsAggregates(t *testing.T) {
	stats := NewStatistics(5, nil)
	stats.Observe(Sample{Object: "task", Operation: "query", Duration: 10 * time.Millisecond, Rows: 4})
	stats.Observe(Sample{Object: "task", Operation: "query", Duration: 30 * time.Millisecond, Rows: 9})
	stats.Observe(Sample{Object: "task", Operation: "command", Duration: 20 * time.Millisecond, Failed: true})
	stats.Observe(Sample{Object: "invoice", Operation: "query", Duration: 5 * time.Millisecond})

	snap := stats.Snapshot()
	require.Len(t, snap.Objects, 2)
	assert.Equal(t, "invoice", snap.Objects[0].Object)
	assert.False(t, snap.Since.IsZero())

	task := snap.Objects[1]
	assert.Equal(t, "task", task.Object)
	assert.Equal(t, uint64(3), task.Executions)
	assert.Equal(t, uint64(1), task.Errors)
	assert.InDelta(t, 20.0, task.AvgLatencyMs, 1e-9)
	assert.InDelta(t, 30.0, task.MaxLatencyMs, 1e-9)
}

func TestStatisticsSlowQueryListBounded(t *testing.T) {
	stats := NewStatistics(3, nil)
	for _, d := range []time.Duration{10, 50, 30, 20, 40} {
		stats.Observe(Sample{
			Object:    "task",
			Operation: "query",
			Shape:     "8d3f",
			Duration:  d * time.Millisecond,
		})
	}

	snap := stats.Snapshot()
	require.Len(t, snap.Slowest, 3)
	assert.InDelta(t, 50.0, snap.Slowest[0].DurationMs, 1e-9)
	assert.InDelta(t, 40.0, snap.Slowest[1].DurationMs, 1e-9)
	assert.InDelta(t, 30.0, snap.Slowest[2].DurationMs, 1e-9)
	assert.Equal(t, "task", snap.Slowest[0].Object)
	assert.Equal(t, "8d3f", snap.Slowest[0].Shape)
	assert.False(t, snap.Slowest[0].At.IsZero(), "observe fills a missing timestamp")
}

func TestStatisticsDefaultSlowLimit(t *testing.T) {
	stats := NewStatistics(0, nil)
	for i := 0; i < DefaultSlowQueryLimit+5; i++ {
		stats.Observe(Sample{Object: "task", Duration: time.Duration(i+1) * time.Millisecond})
	}

	snap := stats.Snapshot()
	require.Len(t, snap.Slowest, DefaultSlowQueryLimit)
	assert.InDelta(t, float64(DefaultSlowQueryLimit+5), snap.Slowest[0].DurationMs, 1e-9)
}

func TestStatisticsFailedExecutionsRank(t *testing.T) {
	stats := NewStatistics(2, nil)
	stats.Observe(Sample{Object: "task", Operation: "query", Duration: 5 * time.Millisecond})
	stats.Observe(Sample{Object: "task", Operation: "query", Duration: 50 * time.Millisecond, Failed: true, Correlation: "c-1"})

	snap := stats.Snapshot()
	require.Len(t, snap.Slowest, 2)
	assert.True(t, snap.Slowest[0].Failed)
	assert.Equal(t, "c-1", snap.Slowest[0].Correlation)
}

func TestStatisticsReset(t *testing.T) {
	stats := NewStatistics(3, nil)
	stats.Observe(Sample{Object: "task", Duration: time.Millisecond})

	stats.Reset()
	snap := stats.Snapshot()
	assert.Empty(t, snap.Objects)
	assert.Empty(t, snap.Slowest)
}

func TestStatisticsConcurrentObserve(t *testing.T) {
	stats := NewStatistics(4, nil)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				stats.Observe(Sample{
					Object:    "task",
					Operation: "query",
					Duration:  time.Duration(g*50+i+1) * time.Microsecond,
				})
			}
		}(g)
	}
	wg.Wait()

	snap := stats.Snapshot()
	require.Len(t, snap.Objects, 1)
	assert.Equal(t, uint64(400), snap.Objects[0].Executions)
	assert.Len(t, snap.Slowest, 4)
}
