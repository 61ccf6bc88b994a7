package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregatorRecord(t *testing.T) {
	t.Run("single sample", func(t *testing.T) {
		agg := NewAggregator()
		agg.Record(OpArchive, 100*time.Millisecond, true)

		stats := agg.Snapshot()
		assert.Equal(t, int64(1), stats.Count)
		assert.Equal(t, int64(1), stats.Success)
		require.Contains(t, stats.Operations, OpArchive)
		assert.Equal(t, float32(1), stats.Operations[OpArchive].SuccessRate)
		assert.Equal(t, 100*time.Millisecond, stats.Operations[OpArchive].AvgLatency)
	})

	t.Run("operations are separate", func(t *testing.T) {
		agg := NewAggregator()
		agg.Record(OpRetrieve, 50*time.Millisecond, true)
		agg.Record(OpRetrieve, 150*time.Millisecond, true)
		agg.Record(OpRetrieve, 200*time.Millisecond, false)
		agg.Record(OpCompress, 10*time.Millisecond, true)

		stats := agg.Snapshot()
		assert.Equal(t, int64(4), stats.Count)
		assert.Equal(t, int64(3), stats.Success)

		retrieve := stats.Operations[OpRetrieve]
		require.NotNil(t, retrieve)
		assert.Equal(t, int64(3), retrieve.Count)
		assert.InDelta(t, 0.666, retrieve.SuccessRate, 0.01)
		assert.Equal(t, int64(1), stats.Operations[OpCompress].Count)
	})

	t.Run("empty", func(t *testing.T) {
		stats := NewAggregator().Snapshot()
		assert.Zero(t, stats.Count)
		assert.Zero(t, stats.LatencyP95)
		assert.Empty(t, stats.Operations)
	})
}

func TestAggregatorPercentiles(t *testing.T) {
	agg := NewAggregator()
	for i := 1; i <= 100; i++ {
		agg.Record(OpArchive, time.Duration(i)*time.Millisecond, true)
	}

	stats := agg.Snapshot()
	assert.Equal(t, 50*time.Millisecond, stats.LatencyP50)
	assert.Equal(t, 95*time.Millisecond, stats.LatencyP95)
}

func TestAggregatorPrune(t *testing.T) {
	agg := NewAggregator()
	base := time.Date(2026, 6, 1, 10, 30, 0, 0, time.UTC)

	agg.now = func() time.Time { return base.Add(-3 * time.Hour) }
	agg.Record(OpArchive, time.Millisecond, true)
	agg.now = func() time.Time { return base }
	agg.Record(OpArchive, time.Millisecond, true)
	agg.Record(OpRetrieve, time.Millisecond, false)

	assert.Equal(t, 1, agg.Prune(base.Add(-time.Hour)))

	stats := agg.Snapshot()
	assert.Equal(t, int64(2), stats.Count)
	assert.Equal(t, int64(1), stats.Operations[OpArchive].Count)
}

func TestAggregatorConcurrent(t *testing.T) {
	agg := NewAggregator()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			agg.Record(OpRetrieve, time.Millisecond, true)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), agg.Snapshot().Count)
}
