package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNearestRank(t *testing.T) {
	sorted := []int64{10, 20, 30, 40}
	assert.Equal(t, int64(20), NearestRank(sorted, 0.25))
	assert.Equal(t, int64(30), NearestRank(sorted, 0.5))
	assert.Equal(t, int64(40), NearestRank(sorted, 0.75))
	assert.Equal(t, int64(10), NearestRank(sorted, 0))
	assert.Equal(t, int64(40), NearestRank(sorted, 1))
}

func TestNearestRankSingle(t *testing.T) {
	assert.Equal(t, 7, NearestRank([]int{7}, 0.75))
}

func TestSortedCopy(t *testing.T) {
	in := []int{3, 1, 2}
	out := SortedCopy(in)
	assert.Equal(t, []int{1, 2, 3}, out)
	assert.Equal(t, []int{3, 1, 2}, in)
}

func TestSlicesMedianOf(t *testing.T) {
	assert.Equal(t, 2.5, SlicesMedianOf([]float64{4, 1, 3, 2}, identity))
	assert.Equal(t, 3.0, SlicesMedianOf([]float64{5, 1, 3}, identity))
}

func TestDistMetricStatsFrom(t *testing.T) {
	m := DistMetricStatsFrom([]int{4, 2, 6}, func(v int) float64 { return float64(v) })
	assert.Equal(t, 12.0, m.Sum)
	assert.Equal(t, 2.0, m.Min)
	assert.Equal(t, 6.0, m.Max)
	assert.Equal(t, 4.0, m.Avg)
	assert.Equal(t, 4.0, m.Median)
	assert.Equal(t, 2.0, m.Stddev)

	assert.Equal(t, 3.0, DistMetricStatsFrom([]int{4, 2}, func(v int) float64 { return float64(v) }).Median)
	assert.Equal(t, DistMetrics{}, DistMetricStatsFrom([]int{}, func(v int) float64 { return 0 }))
}

func TestExpBuckets(t *testing.T) {
	assert.Equal(t, []float64{1, 2, 4, 8}, ExpBuckets(1, 2, 10))
}
