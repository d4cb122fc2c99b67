package stats

import (
	"cmp"
	"iter"
	"math"
	"slices"
	"sort"
)

type DistMetrics struct {
	Sum    float64 `json:"sum"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Avg    float64 `json:"avg"`
	Median float64 `json:"median"`
	Stddev float64 `json:"stddev"`
}

func DistMetricStatsFrom[T any](it []T, fn func(T) float64) (stats DistMetrics) {
	values := make([]float64, len(it))
	for i := range it {
		values[i] = fn(it[i])
	}
	slices.Sort(values)

	if len(values) == 0 {
		return stats
	}

	return DistMetrics{
		Sum:    SlicesSum(values),
		Min:    values[0],
		Max:    values[len(values)-1],
		Avg:    SliceAverage(values),
		Median: SlicesMedianOf(values, identity),
		Stddev: SliceStddev(values),
	}
}

// NearestRank returns sorted[floor(p*n)], clamped to the last element.
// sorted must be in ascending order and non-empty.
func NearestRank[T any](sorted []T, p float64) T {
	idx := int(p * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

// SortedCopy returns an ascending copy of values.
func SortedCopy[T cmp.Ordered](values []T) []T {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	return sorted
}

func identity[T any](v T) T {
	return v
}

func SliceAverage(values []float64) float64 {
	return SlicesSum(values) / float64(len(values))
}

func SliceAverageFunc[T any](items []T, fn func(T) float64) float64 {
	return SlicesSumOfFunc(items, fn) / float64(len(items))
}

func SlicesMedianOf[T any](summaries []T, selector func(T) float64) float64 {
	values := make([]float64, len(summaries))
	for i, summary := range summaries {
		values[i] = selector(summary)
	}
	sort.Float64s(values)
	mid := len(values) / 2
	if len(values)%2 == 0 {
		return (values[mid-1] + values[mid]) / 2
	}
	return values[mid]
}

func SliceStddev(items []float64) float64 {
	return SliceStddevFunc(items, identity)
}

func SliceStddevFunc[T any](items []T, fn func(T) float64) float64 {
	if len(items) <= 1 {
		return 0
	}

	avg := SliceAverageFunc(items, fn)
	sum := SlicesSumOfFunc(items, func(item T) float64 {
		v := fn(item) - avg
		return v * v
	})
	return math.Sqrt(sum / float64(len(items)-1))
}

func SlicesSum(values []float64) float64 {
	return SumOfFunc(slices.Values(values), identity)
}

func SlicesSumOfFunc[T any](items []T, fn func(T) float64) float64 {
	return SumOfFunc(slices.Values(items), fn)
}

// SumOfFunc uses Kahan summation.
func SumOfFunc[T any](in iter.Seq[T], fn func(T) float64) float64 {
	sum := 0.0
	correction := 0.0

	for item := range in {
		y := fn(item) - correction
		t := sum + y
		correction = (t - sum) - y
		sum = t
	}

	return sum
}

func ExpBuckets(start float64, factor float64, max float64) []float64 {
	var buckets []float64
	current := start
	for current <= max {
		buckets = append(buckets, current)
		current *= factor
	}
	return buckets
}
