package statmgr

import (
	"maps"
	"slices"
	"time"

	"txbench/pkg/bench"
	"txbench/pkg/stats"
)

type Report struct {
	RecordStart    int64         `json:"record_start_ns"`
	HasRecordStart bool          `json:"has_record_start"`
	BucketWidth    time.Duration `json:"bucket_width_ns"`

	Total        int     `json:"total"`
	Committed    int     `json:"committed"`
	Aborted      int     `json:"aborted"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`

	Types   []TypeSummary `json:"types"`
	Buckets []Bucket      `json:"buckets"`

	// Details has one entry per result in ingestion order.
	Details []Detail `json:"-"`
}

type TypeSummary struct {
	Type         bench.TxnType `json:"type"`
	Committed    int           `json:"committed"`
	Aborted      int           `json:"aborted"`
	TotalLatency time.Duration `json:"total_latency_ns"`
	AvgLatencyMs float64       `json:"avg_latency_ms"`
}

type Detail struct {
	Type      bench.TxnType
	Committed bool
	LatencyMs int64
}

type Bucket struct {
	Index      int64   `json:"index"`
	StartSec   int64   `json:"start_sec"`
	Throughput int     `json:"throughput"`
	Aborted    int     `json:"aborted"`
	AvgMs      float64 `json:"avg_ms"`
	MinMs      int64   `json:"min_ms"`
	MaxMs      int64   `json:"max_ms"`
	P25Ms      int64   `json:"p25_ms"`
	P50Ms      int64   `json:"p50_ms"`
	P75Ms      int64   `json:"p75_ms"`
}

// Type returns the summary of the given transaction type.
func (r Report) Type(t bench.TxnType) (TypeSummary, bool) {
	for _, s := range r.Types {
		if s.Type == t {
			return s, true
		}
	}
	return TypeSummary{}, false
}

type bucketAcc struct {
	latencies []time.Duration
	aborted   int
}

func buildReport(
	reg *bench.Registry,
	results []bench.TxnResult,
	start int64,
	started bool,
	width time.Duration,
) Report {
	if width <= 0 {
		width = DefaultBucketWidth
	}

	types := make([]TypeSummary, reg.Len())
	for i, t := range reg.Types() {
		types[i].Type = t
	}

	report := Report{
		RecordStart:    start,
		HasRecordStart: started,
		BucketWidth:    width,
		Total:          len(results),
		Details:        make([]Detail, len(results)),
	}

	var committedSum time.Duration
	buckets := map[int64]*bucketAcc{}
	for i, res := range results {
		report.Details[i] = Detail{
			Type:      res.Type,
			Committed: res.Committed,
			LatencyMs: res.ResponseTime.Milliseconds(),
		}

		idx, ok := reg.Index(res.Type)
		if !ok {
			continue
		}

		bi := bucketIndex(res.EndTime, start, width)
		b := buckets[bi]
		if b == nil {
			b = &bucketAcc{}
			buckets[bi] = b
		}

		if res.Committed {
			types[idx].Committed++
			types[idx].TotalLatency += res.ResponseTime
			report.Committed++
			committedSum += res.ResponseTime
			b.latencies = append(b.latencies, res.ResponseTime)
		} else {
			types[idx].Aborted++
			report.Aborted++
			b.aborted++
		}
	}

	for i := range types {
		types[i].AvgLatencyMs = avgMs(types[i].TotalLatency, types[i].Committed)
	}
	report.Types = types
	report.AvgLatencyMs = avgMs(committedSum, report.Committed)
	report.Buckets = seriesOf(buckets, width)
	return report
}

func seriesOf(buckets map[int64]*bucketAcc, width time.Duration) []Bucket {
	series := make([]Bucket, 0, len(buckets))
	for _, idx := range slices.Sorted(maps.Keys(buckets)) {
		acc := buckets[idx]
		if len(acc.latencies) == 0 {
			continue
		}

		sorted := stats.SortedCopy(acc.latencies)
		var sum time.Duration
		for _, l := range sorted {
			sum += l
		}

		series = append(series, Bucket{
			Index:      idx,
			StartSec:   idx * int64(width) / int64(time.Second),
			Throughput: len(sorted),
			Aborted:    acc.aborted,
			AvgMs:      avgMs(sum, len(sorted)),
			MinMs:      sorted[0].Milliseconds(),
			MaxMs:      sorted[len(sorted)-1].Milliseconds(),
			P25Ms:      stats.NearestRank(sorted, 0.25).Milliseconds(),
			P50Ms:      stats.NearestRank(sorted, 0.50).Milliseconds(),
			P75Ms:      stats.NearestRank(sorted, 0.75).Milliseconds(),
		})
	}
	return series
}

// bucketIndex is floor((end - start) / width).
func bucketIndex(end, start int64, width time.Duration) int64 {
	diff := end - start
	w := int64(width)
	idx := diff / w
	if diff%w != 0 && diff < 0 {
		idx--
	}
	return idx
}

func avgMs(sum time.Duration, n int) float64 {
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n) / float64(time.Millisecond)
}
