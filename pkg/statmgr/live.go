package statmgr

import (
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"txbench/pkg/bench"
)

const (
	liveMinLatency = int64(1)
	liveMaxLatency = int64(time.Hour / time.Microsecond)
	liveSigFigs    = 3
)

type LiveTypeStats struct {
	Type      bench.TxnType
	Committed int64
	Aborted   int64
	AvgMs     float64
	P50Ms     float64
	P99Ms     float64
	MaxMs     float64
}

// liveStats records committed latencies in microseconds. Guarded by the
// manager's lock.
type liveStats struct {
	types   []bench.TxnType
	hists   map[bench.TxnType]*hdrhistogram.Histogram
	aborted map[bench.TxnType]int64
}

func newLiveStats(reg *bench.Registry) *liveStats {
	s := &liveStats{
		types:   reg.Types(),
		hists:   make(map[bench.TxnType]*hdrhistogram.Histogram, reg.Len()),
		aborted: make(map[bench.TxnType]int64, reg.Len()),
	}
	for _, t := range s.types {
		s.hists[t] = hdrhistogram.New(liveMinLatency, liveMaxLatency, liveSigFigs)
	}
	return s
}

func (s *liveStats) record(res bench.TxnResult) {
	if !res.Committed {
		s.aborted[res.Type]++
		return
	}

	us := res.ResponseTime.Microseconds()
	if us < liveMinLatency {
		us = liveMinLatency
	}
	if us > liveMaxLatency {
		us = liveMaxLatency
	}
	_ = s.hists[res.Type].RecordValue(us)
}

func (s *liveStats) snapshot() []LiveTypeStats {
	out := make([]LiveTypeStats, 0, len(s.types))
	for _, t := range s.types {
		h := s.hists[t]
		st := LiveTypeStats{
			Type:      t,
			Committed: h.TotalCount(),
			Aborted:   s.aborted[t],
		}
		if st.Committed > 0 {
			st.AvgMs = h.Mean() / 1000
			st.P50Ms = float64(h.ValueAtQuantile(50)) / 1000
			st.P99Ms = float64(h.ValueAtQuantile(99)) / 1000
			st.MaxMs = float64(h.Max()) / 1000
		}
		out = append(out, st)
	}
	return out
}
