// Package statmgr collects transaction results from all terminals and turns
// them into summary and time series reports.
package statmgr

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"txbench/pkg/bench"
	"txbench/pkg/timeutil"
)

const DefaultBucketWidth = 5 * time.Second

type Option func(*Manager)

func WithClock(c timeutil.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

func WithBucketWidth(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.bucketWidth = d
		}
	}
}

// WithLiveStats keeps running latency histograms that can be queried while
// the benchmark is in progress.
func WithLiveStats() Option {
	return func(m *Manager) { m.live = newLiveStats(m.registry) }
}

// Manager is safe for concurrent use by any number of terminals.
type Manager struct {
	registry    *bench.Registry
	clock       timeutil.Clock
	bucketWidth time.Duration

	mu      sync.Mutex
	start   int64
	started bool
	results []bench.TxnResult

	live *liveStats
}

func NewManager(reg *bench.Registry, opts ...Option) *Manager {
	m := &Manager{
		registry:    reg,
		clock:       timeutil.SystemClock(),
		bucketWidth: DefaultBucketWidth,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Registry() *bench.Registry { return m.registry }
func (m *Manager) BucketWidth() time.Duration { return m.bucketWidth }

// SetRecordStartTime anchors the time series at the current clock reading.
// Only the first call, or the first ingested result, sets the anchor.
func (m *Manager) SetRecordStartTime() {
	now := m.clock.Nanotime()

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		m.start = now
		m.started = true
	}
}

// RecordStartTime returns the anchor of the time series and whether it is set.
func (m *Manager) RecordStartTime() (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.start, m.started
}

func (m *Manager) Ingest(res bench.TxnResult) error {
	if !m.registry.Contains(res.Type) {
		return fmt.Errorf("%w: %v", bench.ErrUnknownTxnType, res.Type)
	}
	if res.ResponseTime < 0 {
		res.ResponseTime = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		m.start = res.EndTime
		m.started = true
	}
	m.results = append(m.results, res)
	if m.live != nil {
		m.live.record(res)
	}
	return nil
}

// Count returns the number of ingested results.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.results)
}

// Results returns a copy of all ingested results in ingestion order.
func (m *Manager) Results() []bench.TxnResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.results)
}

// Live returns per type statistics of the results ingested so far. It returns
// nil if the manager was created without live statistics.
func (m *Manager) Live() []LiveTypeStats {
	if m.live == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live.snapshot()
}

// Finalize computes the report over all ingested results. It must only be
// called once all terminals stopped, results ingested afterwards are not
// part of the returned report.
func (m *Manager) Finalize() Report {
	m.mu.Lock()
	results := slices.Clone(m.results)
	start, started := m.start, m.started
	m.mu.Unlock()

	return buildReport(m.registry, results, start, started, m.bucketWidth)
}

// OutputReport finalizes the statistics and writes the report files. The
// report is returned even if writing fails.
func (m *Manager) OutputReport(w *Writer) (Report, Files, error) {
	report := m.Finalize()
	files, err := w.Write(report)
	return report, files, err
}
