package as2

import (
	"github.com/prometheus/client_golang/prometheus"

	"txbench/api/benchdriverapi"
	"txbench/internal/worker"
	"txbench/pkg/bench"
	"txbench/pkg/stats"
)

// TxnMetrics is updated for every executed transaction, including the
// warm-up period.
type TxnMetrics struct {
	Txns    *prometheus.CounterVec
	Latency *prometheus.HistogramVec
}

func (m *TxnMetrics) Register(r prometheus.Registerer) {
	m.Txns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "as2_txn_total",
		Help: "Executed AS2 transactions",
	}, []string{"type", "outcome"})
	r.MustRegister(m.Txns)

	m.Latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "as2_txn_latency_seconds",
		Help:    "Response time of committed AS2 transactions",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
	}, []string{"type"})
	r.MustRegister(m.Latency)
}

func (m *TxnMetrics) Observe(res bench.TxnResult) {
	outcome := "aborted"
	if res.Committed {
		outcome = "committed"
		m.Latency.WithLabelValues(string(res.Type)).Observe(res.ResponseTime.Seconds())
	}
	m.Txns.WithLabelValues(string(res.Type), outcome).Inc()
}

type AS2LiveStats struct {
	OpCommitted *prometheus.GaugeVec
	OpAborted   *prometheus.GaugeVec
	OpAvg       *prometheus.GaugeVec
	OpMedian    *prometheus.GaugeVec
	OpP99       *prometheus.GaugeVec
	OpMax       *prometheus.GaugeVec
}

func (m *AS2LiveStats) Register(r prometheus.Registerer) {
	opLabels := []string{"op"}
	name := func(n string) string { return "as2_live_" + n }

	m.OpCommitted = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: name("op_committed"),
		Help: "Committed transactions of the active run",
	}, opLabels)
	r.MustRegister(m.OpCommitted)

	m.OpAborted = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: name("op_aborted"),
		Help: "Aborted transactions of the active run",
	}, opLabels)
	r.MustRegister(m.OpAborted)

	m.OpAvg = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: name("op_avg_ms"),
		Help: "Average latency of the active run",
	}, opLabels)
	r.MustRegister(m.OpAvg)

	m.OpMedian = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: name("op_median_ms"),
		Help: "Median latency of the active run",
	}, opLabels)
	r.MustRegister(m.OpMedian)

	m.OpP99 = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: name("op_p99_ms"),
		Help: "99th percentile latency of the active run",
	}, opLabels)
	r.MustRegister(m.OpP99)

	m.OpMax = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: name("op_max_ms"),
		Help: "Maximum latency of the active run",
	}, opLabels)
	r.MustRegister(m.OpMax)
}

func (m *AS2LiveStats) Observe(stats []benchdriverapi.OpStats) {
	for _, op := range stats {
		m.OpCommitted.WithLabelValues(op.Operation).Set(float64(op.Count))
		m.OpAborted.WithLabelValues(op.Operation).Set(float64(op.Aborted))
		m.OpAvg.WithLabelValues(op.Operation).Set(op.Avg)
		m.OpMedian.WithLabelValues(op.Operation).Set(op.Median)
		m.OpP99.WithLabelValues(op.Operation).Set(op.P99)
		m.OpMax.WithLabelValues(op.Operation).Set(op.Max)
	}
}

type AS2SummaryStats struct {
	Throughput   prometheus.Histogram
	AbortRate    prometheus.Histogram
	OpMetricsAvg *prometheus.HistogramVec
	OpMetricsMax *prometheus.HistogramVec
}

func (m *AS2SummaryStats) Register(r prometheus.Registerer) {
	name := func(n string) string { return "as2_summary_" + n }
	latencyBuckets := stats.ExpBuckets(1, 1.3, 60000)

	m.Throughput = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    name("throughput"),
		Help:    "Committed transactions per second of finished runs",
		Buckets: stats.ExpBuckets(1, 1.3, 1000000),
	})
	r.MustRegister(m.Throughput)

	m.AbortRate = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    name("abort_rate"),
		Help:    "Abort rate of finished runs in percent",
		Buckets: prometheus.LinearBuckets(0, 5, 100/5),
	})
	r.MustRegister(m.AbortRate)

	opLabels := []string{"op"}

	m.OpMetricsAvg = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    name("op_avg_ms"),
		Help:    "Average latency of finished runs",
		Buckets: latencyBuckets,
	}, opLabels)
	r.MustRegister(m.OpMetricsAvg)

	m.OpMetricsMax = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    name("op_max_ms"),
		Help:    "Maximum latency of finished runs",
		Buckets: latencyBuckets,
	}, opLabels)
	r.MustRegister(m.OpMetricsMax)
}

func (m *AS2SummaryStats) Observe(summary benchdriverapi.AS2RunStats) {
	if summary.Summary.Total == 0 {
		return
	}

	m.Throughput.Observe(summary.Summary.Throughput)
	m.AbortRate.Observe(float64(summary.Summary.AbortRate))
	for _, op := range summary.Stats {
		if op.Count == 0 {
			continue
		}
		m.OpMetricsAvg.WithLabelValues(op.Operation).Observe(op.Avg)
		m.OpMetricsMax.WithLabelValues(op.Operation).Observe(op.Max)
	}
}

type as2Metrics struct {
	Prepare worker.ManagementOps
	Cleanup worker.ManagementOps
	Run     runMetrics
}

func (m *as2Metrics) RegisterMetrics(r prometheus.Registerer) {
	m.Prepare.Register(r, "prepare", "as2_prepare_")
	m.Cleanup.Register(r, "cleanup", "as2_cleanup_")
	m.Run.Register(r)
}

type runMetrics struct {
	Txns         TxnMetrics
	LiveStats    AS2LiveStats
	SummaryStats AS2SummaryStats
}

func (m *runMetrics) Register(r prometheus.Registerer) {
	m.Txns.Register(r)
	m.LiveStats.Register(r)
	m.SummaryStats.Register(r)
}
