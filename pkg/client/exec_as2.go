package client

import (
	"context"

	"txbench/api/benchdriverapi"
	"txbench/pkg/stats"
)

// AS2Report aggregates the results of all workers of an AS2 run.
type AS2Report struct {
	Runners    []benchdriverapi.AS2RunStats
	Committed  int
	Aborted    int
	Throughput stats.DistMetrics
	AvgLatency stats.DistMetrics
	AbortRate  stats.DistMetrics
}

type BenchmarkAS2Instance BenchmarkInstance

func (inst *BenchmarkInstance) AS2() *BenchmarkAS2Instance {
	return (*BenchmarkAS2Instance)(inst)
}

func (as2 *BenchmarkAS2Instance) access() *BenchmarkInstance {
	return (*BenchmarkInstance)(as2)
}

func (as2 *BenchmarkAS2Instance) Result(ctx context.Context, wait bool, allowErr bool) (report AS2Report, err error) {
	type as2Collector = runResultCollector[benchdriverapi.AS2WorkerStatus]

	inst := as2.access()
	collector := as2Collector{
		client:   inst.parent,
		path:     []string{"status"},
		Validate: ValidateStatus[benchdriverapi.AS2RunStats](benchdriverapi.TaskAS2Run, allowErr),
	}
	status, err := collector.Collect(ctx, inst.EachURL(), wait)
	if err != nil {
		return report, err
	}
	return NewAS2Report(benchdriverapi.CollectValues(status)), nil
}

func NewAS2Report(results []benchdriverapi.AS2RunStats) AS2Report {
	report := AS2Report{
		Runners:    results,
		Throughput: stats.DistMetricStatsFrom(results, func(r benchdriverapi.AS2RunStats) float64 { return r.Summary.Throughput }),
		AvgLatency: stats.DistMetricStatsFrom(results, func(r benchdriverapi.AS2RunStats) float64 { return r.Summary.AvgLatencyMs }),
		AbortRate:  stats.DistMetricStatsFrom(results, func(r benchdriverapi.AS2RunStats) float64 { return float64(r.Summary.AbortRate) }),
	}
	for _, r := range results {
		report.Committed += r.Summary.Committed
		report.Aborted += r.Summary.Aborted
	}
	return report
}
