package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"

	"txbench/api/benchdriverapi"
	"txbench/pkg/stats"
)

// Document is the output of `txbench exec results`.
type Document struct {
	Runners []benchdriverapi.AS2RunStats `json:"Runners"`
}

type RunSummary struct {
	File         string
	Runners      int
	Committed    int
	Aborted      int
	AbortRate    float64
	Throughput   float64
	AvgLatencyMs float64
	MaxP99Ms     float64
}

type FinalStats struct {
	Throughput   stats.DistMetrics `json:"throughput"`
	AbortRate    stats.DistMetrics `json:"abort_rate"`
	AvgLatencyMs stats.DistMetrics `json:"avg_latency_ms"`
	MaxP99Ms     stats.DistMetrics `json:"max_p99_ms"`
}

func main() {
	flag.Parse()
	if flag.NArg() < 1 {
		log.Fatal("At least one filename is required as a positional argument.")
	}

	var summaries []RunSummary
	for _, filename := range flag.Args() {
		summary, err := fileSummary(filename)
		if err != nil {
			log.Fatalf("Failed to get file summary for %s: %v", filename, err)
		}
		summaries = append(summaries, summary)
	}

	printSummaries(os.Stdout, summaries)
}

func fileSummary(filename string) (RunSummary, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return RunSummary{}, fmt.Errorf("read file: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return RunSummary{}, fmt.Errorf("unmarshal JSON: %w", err)
	}
	summary := summarize(doc)
	summary.File = filename
	return summary, nil
}

// summarize merges the per worker results of one run. Latencies are
// weighted by the committed count of each worker.
func summarize(doc Document) RunSummary {
	summary := RunSummary{Runners: len(doc.Runners)}

	var latencySum float64
	for _, runner := range doc.Runners {
		summary.Committed += runner.Summary.Committed
		summary.Aborted += runner.Summary.Aborted
		summary.Throughput += runner.Summary.Throughput
		latencySum += runner.Summary.AvgLatencyMs * float64(runner.Summary.Committed)
		for _, op := range runner.Stats {
			summary.MaxP99Ms = max(summary.MaxP99Ms, op.P99)
		}
	}

	if summary.Committed > 0 {
		summary.AvgLatencyMs = latencySum / float64(summary.Committed)
	}
	if total := summary.Committed + summary.Aborted; total > 0 {
		summary.AbortRate = 100 * float64(summary.Aborted) / float64(total)
	}
	return summary
}

func combinedStats(summaries []RunSummary) FinalStats {
	return FinalStats{
		Throughput:   stats.DistMetricStatsFrom(summaries, func(s RunSummary) float64 { return s.Throughput }),
		AbortRate:    stats.DistMetricStatsFrom(summaries, func(s RunSummary) float64 { return s.AbortRate }),
		AvgLatencyMs: stats.DistMetricStatsFrom(summaries, func(s RunSummary) float64 { return s.AvgLatencyMs }),
		MaxP99Ms:     stats.DistMetricStatsFrom(summaries, func(s RunSummary) float64 { return s.MaxP99Ms }),
	}
}

const (
	rowFormat  = "%-30s %-8d %-12d %-10d %-12.2f %-12.2f %-12.2f %-12.2f\n"
	headFormat = "%-30s %-8s %-12s %-10s %-12s %-12s %-12s %-12s\n"
	distFormat = "%-30s %-8s %-12s %-10s %-12.2f %-12.2f %-12.2f %-12.2f\n"
)

func printSummaries(w io.Writer, summaries []RunSummary) {
	fmt.Fprintln(w, "Summary Table:")
	fmt.Fprintf(w, headFormat, "file", "workers", "committed", "aborted", "abort %", "tx/s", "avg ms", "max p99 ms")
	for _, s := range summaries {
		fmt.Fprintf(w, rowFormat, s.File, s.Runners, s.Committed, s.Aborted, s.AbortRate, s.Throughput, s.AvgLatencyMs, s.MaxP99Ms)
	}

	final := combinedStats(summaries)
	fmt.Fprintln(w)
	fmt.Fprintf(w, distFormat, "Averages", "", "", "", final.AbortRate.Avg, final.Throughput.Avg, final.AvgLatencyMs.Avg, final.MaxP99Ms.Avg)
	fmt.Fprintf(w, distFormat, "Medians", "", "", "", final.AbortRate.Median, final.Throughput.Median, final.AvgLatencyMs.Median, final.MaxP99Ms.Median)
	fmt.Fprintf(w, distFormat, "Stddev", "", "", "", final.AbortRate.Stddev, final.Throughput.Stddev, final.AvgLatencyMs.Stddev, final.MaxP99Ms.Stddev)
}
