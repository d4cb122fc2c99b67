package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleReport = `{
  "Runners": [
    {
      "run_id": "a",
      "summary": {"total": 10, "committed": 8, "aborted": 2, "abort_rate": "20.00%", "avg_latency_ms": 10, "throughput": 100},
      "stats": [{"operation": "READ_ITEM", "count": 8, "aborted": 2, "sum_ms": 80, "avg_ms": 10, "median_ms": 9, "p99_ms": 30, "max_ms": 31}],
      "series": []
    },
    {
      "run_id": "b",
      "summary": {"total": 30, "committed": 24, "aborted": 6, "abort_rate": "20.00%", "avg_latency_ms": 20, "throughput": 200},
      "stats": [{"operation": "READ_ITEM", "count": 24, "aborted": 6, "sum_ms": 480, "avg_ms": 20, "median_ms": 18, "p99_ms": 45, "max_ms": 50}],
      "series": []
    }
  ],
  "Committed": 32,
  "Aborted": 8
}`

func TestFileSummary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleReport), 0o644))

	summary, err := fileSummary(path)
	require.NoError(t, err)
	assert.Equal(t, path, summary.File)
	assert.Equal(t, 2, summary.Runners)
	assert.Equal(t, 32, summary.Committed)
	assert.Equal(t, 8, summary.Aborted)
	assert.InDelta(t, 20.0, summary.AbortRate, 1e-9)
	assert.InDelta(t, 300.0, summary.Throughput, 1e-9)
	assert.InDelta(t, 17.5, summary.AvgLatencyMs, 1e-9)
	assert.InDelta(t, 45.0, summary.MaxP99Ms, 1e-9)
}

func TestFileSummaryErrors(t *testing.T) {
	_, err := fileSummary(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err = fileSummary(path)
	require.Error(t, err)
}

func TestSummarizeEmpty(t *testing.T) {
	summary := summarize(Document{})
	assert.Zero(t, summary.AvgLatencyMs)
	assert.Zero(t, summary.AbortRate)
}

func TestPrintSummaries(t *testing.T) {
	summaries := []RunSummary{
		{File: "a.json", Runners: 1, Committed: 10, Throughput: 100, AvgLatencyMs: 5},
		{File: "b.json", Runners: 1, Committed: 20, Throughput: 300, AvgLatencyMs: 15},
	}

	final := combinedStats(summaries)
	assert.InDelta(t, 200.0, final.Throughput.Avg, 1e-9)
	assert.InDelta(t, 10.0, final.AvgLatencyMs.Avg, 1e-9)

	var buf bytes.Buffer
	printSummaries(&buf, summaries)
	out := buf.String()
	assert.Contains(t, out, "a.json")
	assert.Contains(t, out, "b.json")
	assert.Contains(t, out, "Averages")
	assert.Contains(t, out, "200.00")
}
