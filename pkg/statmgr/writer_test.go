package statmgr

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"txbench/pkg/timeutil"
)

var fixedNow = func() time.Time { return time.Date(2024, 3, 7, 9, 5, 2, 0, time.Local) }

func sampleReport(t *testing.T) Report {
	m := NewManager(testRegistry, WithClock(timeutil.NewManualClock(0)))
	m.SetRecordStartTime()
	require.NoError(t, m.Ingest(committed(txRead, 1*sec, 12*time.Millisecond)))
	require.NoError(t, m.Ingest(aborted(txUpdate, 2*sec, 40*time.Millisecond)))
	require.NoError(t, m.Ingest(committed(txUpdate, 3*sec, 8*time.Millisecond)))
	require.NoError(t, m.Ingest(committed(txRead, 7*sec, 20*time.Millisecond)))
	return m.Finalize()
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, sampleReport(t)))

	want := strings.Join([]string{
		"# of txns (including aborted) during benchmark period: 4",
		"READ_ITEM: 12 ms",
		"UPDATE_ITEM: ABORTED",
		"UPDATE_ITEM: 8 ms",
		"READ_ITEM: 20 ms",
		"",
		"READ_ITEM - committed: 2, aborted: 0, avg latency: 16.00 ms",
		"UPDATE_ITEM - committed: 1, aborted: 1, avg latency: 8.00 ms",
		"TOTAL - committed: 3, aborted: 1, avg latency: 13.33 ms",
		"",
	}, "\n")
	assert.Equal(t, want, buf.String())
}

func TestWriteSeries(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSeries(&buf, sampleReport(t)))

	want := strings.Join([]string{
		SeriesHeader,
		"0,2,10.00,8,12,8,12,12",
		"5,1,20.00,20,20,20,20,20",
		"# of txns (including aborted) during benchmark period: 4",
		"TOTAL - committed: 3, aborted: 1, avg latency: 13.33 ms",
		"",
	}, "\n")
	assert.Equal(t, want, buf.String())
}

func TestWriterFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	w := &Writer{Dir: dir, Label: "as2", Now: fixedNow}

	files, err := w.Write(sampleReport(t))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "20240307-090502-as2.txt"), files.Summary)
	assert.Equal(t, filepath.Join(dir, "20240307-090502-as2.csv"), files.Series)
	assert.Equal(t, filepath.Join(dir, "20240307-090502-as2.json"), files.JSON)

	summary, err := os.ReadFile(files.Summary)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(summary), "# of txns (including aborted) during benchmark period: 4\n"))

	series, err := os.ReadFile(files.Series)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(series), SeriesHeader+"\n"))

	data, err := os.ReadFile(files.JSON)
	require.NoError(t, err)
	var decoded Report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 4, decoded.Total)
	assert.Len(t, decoded.Buckets, 2)
	assert.Empty(t, decoded.Details)
}

func TestWriterNoLabelNoJSON(t *testing.T) {
	dir := t.TempDir()
	w := &Writer{Dir: dir, SkipJSON: true, Now: fixedNow}

	files, err := w.Write(sampleReport(t))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20240307-090502.txt"), files.Summary)
	assert.Equal(t, filepath.Join(dir, "20240307-090502.csv"), files.Series)
	assert.Empty(t, files.JSON)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestOutputReportWriteFailureKeepsReport(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	m := NewManager(testRegistry)
	require.NoError(t, m.Ingest(committed(txRead, 1, time.Millisecond)))

	report, _, err := m.OutputReport(&Writer{Dir: blocker, Now: fixedNow})
	require.Error(t, err)
	assert.Equal(t, 1, report.Total)
	assert.Equal(t, 1, m.Count())

	// the data is still there for a second attempt
	again := m.Finalize()
	assert.Equal(t, 1, again.Committed)
}
