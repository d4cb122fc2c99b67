package statmgr

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"txbench/pkg/bench"
	"txbench/pkg/timeutil"
)

const (
	txRead   bench.TxnType = "READ_ITEM"
	txUpdate bench.TxnType = "UPDATE_ITEM"
)

var testRegistry = bench.MustRegistry(txRead, txUpdate)

func committed(t bench.TxnType, end int64, rt time.Duration) bench.TxnResult {
	return bench.TxnResult{Type: t, Committed: true, EndTime: end, ResponseTime: rt}
}

func aborted(t bench.TxnType, end int64, rt time.Duration) bench.TxnResult {
	return bench.TxnResult{Type: t, Committed: false, EndTime: end, ResponseTime: rt}
}

func TestSetRecordStartTimeIdempotent(t *testing.T) {
	clock := timeutil.NewManualClock(1000)
	m := NewManager(testRegistry, WithClock(clock))

	_, ok := m.RecordStartTime()
	assert.False(t, ok)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.SetRecordStartTime()
		}()
	}
	wg.Wait()

	clock.Advance(time.Hour)
	m.SetRecordStartTime()

	start, ok := m.RecordStartTime()
	assert.True(t, ok)
	assert.Equal(t, int64(1000), start)
}

func TestIngestAnchorsStart(t *testing.T) {
	m := NewManager(testRegistry)
	require.NoError(t, m.Ingest(committed(txRead, 777, time.Millisecond)))
	require.NoError(t, m.Ingest(committed(txRead, 999, time.Millisecond)))

	start, ok := m.RecordStartTime()
	assert.True(t, ok)
	assert.Equal(t, int64(777), start)

	// an explicit start after ingestion does not move the anchor
	m.SetRecordStartTime()
	start, _ = m.RecordStartTime()
	assert.Equal(t, int64(777), start)
}

func TestIngestUnknownTypeFailsFast(t *testing.T) {
	m := NewManager(testRegistry)
	err := m.Ingest(committed("DELETE_ITEM", 1, time.Millisecond))
	require.ErrorIs(t, err, bench.ErrUnknownTxnType)
	assert.Equal(t, 0, m.Count())

	_, ok := m.RecordStartTime()
	assert.False(t, ok)
}

func TestIngestConcurrent(t *testing.T) {
	m := NewManager(testRegistry)

	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 250 {
				res := committed(txRead, int64(i), time.Millisecond)
				if (w+i)%3 == 0 {
					res = aborted(txUpdate, int64(i), time.Millisecond)
				}
				assert.NoError(t, m.Ingest(res))
			}
		}()
	}
	wg.Wait()

	report := m.Finalize()
	assert.Equal(t, 1000, m.Count())
	assert.Equal(t, 1000, report.Total)
	assert.Equal(t, report.Total, report.Committed+report.Aborted)
}

func TestResultsCopy(t *testing.T) {
	m := NewManager(testRegistry)
	require.NoError(t, m.Ingest(committed(txRead, 1, time.Millisecond)))

	res := m.Results()
	res[0].Type = txUpdate
	assert.Equal(t, txRead, m.Results()[0].Type)
}

func TestLiveStats(t *testing.T) {
	assert.Nil(t, NewManager(testRegistry).Live())

	m := NewManager(testRegistry, WithLiveStats())
	require.NoError(t, m.Ingest(committed(txRead, 1, 10*time.Millisecond)))
	require.NoError(t, m.Ingest(committed(txRead, 2, 20*time.Millisecond)))
	require.NoError(t, m.Ingest(aborted(txUpdate, 3, 5*time.Millisecond)))

	live := m.Live()
	require.Len(t, live, 2)

	assert.Equal(t, txRead, live[0].Type)
	assert.Equal(t, int64(2), live[0].Committed)
	assert.InDelta(t, 15, live[0].AvgMs, 0.1)
	assert.InDelta(t, 20, live[0].MaxMs, 0.1)

	assert.Equal(t, txUpdate, live[1].Type)
	assert.Equal(t, int64(0), live[1].Committed)
	assert.Equal(t, int64(1), live[1].Aborted)
}

func TestWithBucketWidth(t *testing.T) {
	assert.Equal(t, DefaultBucketWidth, NewManager(testRegistry, WithBucketWidth(0)).BucketWidth())
	assert.Equal(t, time.Second, NewManager(testRegistry, WithBucketWidth(time.Second)).BucketWidth())
}
