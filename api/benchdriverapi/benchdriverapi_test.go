package benchdriverapi

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDurationUnmarshal(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"1m30s"`), &d))
	assert.Equal(t, 90*time.Second, d.Duration)

	require.NoError(t, json.Unmarshal([]byte(`1000`), &d))
	assert.Equal(t, time.Microsecond, d.Duration)

	require.Error(t, json.Unmarshal([]byte(`"soon"`), &d))
	require.Error(t, json.Unmarshal([]byte(`true`), &d))
}

func TestResultErrorJSON(t *testing.T) {
	in := Result[AS2RunStats]{Error: errors.New("boom")}
	data, err := json.Marshal(&in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"boom"}`, string(data))

	var out Result[AS2RunStats]
	require.NoError(t, json.Unmarshal(data, &out))
	require.EqualError(t, out.Error, "boom")
}

func TestResultEmptyValue(t *testing.T) {
	data, err := json.Marshal(&Result[any]{})
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}

func TestPercentage(t *testing.T) {
	data, err := json.Marshal(Percentage(12.5))
	require.NoError(t, err)
	assert.Equal(t, `"12.50%"`, string(data))

	var p Percentage
	require.NoError(t, json.Unmarshal([]byte(`"7.5%"`), &p))
	assert.Equal(t, Percentage(7.5), p)
	require.NoError(t, json.Unmarshal([]byte(`3`), &p))
	assert.Equal(t, Percentage(3), p)
}

func TestConfigDefaults(t *testing.T) {
	var cfg BenchmarkAS2Config
	require.NoError(t, json.Unmarshal([]byte(`{"terminals": 4, "think_time": {"duration": "10ms"}}`), &cfg))

	assert.Equal(t, 4, GetOptValue(cfg.Terminals, 10))
	assert.Equal(t, 100000, GetOptValue(cfg.Items, 100000))

	avg, jitter := cfg.ThinkTime.Values()
	assert.Equal(t, 10*time.Millisecond, avg)
	assert.Equal(t, time.Duration(0), jitter)

	var none *JitterDuration
	avg, jitter = none.Values()
	assert.Zero(t, avg)
	assert.Zero(t, jitter)
}
