package prop

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRatioOfBoundaries(t *testing.T) {
	rv, err := RatioOf([]string{"a", "b"}, []float64{0.25, 0.5}, "c")
	require.NoError(t, err)

	tests := map[float64]string{
		0:      "a",
		0.2499: "a",
		0.25:   "b",
		0.7499: "b",
		0.75:   "c",
		0.9999: "c",
	}
	for p, want := range tests {
		assert.Equal(t, want, rv.GetWithProp(p), "p=%v", p)
	}
}

func TestRatioOfFullCoverage(t *testing.T) {
	rv, err := RatioOf([]int{1, 2}, []float64{0.5, 0.5}, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, rv.GetWithProp(0.999999))
}

func TestRatioOfValidation(t *testing.T) {
	_, err := RatioOf([]int{1, 2}, []float64{0.7, 0.4}, 3)
	require.ErrorIs(t, err, ErrRatioOverflow)

	_, err = RatioOf([]int{1}, []float64{-0.1}, 3)
	require.Error(t, err)

	_, err = RatioOf([]int{1, 2}, []float64{0.1}, 3)
	require.Error(t, err)
}

func TestRatioOfEmptyAlwaysFallback(t *testing.T) {
	rv, err := RatioOf[string](nil, nil, "only")
	require.NoError(t, err)
	assert.Equal(t, "only", rv.GetWithProp(0))
	assert.Equal(t, "only", rv.Rand(rand.New(rand.NewPCG(1, 2))))
}

func TestIntRange(t *testing.T) {
	v := IntRange(1, 10)
	assert.Equal(t, 1, v.GetWithProp(0))
	assert.Equal(t, 10, v.GetWithProp(0.99999))
	assert.Equal(t, 6, v.GetWithProp(0.5))

	r := rand.New(rand.NewPCG(7, 7))
	for range 1000 {
		x := v.Rand(r)
		require.GreaterOrEqual(t, x, 1)
		require.LessOrEqual(t, x, 10)
	}
}

func TestBool(t *testing.T) {
	b := Bool(0.3)
	assert.True(t, b.GetWithProp(0.29))
	assert.False(t, b.GetWithProp(0.3))
	assert.False(t, Bool(0).GetWithProp(0))
}

func TestUniformJitterDuration(t *testing.T) {
	j := UniformJitterDuration(time.Second, 2*time.Second)
	assert.Equal(t, time.Second, j.GetWithProp(0))
	assert.Equal(t, 2*time.Second, j.GetWithProp(0.5))
	assert.Equal(t, time.Duration(0), UniformJitterDuration(-time.Second, 0).GetWithProp(0))
	assert.True(t, UniformJitterDuration(0, 0).IsZero())
}

func TestUniformJitterWaitCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := UniformJitterDuration(time.Hour, 0).Wait(ctx, rand.New(rand.NewPCG(1, 1)))
	require.ErrorIs(t, err, context.Canceled)
}
