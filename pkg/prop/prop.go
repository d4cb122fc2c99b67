package prop

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"txbench/pkg/timeutil"
)

var ErrRatioOverflow = errors.New("ratios sum to more than 1")

type BoolValue struct {
	propTrue float64
}

func Bool(propTrue float64) BoolValue {
	return BoolValue{propTrue: propTrue}
}

func (b BoolValue) Rand(r *rand.Rand) bool     { return b.GetWithProp(r.Float64()) }
func (b BoolValue) GetWithProp(p float64) bool { return p < b.propTrue }

// IntRangeValue draws integers uniformly from the closed range [min, max].
type IntRangeValue struct {
	min, max int
}

func IntRange(min, max int) IntRangeValue {
	if max < min {
		min, max = max, min
	}
	return IntRangeValue{min: min, max: max}
}

func (v IntRangeValue) Rand(r *rand.Rand) int { return v.GetWithProp(r.Float64()) }
func (v IntRangeValue) GetWithProp(p float64) int {
	n := v.max - v.min + 1
	idx := int(p * float64(n))
	if idx >= n {
		idx = n - 1
	}
	return v.min + idx
}

// RatioValue selects a value by cumulative ratio. Draws not covered by the
// ratios select the fallback.
type RatioValue[T any] struct {
	cumulative []float64
	values     []T
	fallback   T
}

func RatioOf[T any](values []T, ratios []float64, fallback T) (RatioValue[T], error) {
	if len(values) != len(ratios) {
		return RatioValue[T]{}, fmt.Errorf("got %v values but %v ratios", len(values), len(ratios))
	}

	cum := make([]float64, len(ratios))
	total := 0.0
	for i, r := range ratios {
		if r < 0 {
			return RatioValue[T]{}, fmt.Errorf("negative ratio %v at index %v", r, i)
		}
		total += r
		cum[i] = total
	}
	if total > 1+1e-9 {
		return RatioValue[T]{}, fmt.Errorf("%w: %v", ErrRatioOverflow, total)
	}

	return RatioValue[T]{cumulative: cum, values: values, fallback: fallback}, nil
}

func (rv RatioValue[T]) Rand(r *rand.Rand) T { return rv.GetWithProp(r.Float64()) }
func (rv RatioValue[T]) GetWithProp(p float64) T {
	for i, c := range rv.cumulative {
		if p < c {
			return rv.values[i]
		}
	}
	return rv.fallback
}

type UniformJitterDurationValue struct {
	avg    time.Duration
	jitter time.Duration
}

func UniformJitterDuration(avg, jitter time.Duration) UniformJitterDurationValue {
	return UniformJitterDurationValue{avg: avg, jitter: jitter}
}

func (j UniformJitterDurationValue) IsZero() bool { return j.avg <= 0 && j.jitter <= 0 }

func (j UniformJitterDurationValue) Rand(r *rand.Rand) time.Duration {
	if j.jitter == 0 {
		return j.GetWithProp(0)
	}
	return j.GetWithProp(r.Float64())
}

func (j UniformJitterDurationValue) GetWithProp(p float64) time.Duration {
	v := j.avg + time.Duration(p*j.jitter.Seconds()*float64(time.Second))
	if v < 0 {
		return 0
	}
	return v
}

func (j UniformJitterDurationValue) Wait(ctx context.Context, r *rand.Rand) error {
	return timeutil.Sleep(ctx, j.Rand(r))
}
