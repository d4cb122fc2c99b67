package timeutil

import (
	"context"
	"iter"
	"sync/atomic"
	"time"
)

// Clock reports monotonic nanoseconds. Only differences between two readings
// of the same clock are meaningful.
type Clock interface {
	Nanotime() int64
}

type systemClock struct{}

var processStart = time.Now()

// SystemClock returns the monotonic process clock. Readings of all system
// clocks are comparable with each other.
func SystemClock() Clock {
	return systemClock{}
}

func (systemClock) Nanotime() int64 {
	return int64(time.Since(processStart))
}

// ManualClock is a Clock that only moves when told to.
type ManualClock struct {
	now atomic.Int64
}

func NewManualClock(start int64) *ManualClock {
	c := &ManualClock{}
	c.now.Store(start)
	return c
}

func (c *ManualClock) Nanotime() int64 { return c.now.Load() }

func (c *ManualClock) Advance(d time.Duration) int64 {
	return c.now.Add(int64(d))
}

func (c *ManualClock) Set(ns int64) { c.now.Store(ns) }

func Sleep(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func IterTick(ctx context.Context, period time.Duration) iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		now := time.Now()
		next := now.Add(period)

		ticker := time.NewTicker(period)
		defer ticker.Stop()

		for ctx.Err() == nil {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				if !t.Before(next) {
					next = t.Add(period)
					if !yield(t) {
						return
					}
				}
			}
		}
	}
}
