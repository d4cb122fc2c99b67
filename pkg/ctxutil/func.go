package ctxutil

import (
	"context"
)

type funcContext struct {
	context.Context
	done chan struct{}
}

// WithFuncContext returns a cancellable child of parent that runs fn once
// the child is cancelled. Done and Err of the returned context only report
// cancellation after fn has returned, so callers waiting on Done observe
// the cleanup as finished.
func WithFuncContext(parent context.Context, fn func()) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	fctx := &funcContext{
		Context: ctx,
		done:    make(chan struct{}),
	}
	context.AfterFunc(ctx, func() {
		defer close(fctx.done)
		fn()
	})
	return fctx, cancel
}

func (c *funcContext) Done() <-chan struct{} {
	return c.done
}

func (c *funcContext) Err() error {
	select {
	case <-c.done:
		return c.Context.Err()
	default:
		return nil
	}
}
