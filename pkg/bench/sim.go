package bench

import (
	"context"
	"math/rand/v2"

	"txbench/pkg/prop"
)

// SimConnection is a SutConnection without a backing system. Every call
// waits for a jittered latency and aborts with a fixed probability.
type SimConnection struct {
	latency prop.UniformJitterDurationValue
	abort   prop.BoolValue
	rnd     *rand.Rand
}

func NewSimConnection(latency prop.UniformJitterDurationValue, abortRatio float64, r *rand.Rand) *SimConnection {
	if r == nil {
		r = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &SimConnection{
		latency: latency,
		abort:   prop.Bool(abortRatio),
		rnd:     r,
	}
}

func (c *SimConnection) Execute(ctx context.Context, txType TxnType, params Params) (Outcome, error) {
	if err := c.latency.Wait(ctx, c.rnd); err != nil {
		return Outcome{}, err
	}
	return Outcome{Committed: !c.abort.Rand(c.rnd), Output: len(params)}, nil
}

func (c *SimConnection) Close() error { return nil }
