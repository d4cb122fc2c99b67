package as2

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"txbench/api/benchdriverapi"
	"txbench/internal/worker"
	"txbench/pkg/timeutil"
)

type Factory struct {
	cfg     worker.Config
	metrics *worker.LazyMetrics[*as2Metrics]
	active  atomic.Pointer[Tester]
}

func NewFactory(cfg worker.Config) *Factory {
	return &Factory{cfg: cfg}
}

func (f *Factory) WithMetrics(r prometheus.Registerer) *Factory {
	f.metrics = worker.NewLazyMetrics(new(as2Metrics), r)
	return f
}

func (f *Factory) managementOps(prepare bool) *worker.ManagementOps {
	if f.metrics == nil {
		return nil
	}
	if prepare {
		return &f.metrics.Register().Prepare
	}
	return &f.metrics.Register().Cleanup
}

func (f *Factory) Prepare(req benchdriverapi.BenchmarkAS2Config) (cmd worker.Task, err error) {
	cfg, err := ConfigFromAPI(&req)
	if err != nil {
		return cmd, err
	}
	dropData := benchdriverapi.GetOptValue(req.DropData, false)

	bench, err := New(f.cfg)
	if err != nil {
		return cmd, err
	}
	return worker.Task{
		Name: benchdriverapi.TaskAS2Prepare,
		// Prepare waits for the system under test itself.
		Task: func(ctx context.Context) (any, error) {
			defer bench.Close()

			if dropData {
				err := f.managementOps(false).Track(func() error {
					return bench.Cleanup(ctx)
				})
				if err != nil {
					return nil, err
				}
			}

			return nil, f.managementOps(true).Track(func() error {
				return bench.Prepare(ctx, cfg)
			})
		},
	}, nil
}

func (f *Factory) Cleanup() (cmd worker.Task, err error) {
	bench, err := New(f.cfg)
	if err != nil {
		return cmd, err
	}

	return worker.Task{
		Name: benchdriverapi.TaskAS2Cleanup,
		Task: func(ctx context.Context) (any, error) {
			defer bench.Close()
			return nil, f.managementOps(false).Track(func() error {
				return bench.Cleanup(ctx)
			})
		},
	}, nil
}

func (f *Factory) Run(req benchdriverapi.BenchmarkAS2Config) (cmd worker.Task, err error) {
	cfg, err := ConfigFromAPI(&req)
	if err != nil {
		return cmd, err
	}

	t, err := New(f.cfg)
	if err != nil {
		return cmd, err
	}

	return worker.Task{
		Name:       benchdriverapi.TaskAS2Run,
		CheckReady: t.Ping,
		Task: func(ctx context.Context) (any, error) {
			defer t.Close()

			f.active.Store(t)
			defer f.active.CompareAndSwap(t, nil)

			if f.metrics == nil {
				return t.Run(ctx, cfg)
			}

			var summary benchdriverapi.AS2RunStats
			statsGroup := f.metrics.Register()
			cfg.Observe = statsGroup.Run.Txns.Observe

			eg, ctx := errgroup.WithContext(ctx)
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			eg.Go(func() error {
				for range timeutil.IterTick(ctx, cfg.LiveStatsPeriod) {
					statsGroup.Run.LiveStats.Observe(t.LiveStats())
				}
				return nil
			})
			eg.Go(func() error {
				defer cancel() // stops the live stats publisher
				var err error
				summary, err = t.Run(ctx, cfg)
				return err
			})

			if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return summary, err
			}

			statsGroup.Run.SummaryStats.Observe(summary)
			return summary, nil
		},
	}, nil
}

// LiveStats returns the statistics of the running benchmark, nil if no run
// task is active.
func (f *Factory) LiveStats() []benchdriverapi.OpStats {
	if t := f.active.Load(); t != nil {
		return t.LiveStats()
	}
	return nil
}
