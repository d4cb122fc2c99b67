package as2

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/xid"
	log "github.com/sirupsen/logrus"

	"txbench/api/benchdriverapi"
	"txbench/internal/worker"
	"txbench/pkg/bench"
	"txbench/pkg/ctxutil"
	"txbench/pkg/statmgr"
	"txbench/pkg/stats"
)

const readyTimeout = time.Minute

type Tester struct {
	workerConfig worker.Config

	db        *sql.DB
	redis     *redis.Client
	redisOpts *redis.Options

	mu        sync.Mutex
	liveStats func() []benchdriverapi.OpStats
}

func New(cfg worker.Config) (*Tester, error) {
	t := &Tester{workerConfig: cfg}

	switch {
	case cfg.IsSQL():
		db, err := worker.OpenDB(cfg)
		if err != nil {
			return nil, err
		}
		t.db = db

	case cfg.Driver == worker.DriverRedis:
		opts, err := cfg.RedisOptions()
		if err != nil {
			return nil, err
		}
		t.redisOpts = opts

		admin := *opts
		admin.PoolSize = 0
		t.redis = redis.NewClient(&admin)

	case cfg.Driver == worker.DriverSim:

	default:
		return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
	}
	return t, nil
}

func (b *Tester) Close() error {
	var errs []error
	if b.db != nil {
		errs = append(errs, b.db.Close())
	}
	if b.redis != nil {
		errs = append(errs, b.redis.Close())
	}
	return errors.Join(errs...)
}

func (b *Tester) Ping(ctx context.Context) (bool, error) {
	var err error
	switch {
	case b.db != nil:
		err = b.db.PingContext(ctx)
	case b.redis != nil:
		err = b.redis.Ping(ctx).Err()
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (b *Tester) waitReady(ctx context.Context) error {
	_, err := backoff.Retry(ctx, func() (bool, error) {
		return b.Ping(ctx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(readyTimeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.WithError(err).WithField("retry_in", next).Warn("system under test not ready")
		}),
	)
	return err
}

// LiveStats returns the statistics of the active run, nil if no run is active.
func (b *Tester) LiveStats() []benchdriverapi.OpStats {
	b.mu.Lock()
	fn := b.liveStats
	b.mu.Unlock()

	if fn == nil {
		return nil
	}
	return fn()
}

func (b *Tester) Prepare(ctx context.Context, cfg Config) (err error) {
	ctx, cancel := ctxutil.WithFuncContext(ctx, func() {
		log.Printf("AS2 Prepare: stop signal received")
	})
	defer cancel()

	if b.workerConfig.Driver == worker.DriverSim {
		log.Printf("AS2 Prepare: nothing to load for the simulated system")
		return nil
	}

	if err := b.waitReady(ctx); err != nil {
		return fmt.Errorf("wait for system under test: %w", err)
	}

	log.Printf("AS2 Prepare: loading %d items in batches of %d", cfg.Items, cfg.LoadBatchSize)
	if b.db != nil {
		err = sqlLoadItems(ctx, b.db, b.workerConfig.Driver, cfg.Items, cfg.LoadBatchSize, cfg.Seed)
	} else {
		err = redisLoadItems(ctx, b.redis, cfg.Items, cfg.LoadBatchSize, cfg.Seed)
	}
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}

	if err := b.Check(ctx, cfg.Items); err != nil {
		return fmt.Errorf("check prepare: %w", err)
	}
	return ctx.Err()
}

// Check verifies that the item data set is loaded.
func (b *Tester) Check(ctx context.Context, items int) error {
	switch {
	case b.db != nil:
		return sqlCheckItems(ctx, b.db, items)
	case b.redis != nil:
		return redisCheckItems(ctx, b.redis, items)
	}
	return nil
}

func (b *Tester) Cleanup(ctx context.Context) error {
	switch {
	case b.db != nil:
		return sqlDropItems(ctx, b.db)
	case b.redis != nil:
		return redisDropItems(ctx, b.redis)
	}
	return nil
}

func (b *Tester) connector(cfg Config) bench.Connector {
	switch {
	case b.db != nil:
		b.db.SetMaxIdleConns(cfg.Terminals)
		return func(ctx context.Context, _ int) (bench.SutConnection, error) {
			return openSQLConnection(ctx, b.db, b.workerConfig.Driver, cfg.Isolation)
		}

	case b.redisOpts != nil:
		return func(ctx context.Context, _ int) (bench.SutConnection, error) {
			conn := newRedisConnection(b.redisOpts)
			if err := conn.client.Ping(ctx).Err(); err != nil {
				conn.Close()
				return nil, err
			}
			return conn, nil
		}

	default:
		return func(_ context.Context, idx int) (bench.SutConnection, error) {
			var r *rand.Rand
			if cfg.Seed != 0 {
				r = rand.New(rand.NewPCG(cfg.Seed, uint64(idx)+1<<32))
			}
			return bench.NewSimConnection(cfg.SimLatency, cfg.SimAbortRatio, r), nil
		}
	}
}

func (b *Tester) Run(ctx context.Context, cfg Config) (summary benchdriverapi.AS2RunStats, err error) {
	runID := xid.New().String()
	logger := log.WithField("run", runID)
	logger.Infof("Running AS2 test with %d terminals, warm-up %s, duration %s", cfg.Terminals, cfg.Warmup, cfg.Duration)
	defer logger.Info("AS2 Run: finished")

	ctx, cancel := ctxutil.WithFuncContext(ctx, func() {
		logger.Info("AS2 Run: stop signal received")
	})
	defer cancel()

	mgr := statmgr.NewManager(Registry,
		statmgr.WithBucketWidth(cfg.BucketWidth),
		statmgr.WithLiveStats(),
	)

	b.mu.Lock()
	if b.liveStats == nil {
		b.liveStats = func() []benchdriverapi.OpStats {
			return opStatsFromLive(mgr.Live())
		}
		defer func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.liveStats = nil
		}()
	}
	b.mu.Unlock()

	driver, err := bench.NewDriver(bench.DriverConfig{
		Terminals:  cfg.Terminals,
		Connect:    b.connector(cfg),
		Stats:      mgr,
		Mix:        cfg.Mix,
		Generators: Generators(cfg.Items, cfg.ReadCount, cfg.UpdateCount),
		ThinkTime:  cfg.ThinkTime,
		Warmup:     cfg.Warmup,
		Duration:   cfg.Duration,
		MaxTxns:    cfg.Count,
		Seed:       cfg.Seed,
		Observe:    cfg.Observe,
	})
	if err != nil {
		return summary, err
	}

	start := time.Now()
	if err := driver.Run(ctx); err != nil {
		return summary, fmt.Errorf("run: %w", err)
	}
	measured := time.Since(start) - cfg.Warmup

	w := &statmgr.Writer{Dir: cfg.OutputDir, Label: cfg.Label}
	report, files, err := mgr.OutputReport(w)
	summary = StatsFromReport(report, measured)
	summary.RunID = runID

	logger.WithFields(log.Fields{
		"total":     summary.Summary.Total,
		"committed": summary.Summary.Committed,
		"aborted":   summary.Summary.Aborted,
		"avg_ms":    summary.Summary.AvgLatencyMs,
	}).Info("AS2 Run: summary")

	if err != nil {
		return summary, fmt.Errorf("output report: %w", err)
	}
	summary.Files = &benchdriverapi.ReportFiles{
		Summary: files.Summary,
		Series:  files.Series,
		JSON:    files.JSON,
	}
	return summary, nil
}

// StatsFromReport converts a final report into the API result. measured is
// the length of the recorded period and only used for the throughput.
func StatsFromReport(r statmgr.Report, measured time.Duration) benchdriverapi.AS2RunStats {
	summary := benchdriverapi.TxSummary{
		Total:        r.Total,
		Committed:    r.Committed,
		Aborted:      r.Aborted,
		AvgLatencyMs: r.AvgLatencyMs,
	}
	if r.Total > 0 {
		summary.AbortRate = benchdriverapi.Percentage(100 * float64(r.Aborted) / float64(r.Total))
	}
	if measured > 0 {
		summary.Throughput = float64(r.Committed) / measured.Seconds()
	}

	latencies := make(map[bench.TxnType][]int64, len(r.Types))
	for _, d := range r.Details {
		if d.Committed {
			latencies[d.Type] = append(latencies[d.Type], d.LatencyMs)
		}
	}

	opStats := make([]benchdriverapi.OpStats, 0, len(r.Types))
	for _, t := range r.Types {
		op := benchdriverapi.OpStats{
			Operation: string(t.Type),
			Count:     int64(t.Committed),
			Aborted:   int64(t.Aborted),
			Sum:       float64(t.TotalLatency) / float64(time.Millisecond),
			Avg:       t.AvgLatencyMs,
		}
		if sorted := latencies[t.Type]; len(sorted) > 0 {
			slices.Sort(sorted)
			op.Median = float64(stats.NearestRank(sorted, 0.5))
			op.P99 = float64(stats.NearestRank(sorted, 0.99))
			op.Max = float64(sorted[len(sorted)-1])
		}
		opStats = append(opStats, op)
	}

	series := make([]benchdriverapi.SeriesPoint, len(r.Buckets))
	for i, bucket := range r.Buckets {
		series[i] = benchdriverapi.SeriesPoint{
			TimeSec:    bucket.StartSec,
			Throughput: bucket.Throughput,
			AvgMs:      bucket.AvgMs,
			MinMs:      bucket.MinMs,
			MaxMs:      bucket.MaxMs,
			P25Ms:      bucket.P25Ms,
			MedianMs:   bucket.P50Ms,
			P75Ms:      bucket.P75Ms,
		}
	}

	return benchdriverapi.AS2RunStats{
		Summary: summary,
		Stats:   opStats,
		Series:  series,
	}
}

func opStatsFromLive(live []statmgr.LiveTypeStats) []benchdriverapi.OpStats {
	out := make([]benchdriverapi.OpStats, 0, len(live))
	for _, s := range live {
		out = append(out, benchdriverapi.OpStats{
			Operation: string(s.Type),
			Count:     s.Committed,
			Aborted:   s.Aborted,
			Sum:       s.AvgMs * float64(s.Committed),
			Avg:       s.AvgMs,
			Median:    s.P50Ms,
			P99:       s.P99Ms,
			Max:       s.MaxMs,
		})
	}
	return out
}
