package as2

import (
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"math/rand/v2"
	"slices"
	"time"

	"txbench/api/benchdriverapi"
	"txbench/pkg/bench"
	"txbench/pkg/prop"
	"txbench/pkg/statmgr"
)

const (
	ReadItem   bench.TxnType = "READ_ITEM"
	UpdateItem bench.TxnType = "UPDATE_ITEM"
)

const (
	NumItems         = 100000
	MinPrice         = 1.0
	MaxPrice         = 100.0
	ReadCount        = 10
	UpdateCount      = 10
	DefaultReadRatio = 0.5
	LoadBatchSize    = 1000
	DefaultTerminals = 10

	DefaultDuration        = time.Minute
	DefaultLiveStatsPeriod = 10 * time.Second
)

var errMalformedParams = errors.New("malformed transaction parameters")

// Registry holds the transaction types of the AS2 benchmark.
var Registry = bench.MustRegistry(ReadItem, UpdateItem)

type Config struct {
	Items         int
	LoadBatchSize int
	Terminals     int
	ReadCount     int
	UpdateCount   int
	Count         int
	Seed          uint64

	Mix       *bench.Mix
	ThinkTime prop.UniformJitterDurationValue
	Isolation sql.IsolationLevel

	Warmup          time.Duration
	Duration        time.Duration
	BucketWidth     time.Duration
	LiveStatsPeriod time.Duration

	OutputDir string
	Label     string

	SimLatency    prop.UniformJitterDurationValue
	SimAbortRatio float64

	// Observe sees every executed transaction, including the warm-up.
	Observe func(bench.TxnResult)
}

func ConfigFromAPI(cfg *benchdriverapi.BenchmarkAS2Config) (c Config, err error) {
	errs := make([]error, 0, 3)

	isolation, err := IsolationFromAPI(benchdriverapi.GetOptValue(cfg.IsolationLevel, benchdriverapi.IsolationLevelDefault))
	errs = append(errs, err)

	mix, err := MixFromAPI(cfg.Mix)
	errs = append(errs, err)

	c = Config{
		Items:           benchdriverapi.GetOptValue(cfg.Items, NumItems),
		LoadBatchSize:   benchdriverapi.GetOptValue(cfg.LoadBatchSize, LoadBatchSize),
		Terminals:       benchdriverapi.GetOptValue(cfg.Terminals, DefaultTerminals),
		ReadCount:       benchdriverapi.GetOptValue(cfg.ReadCount, ReadCount),
		UpdateCount:     benchdriverapi.GetOptValue(cfg.UpdateCount, UpdateCount),
		Count:           benchdriverapi.GetOptValue(cfg.Count, 0),
		Seed:            benchdriverapi.GetOptValue(cfg.Seed, 0),
		Mix:             mix,
		ThinkTime:       prop.UniformJitterDuration(cfg.ThinkTime.Values()),
		Isolation:       isolation,
		Warmup:          benchdriverapi.GetOptValue(cfg.Warmup, benchdriverapi.Duration{}).Duration,
		Duration:        benchdriverapi.GetOptValue(cfg.Duration, benchdriverapi.Duration{Duration: DefaultDuration}).Duration,
		BucketWidth:     benchdriverapi.GetOptValue(cfg.BucketWidth, benchdriverapi.Duration{Duration: statmgr.DefaultBucketWidth}).Duration,
		LiveStatsPeriod: benchdriverapi.GetOptValue(cfg.LiveStatsPeriod, benchdriverapi.Duration{Duration: DefaultLiveStatsPeriod}).Duration,
		OutputDir:       benchdriverapi.GetOptValue(cfg.OutputDir, "reports"),
		Label:           benchdriverapi.GetOptValue(cfg.Label, ""),
		SimLatency:      prop.UniformJitterDuration(5*time.Millisecond, 0),
	}

	if cfg.Sim != nil {
		if cfg.Sim.Latency != nil {
			c.SimLatency = prop.UniformJitterDuration(cfg.Sim.Latency.Values())
		}
		c.SimAbortRatio = benchdriverapi.GetOptValue(cfg.Sim.AbortRatio, 0)
	}

	if c.Items <= 0 {
		errs = append(errs, fmt.Errorf("invalid item count %v", c.Items))
	}
	if c.Terminals <= 0 {
		errs = append(errs, fmt.Errorf("invalid terminal count %v", c.Terminals))
	}
	if c.ReadCount <= 0 || c.UpdateCount <= 0 {
		errs = append(errs, errors.New("read_count and update_count must be positive"))
	}
	if c.LiveStatsPeriod <= 0 {
		c.LiveStatsPeriod = DefaultLiveStatsPeriod
	}
	if c.LoadBatchSize <= 0 {
		c.LoadBatchSize = LoadBatchSize
	}
	return c, errors.Join(errs...)
}

// MixFromAPI builds the transaction mix. Ratios are keyed by type name,
// UPDATE_ITEM takes whatever is left.
func MixFromAPI(ratios map[string]float64) (*bench.Mix, error) {
	if len(ratios) == 0 {
		return bench.NewMix(Registry, UpdateItem, bench.MixEntry{Type: ReadItem, Ratio: DefaultReadRatio})
	}

	entries := make([]bench.MixEntry, 0, len(ratios))
	for _, name := range slices.Sorted(maps.Keys(ratios)) {
		entries = append(entries, bench.MixEntry{Type: bench.TxnType(name), Ratio: ratios[name]})
	}
	return bench.NewMix(Registry, UpdateItem, entries...)
}

func IsolationFromAPI(level benchdriverapi.IsolationLevel) (sql.IsolationLevel, error) {
	switch level {
	case benchdriverapi.IsolationLevelDefault, "":
		return sql.LevelDefault, nil
	case benchdriverapi.IsolationLevelReadCommitted:
		return sql.LevelReadCommitted, nil
	case benchdriverapi.IsolationLevelReadUncommitted:
		return sql.LevelReadUncommitted, nil
	case benchdriverapi.IsolationLevelRepeatableRead:
		return sql.LevelRepeatableRead, nil
	case benchdriverapi.IsolationLevelSnapshot:
		return sql.LevelSnapshot, nil
	case benchdriverapi.IsolationLevelSerializable:
		return sql.LevelSerializable, nil
	default:
		return 0, fmt.Errorf("unknown isolation level %v", level)
	}
}

// Generators returns the parameter generators of both transaction types.
func Generators(items, readCount, updateCount int) bench.Generators {
	ids := prop.IntRange(1, items)
	delta := prop.IntRange(0, 50)

	return bench.GeneratorsOf(
		bench.ParamGeneratorFunc{TxnType: ReadItem, Fn: func(r *rand.Rand) bench.Params {
			params := make(bench.Params, 0, readCount+1)
			params = append(params, readCount)
			for range readCount {
				params = append(params, ids.Rand(r))
			}
			return params
		}},
		bench.ParamGeneratorFunc{TxnType: UpdateItem, Fn: func(r *rand.Rand) bench.Params {
			params := make(bench.Params, 0, 2*updateCount+1)
			params = append(params, updateCount)
			for range updateCount {
				params = append(params, ids.Rand(r), float64(delta.Rand(r))/10)
			}
			return params
		}},
	)
}

type priceUpdate struct {
	id    int
	delta float64
}

func readParams(params bench.Params) ([]int, error) {
	n, ok := paramAt[int](params, 0)
	if !ok || n < 0 || len(params) != n+1 {
		return nil, errMalformedParams
	}

	ids := make([]int, n)
	for i := range n {
		if ids[i], ok = paramAt[int](params, i+1); !ok {
			return nil, errMalformedParams
		}
	}
	return ids, nil
}

func updateParams(params bench.Params) ([]priceUpdate, error) {
	n, ok := paramAt[int](params, 0)
	if !ok || n < 0 || len(params) != 2*n+1 {
		return nil, errMalformedParams
	}

	updates := make([]priceUpdate, n)
	for i := range n {
		id, okID := paramAt[int](params, 2*i+1)
		delta, okDelta := paramAt[float64](params, 2*i+2)
		if !okID || !okDelta {
			return nil, errMalformedParams
		}
		updates[i] = priceUpdate{id: id, delta: delta}
	}
	return updates, nil
}

func paramAt[T any](params bench.Params, i int) (v T, ok bool) {
	if i >= len(params) {
		return v, false
	}
	v, ok = params[i].(T)
	return v, ok
}

// newPrice wraps around to MinPrice once the price would exceed MaxPrice.
func newPrice(price, delta float64) float64 {
	if p := price + delta; p <= MaxPrice {
		return p
	}
	return MinPrice
}

type itemRow struct {
	id    int
	imID  int
	name  string
	price float64
	data  string
}

// itemAt generates the row of item id. The same seed yields the same rows.
func itemAt(r *rand.Rand, id int) itemRow {
	return itemRow{
		id:    id,
		imID:  prop.IntRange(1, 10000).Rand(r),
		name:  fmt.Sprintf("item-%08d", id),
		price: float64(prop.IntRange(100, 10000).Rand(r)) / 100,
		data:  fmt.Sprintf("data-%d-%d", id, r.IntN(1_000_000)),
	}
}
