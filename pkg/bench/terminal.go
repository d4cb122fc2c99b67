package bench

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"txbench/pkg/prop"
	"txbench/pkg/timeutil"
)

type TerminalConfig struct {
	ID         int
	Conn       SutConnection
	Stats      Ingester
	Mix        MixPolicy
	Generators Generators
	ThinkTime  prop.UniformJitterDurationValue

	// MaxTxns stops the terminal after that many attempts. 0 means no limit.
	MaxTxns int

	Rand  *rand.Rand
	Clock timeutil.Clock

	// Gate decides which results are ingested. A nil Gate records all.
	Gate *RecordGate

	// Observe is called with every result, recorded or not.
	Observe func(TxnResult)
}

// RecordGate admits results that end at or after the instant it was opened.
// A closed gate admits nothing.
type RecordGate struct {
	open atomic.Bool
	from atomic.Int64
}

// Open admits results ending at from or later. Only the first call counts.
func (g *RecordGate) Open(from int64) {
	if g.open.Load() {
		return
	}
	g.from.Store(from)
	g.open.Store(true)
}

func (g *RecordGate) IsOpen() bool { return g.open.Load() }

func (g *RecordGate) Admits(end int64) bool {
	return g.open.Load() && end >= g.from.Load()
}

// Terminal emulates a single client issuing transactions back to back.
type Terminal struct {
	cfg      TerminalConfig
	executed int
	recorded int
}

func NewTerminal(cfg TerminalConfig) (*Terminal, error) {
	if cfg.Conn == nil {
		return nil, errors.New("terminal requires a connection")
	}
	if cfg.Stats == nil {
		return nil, errors.New("terminal requires a statistics recorder")
	}
	if cfg.Mix == nil {
		return nil, errors.New("terminal requires a transaction mix")
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.SystemClock()
	}
	return &Terminal{cfg: cfg}, nil
}

func (t *Terminal) ID() int { return t.cfg.ID }

// Executed returns the number of completed attempts, recorded or not.
func (t *Terminal) Executed() int { return t.executed }

// Recorded returns the number of results handed to the recorder.
func (t *Terminal) Recorded() int { return t.recorded }

// Run issues transactions until ctx is done or MaxTxns is reached. A
// cancelled context is a normal stop and returns nil. Only a rejected result
// is returned as error.
func (t *Terminal) Run(ctx context.Context) error {
	logger := log.WithField("terminal", t.cfg.ID)

	for t.cfg.MaxTxns <= 0 || t.executed < t.cfg.MaxTxns {
		if ctx.Err() != nil {
			return nil
		}

		res, ok := t.execute(ctx, logger)
		if !ok {
			return nil
		}
		t.executed++

		if t.cfg.Observe != nil {
			t.cfg.Observe(res)
		}
		if t.cfg.Gate == nil || t.cfg.Gate.Admits(res.EndTime) {
			if err := t.cfg.Stats.Ingest(res); err != nil {
				return fmt.Errorf("terminal %v: %w", t.cfg.ID, err)
			}
			t.recorded++
		}

		if t.cfg.MaxTxns > 0 && t.executed >= t.cfg.MaxTxns {
			break
		}
		if err := t.cfg.ThinkTime.Wait(ctx, t.cfg.Rand); err != nil {
			return nil
		}
	}
	return nil
}

func (t *Terminal) execute(ctx context.Context, logger *log.Entry) (TxnResult, bool) {
	txType := t.cfg.Mix.Select(t.cfg.Rand.Float64())

	var params Params
	if gen, exists := t.cfg.Generators[txType]; exists {
		params = gen.Generate(t.cfg.Rand)
	}

	start := t.cfg.Clock.Nanotime()
	out, err := t.cfg.Conn.Execute(ctx, txType, params)
	end := t.cfg.Clock.Nanotime()

	if err != nil {
		if ctx.Err() != nil {
			return TxnResult{}, false
		}
		logger.WithError(err).WithField("type", txType).Debug("transaction failed")
	}

	rt := end - start
	if rt < 0 {
		rt = 0
	}
	return TxnResult{
		Type:         txType,
		Committed:    err == nil && out.Committed,
		EndTime:      end,
		ResponseTime: time.Duration(rt),
	}, true
}
