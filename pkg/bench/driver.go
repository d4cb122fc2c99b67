package bench

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"txbench/pkg/prop"
	"txbench/pkg/timeutil"
)

// Connector opens the connection owned by terminal number idx.
type Connector func(ctx context.Context, idx int) (SutConnection, error)

type DriverConfig struct {
	Terminals  int
	Connect    Connector
	Stats      Recorder
	Mix        MixPolicy
	Generators Generators
	ThinkTime  prop.UniformJitterDurationValue

	// Warmup runs the terminals without recording. The record start time is
	// set once it elapses, results ending earlier are dropped.
	Warmup time.Duration

	// Duration bounds the measured period. 0 runs until the context is done
	// or every terminal reached MaxTxns.
	Duration time.Duration

	// MaxTxns limits the attempts per terminal, warm-up attempts included.
	MaxTxns int

	// Seed makes parameter and mix draws reproducible. 0 picks a random seed.
	Seed  uint64
	Clock timeutil.Clock

	Observe func(TxnResult)
}

type Driver struct {
	cfg      DriverConfig
	gate     RecordGate
	executed atomic.Int64
}

func NewDriver(cfg DriverConfig) (*Driver, error) {
	var errs []error
	if cfg.Terminals <= 0 {
		errs = append(errs, fmt.Errorf("invalid terminal count %v", cfg.Terminals))
	}
	if cfg.Connect == nil {
		errs = append(errs, errors.New("no connector configured"))
	}
	if cfg.Stats == nil {
		errs = append(errs, errors.New("no statistics recorder configured"))
	}
	if cfg.Mix == nil {
		errs = append(errs, errors.New("no transaction mix configured"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if cfg.Clock == nil {
		cfg.Clock = timeutil.SystemClock()
	}
	if cfg.Seed == 0 {
		cfg.Seed = rand.Uint64()
	}
	return &Driver{cfg: cfg}, nil
}

// Recording reports whether results are currently handed to the recorder.
func (d *Driver) Recording() bool { return d.gate.IsOpen() }

// Executed returns the number of finished attempts over all terminals.
func (d *Driver) Executed() int64 { return d.executed.Load() }

// Run starts all terminals and returns once every one of them has stopped.
// A cancelled context or an elapsed duration is a regular stop.
func (d *Driver) Run(ctx context.Context) error {
	if d.cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Warmup+d.cfg.Duration)
		defer cancel()
	}

	conns, err := d.connectAll(ctx)
	if err != nil {
		return err
	}

	if d.cfg.Warmup <= 0 {
		d.startRecording()
	}

	eg, runCtx := errgroup.WithContext(ctx)
	warmupDone := make(chan struct{})
	warmupCtx, stopWarmup := context.WithCancel(runCtx)
	defer stopWarmup()
	if d.cfg.Warmup > 0 {
		go func() {
			defer close(warmupDone)
			if timeutil.Sleep(warmupCtx, d.cfg.Warmup) == nil {
				log.Printf("Warm-up of %v finished, recording statistics", d.cfg.Warmup)
				d.startRecording()
			}
		}()
	} else {
		close(warmupDone)
	}

	for i, conn := range conns {
		eg.Go(func() error {
			defer closeConn(i, conn)

			t, err := NewTerminal(TerminalConfig{
				ID:         i,
				Conn:       conn,
				Stats:      d.cfg.Stats,
				Mix:        d.cfg.Mix,
				Generators: d.cfg.Generators,
				ThinkTime:  d.cfg.ThinkTime,
				MaxTxns:    d.cfg.MaxTxns,
				Rand:       rand.New(rand.NewPCG(d.cfg.Seed, uint64(i))),
				Clock:      d.cfg.Clock,
				Gate:       &d.gate,
				Observe:    d.observe,
			})
			if err != nil {
				return err
			}
			return t.Run(runCtx)
		})
	}

	err = eg.Wait()
	stopWarmup()
	<-warmupDone
	return err
}

// startRecording anchors the recorder first and reads the gate's instant
// afterwards, so no admitted result ends before the recorder's start time.
func (d *Driver) startRecording() {
	d.cfg.Stats.SetRecordStartTime()
	d.gate.Open(d.cfg.Clock.Nanotime())
}

func (d *Driver) observe(res TxnResult) {
	d.executed.Add(1)
	if d.cfg.Observe != nil {
		d.cfg.Observe(res)
	}
}

func (d *Driver) connectAll(ctx context.Context) ([]SutConnection, error) {
	conns := make([]SutConnection, 0, d.cfg.Terminals)
	for i := range d.cfg.Terminals {
		conn, err := d.cfg.Connect(ctx, i)
		if err != nil {
			for j, c := range conns {
				closeConn(j, c)
			}
			return nil, fmt.Errorf("connect terminal %v: %w", i, err)
		}
		conns = append(conns, conn)
	}
	return conns, nil
}

func closeConn(idx int, conn SutConnection) {
	if err := conn.Close(); err != nil {
		log.WithField("terminal", idx).WithError(err).Warn("failed to close connection")
	}
}
