package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"txbench/api/benchdriverapi"
	"txbench/internal/worker"
)

var ErrBusy = errors.New("worker is busy")

// Runner executes at most one benchmark task at a time. All state is owned
// by the Run loop, callers talk to it through a command channel.
type Runner struct {
	Config worker.Config
	ch     chan any
	chRet  chan any

	// ping checks the system under test while no task is active.
	ping func(context.Context, worker.Config) error
}

func New(cfg worker.Config) *Runner {
	return &Runner{
		Config: cfg,
		ch:     make(chan any, 1),
		chRet:  make(chan any),
		ping:   worker.Ping,
	}
}

type taskState struct {
	name    benchdriverapi.TaskName
	started time.Time
	cancel  context.CancelFunc
}

func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	var active *taskState
	var taskCh chan benchdriverapi.Result[any]
	var lastName benchdriverapi.TaskName
	var lastResult *benchdriverapi.Result[any]

	defer func() {
		if active != nil {
			active.cancel()
		}
		wg.Wait()
	}()

	for ctx.Err() == nil {
		select {
		case <-ctx.Done():
			return
		case result := <-taskCh:
			lastResult = &result
			logger := log.WithField("task", active.name).WithField("duration", time.Since(active.started))
			if result.Error != nil {
				logger.WithError(result.Error).Warn("task failed")
			} else {
				logger.Info("task finished")
			}
			active.cancel()
			active = nil
			log.Info("worker is now idle")

		case cmd := <-r.ch:
			switch cmd := cmd.(type) {
			case statusCommand:
				code := benchdriverapi.StatusIdle
				if active != nil {
					code = benchdriverapi.StatusBusy
				}

				r.chRet <- benchdriverapi.WorkerStatus[benchdriverapi.Result[any]]{
					Code: code,
					Task: lastName,
					Last: lastResult,
				}

			case stopCommand:
				if active != nil {
					log.WithField("task", active.name).Info("cancelling task")
					active.cancel()
				}
				r.chRet <- nil

			case healthCommand:
				if active != nil {
					// active tasks report their own errors
					r.chRet <- healthResponse{StatusCode: benchdriverapi.StatusBusy}
					continue
				}

				status := benchdriverapi.StatusIdle
				err := r.ping(ctx, r.Config)
				if err != nil {
					status = benchdriverapi.StatusDisconnected
				}
				r.chRet <- healthResponse{StatusCode: status, Error: err}

			case worker.Task:
				if active != nil {
					r.chRet <- benchdriverapi.ErrorBusy(fmt.Errorf("%w with task %q", ErrBusy, active.name))
					continue
				}

				taskCtx, cancel := context.WithCancel(ctx)
				active = &taskState{name: cmd.Name, started: time.Now(), cancel: cancel}
				lastResult = nil
				lastName = cmd.Name
				taskCh = make(chan benchdriverapi.Result[any], 1)
				r.chRet <- nil

				log.WithField("task", cmd.Name).Info("starting task, worker is now busy")

				wg.Add(1)
				go func(ch chan<- benchdriverapi.Result[any]) {
					defer wg.Done()

					v, err := func() (v any, err error) {
						defer recoverError(&err)
						return cmd.Task(taskCtx)
					}()
					ch <- benchdriverapi.Result[any]{Value: v, Error: err}
				}(taskCh)
			}
		}
	}
}

func (w *Runner) Healthcheck(ctx context.Context) (benchdriverapi.StatusCode, error) {
	select {
	case w.ch <- healthCommand{}:
		resp := castNotNil[healthResponse](<-w.chRet)
		return resp.StatusCode, resp.Error
	case <-ctx.Done():
		return benchdriverapi.StatusDisconnected, ctx.Err()
	}
}

func (w *Runner) Status(ctx context.Context) (status benchdriverapi.WorkerStatus[benchdriverapi.Result[any]]) {
	select {
	case w.ch <- statusCommand{}:
		return castNotNil[benchdriverapi.WorkerStatus[benchdriverapi.Result[any]]](<-w.chRet)
	case <-ctx.Done():
		return status
	}
}

func (w *Runner) CancelActive(ctx context.Context) error {
	select {
	case w.ch <- stopCommand{}:
		return castNotNil[error](<-w.chRet)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BenchmarkWorker turns the tasks of a factory into runner commands.
type BenchmarkWorker[Config any] struct {
	*Runner
	factory worker.TaskFactory[Config]
}

func NewBenchmarkWorker[Config any](r *Runner, f worker.TaskFactory[Config]) *BenchmarkWorker[Config] {
	return &BenchmarkWorker[Config]{Runner: r, factory: f}
}

func (w *BenchmarkWorker[Config]) Prepare(ctx context.Context, cfg Config) error {
	cmd, err := w.factory.Prepare(cfg)
	if err != nil {
		return benchdriverapi.ErrorBadRequest(err)
	}
	return w.sendTask(ctx, cmd)
}

func (w *BenchmarkWorker[Config]) Cleanup(ctx context.Context) error {
	cmd, err := w.factory.Cleanup()
	if err != nil {
		return err
	}
	return w.sendTask(ctx, cmd)
}

func (w *BenchmarkWorker[Config]) Run(ctx context.Context, cfg Config) error {
	t, err := w.factory.Run(cfg)
	if err != nil {
		return benchdriverapi.ErrorBadRequest(err)
	}
	return w.sendTask(ctx, t)
}

func (w *BenchmarkWorker[Config]) sendTask(ctx context.Context, cmd worker.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ready, err := cmd.IsReady(ctx)
	if err == nil && !ready {
		err = errors.New("system under test not ready")
	}
	if err != nil {
		return benchdriverapi.ErrorUnavailable(fmt.Errorf("task %q: %w", cmd.Name, err))
	}

	select {
	case w.ch <- cmd:
		return castNotNil[error](<-w.chRet)
	case <-ctx.Done():
		return ctx.Err()
	}
}

type (
	stopCommand    struct{}
	statusCommand  struct{}
	healthCommand  struct{}
	healthResponse struct {
		StatusCode benchdriverapi.StatusCode
		Error      error
	}
)

func castNotNil[T any](v any) (zero T) {
	if v == nil {
		return zero
	}
	ret, ok := v.(T)
	if !ok {
		panic(fmt.Errorf("unexpected type %T, expected %T", v, zero))
	}
	return ret
}

func recoverError(err *error) {
	if r := recover(); r != nil {
		log.Errorf("runner: recovered from panic: %v\n%s", r, debug.Stack())

		if *err == nil {
			if e, ok := r.(error); ok {
				*err = e
			} else {
				*err = fmt.Errorf("%v", r)
			}
		}
	}
}
