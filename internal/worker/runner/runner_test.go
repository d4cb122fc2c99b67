package runner

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"txbench/api/benchdriverapi"
	"txbench/internal/worker"
)

func startRunner(t *testing.T, ping func(context.Context, worker.Config) error) *Runner {
	t.Helper()
	r := New(worker.Config{Driver: worker.DriverSim})
	if ping != nil {
		r.ping = ping
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return r
}

func waitIdle(t *testing.T, r *Runner) benchdriverapi.APIWorkerStatus {
	t.Helper()
	var status benchdriverapi.APIWorkerStatus
	require.Eventually(t, func() bool {
		status = r.Status(context.Background())
		return status.Code == benchdriverapi.StatusIdle
	}, 5*time.Second, 5*time.Millisecond)
	return status
}

type taskFactory struct {
	task  func(context.Context) (any, error)
	ready func(context.Context) (bool, error)
}

func (f taskFactory) Prepare(string) (worker.Task, error) {
	return worker.Task{}, errors.New("invalid config")
}

func (f taskFactory) Cleanup() (worker.Task, error) {
	return worker.Task{Name: "test/cleanup", Task: f.task}, nil
}

func (f taskFactory) Run(string) (worker.Task, error) {
	return worker.Task{Name: "test/run", Task: f.task, CheckReady: f.ready}, nil
}

func TestRunnerTaskLifecycle(t *testing.T) {
	r := startRunner(t, nil)
	ctx := context.Background()

	release := make(chan struct{})
	w := NewBenchmarkWorker[string](r, taskFactory{task: func(ctx context.Context) (any, error) {
		<-release
		return "done", nil
	}})

	require.NoError(t, w.Run(ctx, "cfg"))
	status := r.Status(ctx)
	assert.Equal(t, benchdriverapi.StatusBusy, status.Code)
	assert.Equal(t, benchdriverapi.TaskName("test/run"), status.Task)

	code, err := r.Healthcheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, benchdriverapi.StatusBusy, code)

	err = w.Cleanup(ctx)
	require.ErrorIs(t, err, ErrBusy)
	var se *benchdriverapi.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusConflict, se.StatusCode())

	close(release)
	status = waitIdle(t, r)
	require.NotNil(t, status.Last)
	require.NoError(t, status.Last.Error)
	assert.Equal(t, "done", status.Last.Value)
}

func TestRunnerCancelActive(t *testing.T) {
	r := startRunner(t, nil)
	ctx := context.Background()

	w := NewBenchmarkWorker[string](r, taskFactory{task: func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}})
	require.NoError(t, w.Run(ctx, "cfg"))
	require.NoError(t, r.CancelActive(ctx))

	status := waitIdle(t, r)
	require.NotNil(t, status.Last)
	require.ErrorIs(t, status.Last.Error, context.Canceled)

	// cancelling an idle runner is a no-op
	require.NoError(t, r.CancelActive(ctx))
}

func TestRunnerRecoversPanic(t *testing.T) {
	r := startRunner(t, nil)
	ctx := context.Background()

	w := NewBenchmarkWorker[string](r, taskFactory{task: func(ctx context.Context) (any, error) {
		panic("boom")
	}})
	require.NoError(t, w.Run(ctx, "cfg"))

	status := waitIdle(t, r)
	require.NotNil(t, status.Last)
	require.EqualError(t, status.Last.Error, "boom")
}

func TestRunnerRejectsInvalidConfig(t *testing.T) {
	r := startRunner(t, nil)

	w := NewBenchmarkWorker[string](r, taskFactory{})
	err := w.Prepare(context.Background(), "cfg")

	var se *benchdriverapi.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.StatusCode())
	assert.Equal(t, benchdriverapi.StatusIdle, r.Status(context.Background()).Code)
}

func TestRunnerHealthcheck(t *testing.T) {
	pingErr := errors.New("connection refused")
	r := startRunner(t, func(context.Context, worker.Config) error { return pingErr })

	code, err := r.Healthcheck(context.Background())
	require.ErrorIs(t, err, pingErr)
	assert.Equal(t, benchdriverapi.StatusDisconnected, code)

	r = startRunner(t, nil)
	code, err = r.Healthcheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, benchdriverapi.StatusIdle, code)
}

func TestRunnerRejectsTaskWhenNotReady(t *testing.T) {
	r := startRunner(t, nil)
	started := false
	for name, ready := range map[string]func(context.Context) (bool, error){
		"not ready": func(context.Context) (bool, error) { return false, nil },
		"error":     func(context.Context) (bool, error) { return false, errors.New("connection refused") },
	} {
		t.Run(name, func(t *testing.T) {
			w := NewBenchmarkWorker[string](r, taskFactory{
				task: func(context.Context) (any, error) {
					started = true
					return nil, nil
				},
				ready: ready,
			})

			err := w.Run(context.Background(), "")
			var se *benchdriverapi.StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, http.StatusServiceUnavailable, se.Code)
			assert.Equal(t, benchdriverapi.StatusIdle, r.Status(context.Background()).Code)
		})
	}
	assert.False(t, started)
}
