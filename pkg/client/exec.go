package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"slices"
	"sync"

	"github.com/cenkalti/backoff/v5"
	dto "github.com/prometheus/client_model/go"

	"txbench/api/benchdriverapi"
)

type Benchmarks struct {
	parent *Client
}

type ExecConfig struct {
	Name      string         `yaml:"name" json:"name" toml:"name"`
	Benchmark string         `yaml:"benchmark" json:"benchmark" toml:"benchmark"`
	Endpoints []string       `yaml:"endpoints" json:"endpoints" toml:"endpoints"`
	Config    map[string]any `yaml:"config" json:"config" toml:"config"`
}

// BenchmarkInstance runs one benchmark on all workers of an ExecConfig.
// Every worker runs its own terminals, data loading and cleanup happen on the
// first worker only as all workers share the system under test.
type BenchmarkInstance struct {
	parent *Client
	config ExecConfig
	urls   []*url.URL
}

func (b *Benchmarks) Access(cfg ExecConfig) (*BenchmarkInstance, error) {
	if cfg.Benchmark == "" {
		return nil, errors.New("no benchmark configured")
	}
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("no worker endpoints configured")
	}

	urls := make([]*url.URL, len(cfg.Endpoints))
	for i, endpoint := range cfg.Endpoints {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("parse endpoint %q: %w", endpoint, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("endpoint %q must be an absolute URL", endpoint)
		}
		urls[i] = u
	}

	return &BenchmarkInstance{
		parent: b.parent,
		config: cfg,
		urls:   urls,
	}, nil
}

func (inst *BenchmarkInstance) NumEndpoints() int {
	return len(inst.urls)
}

func (inst *BenchmarkInstance) Config() ExecConfig {
	return inst.config
}

func (inst *BenchmarkInstance) EachURL() iter.Seq[*url.URL] {
	return slices.Values(inst.urls)
}

func (inst *BenchmarkInstance) primaryURL() iter.Seq[*url.URL] {
	return slices.Values(inst.urls[:1])
}

// Healthcheck reports whether every worker is reachable and idle.
func (inst *BenchmarkInstance) Healthcheck(ctx context.Context) (idle bool, err error) {
	idle = true
	var mu sync.Mutex

	err = eachParallel(inst.EachURL()).Do(ctx, func(ctx context.Context, u *url.URL) error {
		workerStatus, err := getJSON[benchdriverapi.StatusCode](ctx, inst.parent.httpClient, u.JoinPath("healthz"))
		if err != nil {
			return err
		}

		if workerStatus != benchdriverapi.StatusIdle {
			mu.Lock()
			defer mu.Unlock()
			idle = false
		}
		return nil
	})
	return idle, err
}

func (inst *BenchmarkInstance) Status(ctx context.Context) ([]benchdriverapi.APIWorkerStatus, error) {
	collector := runResultCollector[benchdriverapi.APIWorkerStatus]{
		client: inst.parent,
		path:   []string{"status"},
	}
	return collector.Collect(ctx, inst.EachURL(), false)
}

func (inst *BenchmarkInstance) Metrics(ctx context.Context) ([]map[string]*dto.MetricFamily, error) {
	collector := runResultCollector[map[string]*dto.MetricFamily]{
		client:  inst.parent,
		path:    []string{"metrics"},
		Decoder: PromDecoder,
	}
	return collector.Collect(ctx, inst.EachURL(), false)
}

func (inst *BenchmarkInstance) Prepare(ctx context.Context) error {
	return inst.postWork(ctx, inst.primaryURL(), "prepare", inst.config.Config)
}

func (inst *BenchmarkInstance) Run(ctx context.Context) error {
	return inst.postWork(ctx, inst.EachURL(), "run", inst.config.Config)
}

func (inst *BenchmarkInstance) Cleanup(ctx context.Context) error {
	return inst.postWork(ctx, inst.primaryURL(), "cleanup", nil)
}

// Cancel stops the active task of every worker.
func (inst *BenchmarkInstance) Cancel(ctx context.Context) error {
	return inst.post(ctx, inst.EachURL(), "work/stop", nil)
}

// WaitIdle blocks until every worker finished its active task.
func (inst *BenchmarkInstance) WaitIdle(ctx context.Context) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		idle, err := inst.Healthcheck(ctx)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if !idle {
			return struct{}{}, ErrBusy
		}
		return struct{}{}, nil
	}, inst.parent.pollOptions()...)
	return err
}

func (inst *BenchmarkInstance) postWork(ctx context.Context, urls iter.Seq[*url.URL], path string, body any) error {
	return inst.post(ctx, urls, fmt.Sprintf("work/%s/%s", inst.config.Benchmark, path), body)
}

func (inst *BenchmarkInstance) post(ctx context.Context, urls iter.Seq[*url.URL], path string, body any) error {
	return eachParallel(urls).Do(ctx, func(ctx context.Context, u *url.URL) error {
		return postJSON(ctx, inst.parent.httpClient, u.JoinPath(path), body)
	})
}

func (c *Client) pollOptions() []backoff.RetryOption {
	return []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewConstantBackOff(c.pollInterval)),
		// bounded by the context only
		backoff.WithMaxElapsedTime(0),
	}
}

func getJSON[T any](ctx context.Context, client *http.Client, u *url.URL) (v T, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return v, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return v, fmt.Errorf("get %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return v, responseError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return v, fmt.Errorf("decode response of %s: %w", u, err)
	}
	return v, nil
}
