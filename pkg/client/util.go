package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"sync"

	"github.com/cenkalti/backoff/v5"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"golang.org/x/sync/errgroup"

	"txbench/api/benchdriverapi"
)

var ErrBusy = errors.New("worker is busy")

// StatusError is returned for non 200 worker responses.
type StatusError struct {
	URL     string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request to %s failed (%d): %s", e.URL, e.Code, e.Message)
}

func responseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	msg := string(bytes.TrimSpace(body))
	var doc struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &doc) == nil && doc.Error != "" {
		msg = doc.Error
	}

	err := &StatusError{URL: resp.Request.URL.String(), Code: resp.StatusCode, Message: msg}
	if resp.StatusCode == http.StatusConflict {
		return errors.Join(ErrBusy, err)
	}
	return err
}

func postJSON(ctx context.Context, client *http.Client, u *url.URL, body any) error {
	var bodyReader io.Reader
	if body != nil {
		rawBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(rawBody)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bodyReader)
	if err != nil {
		return err
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}
	return nil
}

type parallelExec[T any] struct {
	iter iter.Seq[T]
}

// Do runs fn for every item and joins all errors. A failing item does not
// stop the others.
func (e parallelExec[T]) Do(ctx context.Context, fn func(context.Context, T) error) error {
	var errs []error
	var mu sync.Mutex
	var eg errgroup.Group

	for item := range e.iter {
		eg.Go(func() error {
			if err := fn(ctx, item); err != nil {
				mu.Lock()
				defer mu.Unlock()
				errs = append(errs, err)
			}
			return nil
		})
	}

	eg.Wait()
	return errors.Join(errs...)
}

func eachParallel[T any](iter iter.Seq[T]) parallelExec[T] {
	return parallelExec[T]{iter: iter}
}

type runResultCollector[T any] struct {
	client   *Client
	path     []string
	Validate func(T) error
	Decoder  func(io.Reader) (T, error)
}

func JSONDecoder[T any](body io.Reader) (v T, err error) {
	err = json.NewDecoder(body).Decode(&v)
	return v, err
}

func PromDecoder(body io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	return parser.TextToMetricFamilies(body)
}

// Collect fetches one document per URL. The result keeps the order of urls.
// With wait set, workers answering with ErrBusy are polled until they are
// done.
func (c *runResultCollector[T]) Collect(ctx context.Context, urls iter.Seq[*url.URL], wait bool) ([]T, error) {
	var all []*url.URL
	for u := range urls {
		all = append(all, u)
	}
	report := make([]T, len(all))

	indexed := func(yield func(int) bool) {
		for i := range all {
			if !yield(i) {
				return
			}
		}
	}

	err := eachParallel(iter.Seq[int](indexed)).Do(ctx, func(ctx context.Context, i int) error {
		fetch := func() (T, error) {
			v, err := c.fetch(ctx, all[i])
			if err != nil && !errors.Is(err, ErrBusy) {
				return v, backoff.Permanent(err)
			}
			return v, err
		}

		var err error
		if wait {
			report[i], err = backoff.Retry(ctx, fetch, c.client.pollOptions()...)
		} else {
			report[i], err = c.fetch(ctx, all[i])
		}
		return err
	})
	return report, err
}

func (c *runResultCollector[T]) fetch(ctx context.Context, u *url.URL) (v T, err error) {
	if len(c.path) > 0 {
		u = u.JoinPath(c.path...)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return v, err
	}
	resp, err := c.client.httpClient.Do(req)
	if err != nil {
		return v, fmt.Errorf("get %s: %w", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return v, responseError(resp)
	}

	decode := c.Decoder
	if decode == nil {
		decode = JSONDecoder[T]
	}
	if v, err = decode(resp.Body); err != nil {
		return v, fmt.Errorf("decode response of %s: %w", u, err)
	}

	if c.Validate != nil {
		if err := c.Validate(v); err != nil {
			return v, err
		}
	}
	return v, nil
}

func ValidateStatus[T any](opName benchdriverapi.TaskName, allowError bool) func(benchdriverapi.WorkerStatus[benchdriverapi.Result[T]]) error {
	return func(status benchdriverapi.WorkerStatus[benchdriverapi.Result[T]]) error {
		if status.Code == benchdriverapi.StatusBusy {
			return ErrBusy
		}
		if status.Task == "" {
			return errors.New("no benchmark task results found")
		}
		if status.Task != opName {
			return fmt.Errorf("no %s status found, last task is %s", opName, status.Task)
		}
		if status.Last == nil {
			return fmt.Errorf("%v finished without results", opName)
		}
		if status.Last.Error != nil && !allowError {
			return fmt.Errorf("op %v: last task failed: %s", opName, status.Last.Error)
		}
		return nil
	}
}
