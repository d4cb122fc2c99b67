package client

import (
	"net/http"
	"time"
)

const DefaultPollInterval = 10 * time.Second

// Client talks to a set of benchdriver workers over HTTP.
type Client struct {
	httpClient   *http.Client
	pollInterval time.Duration
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithPollInterval sets how often busy workers are polled while waiting.
func WithPollInterval(d time.Duration) Option {
	return func(cl *Client) { cl.pollInterval = d }
}

func New(opts ...Option) *Client {
	c := &Client{
		httpClient:   &http.Client{Timeout: time.Minute},
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

func (c *Client) BenchmarkExec() *Benchmarks {
	return &Benchmarks{parent: c}
}
