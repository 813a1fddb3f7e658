package poller

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxResponseBodySize = 1 << 20 // 1MB

// connection pooling limits to prevent resource exhaustion when probing many targets
const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 10
	defaultIdleConnTimeout     = 60 * time.Second // conservative: matches common ALB defaults
)

// Outcome holds the result of a single probe made by [Client].
type Outcome struct {
	// OK is true when a response was received and its body read, whatever
	// the HTTP status code.
	OK bool

	// StatusCode is the HTTP status code. Zero if no response was received.
	StatusCode int

	// Latency is the wall time from request start to body read or failure.
	Latency time.Duration

	// Err describes the failure when OK is false.
	Err error

	// CheckedAt is when the probe completed.
	CheckedAt time.Time
}

// Prober performs one bounded-timeout probe of a URL.
type Prober interface {
	Probe(ctx context.Context, url string, timeout time.Duration) Outcome
}

// Client is an HTTP client wrapper optimized for probing health endpoints.
//
// Client uses per-request timeouts via context rather than a global timeout.
// Response bodies are drained up to 1MB so connections can be reused.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a new probing [Client].
//
// Connection pooling configuration:
//   - MaxIdleConns: 100 total idle connections
//   - MaxIdleConnsPerHost: 10 idle connections per host
//   - MaxConnsPerHost: 10 concurrent connections per host
//   - IdleConnTimeout: 60 seconds before closing idle connections
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{
			// no default timeout - we use per-request timeouts via context
			Transport: &http.Transport{
				MaxIdleConns:        defaultMaxIdleConns,
				MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
				MaxConnsPerHost:     defaultMaxConnsPerHost,
				IdleConnTimeout:     defaultIdleConnTimeout,
				DisableKeepAlives:   false,
			},
		},
	}
}

// Probe issues a GET to url and reports whether a response arrived within
// timeout. Any HTTP status counts as reachable; transport errors, timeouts
// and body read failures do not.
//
// Probe always returns an Outcome; errors are captured in Outcome.Err.
func (c *Client) Probe(ctx context.Context, url string, timeout time.Duration) Outcome {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	fail := func(code int, err error) Outcome {
		return Outcome{
			StatusCode: code,
			Latency:    time.Since(start),
			Err:        err,
			CheckedAt:  time.Now(),
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fail(0, fmt.Errorf("failed to create request: %w", err))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fail(0, fmt.Errorf("request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBodySize)); err != nil {
		return fail(resp.StatusCode, fmt.Errorf("failed to read response body: %w", err))
	}

	return Outcome{
		OK:         true,
		StatusCode: resp.StatusCode,
		Latency:    time.Since(start),
		CheckedAt:  time.Now(),
	}
}

// Close closes all idle connections in the client's connection pool.
//
// Safe to call multiple times. After Close, the client remains usable but
// new connections will be established as needed.
func (c *Client) Close() {
	if c == nil || c.httpClient == nil {
		return
	}
	if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}
