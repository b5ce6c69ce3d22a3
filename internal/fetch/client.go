// Package fetch provides a hardened JSON-over-HTTP client with a per-attempt
// timeout and exponential-backoff retry.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/trackside-presence/internal/backoff"
	"github.com/couchcryptid/trackside-presence/internal/observability"
)

const (
	DefaultMaxRetries   = 3
	DefaultInitialDelay = time.Second
	DefaultTimeout      = 10 * time.Second
)

// ErrMalformed marks a 2xx response whose body could not be decoded. It is
// not retried.
var ErrMalformed = errors.New("malformed response")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Client issues GET requests and decodes JSON responses, retrying failed
// attempts. It holds no per-call state and is safe for concurrent use.
type Client struct {
	httpClient   *http.Client
	maxRetries   int
	initialDelay time.Duration
	timeout      time.Duration
	userAgent    string
	clock        clockwork.Clock
	metrics      *observability.Metrics
	logger       *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.httpClient = hc } }

// WithMaxRetries sets the total number of attempts.
func WithMaxRetries(n int) Option { return func(c *Client) { c.maxRetries = n } }

// WithInitialDelay sets the delay after the first failed attempt; it doubles
// after each subsequent failure.
func WithInitialDelay(d time.Duration) Option { return func(c *Client) { c.initialDelay = d } }

// WithTimeout sets the hard timeout applied to each attempt.
func WithTimeout(d time.Duration) Option { return func(c *Client) { c.timeout = d } }

func WithUserAgent(ua string) Option { return func(c *Client) { c.userAgent = ua } }

func WithClock(clk clockwork.Clock) Option { return func(c *Client) { c.clock = clk } }

func WithMetrics(m *observability.Metrics) Option { return func(c *Client) { c.metrics = m } }

func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// New creates a Client with 3 attempts, a 1s initial delay, and a 10s
// per-attempt timeout unless overridden.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient:   &http.Client{},
		maxRetries:   DefaultMaxRetries,
		initialDelay: DefaultInitialDelay,
		timeout:      DefaultTimeout,
		clock:        clockwork.NewRealClock(),
		logger:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxRetries < 1 {
		c.maxRetries = 1
	}
	return c
}

// GetJSON fetches rawURL and decodes the JSON body into out. Non-2xx statuses
// and transport failures are retried up to the configured attempt count with
// exponential backoff; the last error is returned. ctx bounds the whole call,
// including backoff waits.
func (c *Client) GetJSON(ctx context.Context, rawURL string, header http.Header, out any) error {
	delay := c.initialDelay
	var lastErr error

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		err := c.do(ctx, rawURL, header, out)
		if err == nil {
			c.observe("success")
			return nil
		}
		lastErr = err

		if errors.Is(err, ErrMalformed) {
			c.observe("malformed")
			return err
		}
		if ctx.Err() != nil {
			c.observe("cancelled")
			return err
		}
		if attempt == c.maxRetries {
			c.observe("failed")
			break
		}

		c.observe("retry")
		c.logger.Warn("fetch attempt failed, retrying",
			"url", rawURL,
			"attempt", attempt,
			"max_attempts", c.maxRetries,
			"delay", delay,
			"error", err,
		)
		if !backoff.Sleep(ctx, c.clock, delay) {
			return fmt.Errorf("retry aborted: %w (last error: %v)", ctx.Err(), lastErr)
		}
		delay = backoff.Next(delay, 0)
	}

	return lastErr
}

// do performs a single attempt under its own timeout so that backoff waits
// never consume it.
func (c *Client) do(ctx context.Context, rawURL string, header http.Header, out any) error {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", req.URL.Redacted(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if attemptCtx.Err() != nil {
			return fmt.Errorf("read body: %w", attemptCtx.Err())
		}
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func (c *Client) observe(outcome string) {
	if c.metrics == nil {
		return
	}
	c.metrics.FetchAttempts.WithLabelValues(outcome).Inc()
}
