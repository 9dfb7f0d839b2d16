// Package upstream is the JSON HTTP client shared by the price, NFT and
// simulation collaborators. Each service gets its own circuit, bounded
// retries on transport errors and 5xx responses, and request metrics.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/LukasBures/olynthus/internal/circuitbreaker"
	"github.com/LukasBures/olynthus/internal/logging"
	"github.com/LukasBures/olynthus/internal/metrics"
	"github.com/LukasBures/olynthus/internal/retry"
)

// ErrCircuitOpen is returned without calling the service while its circuit
// is open.
var ErrCircuitOpen = circuitbreaker.ErrOpen

const (
	maxBodyBytes = 4 << 20

	defaultTimeout          = 10 * time.Second
	defaultFailureThreshold = 5
	defaultCooldown         = 30 * time.Second
)

// StatusError is a non-2xx response. Body holds the (bounded) response body.
type StatusError struct {
	Service string
	Status  int
	Body    []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s: status %d", e.Service, e.Status)
}

// Client calls one upstream service. Safe for concurrent use.
type Client struct {
	service string
	http    *http.Client
	breaker *circuitbreaker.Breaker
	policy  retry.Policy
	header  http.Header
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithBreaker shares a breaker between clients. Circuits are keyed by service.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// WithRetry overrides retry.DefaultPolicy.
func WithRetry(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.header.Set(key, value) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = logging.Component(l, "upstream").With("service", c.service) }
}

// New creates a client for service, the label used for circuits, logs and
// metrics.
func New(service string, opts ...Option) *Client {
	c := &Client{
		service: service,
		http:    &http.Client{Timeout: defaultTimeout},
		policy:  retry.DefaultPolicy,
		header:  make(http.Header),
		logger:  logging.Component(nil, "upstream").With("service", service),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = circuitbreaker.New(defaultFailureThreshold, defaultCooldown)
	}
	return c
}

// Service returns the service label.
func (c *Client) Service() string { return c.service }

// GetJSON fetches url and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	return c.do(ctx, http.MethodGet, url, nil, out)
}

// PostJSON posts body as JSON and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("upstream %s: encode request: %w", c.service, err)
	}
	return c.do(ctx, http.MethodPost, url, payload, out)
}

func (c *Client) do(ctx context.Context, method, url string, payload []byte, out any) error {
	err := c.breaker.Execute(c.service, func() error {
		return retry.Do(ctx, c.policy, func(ctx context.Context) error {
			return c.attempt(ctx, method, url, payload, out)
		})
	}, countable)

	outcome := metrics.Outcome(err)
	if errors.Is(err, ErrCircuitOpen) {
		outcome = "circuit_open"
	}
	metrics.UpstreamRequestsTotal.WithLabelValues(c.service, outcome).Inc()
	if err != nil {
		c.logger.Debug("upstream request failed", "method", method, "url", url, "error", err)
	}
	return err
}

func (c *Client) attempt(ctx context.Context, method, url string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return retry.Permanent(fmt.Errorf("upstream %s: build request: %w", c.service, err))
	}
	for k, v := range c.header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upstream %s: %w", c.service, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("upstream %s: read body: %w", c.service, err)
	}
	if resp.StatusCode >= 300 {
		se := &StatusError{Service: c.service, Status: resp.StatusCode, Body: data}
		if resp.StatusCode >= 500 {
			return se
		}
		return retry.Permanent(se)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return retry.Permanent(fmt.Errorf("upstream %s: decode response: %w", c.service, err))
	}
	return nil
}

// countable keeps client errors (4xx) from opening the circuit.
func countable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status >= 500
	}
	return true
}
