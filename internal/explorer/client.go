// Package explorer is a cached, rate-limited client for etherscan-compatible
// block-explorer APIs (contract source, token info, contract creation).
package explorer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/LukasBures/olynthus/internal/cache"
	"github.com/LukasBures/olynthus/internal/logging"
	"github.com/LukasBures/olynthus/internal/metrics"
	"github.com/LukasBures/olynthus/internal/ratelimit"
)

const maxBodyBytes = 8 << 20

// Client talks to one explorer endpoint. Safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	cache   *cache.TTL[[]byte]
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLimiter shares a limiter between clients. Requests are keyed by base URL.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithCache shares a response cache between clients.
func WithCache(tc *cache.TTL[[]byte]) Option {
	return func(c *Client) { c.cache = tc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = logging.Component(l, "explorer") }
}

// New creates a client for baseURL (e.g. https://api.etherscan.io/api).
// Without WithLimiter the client gets its own 5 requests per second ceiling.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
		cache:   cache.New[[]byte](),
		logger:  logging.Component(nil, "explorer"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.limiter == nil {
		c.limiter = ratelimit.New(ratelimit.ExplorerConfig(0, 0))
	}
	return c
}

// BaseURL returns the endpoint the client queries.
func (c *Client) BaseURL() string { return c.baseURL }

// ContractDetails fetches the verification record of address. For proxies
// the ABI comes from the implementation while the name stays the proxy's.
func (c *Client) ContractDetails(ctx context.Context, address string) (*ContractDetails, error) {
	address = strings.ToLower(address)
	src, err := c.sourceCode(ctx, address)
	if err != nil {
		return nil, err
	}

	d := &ContractDetails{
		Name:     src.ContractName,
		Verified: src.ABI != notVerified,
	}

	impl := strings.ToLower(src.Implementation)
	if impl != "" && impl != address {
		d.Implementation = impl
		implSrc, err := c.sourceCode(ctx, impl)
		if err != nil {
			c.logger.Debug("implementation lookup failed", "address", address, "implementation", impl, "error", err)
		} else if implSrc.ABI != notVerified {
			d.ABI = c.parseABI(implSrc.ABI, impl)
		}
		return d, nil
	}

	if d.Verified {
		d.ABI = c.parseABI(src.ABI, address)
	}
	return d, nil
}

// TokenInfo fetches token metadata. On any failure it returns UnknownToken
// together with the error, so callers can proceed with partial information.
func (c *Client) TokenInfo(ctx context.Context, address string) (TokenInfo, error) {
	address = strings.ToLower(address)
	params := url.Values{
		"module":          {"token"},
		"action":          {"tokeninfo"},
		"contractaddress": {address},
	}
	var infos []tokenInfo
	if err := c.query(ctx, "tokeninfo", params, cache.TokenInfoTTL, &infos); err != nil {
		return UnknownToken(address), err
	}
	if len(infos) == 0 {
		return UnknownToken(address), ErrUnknown
	}
	return infos[0].toTokenInfo(address), nil
}

// ContractCreation fetches the creation records of up to five contracts.
func (c *Client) ContractCreation(ctx context.Context, addresses ...string) ([]Creation, error) {
	lower := make([]string, len(addresses))
	for i, a := range addresses {
		lower[i] = strings.ToLower(a)
	}
	params := url.Values{
		"module":            {"contract"},
		"action":            {"getcontractcreation"},
		"contractaddresses": {strings.Join(lower, ",")},
	}
	var out []Creation
	if err := c.query(ctx, "getcontractcreation", params, cache.ContractCreationTTL, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) sourceCode(ctx context.Context, address string) (sourceCode, error) {
	params := url.Values{
		"module":  {"contract"},
		"action":  {"getsourcecode"},
		"address": {address},
	}
	var res []sourceCode
	if err := c.query(ctx, "getsourcecode", params, cache.ContractSourceTTL, &res); err != nil {
		return sourceCode{}, err
	}
	if len(res) == 0 {
		return sourceCode{}, ErrUnknown
	}
	return res[0], nil
}

func (c *Client) parseABI(raw, address string) *abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		c.logger.Debug("unparsable ABI", "address", address, "error", err)
		return nil
	}
	return &parsed
}

// query fetches a cached body and decodes the result of a status "1" envelope into out.
func (c *Client) query(ctx context.Context, action string, params url.Values, ttl time.Duration, out any) error {
	body, err := c.get(ctx, action, params, ttl)
	if err != nil {
		return err
	}

	var env envelope[json.RawMessage]
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrUnknown, action, err)
	}
	if env.Status != "1" {
		return fmt.Errorf("%w: %s: %s", ErrUnknown, action, env.Message)
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("%w: decode %s result: %v", ErrUnknown, action, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, action string, params url.Values, ttl time.Duration) ([]byte, error) {
	key := cache.Key(c.baseURL, params)

	body, hit, err := c.cache.GetOrLoad(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		waited, err := c.limiter.Wait(ctx, c.baseURL)
		metrics.ExplorerThrottleWait.Observe(waited.Seconds())
		if err != nil {
			return nil, err
		}
		return c.fetch(ctx, params)
	})

	switch {
	case err != nil:
		metrics.ExplorerRequestsTotal.WithLabelValues(action, "error").Inc()
		c.logger.Warn("explorer request failed", "action", action, "error", err)
	case hit:
		metrics.ExplorerRequestsTotal.WithLabelValues(action, "hit").Inc()
	default:
		metrics.ExplorerRequestsTotal.WithLabelValues(action, "miss").Inc()
	}
	return body, err
}

func (c *Client) fetch(ctx context.Context, params url.Values) ([]byte, error) {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	if c.apiKey != "" {
		q.Set("apikey", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("explorer request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: explorer returned status %d", ErrUnknown, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}
