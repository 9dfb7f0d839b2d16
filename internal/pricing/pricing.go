// Package pricing looks up current token prices from the DefiLlama coins API.
package pricing

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/LukasBures/olynthus/internal/cache"
	"github.com/LukasBures/olynthus/internal/chain"
	"github.com/LukasBures/olynthus/internal/logging"
	"github.com/LukasBures/olynthus/internal/upstream"
)

// PriceTTL is how long a price is reused.
const PriceTTL = time.Hour

// Price is the DefiLlama record of one coin. Decimals is nil when DefiLlama
// does not know them.
type Price struct {
	Price    float64 `json:"price"`
	Decimals *int    `json:"decimals,omitempty"`
	Symbol   string  `json:"symbol"`
}

type coinsResponse struct {
	Coins map[string]Price `json:"coins"`
}

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	http    *upstream.Client
	cache   *cache.TTL[*Price]
	logger  *slog.Logger
}

// New creates a client for baseURL, e.g. https://coins.llama.fi/.
func New(baseURL string, http *upstream.Client, logger *slog.Logger) *Client {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Client{
		baseURL: baseURL,
		http:    http,
		cache:   cache.New[*Price](),
		logger:  logging.Component(logger, "pricing"),
	}
}

// CoinID is the DefiLlama identifier of a token, e.g. "ethereum:0xc02a...".
func CoinID(c chain.Chain, token string) string {
	return chain.ExternalName(c) + ":" + strings.ToLower(token)
}

// CurrentPrice returns the current price of token. ok is false when the
// price is unknown or the lookup failed.
func (c *Client) CurrentPrice(ctx context.Context, ch chain.Chain, token string) (Price, bool) {
	id := CoinID(ch, token)
	p, _, err := c.cache.GetOrLoad(ctx, id, PriceTTL, func(ctx context.Context) (*Price, error) {
		var resp coinsResponse
		if err := c.http.GetJSON(ctx, c.baseURL+"prices/current/"+id, &resp); err != nil {
			return nil, err
		}
		if price, ok := resp.Coins[id]; ok {
			return &price, nil
		}
		return nil, nil
	})
	if err != nil {
		c.logger.Warn("price lookup failed", "coin", id, "error", err)
		return Price{}, false
	}
	if p == nil {
		return Price{}, false
	}
	return *p, true
}
