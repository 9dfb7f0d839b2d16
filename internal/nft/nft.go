// Package nft fetches NFT metadata and collection floor prices from the
// SimpleHash API.
package nft

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/LukasBures/olynthus/internal/cache"
	"github.com/LukasBures/olynthus/internal/chain"
	"github.com/LukasBures/olynthus/internal/logging"
	"github.com/LukasBures/olynthus/internal/units"
	"github.com/LukasBures/olynthus/internal/upstream"
)

// DetailsTTL is how long NFT details are reused.
const DetailsTTL = time.Hour

// FloorMarketplace is the marketplace whose floor price is used.
const FloorMarketplace = "opensea"

// Details describes one NFT. FloorPrice is in FloorPriceToken units.
type Details struct {
	Contract        string
	TokenID         string
	Name            string
	ImageURL        string
	FloorPrice      float64
	FloorPriceToken string
}

type nftResponse struct {
	Contract struct {
		Symbol string `json:"symbol"`
	} `json:"contract"`
	Previews struct {
		ImageSmallURL string `json:"image_small_url"`
	} `json:"previews"`
	Collection struct {
		FloorPrices []struct {
			MarketplaceID string      `json:"marketplace_id"`
			Value         json.Number `json:"value"`
			PaymentToken  struct {
				Symbol   string `json:"symbol"`
				Decimals int    `json:"decimals"`
			} `json:"payment_token"`
		} `json:"floor_prices"`
	} `json:"collection"`
}

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	http    *upstream.Client
	cache   *cache.TTL[Details]
	logger  *slog.Logger
}

// New creates a client for baseURL, e.g. https://api.simplehash.com/api/v0/nfts.
// The API key travels as an X-API-KEY header set on http.
func New(baseURL string, http *upstream.Client, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    http,
		cache:   cache.New[Details](),
		logger:  logging.Component(logger, "nft"),
	}
}

// Details returns the metadata of one token. Without an opensea floor the
// floor price is 0 in the chain's native currency. ok is false on failure.
func (c *Client) Details(ctx context.Context, ch chain.Chain, contract, tokenID string) (Details, bool) {
	contract = strings.ToLower(contract)
	u := c.baseURL + "/" + chain.ExternalName(ch) + "/" + contract + "/" + tokenID

	d, _, err := c.cache.GetOrLoad(ctx, u, DetailsTTL, func(ctx context.Context) (Details, error) {
		var resp nftResponse
		if err := c.http.GetJSON(ctx, u, &resp); err != nil {
			return Details{}, err
		}
		d := Details{
			Contract:        contract,
			TokenID:         tokenID,
			Name:            resp.Contract.Symbol,
			ImageURL:        resp.Previews.ImageSmallURL,
			FloorPriceToken: chain.NativeCurrency(ch),
		}
		for _, fp := range resp.Collection.FloorPrices {
			if fp.MarketplaceID == FloorMarketplace {
				d.FloorPrice = FormatUnits(fp.Value.String(), fp.PaymentToken.Decimals, 6)
				d.FloorPriceToken = fp.PaymentToken.Symbol
				break
			}
		}
		return d, nil
	})
	if err != nil {
		c.logger.Warn("nft details failed", "contract", contract, "token_id", tokenID, "error", err)
		return Details{}, false
	}
	return d, true
}

// FormatUnits scales an integer amount string down by decimals and rounds
// to places decimal places. Unparseable input yields 0.
func FormatUnits(amount string, decimals, places int) float64 {
	v, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return 0
	}
	return units.Round(units.Float(v, decimals), places)
}
