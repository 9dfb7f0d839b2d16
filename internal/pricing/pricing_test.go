package pricing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LukasBures/olynthus/internal/chain"
	"github.com/LukasBures/olynthus/internal/logging"
	"github.com/LukasBures/olynthus/internal/upstream"
)

const usdc = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"

func TestCurrentPrice(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		switch r.URL.Path {
		case "/prices/current/ethereum:0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48":
			_, _ = w.Write([]byte(`{"coins":{"ethereum:0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48":{"price":0.999,"decimals":6,"symbol":"USDC"}}}`))
		default:
			_, _ = w.Write([]byte(`{"coins":{}}`))
		}
	}))
	defer srv.Close()

	c := New(srv.URL, upstream.New("defillama"), logging.Discard())
	ctx := context.Background()

	t.Run("hit", func(t *testing.T) {
		p, ok := c.CurrentPrice(ctx, chain.Ethereum, usdc)
		require.True(t, ok)
		assert.Equal(t, 0.999, p.Price)
		require.NotNil(t, p.Decimals)
		assert.Equal(t, 6, *p.Decimals)
		assert.Equal(t, "USDC", p.Symbol)
	})

	t.Run("cached", func(t *testing.T) {
		before := calls.Load()
		_, ok := c.CurrentPrice(ctx, chain.Ethereum, usdc)
		assert.True(t, ok)
		assert.Equal(t, before, calls.Load())
	})

	t.Run("unknown coin", func(t *testing.T) {
		_, ok := c.CurrentPrice(ctx, chain.Ethereum, "0x0000000000000000000000000000000000000001")
		assert.False(t, ok)
	})
}

func TestCurrentPrice_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, ok := New(srv.URL, upstream.New("defillama"), logging.Discard()).CurrentPrice(context.Background(), chain.Ethereum, usdc)
	assert.False(t, ok)
}

func TestCoinID(t *testing.T) {
	assert.Equal(t, "bsc:0xabc", CoinID(chain.BSC, "0xABC"))
	assert.Equal(t, "polygon:0xabc", CoinID(chain.Polygon, "0xabc"))
}
