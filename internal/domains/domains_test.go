package domains

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LukasBures/olynthus/internal/dataset"
	"github.com/LukasBures/olynthus/internal/logging"
	"github.com/LukasBures/olynthus/internal/risk"
)

func store() *dataset.MemoryStore {
	s := dataset.NewMemoryStore()
	s.AddAllowedDomain(dataset.AllowedDomain{URL: "opensea.io", SLD: "opensea"})
	s.AddAllowedDomain(dataset.AllowedDomain{URL: "bayc.com", SLD: "bayc"})
	s.AddAllowedDomain(dataset.AllowedDomain{URL: "uniswap.org", SLD: "uniswap"})
	s.AddMaliciousDomain(dataset.MaliciousDomain{URL: "0pensea.io", Labels: []string{"nft-minter"}, Tags: []string{"phish-hack"}})
	s.AddMaliciousDomain(dataset.MaliciousDomain{URL: "www.0pensea.io", Labels: []string{"nft-minter", "drainer"}, Tags: []string{"phish-hack"}})
	return s
}

func TestSLD(t *testing.T) {
	tests := []struct {
		host    string
		want    string
		wantErr bool
	}{
		{"app.uniswap.org", "uniswap", false},
		{"www.bbc.co.uk", "bbc", false},
		{"0pensea.io", "0pensea", false},
		{"OpenSea.IO.", "opensea", false},
		{"localhost", "", true},
		{"co.uk", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			got, err := SLD(tt.host)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoSLD)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPatterns(t *testing.T) {
	tests := []struct {
		sld  string
		want []string
	}{
		{"opensea", []string{"opensea"}},
		{"opensea-nft-drop", []string{"opensea-nft-drop", "opensea"}},
		{"my_bayc-club", []string{"my_bayc-club", "my", "bayc", "club"}},
		{"bayc--bayc", []string{"bayc--bayc", "bayc"}},
		{"airdrop-nfts", []string{"airdrop-nfts"}},
	}
	for _, tt := range tests {
		t.Run(tt.sld, func(t *testing.T) {
			assert.Equal(t, tt.want, Patterns(tt.sld))
		})
	}
}

func TestFindSimilar(t *testing.T) {
	m := NewMatcher(store(), logging.Discard())
	ctx := context.Background()

	tests := []struct {
		host string
		want []string
	}{
		{"0pensea.io", []string{"opensea.io"}},
		{"opensea-nft-drop.xyz", []string{"opensea.io"}},
		{"app.un1swap.org", []string{"uniswap.org"}},
		{"google.com", nil},
		{"localhost", nil},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			var got []string
			for _, d := range m.FindSimilar(ctx, tt.host) {
				got = append(got, d.URL)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFindSimilar_CapsAndOrders(t *testing.T) {
	s := dataset.NewMemoryStore()
	for _, d := range []dataset.AllowedDomain{
		{URL: "bayc-club.com", SLD: "bayc-club"},
		{URL: "bayc.com", SLD: "bayc"},
		{URL: "baycx.com", SLD: "baycx"},
		{URL: "bayc-official.com", SLD: "bayc-official"},
		{URL: "thebayc.com", SLD: "thebayc"},
	} {
		s.AddAllowedDomain(d)
	}
	got := NewMatcher(s, logging.Discard()).FindSimilar(context.Background(), "bayc.xyz")
	require.Len(t, got, MaxResults)
	assert.Equal(t, "bayc.com", got[0].URL, "exact label first")
}

type failingStore struct {
	dataset.Store
}

var errDown = errors.New("dataset down")

func (failingStore) AllowedDomains(context.Context, []string) ([]dataset.AllowedDomain, error) {
	return nil, errDown
}

func (failingStore) MaliciousDomains(context.Context, []string) ([]dataset.MaliciousDomain, error) {
	return nil, errDown
}

func (failingStore) AllowedByAffix(context.Context, []string, int) ([]dataset.AllowedDomain, error) {
	return nil, errDown
}

func (failingStore) AllowedFuzzy(context.Context, dataset.FuzzyQuery) ([]dataset.AllowedDomain, error) {
	return nil, errDown
}

func TestFindSimilar_StoreFailure(t *testing.T) {
	m := NewMatcher(failingStore{}, logging.Discard())
	assert.Empty(t, m.FindSimilar(context.Background(), "0pensea.io"))
}

func TestInsecure(t *testing.T) {
	c := NewChecker(store(), logging.Discard())

	f := c.Insecure("http://app.uniswap.org")
	require.NotNil(t, f)
	assert.Equal(t, risk.High, f.Level)
	assert.Equal(t, risk.InsecureDomain, f.Kind)
	assert.Equal(t, "The url http://app.uniswap.org is an insecure URL", f.Text)

	assert.Nil(t, c.Insecure("https://app.uniswap.org"))
	assert.Nil(t, c.Insecure("::not a url"))
}

func TestMalicious(t *testing.T) {
	c := NewChecker(store(), logging.Discard())
	ctx := context.Background()

	t.Run("exact match", func(t *testing.T) {
		f := c.Malicious(ctx, "https://0pensea.io/mint")
		require.NotNil(t, f)
		assert.Equal(t, risk.MaliciousDomain, f.Kind)
		assert.Equal(t, "The url https://0pensea.io/mint matches with identified malicious domain 0pensea.io", f.Text)
		assert.Equal(t, MaliciousDomainDetails{
			Labels:          []string{"nft-minter", "drainer"},
			MaliciousDomain: "0pensea.io",
			Tags:            []string{"phish-hack"},
		}, f.Details)
	})

	t.Run("allowlisted host is trusted", func(t *testing.T) {
		assert.Nil(t, c.Malicious(ctx, "https://www.opensea.io/collection/bayc"))
	})

	t.Run("allowlist wins over malicious list", func(t *testing.T) {
		both := store()
		both.AddMaliciousDomain(dataset.MaliciousDomain{URL: "uniswap.org", Labels: []string{"drainer"}, Tags: []string{"phish-hack"}})
		checker := NewChecker(both, logging.Discard())
		assert.Nil(t, checker.Malicious(ctx, "https://uniswap.org/swap"))
		assert.Nil(t, checker.Malicious(ctx, "https://www.uniswap.org"))
	})

	t.Run("look-alike", func(t *testing.T) {
		f := c.Malicious(ctx, "https://opensea-nft-drop.xyz")
		require.NotNil(t, f)
		assert.Equal(t, "The url https://opensea-nft-drop.xyz is identified as a malicious domain as it resembles verified domain(s) opensea.io", f.Text)
		assert.Equal(t, LookalikeDetails{Tags: []string{PhishTag}, MaliciousDomain: "https://opensea-nft-drop.xyz"}, f.Details)
	})

	t.Run("unrelated", func(t *testing.T) {
		assert.Nil(t, c.Malicious(ctx, "https://example.org"))
	})

	t.Run("store failure yields nothing", func(t *testing.T) {
		assert.Nil(t, NewChecker(failingStore{}, logging.Discard()).Malicious(ctx, "https://0pensea.io"))
	})
}

func TestJoinAnd(t *testing.T) {
	assert.Equal(t, "", joinAnd(nil))
	assert.Equal(t, "a.io", joinAnd([]string{"a.io"}))
	assert.Equal(t, "a.io and b.io", joinAnd([]string{"a.io", "b.io"}))
	assert.Equal(t, "a.io, b.io and c.io", joinAnd([]string{"a.io", "b.io", "c.io"}))
}

func TestExpand(t *testing.T) {
	assert.Equal(t, []string{"www.x.io", "x.io"}, Expand("www.x.io"))
	assert.Equal(t, []string{"x.io", "www.x.io"}, Expand("x.io"))
}
