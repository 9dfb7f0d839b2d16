package dataset

import (
	"context"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LukasBures/olynthus/internal/chain"
	"github.com/LukasBures/olynthus/internal/testutil"
)

func TestPostgresStore(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `
		INSERT INTO malicious_counterparty (chain, network, address, tags, labels, contract_creator, contract_creator_tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7), ($1, $2, $8, '{}', '{}', '', '{}')
	`, string(chain.Ethereum), string(chain.Mainnet), drainerAddr, pq.Array([]string{"drainer"}), pq.Array([]string{"Inferno"}),
		creatorAddr, pq.Array([]string{"deployer"}), scamAddr)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `
		INSERT INTO malicious_domains (url, labels, tags) VALUES ('0pensea.io', '{nft-minter}', '{phish-hack}');
		INSERT INTO allowlist_domains (url, sld) VALUES ('opensea.io', 'opensea'), ('bayc.com', 'bayc'), ('my_nft.io', 'my_nft');
	`)
	require.NoError(t, err)

	s := NewPostgresStore(db)

	t.Run("counterparty by creator", func(t *testing.T) {
		rows, err := s.MaliciousCounterparties(ctx, chain.Ethereum, chain.Mainnet, "0x969837498944AE1DC0DCAC2D0C65634C88729B2D")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, drainerAddr, rows[0].Address)
		assert.Equal(t, []string{"deployer"}, rows[0].ContractCreatorTags)
	})

	t.Run("counterparty on other chain", func(t *testing.T) {
		rows, err := s.MaliciousCounterparties(ctx, chain.Polygon, chain.Mainnet, scamAddr)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("domains", func(t *testing.T) {
		mal, err := s.MaliciousDomains(ctx, []string{"0pensea.io", "www.0pensea.io"})
		require.NoError(t, err)
		require.Len(t, mal, 1)
		assert.Equal(t, []string{"nft-minter"}, mal[0].Labels)

		allowed, err := s.AllowedDomains(ctx, []string{"bayc.com"})
		require.NoError(t, err)
		assert.Len(t, allowed, 1)
	})

	t.Run("affix treats underscore literally", func(t *testing.T) {
		rows, err := s.AllowedByAffix(ctx, []string{"my_"}, 10)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "my_nft", rows[0].SLD)
	})

	t.Run("fuzzy", func(t *testing.T) {
		rows, err := s.AllowedFuzzy(ctx, FuzzyQuery{Patterns: []string{"0pensea"}, MaxEdits: 1, MaxLength: 8, Limit: 10})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "opensea.io", rows[0].URL)
	})

	assert.NoError(t, s.Ping(ctx))
	assert.NoError(t, s.Close(), "a borrowed pool is not closed")
	assert.NoError(t, db.PingContext(ctx))
}
