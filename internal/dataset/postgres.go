package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/LukasBures/olynthus/internal/chain"
)

// PostgresStore reads the dataset from PostgreSQL. Fuzzy matching uses the
// fuzzystrmatch extension, created by migrations/001_dataset.sql.
type PostgresStore struct {
	db    *sql.DB
	owned bool
}

// NewPostgresStore creates a PostgreSQL-backed dataset store over db. The
// caller keeps ownership of db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) MaliciousCounterparties(ctx context.Context, c chain.Chain, n chain.Network, address string) ([]Counterparty, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, tags, labels, contract_creator, contract_creator_tags
		FROM malicious_counterparty
		WHERE chain = $1 AND network = $2
		  AND (lower(address) = $3 OR (contract_creator <> '' AND lower(contract_creator) = $3))
	`, string(c), string(n), strings.ToLower(address))
	if err != nil {
		return nil, fmt.Errorf("failed to query malicious counterparty: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []Counterparty
	for rows.Next() {
		var r Counterparty
		if err := rows.Scan(&r.Address, pq.Array(&r.Tags), pq.Array(&r.Labels), &r.ContractCreator, pq.Array(&r.ContractCreatorTags)); err != nil {
			return nil, fmt.Errorf("failed to scan malicious counterparty: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *PostgresStore) MaliciousDomains(ctx context.Context, urls []string) ([]MaliciousDomain, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT url, labels, tags
		FROM malicious_domains
		WHERE url = ANY($1)
	`, pq.Array(urls))
	if err != nil {
		return nil, fmt.Errorf("failed to query malicious domains: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []MaliciousDomain
	for rows.Next() {
		var r MaliciousDomain
		if err := rows.Scan(&r.URL, pq.Array(&r.Labels), pq.Array(&r.Tags)); err != nil {
			return nil, fmt.Errorf("failed to scan malicious domain: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *PostgresStore) AllowedDomains(ctx context.Context, urls []string) ([]AllowedDomain, error) {
	return s.queryAllowed(ctx, `
		SELECT url, sld
		FROM allowlist_domains
		WHERE url = ANY($1)
	`, pq.Array(urls))
}

func (s *PostgresStore) AllowedByAffix(ctx context.Context, patterns []string, limit int) ([]AllowedDomain, error) {
	return s.queryAllowed(ctx, `
		SELECT url, sld
		FROM allowlist_domains
		WHERE sld ILIKE ANY($1)
		LIMIT $2
	`, pq.Array(affixes(patterns)), limit)
}

func (s *PostgresStore) AllowedFuzzy(ctx context.Context, q FuzzyQuery) ([]AllowedDomain, error) {
	return s.queryAllowed(ctx, `
		SELECT url, sld
		FROM allowlist_domains
		WHERE EXISTS (
			SELECT 1 FROM unnest($1::text[]) AS p
			WHERE levenshtein(lower(sld), lower(p)) <= $2
		)
		AND length(sld) <= $3
		LIMIT $4
	`, pq.Array(q.Patterns), q.MaxEdits, q.MaxLength, q.Limit)
}

func (s *PostgresStore) queryAllowed(ctx context.Context, query string, args ...any) ([]AllowedDomain, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query allowlist domains: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []AllowedDomain
	for rows.Next() {
		var r AllowedDomain
		if err := rows.Scan(&r.URL, &r.SLD); err != nil {
			return nil, fmt.Errorf("failed to scan allowlist domain: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the pool when the store opened it.
func (s *PostgresStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
