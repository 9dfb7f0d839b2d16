// Package dataset reads the threat-intelligence dataset: malicious
// counterparties per chain, malicious domains and the allowlist of known
// legitimate domains. The dataset is read-only to the engine.
package dataset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/lib/pq"

	"github.com/LukasBures/olynthus/internal/chain"
	"github.com/LukasBures/olynthus/internal/config"
	"github.com/LukasBures/olynthus/internal/metrics"
)

// ErrUnsupportedBackend is returned by New for an unknown backend name.
var ErrUnsupportedBackend = errors.New("dataset: unsupported backend")

// Counterparty is one malicious_counterparty row.
type Counterparty struct {
	Address             string
	Tags                []string
	Labels              []string
	ContractCreator     string
	ContractCreatorTags []string
}

// MaliciousDomain is one malicious_domains row.
type MaliciousDomain struct {
	URL    string
	Labels []string
	Tags   []string
}

// AllowedDomain is one allowlist_domains row.
type AllowedDomain struct {
	URL string
	SLD string
}

// FuzzyQuery asks for allowlisted domains whose second-level label is
// within MaxEdits of any pattern and no longer than MaxLength.
type FuzzyQuery struct {
	Patterns  []string
	MaxEdits  int
	MaxLength int
	Limit     int
}

// Store is the dataset read surface.
type Store interface {
	// MaliciousCounterparties returns rows whose address or contract
	// creator equals address, case-insensitively.
	MaliciousCounterparties(ctx context.Context, c chain.Chain, n chain.Network, address string) ([]Counterparty, error)
	// MaliciousDomains returns rows whose url is any of urls.
	MaliciousDomains(ctx context.Context, urls []string) ([]MaliciousDomain, error)
	// AllowedDomains returns allowlist rows whose url is any of urls.
	AllowedDomains(ctx context.Context, urls []string) ([]AllowedDomain, error)
	// AllowedByAffix returns allowlist rows whose sld starts or ends with
	// any pattern, case-insensitively.
	AllowedByAffix(ctx context.Context, patterns []string, limit int) ([]AllowedDomain, error)
	// AllowedFuzzy returns allowlist rows close to the query patterns.
	AllowedFuzzy(ctx context.Context, q FuzzyQuery) ([]AllowedDomain, error)

	Ping(ctx context.Context) error
	Close() error
}

// New opens the store selected by cfg.DatasetBackend. The returned store
// records query metrics.
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.DatasetBackend {
	case config.BackendMemory:
		s = NewMemoryStore()
	case config.BackendPostgres:
		s, err = OpenPostgres(ctx, cfg.DatabaseURL)
	case config.BackendClickHouse:
		s, err = NewClickHouseStore(ctx, cfg.ClickHouseURL)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, cfg.DatasetBackend)
	}
	if err != nil {
		return nil, err
	}
	return Instrument(s), nil
}

// OpenPostgres connects to dsn and returns a PostgresStore that owns the
// connection pool.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := NewPostgresStore(db)
	s.owned = true
	return s, nil
}

// Instrument wraps s so every query increments metrics.DatasetQueriesTotal.
func Instrument(s Store) Store {
	if _, ok := s.(instrumented); ok {
		return s
	}
	return instrumented{s}
}

type instrumented struct {
	Store
}

func observe(query string, err error) {
	metrics.DatasetQueriesTotal.WithLabelValues(query, metrics.Outcome(err)).Inc()
}

func (i instrumented) MaliciousCounterparties(ctx context.Context, c chain.Chain, n chain.Network, address string) ([]Counterparty, error) {
	rows, err := i.Store.MaliciousCounterparties(ctx, c, n, address)
	observe("malicious_counterparty", err)
	return rows, err
}

func (i instrumented) MaliciousDomains(ctx context.Context, urls []string) ([]MaliciousDomain, error) {
	rows, err := i.Store.MaliciousDomains(ctx, urls)
	observe("malicious_domains", err)
	return rows, err
}

func (i instrumented) AllowedDomains(ctx context.Context, urls []string) ([]AllowedDomain, error) {
	rows, err := i.Store.AllowedDomains(ctx, urls)
	observe("allowlist_domains", err)
	return rows, err
}

func (i instrumented) AllowedByAffix(ctx context.Context, patterns []string, limit int) ([]AllowedDomain, error) {
	rows, err := i.Store.AllowedByAffix(ctx, patterns, limit)
	observe("allowlist_affix", err)
	return rows, err
}

func (i instrumented) AllowedFuzzy(ctx context.Context, q FuzzyQuery) ([]AllowedDomain, error) {
	rows, err := i.Store.AllowedFuzzy(ctx, q)
	observe("allowlist_fuzzy", err)
	return rows, err
}

// likeEscaper escapes LIKE/ILIKE wildcards with the default backslash escape.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// affixes returns the "%p" and "p%" ILIKE operands of every pattern.
func affixes(patterns []string) []string {
	out := make([]string, 0, 2*len(patterns))
	for _, p := range patterns {
		p = likeEscaper.Replace(strings.ToLower(p))
		out = append(out, "%"+p, p+"%")
	}
	return out
}
