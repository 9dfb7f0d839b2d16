package dataset

import (
	"context"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"

	"github.com/LukasBures/olynthus/internal/chain"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
// Rows are returned in insertion order.
type MemoryStore struct {
	mu             sync.RWMutex
	counterparties map[string][]Counterparty // chain.Key → rows
	malicious      []MaliciousDomain
	allowed        []AllowedDomain
}

// NewMemoryStore creates an empty in-memory dataset.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counterparties: make(map[string][]Counterparty)}
}

// AddCounterparty inserts a malicious counterparty row for a chain.
func (s *MemoryStore) AddCounterparty(c chain.Chain, n chain.Network, row Counterparty) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := chain.Key(c, n)
	s.counterparties[key] = append(s.counterparties[key], row)
}

// AddMaliciousDomain inserts a malicious domain row.
func (s *MemoryStore) AddMaliciousDomain(row MaliciousDomain) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.malicious = append(s.malicious, row)
}

// AddAllowedDomain inserts an allowlist row.
func (s *MemoryStore) AddAllowedDomain(row AllowedDomain) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowed = append(s.allowed, row)
}

func (s *MemoryStore) MaliciousCounterparties(ctx context.Context, c chain.Chain, n chain.Network, address string) ([]Counterparty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Counterparty
	for _, row := range s.counterparties[chain.Key(c, n)] {
		if strings.EqualFold(row.Address, address) || (row.ContractCreator != "" && strings.EqualFold(row.ContractCreator, address)) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *MemoryStore) MaliciousDomains(ctx context.Context, urls []string) ([]MaliciousDomain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []MaliciousDomain
	for _, row := range s.malicious {
		if contains(urls, row.URL) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *MemoryStore) AllowedDomains(ctx context.Context, urls []string) ([]AllowedDomain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []AllowedDomain
	for _, row := range s.allowed {
		if contains(urls, row.URL) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *MemoryStore) AllowedByAffix(ctx context.Context, patterns []string, limit int) ([]AllowedDomain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []AllowedDomain
	for _, row := range s.allowed {
		if len(out) >= limit {
			break
		}
		sld := strings.ToLower(row.SLD)
		for _, p := range patterns {
			p = strings.ToLower(p)
			if strings.HasPrefix(sld, p) || strings.HasSuffix(sld, p) {
				out = append(out, row)
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) AllowedFuzzy(ctx context.Context, q FuzzyQuery) ([]AllowedDomain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []AllowedDomain
	for _, row := range s.allowed {
		if len(out) >= q.Limit {
			break
		}
		sld := strings.ToLower(row.SLD)
		if len(sld) > q.MaxLength {
			continue
		}
		for _, p := range q.Patterns {
			if levenshtein.ComputeDistance(sld, strings.ToLower(p)) <= q.MaxEdits {
				out = append(out, row)
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
