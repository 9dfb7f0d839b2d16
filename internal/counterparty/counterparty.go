// Package counterparty holds the three-way address classification and a
// per-request memo so each address is classified at most once per assessment.
package counterparty

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Type classifies an address.
type Type string

const (
	EOA                Type = "EOA"
	UnverifiedContract Type = "UNVERIFIED_CONTRACT"
	VerifiedContract   Type = "VERIFIED_CONTRACT"
)

// IsContract reports whether the address has bytecode.
func (t Type) IsContract() bool {
	return t == UnverifiedContract || t == VerifiedContract
}

// Kind is the coarse label used in finding details: CONTRACT or EOA.
func (t Type) Kind() string {
	if t.IsContract() {
		return "CONTRACT"
	}
	return "EOA"
}

// Classifier classifies a single address.
type Classifier interface {
	Classify(ctx context.Context, address string) Type
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, address string) Type

func (f ClassifierFunc) Classify(ctx context.Context, address string) Type { return f(ctx, address) }

// Memo caches classifications for the lifetime of one request. Concurrent
// lookups of the same address share one underlying call.
type Memo struct {
	inner Classifier

	mu    sync.Mutex
	seen  map[string]Type
	group singleflight.Group
}

// ClassifyTimeout bounds a shared classification, which runs detached from
// the caller that started it.
const ClassifyTimeout = 30 * time.Second

// NewMemo wraps inner.
func NewMemo(inner Classifier) *Memo {
	return &Memo{inner: inner, seen: make(map[string]Type)}
}

// Classify returns the memoized classification of address.
func (m *Memo) Classify(ctx context.Context, address string) Type {
	key := strings.ToLower(address)

	m.mu.Lock()
	t, ok := m.seen[key]
	m.mu.Unlock()
	if ok {
		return t
	}

	v, _, _ := m.group.Do(key, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ClassifyTimeout)
		defer cancel()
		t := m.inner.Classify(lctx, key)
		m.mu.Lock()
		m.seen[key] = t
		m.mu.Unlock()
		return t, nil
	})
	return v.(Type)
}

// Remember seeds the memo with a classification already known to the caller.
func (m *Memo) Remember(address string, t Type) {
	m.mu.Lock()
	m.seen[strings.ToLower(address)] = t
	m.mu.Unlock()
}
