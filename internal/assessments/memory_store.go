package assessments

import (
	"context"
	"sync"

	"github.com/LukasBures/olynthus/internal/risk"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
// Once it holds ten times MaxLimit records it drops all but the newest
// MaxLimit.
type MemoryStore struct {
	mu  sync.RWMutex
	all []*Assessment
}

// NewMemoryStore creates an in-memory assessment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Record(ctx context.Context, a *Assessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.all = append(s.all, clone(a))
	if len(s.all) > 10*MaxLimit {
		s.all = append([]*Assessment(nil), s.all[len(s.all)-MaxLimit:]...)
	}
	return nil
}

func (s *MemoryStore) List(ctx context.Context, subject string, limit int) ([]*Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Most recent first, up to limit
	var result []*Assessment
	for i := len(s.all) - 1; i >= 0 && len(result) < limit; i-- {
		if subject != "" && s.all[i].Subject != subject {
			continue
		}
		result = append(result, clone(s.all[i]))
	}
	return result, nil
}

func clone(a *Assessment) *Assessment {
	c := *a
	c.Findings = append([]risk.Finding(nil), a.Findings...)
	return &c
}
