// Package cache provides a TTL cache keyed by request shape, with
// concurrent identical loads coalesced into one upstream call.
package cache

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Default TTLs per data category.
const (
	DefaultTTL          = 15 * time.Minute
	ContractSourceTTL   = 6 * time.Hour
	TokenInfoTTL        = time.Hour
	ContractCreationTTL = 6 * time.Hour
)

// LoadTimeout bounds a shared load. The load runs detached from the
// caller that started it, so one caller giving up does not fail the rest.
const LoadTimeout = 30 * time.Second

type entry[V any] struct {
	value  V
	expiry time.Time
}

// TTL is a process-wide cache whose entries expire lazily on read.
type TTL[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
	group   singleflight.Group
	now     func() time.Time
}

// New creates an empty cache.
func New[V any]() *TTL[V] {
	return &TTL[V]{
		entries: make(map[string]entry[V]),
		now:     time.Now,
	}
}

// Get returns the cached value for key if present and unexpired.
// Expired entries are evicted.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	if !c.now().Before(e.expiry) {
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && !c.now().Before(cur.expiry) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return zero, false
	}
	return e.value, true
}

// Set stores value under key for ttl. Non-positive ttl uses DefaultTTL.
func (c *TTL[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, expiry: c.now().Add(ttl)}
	c.mu.Unlock()
}

// GetOrLoad returns the cached value or calls load once for all concurrent
// callers of the same key. Each caller waits under its own ctx. Load errors
// are returned and not cached.
// hit reports whether the value came from the cache.
func (c *TTL[V]) GetOrLoad(ctx context.Context, key string, ttl time.Duration, load func(context.Context) (V, error)) (value V, hit bool, err error) {
	if v, ok := c.Get(key); ok {
		return v, true, nil
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), LoadTimeout)
		defer cancel()
		v, err := load(lctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, v, ttl)
		return v, nil
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, false, res.Err
		}
		return res.Val.(V), false, nil
	}
}

// Len returns the number of stored entries, expired or not.
func (c *TTL[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Key builds the canonical cache key for an endpoint and its query.
// Parameters are sorted by name; names listed in ignore (such as API keys)
// are left out so rotating credentials do not split the cache.
func Key(endpoint string, params url.Values, ignore ...string) string {
	q := url.Values{}
	for k, vs := range params {
		if contains(ignore, k) {
			continue
		}
		q[strings.ToLower(k)] = vs
	}
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
