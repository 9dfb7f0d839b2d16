// Package ratelimit implements a keyed token bucket used both as inbound
// gin middleware and as the outbound throttle for block-explorer calls.
package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Config configures a limiter. Requests tokens are refilled every Interval.
type Config struct {
	Requests int
	Interval time.Duration
	// BurstSize caps accumulated tokens. Zero means Requests.
	BurstSize int
	// CleanupInterval is how often idle keys are dropped. Zero disables cleanup.
	CleanupInterval time.Duration
}

// DefaultConfig is the inbound per-IP policy: 60 requests per minute, bursts of 10.
func DefaultConfig() Config {
	return Config{
		Requests:        60,
		Interval:        time.Minute,
		BurstSize:       10,
		CleanupInterval: time.Minute,
	}
}

// ExplorerConfig is the outbound block-explorer ceiling of 5 requests per second.
func ExplorerConfig(requests int, interval time.Duration) Config {
	if requests <= 0 {
		requests = 5
	}
	if interval <= 0 {
		interval = time.Second
	}
	return Config{Requests: requests, Interval: interval, BurstSize: requests}
}

// Limiter tracks one bucket per key.
type Limiter struct {
	cfg      Config
	perToken time.Duration
	now      func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
	stop    chan struct{}
	once    sync.Once
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// New creates a limiter and starts its cleanup loop when configured.
func New(cfg Config) *Limiter {
	if cfg.Requests <= 0 {
		cfg.Requests = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = cfg.Requests
	}
	l := &Limiter{
		cfg:      cfg,
		perToken: cfg.Interval / time.Duration(cfg.Requests),
		now:      time.Now,
		buckets:  make(map[string]*bucket),
		stop:     make(chan struct{}),
	}
	if cfg.CleanupInterval > 0 {
		go l.cleanup()
	}
	return l
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			cutoff := l.now().Add(-2 * l.cfg.Interval)
			for key, b := range l.buckets {
				if b.lastSeen.Before(cutoff) {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}

// Stop ends the cleanup loop. Safe to call more than once.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

// refill must be called with l.mu held.
func (l *Limiter) refill(key string) *bucket {
	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.cfg.BurstSize), lastSeen: now}
		l.buckets[key] = b
		return b
	}
	elapsed := now.Sub(b.lastSeen)
	if elapsed > 0 {
		b.tokens += float64(elapsed) / float64(l.perToken)
		if b.tokens > float64(l.cfg.BurstSize) {
			b.tokens = float64(l.cfg.BurstSize)
		}
	}
	b.lastSeen = now
	return b
}

// Allow takes a token for key if one is available.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.refill(key)
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Wait blocks until a token for key is available or ctx is done. It returns
// how long the caller waited.
func (l *Limiter) Wait(ctx context.Context, key string) (time.Duration, error) {
	start := l.now()
	for {
		l.mu.Lock()
		b := l.refill(key)
		if b.tokens >= 1 {
			b.tokens--
			l.mu.Unlock()
			return l.now().Sub(start), nil
		}
		delay := time.Duration((1 - b.tokens) * float64(l.perToken))
		l.mu.Unlock()

		if delay <= 0 {
			delay = time.Millisecond
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return l.now().Sub(start), ctx.Err()
		case <-timer.C:
		}
	}
}

// Middleware rate limits gin requests per client IP.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests. Please slow down.",
				"retry_after": int(l.perToken.Seconds()) + 1,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
