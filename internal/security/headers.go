// Package security provides HTTP hardening middleware for the risk API.
package security

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// HeadersMiddleware adds security headers to all responses. The API serves
// JSON only, so the content policy denies everything but websocket upgrades.
func HeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Content-Security-Policy", "default-src 'none'; connect-src 'self' ws: wss:; frame-ancestors 'none'")
		c.Header("Cache-Control", "no-store")

		c.Next()
	}
}

// CORSMiddleware handles CORS for API endpoints. Wallet extensions call the
// API from arbitrary origins, so an empty list or "*" allows all. Entries
// may use a leading "*." host wildcard, e.g. "https://*.example.org".
// X-Request-ID is exposed so callers can correlate assessments.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	o := newOrigins(allowedOrigins)

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		if o.allows(origin) {
			if origin != "" {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
			c.Header("Access-Control-Expose-Headers", "X-Request-ID")
			c.Header("Access-Control-Max-Age", "86400")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

type origins struct {
	any     bool
	exact   map[string]bool
	domains []wildcard
}

type wildcard struct {
	scheme string // "https://"
	suffix string // ".example.org"
}

func newOrigins(list []string) origins {
	o := origins{any: len(list) == 0, exact: make(map[string]bool)}
	for _, raw := range list {
		v := normalizeOrigin(raw)
		switch {
		case v == "*":
			o.any = true
		case strings.Contains(v, "://*."):
			i := strings.Index(v, "://*.")
			o.domains = append(o.domains, wildcard{scheme: v[:i+3], suffix: v[i+4:]})
		case v != "":
			o.exact[v] = true
		}
	}
	return o
}

func (o origins) allows(origin string) bool {
	if o.any {
		return true
	}
	origin = normalizeOrigin(origin)
	if o.exact[origin] {
		return true
	}
	for _, w := range o.domains {
		if strings.HasPrefix(origin, w.scheme) && strings.HasSuffix(origin, w.suffix) &&
			len(origin) > len(w.scheme)+len(w.suffix) {
			return true
		}
	}
	return false
}

func normalizeOrigin(s string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(s)), "/")
}
