package domains

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/LukasBures/olynthus/internal/dataset"
	"github.com/LukasBures/olynthus/internal/logging"
	"github.com/LukasBures/olynthus/internal/risk"
)

// PhishTag tags look-alike findings.
const PhishTag = "phish-hack"

// Checker produces the domain findings of a dApp URL.
type Checker struct {
	store   dataset.Store
	matcher *Matcher
	logger  *slog.Logger
}

// NewChecker creates a Checker over store.
func NewChecker(store dataset.Store, logger *slog.Logger) *Checker {
	return &Checker{
		store:   store,
		matcher: NewMatcher(store, logger),
		logger:  logging.Component(logger, "domains"),
	}
}

// Hostname returns the lowercase host of rawURL, or "" when it does not
// parse as an absolute URL.
func Hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Expand returns host and its www-toggled variant.
func Expand(host string) []string {
	if strings.HasPrefix(host, "www.") {
		return []string{host, strings.TrimPrefix(host, "www.")}
	}
	return []string{host, "www." + host}
}

// Insecure returns an INSECURE_DOMAIN finding when rawURL uses plain http.
func (c *Checker) Insecure(rawURL string) *risk.Finding {
	u, err := url.Parse(rawURL)
	if err != nil || !strings.EqualFold(u.Scheme, "http") {
		return nil
	}
	c.logger.Debug("insecure url", "url", rawURL)
	return &risk.Finding{
		Level: risk.High,
		Kind:  risk.InsecureDomain,
		Text:  "The url " + rawURL + " is an insecure URL",
	}
}

// MaliciousDomainDetails is the details payload of an exact match.
type MaliciousDomainDetails struct {
	Labels          []string `json:"labels"`
	MaliciousDomain string   `json:"malicious_domain"`
	Tags            []string `json:"tags"`
}

// LookalikeDetails is the details payload of a look-alike match.
type LookalikeDetails struct {
	Tags            []string `json:"tags"`
	MaliciousDomain string   `json:"malicious_domain"`
}

// Malicious returns a MALICIOUS_DOMAIN finding for rawURL, or nil. An
// allowlisted host is trusted outright. Otherwise an exact match against
// the malicious list wins over a look-alike of allowlisted domains.
func (c *Checker) Malicious(ctx context.Context, rawURL string) *risk.Finding {
	host := Hostname(rawURL)
	if host == "" {
		return nil
	}
	variants := Expand(host)

	allowed, err := c.store.AllowedDomains(ctx, variants)
	if err != nil {
		c.logger.Warn("allowlist lookup failed", "host", host, "error", err)
	}
	if len(allowed) > 0 {
		return nil
	}

	var (
		exact   []dataset.MaliciousDomain
		similar []dataset.AllowedDomain
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if exact, err = c.store.MaliciousDomains(gctx, variants); err != nil {
			c.logger.Warn("malicious domain lookup failed", "host", host, "error", err)
		}
		return nil
	})
	g.Go(func() error {
		similar = c.matcher.FindSimilar(gctx, host)
		return nil
	})
	_ = g.Wait()

	if len(exact) > 0 {
		var labels, tags []string
		for _, d := range exact {
			labels = append(labels, d.Labels...)
			tags = append(tags, d.Tags...)
		}
		match := exact[0].URL
		return &risk.Finding{
			Level: risk.High,
			Kind:  risk.MaliciousDomain,
			Text:  "The url " + rawURL + " matches with identified malicious domain " + match,
			Details: MaliciousDomainDetails{
				Labels:          uniq(labels),
				MaliciousDomain: match,
				Tags:            uniq(tags),
			},
		}
	}

	if len(similar) > 0 {
		urls := make([]string, len(similar))
		for i, d := range similar {
			urls[i] = d.URL
		}
		return &risk.Finding{
			Level: risk.High,
			Kind:  risk.MaliciousDomain,
			Text:  "The url " + rawURL + " is identified as a malicious domain as it resembles verified domain(s) " + joinAnd(uniq(urls)),
			Details: LookalikeDetails{
				Tags:            []string{PhishTag},
				MaliciousDomain: rawURL,
			},
		}
	}
	return nil
}

func uniq(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// joinAnd joins "a", "b", "c" as "a, b and c".
func joinAnd(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
}
