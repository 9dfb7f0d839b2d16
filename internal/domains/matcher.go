// Package domains flags dApp URLs: plain-http origins, exact matches
// against the malicious-domain list, and look-alikes of allowlisted domains.
package domains

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/errgroup"

	"github.com/LukasBures/olynthus/internal/dataset"
	"github.com/LukasBures/olynthus/internal/logging"
)

const (
	// MaxFuzziness is the largest tolerated edit distance as a fraction of
	// the label length.
	MaxFuzziness = 0.25
	// CandidatePool caps each candidate query.
	CandidatePool = 10
	// MaxResults caps FindSimilar.
	MaxResults = 3
)

// StopWords are label parts too generic to match on their own.
var StopWords = []string{"nft", "crypto", "web", "nfts", "drop", "airdrop", "airdrops"}

var partSeparator = regexp.MustCompile(`[-_]`)

// ErrNoSLD is returned for hosts without a registrable domain, such as a
// bare public suffix or an IP literal.
var ErrNoSLD = errors.New("domains: host has no second-level domain")

// SLD returns the lowercase second-level label of host: "uniswap" for
// "app.uniswap.org", "bbc" for "www.bbc.co.uk".
func SLD(host string) (string, error) {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return "", ErrNoSLD
	}
	suffix, _ := publicsuffix.PublicSuffix(host)
	sld := strings.TrimSuffix(etld1, "."+suffix)
	if sld == "" || sld == etld1 {
		return "", ErrNoSLD
	}
	return sld, nil
}

// Patterns returns sld followed by its '-'/'_'-separated parts, minus stop
// words and empty parts, without duplicates.
func Patterns(sld string) []string {
	out := []string{sld}
	seen := map[string]bool{sld: true}
	for _, part := range partSeparator.Split(sld, -1) {
		if part == "" || seen[part] || isStopWord(part) {
			continue
		}
		seen[part] = true
		out = append(out, part)
	}
	return out
}

func isStopWord(s string) bool {
	s = strings.ToLower(s)
	for _, w := range StopWords {
		if w == s {
			return true
		}
	}
	return false
}

func maxEdits(n int) int {
	return int(MaxFuzziness * float64(n))
}

// Matcher finds allowlisted domains that a host resembles.
type Matcher struct {
	store  dataset.Store
	logger *slog.Logger
}

// NewMatcher creates a Matcher over store.
func NewMatcher(store dataset.Store, logger *slog.Logger) *Matcher {
	return &Matcher{store: store, logger: logging.Component(logger, "domains")}
}

type scored struct {
	domain   dataset.AllowedDomain
	distance int
}

// FindSimilar returns up to MaxResults allowlisted domains resembling host,
// closest first. Candidates come from a prefix/suffix query and an
// edit-distance query against the allowlist; a candidate is kept when its
// label equals the host label or one of its patterns, when either label
// contains the other, or when it is within MaxFuzziness edits. Failures
// yield no matches.
func (m *Matcher) FindSimilar(ctx context.Context, host string) []dataset.AllowedDomain {
	sld, err := SLD(host)
	if err != nil {
		m.logger.Debug("no second-level domain", "host", host, "error", err)
		return nil
	}
	patterns := Patterns(sld)
	shortest := patterns[0]
	for _, p := range patterns[1:] {
		if len(p) < len(shortest) {
			shortest = p
		}
	}

	var fuzzy, affix []dataset.AllowedDomain
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		fuzzy, err = m.store.AllowedFuzzy(gctx, dataset.FuzzyQuery{
			Patterns:  patterns,
			MaxEdits:  maxEdits(len(shortest)),
			MaxLength: len(sld) + maxEdits(len(sld)),
			Limit:     CandidatePool,
		})
		return err
	})
	g.Go(func() error {
		var err error
		affix, err = m.store.AllowedByAffix(gctx, patterns, CandidatePool)
		return err
	})
	if err := g.Wait(); err != nil {
		m.logger.Warn("fuzzy domain search failed", "host", host, "error", err)
		return nil
	}

	var kept []scored
	seen := make(map[string]bool)
	for _, d := range append(fuzzy, affix...) {
		if seen[d.URL] {
			continue
		}
		if dist, ok := similarity(sld, patterns, strings.ToLower(d.SLD)); ok {
			seen[d.URL] = true
			kept = append(kept, scored{domain: d, distance: dist})
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].distance < kept[j].distance })

	if len(kept) > MaxResults {
		kept = kept[:MaxResults]
	}
	out := make([]dataset.AllowedDomain, len(kept))
	for i, k := range kept {
		out[i] = k.domain
	}
	return out
}

func similarity(source string, patterns []string, candidate string) (int, bool) {
	if candidate == "" {
		return 0, false
	}
	if candidate == source {
		return 0, true
	}
	for _, p := range patterns {
		if p == candidate {
			return 0, true
		}
	}
	dist := levenshtein.ComputeDistance(source, candidate)
	if (len(candidate) <= 2*len(source) && strings.Contains(candidate, source)) || strings.Contains(source, candidate) {
		return dist, true
	}
	return dist, dist <= maxEdits(len(source))
}
