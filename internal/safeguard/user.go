package safeguard

import (
	"context"
	"errors"
	"strings"

	"github.com/LukasBures/olynthus/internal/chain"
	"github.com/LukasBures/olynthus/internal/ens"
	"github.com/LukasBures/olynthus/internal/risk"
	"github.com/LukasBures/olynthus/internal/traces"
)

// AssessUser profiles a wallet given by address or ENS name. A name that
// resolves to nothing is allowed without checks.
func (e *Engine) AssessUser(ctx context.Context, c chain.Chain, n chain.Network, req UserRequest) (UserAssessment, error) {
	ctx, span := traces.StartSpan(ctx, "safeguard.AssessUser", traces.Chain(string(c)))
	defer span.End()

	address := strings.ToLower(req.User.Address)
	var name *string
	if req.User.ENS != "" {
		ensName := req.User.ENS
		name = &ensName
	}
	if address == "" && name != nil {
		resolved, err := e.chain.ResolveENS(ctx, c, n, *name)
		if errors.Is(err, ens.ErrInvalidName) {
			return UserAssessment{}, ErrInvalidENSName
		}
		if err != nil {
			e.logger.Warn("ens resolution failed", "name", *name, "error", err)
		}
		address = strings.ToLower(resolved)
	}

	if address == "" {
		out := UserAssessment{
			Chain:        c,
			Network:      n,
			User:         UserProfile{ENS: name},
			RiskProfiles: risk.AllowOnly(),
		}
		e.observe(ctx, Outcome{Kind: KindUser, Chain: c, Network: n, Profiles: out.RiskProfiles})
		return out, nil
	}

	s := e.session(c, n)
	kind := s.classify(ctx, address)
	high := e.highTier(ctx, s, highInput{address: address, kind: kind, prefix: "The user"})
	medium := e.mediumTier(ctx, s, address, kind, "The user")

	out := UserAssessment{
		Chain:        c,
		Network:      n,
		User:         UserProfile{Address: address, ENS: name, Type: kind},
		RiskProfiles: blockOrAllow(high, medium),
	}
	e.observe(ctx, Outcome{
		Kind:     KindUser,
		Chain:    c,
		Network:  n,
		Subject:  address,
		Profiles: out.RiskProfiles,
	})
	return out, nil
}

