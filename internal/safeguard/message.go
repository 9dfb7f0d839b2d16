package safeguard

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/LukasBures/olynthus/internal/chain"
	"github.com/LukasBures/olynthus/internal/counterparty"
	"github.com/LukasBures/olynthus/internal/risk"
	"github.com/LukasBures/olynthus/internal/traces"
)

// AssessMessage profiles a typed message before it is signed. msg is the
// parsed and validated form of req.Message.
func (e *Engine) AssessMessage(ctx context.Context, c chain.Chain, n chain.Network, req MessageRequest, msg Message) MessageAssessment {
	ctx, span := traces.StartSpan(ctx, "safeguard.AssessMessage", traces.Chain(string(c)))
	defer span.End()

	s := e.session(c, n)
	vc := strings.ToLower(req.Message.Domain.VerifyingContract)
	url := req.Metadata.URL

	var (
		high, medium []risk.Finding
		msgType      string
		subject      string
	)
	if b, ok := msg.(*SeaportBulkOrder); ok && len(b.Orders) == 0 {
		msg = &Unknown{PrimaryType: req.Message.PrimaryType}
	}

	switch m := msg.(type) {
	case *Permit:
		subject = strings.ToLower(m.Owner)
		msgType = string(risk.ERC20Approval)
		value := m.Value
		switch m.Kind {
		case PermitDAI:
			value = "0"
			if m.Allowed {
				value = MaxApproval.String()
			}
		case PermitERC721:
			msgType = string(risk.ERC721Approval)
			value = "0"
		}
		high, medium = e.signedApproval(ctx, s, vc, url, permitGrant{
			spender:  m.Spender,
			from:     subject,
			value:    value,
			deadline: toMillis(m.Deadline),
			token:    vc,
		})

	case *PermitSingle:
		msgType = string(risk.Permit2)
		high, medium = e.signedApproval(ctx, s, vc, url, permitGrant{
			spender:  strings.ToLower(m.Spender),
			value:    m.Details.Amount.String(),
			deadline: toMillis(m.Details.Expiration.String()),
			token:    strings.ToLower(m.Details.Token),
		})

	case *PermitTransferFrom:
		msgType = string(risk.Permit2)
		high, medium = e.signedApproval(ctx, s, vc, url, permitGrant{
			spender:  strings.ToLower(m.Spender),
			value:    m.Permitted.Amount.String(),
			deadline: toMillis(m.Deadline.String()),
			token:    strings.ToLower(m.Permitted.Token),
		})

	case *PermitBatch:
		msgType = string(risk.Permit2)
		high, medium = e.batchApproval(ctx, s, vc, url, m.permits())

	case *PermitBatchTransferFrom:
		msgType = string(risk.Permit2)
		high, medium = e.batchApproval(ctx, s, vc, url, m.permits())

	case *SeaportOrder:
		subject = strings.ToLower(m.Order.Offerer)
		msgType = string(seaportMessageType(m.Order.Offer))
		high, medium = e.seaport(ctx, s, vc, url, m.Order.Offerer, m.Order.Offer, m.Order.Consideration)

	case *SeaportBulkOrder:
		var (
			offer         []OfferItem
			consideration []ConsiderationItem
		)
		for _, o := range m.Orders {
			offer = append(offer, o.Offer...)
			consideration = append(consideration, o.Consideration...)
		}
		offerer := m.Orders[0].Offerer
		subject = strings.ToLower(offerer)
		high, medium = e.seaport(ctx, s, vc, url, offerer, offer, consideration)

	default:
		out := MessageAssessment{
			Chain:        c,
			Network:      n,
			MessageType:  req.Message.PrimaryType,
			RiskProfiles: risk.AllowOnly(),
		}
		e.observe(ctx, Outcome{Kind: KindMessage, Chain: c, Network: n, TxType: out.MessageType, Profiles: out.RiskProfiles})
		return out
	}

	out := MessageAssessment{
		Chain:        c,
		Network:      n,
		MessageType:  msgType,
		RiskProfiles: blockOrAllow(high, medium),
	}
	e.observe(ctx, Outcome{
		Kind:     KindMessage,
		Chain:    c,
		Network:  n,
		Subject:  subject,
		TxType:   msgType,
		Profiles: out.RiskProfiles,
	})
	return out
}

// permitGrant is a permit granting spender an allowance of token.
type permitGrant struct {
	spender  string
	from     string
	value    string
	deadline string
	token    string
}

// signedApproval checks the verifying contract and the spender of a permit.
// HIGH findings are ordered verifying contract, then spender.
func (e *Engine) signedApproval(ctx context.Context, s *session, vc, url string, a permitGrant) (high, medium []risk.Finding) {
	var vcType, spenderType, tokenType counterparty.Type
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vcType = s.classify(gctx, vc)
		return nil
	})
	g.Go(func() error {
		spenderType = s.classify(gctx, a.spender)
		return nil
	})
	g.Go(func() error {
		tokenType = s.classify(gctx, a.token)
		return nil
	})
	_ = g.Wait()

	var token *TokenDetails
	if tokenType != counterparty.EOA {
		token = s.tokenDetails(ctx, a.token)
	}
	entry := &ApprovalEntry{
		Spender:       a.spender,
		ApprovalValue: a.value,
		From:          a.from,
		Token:         ApprovalToken{Address: a.token},
	}
	if token != nil {
		entry.Token.Name = token.Symbol
	}

	var vcHigh, spenderHigh, vcMedium, spenderMedium []risk.Finding
	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		vcHigh = e.highTier(gctx, s, highInput{address: vc, kind: vcType, prefix: "The verifying contract", url: url})
		if vcType == counterparty.EOA {
			vcHigh = append(vcHigh, privateVerifyingContract(vc))
		}
		return nil
	})
	g.Go(func() error {
		spenderHigh = e.highTier(gctx, s, highInput{
			address: a.spender,
			kind:    spenderType,
			prefix:  "The spender",
			approvals: &approvalInput{
				target:     a.spender,
				targetType: spenderType,
				from:       a.from,
				value:      a.value,
				hasValue:   true,
				token:      token,
				deadline:   a.deadline,
				entry:      entry,
			},
		})
		return nil
	})
	g.Go(func() error {
		vcMedium = e.mediumTier(gctx, s, vc, vcType, "The verifying contract")
		return nil
	})
	g.Go(func() error {
		spenderMedium = e.mediumTier(gctx, s, a.spender, spenderType, "The spender")
		return nil
	})
	_ = g.Wait()

	return append(vcHigh, spenderHigh...), append(vcMedium, spenderMedium...)
}

// batchApproval checks a Permit2 batch: the verifying contract, the shared
// spender, and one approval check per token in batch order.
func (e *Engine) batchApproval(ctx context.Context, s *session, vc, url string, permits []batchPermit) (high, medium []risk.Finding) {
	if len(permits) == 0 {
		return nil, nil
	}
	spender := strings.ToLower(permits[0].spender)

	var vcType, spenderType counterparty.Type
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vcType = s.classify(gctx, vc)
		return nil
	})
	g.Go(func() error {
		spenderType = s.classify(gctx, spender)
		return nil
	})
	_ = g.Wait()

	var (
		vcHigh, spenderHigh, vcMedium, spenderMedium []risk.Finding
		perToken                                     = make([][]risk.Finding, len(permits))
	)
	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		vcHigh = e.highTier(gctx, s, highInput{address: vc, kind: vcType, prefix: "The verifying contract", url: url})
		if vcType == counterparty.EOA {
			vcHigh = append(vcHigh, privateVerifyingContract(vc))
		}
		return nil
	})
	g.Go(func() error {
		spenderHigh = e.highTier(gctx, s, highInput{address: spender, kind: spenderType, prefix: "The spender"})
		return nil
	})
	for i, p := range permits {
		g.Go(func() error {
			token := strings.ToLower(p.token)
			details := s.tokenDetails(gctx, token)
			entry := &ApprovalEntry{
				Spender:       spender,
				ApprovalValue: p.amount,
				Token:         ApprovalToken{Address: token},
			}
			if details != nil {
				entry.Token.Name = details.Symbol
			}
			found := e.approvalFindings(gctx, s, approvalInput{
				target:     spender,
				targetType: spenderType,
				value:      p.amount,
				hasValue:   true,
				token:      details,
				deadline:   toMillis(p.deadline),
				entry:      entry,
			})
			perToken[i] = found
			return nil
		})
	}
	g.Go(func() error {
		vcMedium = e.mediumTier(gctx, s, vc, vcType, "The verifying contract")
		return nil
	})
	g.Go(func() error {
		spenderMedium = e.mediumTier(gctx, s, spender, spenderType, "The spender")
		return nil
	})
	_ = g.Wait()

	high = append(vcHigh, spenderHigh...)
	for _, f := range perToken {
		high = append(high, f...)
	}
	return high, append(vcMedium, spenderMedium...)
}

// seaport checks the verifying contract of a Seaport order and what the
// offerer gets in return.
func (e *Engine) seaport(ctx context.Context, s *session, vc, url, offerer string, offer []OfferItem, consideration []ConsiderationItem) (high, medium []risk.Finding) {
	vcType := s.classify(ctx, vc)

	var vcHigh, vcMedium, sale []risk.Finding
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vcHigh = e.highTier(gctx, s, highInput{address: vc, kind: vcType, prefix: "The verifying contract", url: url})
		return nil
	})
	g.Go(func() error {
		vcMedium = e.mediumTier(gctx, s, vc, vcType, "The verifying contract")
		return nil
	})
	g.Go(func() error {
		sale = e.seaportFindings(gctx, s, offerer, offer, consideration)
		return nil
	})
	_ = g.Wait()

	high, medium = vcHigh, vcMedium
	for _, f := range sale {
		if f.Level == risk.High {
			high = append(high, f)
		} else {
			medium = append(medium, f)
		}
	}
	return high, medium
}
