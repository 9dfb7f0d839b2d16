package safeguard

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/LukasBures/olynthus/internal/calldata"
	"github.com/LukasBures/olynthus/internal/chain"
	"github.com/LukasBures/olynthus/internal/counterparty"
	"github.com/LukasBures/olynthus/internal/explorer"
	"github.com/LukasBures/olynthus/internal/multiplexer"
	"github.com/LukasBures/olynthus/internal/risk"
	"github.com/LukasBures/olynthus/internal/simulation"
	"github.com/LukasBures/olynthus/internal/traces"
)

// AssessTransaction profiles a pending transaction and simulates it.
// Contract deployments are allowed without checks.
func (e *Engine) AssessTransaction(ctx context.Context, c chain.Chain, n chain.Network, req TransactionRequest) TransactionAssessment {
	ctx, span := traces.StartSpan(ctx, "safeguard.AssessTransaction", traces.Chain(string(c)))
	defer span.End()

	tx := req.Transaction
	if tx.To == "" {
		return TransactionAssessment{
			Chain:        c,
			Network:      n,
			TxType:       risk.ContractCreation,
			RiskProfiles: risk.AllowOnly(),
			Simulation:   simulation.Result{Status: simulation.Success, Balances: []simulation.Balance{}},
		}
	}
	tx.From = strings.ToLower(tx.From)
	tx.To = strings.ToLower(tx.To)

	s := e.session(c, n)
	var (
		toType counterparty.Type
		info   multiplexer.ContractInfo
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		toType = s.classify(gctx, tx.To)
		return nil
	})
	g.Go(func() error {
		info = s.contractInfo(gctx, tx.To)
		return nil
	})
	_ = g.Wait()

	txType := e.transactionType(ctx, s, tx, toType)

	in := highInput{
		address: tx.To,
		kind:    toType,
		prefix:  "The contract",
		url:     req.Metadata.URL,
		approvals: &approvalInput{
			target:     tx.To,
			targetType: toType,
			from:       tx.From,
			data:       tx.Data,
		},
	}
	if isTokenType(txType) {
		in.approvals.token = s.tokenDetails(ctx, tx.To)
	}
	switch {
	case txType == risk.EOAInteraction:
		in.burns, in.burnRecipient = true, tx.To
	case isTransferType(txType):
		in.burns, in.burnRecipient = true, transferRecipient(tx.Data)
	}

	var (
		high, medium, low []risk.Finding
		sim               simulation.Result
	)
	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		high = e.highTier(gctx, s, in)
		return nil
	})
	g.Go(func() error {
		medium = e.mediumTier(gctx, s, tx.To, toType, "The contract")
		return nil
	})
	g.Go(func() error {
		low = e.lowTier(gctx, s, tx.To, toType)
		return nil
	})
	g.Go(func() error {
		sim = e.simulator.Simulate(gctx, simulation.Transaction{
			From:     tx.From,
			To:       tx.To,
			Value:    tx.Value,
			Data:     tx.Data,
			Gas:      tx.Gas,
			GasPrice: tx.GasPrice,
		}, txType, c, n)
		return nil
	})
	_ = g.Wait()

	out := TransactionAssessment{
		Chain:               c,
		Network:             n,
		CounterpartyDetails: CounterpartyDetails{Name: info.Name},
		TxType:              txType,
		RiskProfiles:        risk.Summarize(high, medium, low),
		Simulation:          sim,
	}
	e.observe(ctx, Outcome{
		Kind:     KindTransaction,
		Chain:    c,
		Network:  n,
		Subject:  tx.From,
		TxType:   string(txType),
		Profiles: out.RiskProfiles,
	})
	return out
}

// transactionType combines the target's token standard with the call's
// function family.
func (e *Engine) transactionType(ctx context.Context, s *session, tx Transaction, toType counterparty.Type) risk.TxType {
	if toType == counterparty.EOA {
		return risk.EOAInteraction
	}
	info, ok := s.tokenInfo(ctx, tx.To)
	if !ok {
		return risk.ContractInteraction
	}
	family := calldata.Classify(tx.Data)
	pick := func(approval, transfer, interaction risk.TxType) risk.TxType {
		switch family {
		case calldata.FamilyApprove:
			return approval
		case calldata.FamilyTransfer:
			return transfer
		default:
			return interaction
		}
	}
	switch info.TokenType {
	case explorer.TokenERC20, explorer.TokenBEP20:
		return pick(risk.ERC20Approval, risk.ERC20Transfer, risk.ERC20Interaction)
	case explorer.TokenERC721:
		return pick(risk.ERC721Approval, risk.ERC721Transfer, risk.ERC721Interaction)
	case explorer.TokenERC1155:
		return pick(risk.ERC1155Approval, risk.ERC1155Transfer, risk.ERC1155Interaction)
	}
	return risk.ContractInteraction
}

func isTokenType(t risk.TxType) bool {
	return strings.HasPrefix(string(t), "ERC")
}

func isTransferType(t risk.TxType) bool {
	switch t {
	case risk.ERC20Transfer, risk.ERC721Transfer, risk.ERC1155Transfer:
		return true
	}
	return false
}
