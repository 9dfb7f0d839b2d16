// Package safeguard is the risk-profiling engine. It classifies a pending
// transaction, typed message or wallet, runs the independent risk checks
// concurrently and reduces their findings to an ALLOW, WARN or BLOCK verdict.
//
// Collaborator failures never fail an assessment: a check whose data source
// is unavailable simply produces no finding.
package safeguard

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/LukasBures/olynthus/internal/chain"
	"github.com/LukasBures/olynthus/internal/counterparty"
	"github.com/LukasBures/olynthus/internal/dataset"
	"github.com/LukasBures/olynthus/internal/explorer"
	"github.com/LukasBures/olynthus/internal/logging"
	"github.com/LukasBures/olynthus/internal/multiplexer"
	"github.com/LukasBures/olynthus/internal/nft"
	"github.com/LukasBures/olynthus/internal/pricing"
	"github.com/LukasBures/olynthus/internal/risk"
	"github.com/LukasBures/olynthus/internal/simulation"
)

// ErrInvalidENSName is returned by AssessUser for a malformed ENS name.
var ErrInvalidENSName = errors.New("user.ens should be valid a ENS name")

// NewContractAge is how recently a contract must have been deployed to be
// reported as new (about three months).
const NewContractAge = 7889238000 * time.Millisecond

// Chain is the on-chain data surface. *multiplexer.Multiplexer satisfies it.
type Chain interface {
	Classifier(c chain.Chain, n chain.Network) counterparty.Classifier
	TokenInfo(ctx context.Context, c chain.Chain, n chain.Network, address string) (explorer.TokenInfo, bool)
	DetailedContractInfo(ctx context.Context, c chain.Chain, n chain.Network, address string) multiplexer.ContractInfo
	ResolveENS(ctx context.Context, c chain.Chain, n chain.Network, name string) (string, error)
}

// Counterparties looks up malicious counterparties. dataset.Store satisfies it.
type Counterparties interface {
	MaliciousCounterparties(ctx context.Context, c chain.Chain, n chain.Network, address string) ([]dataset.Counterparty, error)
}

// Domains checks dApp URLs. *domains.Checker satisfies it.
type Domains interface {
	Insecure(rawURL string) *risk.Finding
	Malicious(ctx context.Context, rawURL string) *risk.Finding
}

// Prices looks up token prices. *pricing.Client satisfies it.
type Prices interface {
	CurrentPrice(ctx context.Context, c chain.Chain, token string) (pricing.Price, bool)
}

// NFTs looks up NFT metadata. *nft.Client satisfies it.
type NFTs interface {
	Details(ctx context.Context, c chain.Chain, contract, tokenID string) (nft.Details, bool)
}

// Outcome is a completed assessment, handed to the Observer.
type Outcome struct {
	Kind     string
	Chain    chain.Chain
	Network  chain.Network
	Subject  string
	TxType   string
	Profiles risk.Profiles
}

// Observer is told about every completed assessment.
type Observer interface {
	Observe(ctx context.Context, o Outcome)
}

// Assessment kinds reported to the Observer.
const (
	KindTransaction = "transaction"
	KindMessage     = "message"
	KindUser        = "user"
)

// Engine is safe for concurrent use.
type Engine struct {
	chain          Chain
	counterparties Counterparties
	domains        Domains
	prices         Prices
	nfts           NFTs
	simulator      simulation.Simulator
	observer       Observer
	logger         *slog.Logger
	now            func() time.Time
}

// NewEngine creates an engine over its collaborators.
func NewEngine(ch Chain, counterparties Counterparties, domains Domains, prices Prices, nfts NFTs, sim simulation.Simulator) *Engine {
	return &Engine{
		chain:          ch,
		counterparties: counterparties,
		domains:        domains,
		prices:         prices,
		nfts:           nfts,
		simulator:      sim,
		logger:         logging.Component(nil, "safeguard"),
		now:            time.Now,
	}
}

// WithObserver sets the observer of completed assessments.
func (e *Engine) WithObserver(o Observer) *Engine {
	e.observer = o
	return e
}

// WithLogger sets the logger.
func (e *Engine) WithLogger(l *slog.Logger) *Engine {
	e.logger = logging.Component(l, "safeguard")
	return e
}

// WithClock replaces the wall clock, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func (e *Engine) observe(ctx context.Context, o Outcome) {
	if e.observer != nil {
		e.observer.Observe(ctx, o)
	}
}

// session is the per-request state: each address is classified, and its
// contract info fetched, at most once.
type session struct {
	e       *Engine
	chain   chain.Chain
	network chain.Network
	types   *counterparty.Memo

	mu    sync.Mutex
	infos map[string]func() multiplexer.ContractInfo
}

func (e *Engine) session(c chain.Chain, n chain.Network) *session {
	return &session{
		e:       e,
		chain:   c,
		network: n,
		types:   counterparty.NewMemo(e.chain.Classifier(c, n)),
		infos:   make(map[string]func() multiplexer.ContractInfo),
	}
}

func (s *session) classify(ctx context.Context, address string) counterparty.Type {
	return s.types.Classify(ctx, address)
}

func (s *session) contractInfo(ctx context.Context, address string) multiplexer.ContractInfo {
	key := strings.ToLower(address)
	s.mu.Lock()
	load, ok := s.infos[key]
	if !ok {
		load = sync.OnceValue(func() multiplexer.ContractInfo {
			return s.e.chain.DetailedContractInfo(ctx, s.chain, s.network, key)
		})
		s.infos[key] = load
	}
	s.mu.Unlock()
	return load()
}

func (s *session) tokenInfo(ctx context.Context, address string) (explorer.TokenInfo, bool) {
	return s.e.chain.TokenInfo(ctx, s.chain, s.network, address)
}

// TokenDetails is what the approval ladder knows about a token. Decimals is
// nil when unknown and PriceUSD is 0 when unknown.
type TokenDetails struct {
	Symbol   string
	Decimals *int
	PriceUSD float64
}

// tokenDetails gathers explorer metadata for token and, on mainnet, lets a
// DefiLlama record override price and decimals. It returns nil when the
// explorer knows nothing about the token.
func (s *session) tokenDetails(ctx context.Context, token string) *TokenDetails {
	info, ok := s.tokenInfo(ctx, token)
	if !ok {
		return nil
	}
	td := &TokenDetails{Symbol: info.Symbol}
	if info.IsKnownType() {
		d := info.Decimals
		td.Decimals = &d
	}
	if s.network != chain.Mainnet {
		return td
	}
	if p, ok := s.e.prices.CurrentPrice(ctx, s.chain, token); ok {
		td.PriceUSD = p.Price
		td.Decimals = p.Decimals
	}
	return td
}

// highInput selects the checks of one HIGH tier evaluation.
type highInput struct {
	address string
	kind    counterparty.Type
	prefix  string
	url     string

	approvals *approvalInput

	burns         bool
	burnRecipient string
}

// highTier runs the HIGH checks concurrently and concatenates their
// findings as burns, approvals, malicious counterparty, insecure domain,
// malicious domain.
func (e *Engine) highTier(ctx context.Context, s *session, in highInput) []risk.Finding {
	var (
		burns, approvals                       []risk.Finding
		malicious, insecure, maliciousDomainFd *risk.Finding
	)
	g, gctx := errgroup.WithContext(ctx)
	if in.burns && in.burnRecipient != "" {
		g.Go(func() error {
			burns = e.burnFindings(gctx, s, in.burnRecipient)
			return nil
		})
	}
	if in.approvals != nil {
		g.Go(func() error {
			approvals = e.approvalFindings(gctx, s, *in.approvals)
			return nil
		})
	}
	g.Go(func() error {
		malicious = e.maliciousCounterparty(gctx, s, in.address, in.kind != counterparty.EOA, in.prefix)
		return nil
	})
	if in.url != "" {
		insecure = e.domains.Insecure(in.url)
		g.Go(func() error {
			maliciousDomainFd = e.domains.Malicious(gctx, in.url)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]risk.Finding, 0, len(burns)+len(approvals)+3)
	out = append(out, burns...)
	out = append(out, approvals...)
	for _, f := range []*risk.Finding{malicious, insecure, maliciousDomainFd} {
		if f != nil {
			out = append(out, *f)
		}
	}
	return out
}

// mediumTier reports recently deployed and unverified contracts. EOAs have
// no MEDIUM findings.
func (e *Engine) mediumTier(ctx context.Context, s *session, address string, kind counterparty.Type, prefix string) []risk.Finding {
	if kind == counterparty.EOA {
		return nil
	}
	var out []risk.Finding
	if f := e.newContract(s.contractInfo(ctx, address), address, prefix); f != nil {
		out = append(out, *f)
	}
	if kind != counterparty.VerifiedContract {
		out = append(out, risk.Finding{
			Level: risk.Medium,
			Kind:  risk.UnverifiedContract,
			Text:  prefix + " " + address + " is not verified",
		})
	}
	return out
}

func (e *Engine) newContract(info multiplexer.ContractInfo, address, prefix string) *risk.Finding {
	if !info.HasCreationTime() {
		return nil
	}
	created := time.Unix(int64(info.BlockTimestamp), 0).UTC()
	if e.now().Sub(created) > NewContractAge {
		return nil
	}
	return &risk.Finding{
		Level: risk.Medium,
		Kind:  risk.NewContract,
		Text:  prefix + " " + address + " was created recently. Proceed with caution",
		Details: NewContractDetails{
			Contract:          address,
			ContractCreatedAt: created,
		},
	}
}

// lowTier has no active checks; it keeps WARN reachable.
func (e *Engine) lowTier(context.Context, *session, string, counterparty.Type) []risk.Finding {
	return nil
}

// maliciousCounterparty matches address against the dataset, both as an
// address and as a contract creator.
func (e *Engine) maliciousCounterparty(ctx context.Context, s *session, address string, isContract bool, prefix string) *risk.Finding {
	rows, err := e.counterparties.MaliciousCounterparties(ctx, s.chain, s.network, address)
	if err != nil {
		e.logger.Warn("malicious counterparty lookup failed", "address", address, "error", err)
		return nil
	}
	if len(rows) == 0 {
		return nil
	}
	var labels, tags []string
	for _, r := range rows {
		labels = append(labels, r.Labels...)
		switch {
		case strings.EqualFold(r.Address, address):
			tags = append(tags, r.Tags...)
		case r.ContractCreator != "" && strings.EqualFold(r.ContractCreator, address):
			tags = append(tags, r.ContractCreatorTags...)
		}
	}
	kind := "EOA"
	if isContract {
		kind = "CONTRACT"
	} else {
		prefix = "The EOA"
	}
	return &risk.Finding{
		Level: risk.High,
		Kind:  risk.MaliciousCounterparty,
		Text:  prefix + " " + address + " is an identified malicious counterparty",
		Details: MaliciousCounterpartyDetails{
			Labels:                uniqueNonEmpty(labels),
			MaliciousCounterparty: CounterpartyRef{Address: address, Type: kind},
			Tags:                  uniqueNonEmpty(tags),
		},
	}
}

func uniqueNonEmpty(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// privateVerifyingContract is the finding for a typed message whose
// verifying contract has no code.
func privateVerifyingContract(address string) risk.Finding {
	return risk.Finding{
		Level: risk.High,
		Kind:  risk.MaliciousCounterparty,
		Text:  "The verifying contract " + address + " is a private address",
		Details: PrivateAddressDetails{
			MaliciousCounterparty: CounterpartyRef{Address: address, Type: "EOA"},
		},
	}
}

// blockOrAllow summarizes message and user assessments, which never WARN.
func blockOrAllow(high, medium []risk.Finding) risk.Profiles {
	return risk.Summarize(high, medium, nil)
}
