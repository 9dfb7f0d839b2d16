package safeguard

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LukasBures/olynthus/internal/calldata"
	"github.com/LukasBures/olynthus/internal/chain"
	"github.com/LukasBures/olynthus/internal/counterparty"
	"github.com/LukasBures/olynthus/internal/dataset"
	"github.com/LukasBures/olynthus/internal/domains"
	"github.com/LukasBures/olynthus/internal/ens"
	"github.com/LukasBures/olynthus/internal/explorer"
	"github.com/LukasBures/olynthus/internal/logging"
	"github.com/LukasBures/olynthus/internal/multiplexer"
	"github.com/LukasBures/olynthus/internal/nft"
	"github.com/LukasBures/olynthus/internal/pricing"
	"github.com/LukasBures/olynthus/internal/risk"
	"github.com/LukasBures/olynthus/internal/simulation"
)

const (
	wallet   = "0x1111111111111111111111111111111111111111"
	spender  = "0x2222222222222222222222222222222222222222"
	usdc     = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	router   = "0x3333333333333333333333333333333333333333"
	seaport  = "0x00000000000000adc04c56bf30ac9d3c0aaf14dc"
	nftToken = "0x4444444444444444444444444444444444444444"
	burn     = "0x000000000000000000000000000000000000dead"
)

var testNow = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeChain struct {
	types     map[string]counterparty.Type
	tokens    map[string]explorer.TokenInfo
	contracts map[string]multiplexer.ContractInfo
	names     map[string]string
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		types:     map[string]counterparty.Type{},
		tokens:    map[string]explorer.TokenInfo{},
		contracts: map[string]multiplexer.ContractInfo{},
		names:     map[string]string{},
	}
}

func (f *fakeChain) Classifier(chain.Chain, chain.Network) counterparty.Classifier {
	return counterparty.ClassifierFunc(func(_ context.Context, address string) counterparty.Type {
		if t, ok := f.types[strings.ToLower(address)]; ok {
			return t
		}
		return counterparty.EOA
	})
}

func (f *fakeChain) TokenInfo(_ context.Context, _ chain.Chain, _ chain.Network, address string) (explorer.TokenInfo, bool) {
	info, ok := f.tokens[strings.ToLower(address)]
	return info, ok
}

func (f *fakeChain) DetailedContractInfo(_ context.Context, _ chain.Chain, _ chain.Network, address string) multiplexer.ContractInfo {
	return f.contracts[strings.ToLower(address)]
}

func (f *fakeChain) ResolveENS(_ context.Context, _ chain.Chain, _ chain.Network, name string) (string, error) {
	if !ens.Validate(name) {
		return "", ens.ErrInvalidName
	}
	return f.names[name], nil
}

type fakePrices map[string]pricing.Price

func (f fakePrices) CurrentPrice(_ context.Context, _ chain.Chain, token string) (pricing.Price, bool) {
	p, ok := f[strings.ToLower(token)]
	return p, ok
}

type fakeNFTs map[string]nft.Details

func (f fakeNFTs) Details(_ context.Context, _ chain.Chain, contract, tokenID string) (nft.Details, bool) {
	d, ok := f[strings.ToLower(contract)+"/"+tokenID]
	return d, ok
}

type fakeSimulator struct {
	result simulation.Result
}

func (f fakeSimulator) Simulate(context.Context, simulation.Transaction, risk.TxType, chain.Chain, chain.Network) simulation.Result {
	return f.result
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (r *recordingObserver) Observe(_ context.Context, o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

type fixture struct {
	chain    *fakeChain
	store    *dataset.MemoryStore
	prices   fakePrices
	nfts     fakeNFTs
	observer *recordingObserver
	engine   *Engine
}

func newFixture() *fixture {
	f := &fixture{
		chain:    newFakeChain(),
		store:    dataset.NewMemoryStore(),
		prices:   fakePrices{},
		nfts:     fakeNFTs{},
		observer: &recordingObserver{},
	}
	sim := fakeSimulator{result: simulation.Result{Status: simulation.Success, Balances: []simulation.Balance{}}}
	f.engine = NewEngine(f.chain, f.store, domains.NewChecker(f.store, logging.Discard()), f.prices, f.nfts, sim).
		WithObserver(f.observer).
		WithLogger(logging.Discard()).
		WithClock(func() time.Time { return testNow })

	f.chain.types[usdc] = counterparty.VerifiedContract
	f.chain.tokens[usdc] = explorer.TokenInfo{Address: usdc, Symbol: "USDC", Name: "USD Coin", Decimals: 6, TokenType: explorer.TokenERC20}
	f.chain.contracts[usdc] = multiplexer.ContractInfo{Name: "FiatTokenProxy", Address: usdc, BlockTimestamp: uint64(testNow.AddDate(-3, 0, 0).Unix())}
	six := 6
	f.prices[usdc] = pricing.Price{Price: 1, Decimals: &six, Symbol: "USDC"}
	return f
}

func word(hex string) string {
	hex = strings.TrimPrefix(hex, "0x")
	return strings.Repeat("0", 64-len(hex)) + hex
}

func kinds(p risk.Profiles) []risk.Kind {
	out := make([]risk.Kind, len(p.Data))
	for i, f := range p.Data {
		out[i] = f.Kind
	}
	return out
}

func TestAssessTransaction_PlainTransferAllowed(t *testing.T) {
	f := newFixture()
	out := f.engine.AssessTransaction(context.Background(), chain.Ethereum, chain.Mainnet, TransactionRequest{
		Transaction: Transaction{From: wallet, To: spender, Value: "0.1", Data: "0x"},
	})

	assert.Equal(t, risk.EOAInteraction, out.TxType)
	assert.Equal(t, risk.Allow, out.RiskProfiles.Summary.Result)
	require.NotNil(t, out.RiskProfiles.Summary.Counts)
	assert.Equal(t, risk.Counts{}, *out.RiskProfiles.Summary.Counts)
	assert.Equal(t, simulation.Success, out.Simulation.Status)

	require.Len(t, f.observer.outcomes, 1)
	assert.Equal(t, KindTransaction, f.observer.outcomes[0].Kind)
	assert.Equal(t, wallet, f.observer.outcomes[0].Subject)
}

func TestAssessTransaction_ContractCreation(t *testing.T) {
	f := newFixture()
	out := f.engine.AssessTransaction(context.Background(), chain.Ethereum, chain.Mainnet, TransactionRequest{
		Transaction: Transaction{From: wallet, Value: "0", Data: "0x6080"},
	})

	assert.Equal(t, risk.ContractCreation, out.TxType)
	assert.Equal(t, "", out.CounterpartyDetails.Name)
	assert.Nil(t, out.RiskProfiles.Summary.Counts)

	raw, err := json.Marshal(out)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"data"`)
	assert.Contains(t, string(raw), `"result":"ALLOW"`)
}

func TestAssessTransaction_BurnAddressTransfer(t *testing.T) {
	f := newFixture()
	data := string(calldata.Transfer) + word(burn) + word("f4240")
	out := f.engine.AssessTransaction(context.Background(), chain.Ethereum, chain.Mainnet, TransactionRequest{
		Transaction: Transaction{From: wallet, To: usdc, Value: "0", Data: data},
	})

	assert.Equal(t, risk.ERC20Transfer, out.TxType)
	assert.Equal(t, "FiatTokenProxy", out.CounterpartyDetails.Name)
	assert.Equal(t, risk.Block, out.RiskProfiles.Summary.Result)
	require.NotEmpty(t, out.RiskProfiles.Data)
	assert.Equal(t, risk.TransferToBurnAddress, out.RiskProfiles.Data[0].Kind)
	assert.Equal(t, "This transaction transfers token(s) to the Burn Address "+burn, out.RiskProfiles.Data[0].Text)
}

func TestAssessTransaction_TransferToTokenContract(t *testing.T) {
	f := newFixture()
	data := string(calldata.Transfer) + word(usdc) + word("f4240")
	out := f.engine.AssessTransaction(context.Background(), chain.Ethereum, chain.Mainnet, TransactionRequest{
		Transaction: Transaction{From: wallet, To: usdc, Value: "0", Data: data},
	})

	require.NotEmpty(t, out.RiskProfiles.Data)
	assert.Equal(t, risk.TransferToTokenContract, out.RiskProfiles.Data[0].Kind)
	assert.Equal(t, "This transaction transfers token(s) to the USD Coin (USDC) ERC-20 Token Contract "+usdc, out.RiskProfiles.Data[0].Text)
}

func TestAssessTransaction_UnlimitedApprovalToEOA(t *testing.T) {
	f := newFixture()
	maxUint := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	data := string(calldata.Approve) + word(spender) + word(maxUint.Text(16))
	out := f.engine.AssessTransaction(context.Background(), chain.Ethereum, chain.Mainnet, TransactionRequest{
		Transaction: Transaction{From: wallet, To: usdc, Value: "0", Data: data},
	})

	assert.Equal(t, risk.ERC20Approval, out.TxType)
	assert.Equal(t, risk.Block, out.RiskProfiles.Summary.Result)
	assert.Equal(t, []risk.Kind{risk.ApprovalToEOA, risk.LargeApproval}, kinds(out.RiskProfiles))
	assert.Equal(t, "This transaction asks for approval to private spender address "+spender, out.RiskProfiles.Data[0].Text)

	large := out.RiskProfiles.Data[1]
	assert.True(t, strings.HasPrefix(large.Text, "This transaction asks for a large approval of "))
	assert.True(t, strings.HasSuffix(large.Text, " USDC tokens"))
	details, ok := large.Details.(*ApprovalDetails)
	require.True(t, ok)
	require.Len(t, details.Approvals, 1)
	assert.Equal(t, maxUint.String(), details.Approvals[0].ApprovalValue)
	assert.Equal(t, spender, details.Approvals[0].Spender)
	assert.Equal(t, ApprovalToken{Address: usdc, Name: "USDC"}, details.Approvals[0].Token)
}

func TestAssessTransaction_SmallApprovalToVerifiedSpender(t *testing.T) {
	f := newFixture()
	f.chain.types[router] = counterparty.VerifiedContract
	data := string(calldata.Approve) + word(router) + word("5f5e100") // 100 USDC
	out := f.engine.AssessTransaction(context.Background(), chain.Ethereum, chain.Mainnet, TransactionRequest{
		Transaction: Transaction{From: wallet, To: usdc, Value: "0", Data: data},
	})

	assert.Equal(t, risk.Allow, out.RiskProfiles.Summary.Result)
	assert.Empty(t, out.RiskProfiles.Data)
}

func TestAssessTransaction_SetApprovalForAll(t *testing.T) {
	f := newFixture()
	f.chain.types[nftToken] = counterparty.VerifiedContract
	f.chain.tokens[nftToken] = explorer.TokenInfo{Address: nftToken, Symbol: "APE", TokenType: explorer.TokenERC721}
	f.chain.types[router] = counterparty.VerifiedContract
	data := string(calldata.SetApprovalForAll) + word(router) + word("1")
	out := f.engine.AssessTransaction(context.Background(), chain.Ethereum, chain.Mainnet, TransactionRequest{
		Transaction: Transaction{From: wallet, To: nftToken, Value: "0", Data: data},
	})

	assert.Equal(t, risk.ERC721Approval, out.TxType)
	require.Equal(t, []risk.Kind{risk.ApprovalAll}, kinds(out.RiskProfiles))
	assert.Equal(t, "This transaction asks for all approvals for "+nftToken+" token", out.RiskProfiles.Data[0].Text)
	details := out.RiskProfiles.Data[0].Details.(*ApprovalDetails)
	assert.Equal(t, true, details.Approvals[0].ApprovalValue)
}

func TestAssessTransaction_Domains(t *testing.T) {
	f := newFixture()
	f.store.AddMaliciousDomain(dataset.MaliciousDomain{URL: "uniswap-claim.example", Labels: []string{"phishing"}, Tags: []string{"scam"}})
	out := f.engine.AssessTransaction(context.Background(), chain.Ethereum, chain.Mainnet, TransactionRequest{
		Transaction: Transaction{From: wallet, To: spender, Value: "1", Data: "0x"},
		Metadata:    Metadata{URL: "http://uniswap-claim.example/airdrop"},
	})

	assert.Equal(t, []risk.Kind{risk.InsecureDomain, risk.MaliciousDomain}, kinds(out.RiskProfiles))
	assert.Equal(t, risk.Block, out.RiskProfiles.Summary.Result)
	assert.Equal(t, 2, out.RiskProfiles.Summary.Counts.High)
}

func TestAssessTransaction_AllowlistedDomainOnMaliciousList(t *testing.T) {
	f := newFixture()
	f.store.AddAllowedDomain(dataset.AllowedDomain{URL: "app.uniswap.org", SLD: "uniswap"})
	f.store.AddMaliciousDomain(dataset.MaliciousDomain{URL: "app.uniswap.org", Labels: []string{"phishing"}, Tags: []string{"scam"}})
	out := f.engine.AssessTransaction(context.Background(), chain.Ethereum, chain.Mainnet, TransactionRequest{
		Transaction: Transaction{From: wallet, To: spender, Value: "1", Data: "0x"},
		Metadata:    Metadata{URL: "https://app.uniswap.org/swap"},
	})

	assert.NotContains(t, kinds(out.RiskProfiles), risk.MaliciousDomain)
	assert.Equal(t, risk.Allow, out.RiskProfiles.Summary.Result)
	assert.Empty(t, out.RiskProfiles.Data)
}

func TestAssessTransaction_MaliciousCounterparty(t *testing.T) {
	f := newFixture()
	f.chain.types[router] = counterparty.VerifiedContract
	f.store.AddCounterparty(chain.Ethereum, chain.Mainnet, dataset.Counterparty{
		Address: router,
		Tags:    []string{"drainer"},
		Labels:  []string{"Inferno Drainer", ""},
	})
	out := f.engine.AssessTransaction(context.Background(), chain.Ethereum, chain.Mainnet, TransactionRequest{
		Transaction: Transaction{From: wallet, To: router, Value: "0", Data: "0xabcdef01"},
	})

	require.Equal(t, []risk.Kind{risk.MaliciousCounterparty}, kinds(out.RiskProfiles))
	finding := out.RiskProfiles.Data[0]
	assert.Equal(t, "The contract "+router+" is an identified malicious counterparty", finding.Text)
	assert.Equal(t, MaliciousCounterpartyDetails{
		Labels:                []string{"Inferno Drainer"},
		MaliciousCounterparty: CounterpartyRef{Address: router, Type: "CONTRACT"},
		Tags:                  []string{"drainer"},
	}, finding.Details)
}

func TestAssessTransaction_NewUnverifiedContract(t *testing.T) {
	f := newFixture()
	f.chain.types[router] = counterparty.UnverifiedContract
	created := testNow.Add(-24 * time.Hour)
	f.chain.contracts[router] = multiplexer.ContractInfo{Address: router, BlockTimestamp: uint64(created.Unix())}
	out := f.engine.AssessTransaction(context.Background(), chain.Ethereum, chain.Mainnet, TransactionRequest{
		Transaction: Transaction{From: wallet, To: router, Value: "0", Data: "0xabcdef01"},
	})

	assert.Equal(t, risk.ContractInteraction, out.TxType)
	assert.Equal(t, []risk.Kind{risk.NewContract, risk.UnverifiedContract}, kinds(out.RiskProfiles))
	assert.Equal(t, 2, out.RiskProfiles.Summary.Counts.Medium)
	assert.Equal(t, risk.Block, out.RiskProfiles.Summary.Result)
	assert.Equal(t, NewContractDetails{Contract: router, ContractCreatedAt: created}, out.RiskProfiles.Data[0].Details)
	assert.Equal(t, "The contract "+router+" is not verified", out.RiskProfiles.Data[1].Text)
}

func TestIsLargeApproval(t *testing.T) {
	six := 6
	zero := 0
	tokens := func(n int64) *big.Float {
		return new(big.Float).SetInt(new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000)))
	}
	tests := []struct {
		name  string
		raw   *big.Float
		token *TokenDetails
		large bool
	}{
		{"unknown token above fallback", new(big.Float).SetInt(new(big.Int).Add(FallbackApprovalThreshold, big.NewInt(1))), nil, true},
		{"unknown token at fallback", new(big.Float).SetInt(FallbackApprovalThreshold), nil, false},
		{"zero decimals uses fallback", big.NewFloat(1000), &TokenDetails{Decimals: &zero, PriceUSD: 1000}, false},
		{"count ladder above", tokens(501), &TokenDetails{Decimals: &six}, true},
		{"count ladder at limit", tokens(500), &TokenDetails{Decimals: &six}, false},
		{"usd ladder above", tokens(300), &TokenDetails{Decimals: &six, PriceUSD: 2}, true},
		{"usd ladder below", tokens(200), &TokenDetails{Decimals: &six, PriceUSD: 2}, false},
		{"usd ladder ignores count", tokens(10_000), &TokenDetails{Decimals: &six, PriceUSD: 0.01}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, large := IsLargeApproval(tt.raw, tt.token)
			assert.Equal(t, tt.large, large)
		})
	}
}

func TestJSFloat(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{1, "1"},
		{1.5, "1.5"},
		{1e21, "1e+21"},
		{1.5e59, "1.5e+59"},
		{0.000001, "0.000001"},
		{0.0000001, "1e-7"},
		{123456789, "123456789"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, jsFloat(tt.in))
		})
	}
}

func TestToMillisAndRelativeDays(t *testing.T) {
	assert.Equal(t, "1700000000000", toMillis("1700000000"))
	assert.Equal(t, "1700000000000", toMillis("1700000000000"))
	assert.Equal(t, "", toMillis("17"))

	millis := func(d time.Duration) string {
		return big.NewInt(testNow.Add(d).UnixMilli()).String()
	}
	assert.EqualValues(t, 60, relativeDays(millis(60*24*time.Hour), testNow))
	assert.EqualValues(t, 0, relativeDays("", testNow))
	assert.EqualValues(t, 29, relativeDays(millis(30*24*time.Hour-time.Second), testNow))
}
