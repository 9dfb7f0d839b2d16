package safeguard

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LukasBures/olynthus/internal/chain"
	"github.com/LukasBures/olynthus/internal/counterparty"
	"github.com/LukasBures/olynthus/internal/dataset"
	"github.com/LukasBures/olynthus/internal/nft"
	"github.com/LukasBures/olynthus/internal/pricing"
	"github.com/LukasBures/olynthus/internal/risk"
)

const permit2 = "0x000000000022d473030f116ddee9f6b43ac78ba3"

func unix(d time.Duration) string {
	return strconv.FormatInt(testNow.Add(d).Unix(), 10)
}

func typed(t *testing.T, vc, primaryType string, message any) MessageRequest {
	t.Helper()
	raw, err := json.Marshal(message)
	require.NoError(t, err)
	return MessageRequest{Message: TypedMessage{
		Domain:      Domain{Name: "Test", ChainID: "1", VerifyingContract: vc},
		PrimaryType: primaryType,
		Message:     raw,
	}}
}

func assess(t *testing.T, f *fixture, req MessageRequest) MessageAssessment {
	t.Helper()
	msg, errs := PrepareMessage(req, testNow)
	require.Empty(t, errs)
	return f.engine.AssessMessage(context.Background(), chain.Ethereum, chain.Mainnet, req, msg)
}

func TestParseMessage_PermitShapes(t *testing.T) {
	tests := []struct {
		name    string
		message map[string]any
		kind    PermitKind
	}{
		{"dai", map[string]any{"holder": wallet, "spender": spender, "nonce": 0, "expiry": 1, "allowed": true}, PermitDAI},
		{"erc721", map[string]any{"owner": wallet, "spender": spender, "tokenId": "7", "nonce": 0, "deadline": 1}, PermitERC721},
		{"erc20", map[string]any{"owner": wallet, "spender": spender, "value": "10", "nonce": 0, "deadline": 1}, PermitERC20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := typed(t, usdc, PrimaryPermit, tt.message)
			msg, err := ParseMessage(req.Message)
			require.NoError(t, err)
			p, ok := msg.(*Permit)
			require.True(t, ok)
			assert.Equal(t, tt.kind, p.Kind)
			assert.Equal(t, wallet, p.Owner)
			assert.Equal(t, spender, p.Spender)
		})
	}
}

func TestParseMessage_DAIPermitNeedsBoolean(t *testing.T) {
	req := typed(t, usdc, PrimaryPermit, map[string]any{"holder": wallet, "spender": spender, "nonce": 0, "expiry": 1, "allowed": "yes"})
	_, err := ParseMessage(req.Message)
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestParseMessage_Unknown(t *testing.T) {
	req := typed(t, usdc, "Mail", map[string]any{"from": "alice", "contents": "hi"})
	msg, err := ParseMessage(req.Message)
	require.NoError(t, err)
	assert.Equal(t, &Unknown{PrimaryType: "Mail"}, msg)

	// A permit with foreign keys is not a permit.
	req = typed(t, usdc, PrimaryPermit, map[string]any{"owner": wallet, "spender": spender, "value": "1", "extra": 1})
	msg, err = ParseMessage(req.Message)
	require.NoError(t, err)
	assert.IsType(t, &Unknown{}, msg)
}

func order(offerer string, offer []OfferItem, consideration []ConsiderationItem) OrderComponents {
	return OrderComponents{
		Offerer:       offerer,
		Offer:         offer,
		Consideration: consideration,
		StartTime:     "1",
		EndTime:       Numeric(unix(24 * time.Hour)),
	}
}

func placeholderOrder() map[string]any {
	return map[string]any{
		"offerer":       chain.ZeroAddress,
		"offer":         []any{},
		"consideration": []any{},
		"startTime":     "0",
		"endTime":       "0",
	}
}

func TestParseMessage_BulkOrder(t *testing.T) {
	o := order(wallet, []OfferItem{{ItemType: "2", Token: nftToken, IdentifierOrCriteria: "1", StartAmount: "1", EndAmount: "1"}},
		[]ConsiderationItem{{OfferItem: OfferItem{ItemType: "0", StartAmount: "1"}, Recipient: wallet}})
	tree := []any{[]any{o, placeholderOrder()}, []any{placeholderOrder(), placeholderOrder()}}

	req := typed(t, seaport, PrimaryBulkOrder, map[string]any{"tree": tree})
	msg, err := ParseMessage(req.Message)
	require.NoError(t, err)
	bulk, ok := msg.(*SeaportBulkOrder)
	require.True(t, ok)
	require.Len(t, bulk.Orders, 1)
	assert.Equal(t, wallet, bulk.Orders[0].Offerer)
	assert.Equal(t, 2, bulk.depth)
	assert.Empty(t, bulk.Validate(testNow))
}

func TestSeaportBulkOrder_Validate(t *testing.T) {
	var deep any = placeholderOrder()
	for i := 0; i < MaxBulkOrderDepth+1; i++ {
		deep = []any{deep}
	}
	tests := []struct {
		name string
		tree any
	}{
		{"too deep", deep},
		{"only placeholders", []any{placeholderOrder(), placeholderOrder()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := typed(t, seaport, PrimaryBulkOrder, map[string]any{"tree": tt.tree})
			msg, err := ParseMessage(req.Message)
			require.NoError(t, err)
			errs := msg.Validate(testNow)
			assert.Equal(t, []string{"message.message should be a valid Opensea Seaport BulkOrder object"}, errs.Messages())
		})
	}
}

func TestPrepareMessage_Validation(t *testing.T) {
	req := typed(t, usdc, PrimaryPermit, map[string]any{"owner": wallet, "spender": spender, "value": "1", "nonce": 0, "deadline": unix(-time.Hour)})
	_, errs := PrepareMessage(req, testNow)
	assert.Equal(t, []string{"message.message.deadline should be a valid future unix epoch time"}, errs.Messages())

	req.Message.Domain.VerifyingContract = "0x1234"
	req.Message.Domain.ChainID = "one"
	_, errs = PrepareMessage(req, testNow)
	assert.Equal(t, []string{
		"message.domain.chainId should be a valid Chain ID",
		"message.domain.verifyingContract should be valid ethereum address",
	}, errs.Messages())
}

func TestAssessMessage_ERC20Permit(t *testing.T) {
	f := newFixture()
	req := typed(t, usdc, PrimaryPermit, map[string]any{
		"owner": wallet, "spender": spender, "value": "1000000000000", "nonce": 0, "deadline": unix(60 * 24 * time.Hour),
	})
	out := assess(t, f, req)

	assert.Equal(t, string(risk.ERC20Approval), out.MessageType)
	assert.Equal(t, risk.Block, out.RiskProfiles.Summary.Result)
	assert.Equal(t, []risk.Kind{risk.ApprovalToEOA, risk.LongApproval, risk.LargeApproval}, kinds(out.RiskProfiles))
	assert.Equal(t, "This transaction asks for approval to private address "+spender, out.RiskProfiles.Data[0].Text)
	assert.Equal(t, "This transaction asks for a long duration approval (60 days)", out.RiskProfiles.Data[1].Text)
	assert.Equal(t, "This transaction asks for a large approval of 1000000 tokens", out.RiskProfiles.Data[2].Text)
	assert.Equal(t, &ApprovalDetails{Approvals: []ApprovalEntry{{
		Spender:       spender,
		ApprovalValue: "1000000000000",
		From:          wallet,
		Token:         ApprovalToken{Address: usdc, Name: "USDC"},
	}}}, out.RiskProfiles.Data[2].Details)
}

func TestAssessMessage_DAIPermitFromPrivateVerifyingContract(t *testing.T) {
	f := newFixture()
	req := typed(t, router, PrimaryPermit, map[string]any{
		"holder": wallet, "spender": spender, "nonce": 0, "expiry": unix(24 * time.Hour), "allowed": true,
	})
	out := assess(t, f, req)

	assert.Equal(t, []risk.Kind{risk.MaliciousCounterparty, risk.ApprovalToEOA, risk.LargeApproval}, kinds(out.RiskProfiles))
	assert.Equal(t, "The verifying contract "+router+" is a private address", out.RiskProfiles.Data[0].Text)
	assert.Equal(t, "This transaction asks for a large approval of 5.78960446186581e+76 tokens", out.RiskProfiles.Data[2].Text)
}

func TestAssessMessage_Permit2Batch(t *testing.T) {
	f := newFixture()
	f.chain.types[permit2] = counterparty.VerifiedContract
	f.chain.types[router] = counterparty.VerifiedContract
	other := "0x5555555555555555555555555555555555555555"
	req := typed(t, permit2, PrimaryPermitBatch, map[string]any{
		"details": []map[string]any{
			{"token": usdc, "amount": "1000000000000", "expiration": unix(90 * 24 * time.Hour), "nonce": 0},
			{"token": other, "amount": "1", "expiration": unix(90 * 24 * time.Hour), "nonce": 0},
		},
		"spender":     router,
		"sigDeadline": unix(time.Hour),
	})
	out := assess(t, f, req)

	assert.Equal(t, string(risk.Permit2), out.MessageType)
	assert.Equal(t, []risk.Kind{risk.LongApproval, risk.LargeApproval, risk.LongApproval}, kinds(out.RiskProfiles))
}

func TestAssessMessage_SeaportUnderpriced(t *testing.T) {
	f := newFixture()
	f.chain.types[seaport] = counterparty.VerifiedContract
	f.nfts[nftToken+"/1"] = nft.Details{Contract: nftToken, TokenID: "1", Name: "Ape #1", ImageURL: "https://img/1.png", FloorPrice: 2, FloorPriceToken: "ETH"}
	f.prices[chain.WrappedNative(chain.Ethereum)] = pricing.Price{Price: 2000}

	o := order(wallet,
		[]OfferItem{{ItemType: "2", Token: nftToken, IdentifierOrCriteria: "1", StartAmount: "1", EndAmount: "1"}},
		[]ConsiderationItem{{OfferItem: OfferItem{ItemType: "0", Token: chain.ZeroAddress, IdentifierOrCriteria: "0", StartAmount: "1000000000000000000", EndAmount: "1000000000000000000"}, Recipient: wallet}},
	)
	out := assess(t, f, typed(t, seaport, PrimaryOrderComponents, o))

	assert.Equal(t, string(risk.ERC721Transfer), out.MessageType)
	require.Equal(t, []risk.Kind{risk.MaliciousSeaportSignature, risk.SeaportTokenSale}, kinds(out.RiskProfiles))
	assert.Equal(t, "You are selling NFTs with total floor price 2 ETH, in exchange for 1 ETH", out.RiskProfiles.Data[0].Text)
	assert.Equal(t, "The following NFTs are being offered for sale on Seaport: "+nftToken+" - 1 for 1.0 ETH", out.RiskProfiles.Data[1].Text)
	assert.Equal(t, SeaportSaleDetails{
		Assets: []SeaportAsset{{Address: nftToken, TokenID: "1", Name: "Ape #1", ImageURL: "https://img/1.png"}},
		From:   wallet,
		Value:  "1.0 ETH",
	}, out.RiskProfiles.Data[1].Details)
}

func TestAssessMessage_SeaportForNothing(t *testing.T) {
	f := newFixture()
	f.chain.types[seaport] = counterparty.VerifiedContract
	o := order(wallet,
		[]OfferItem{{ItemType: "3", Token: nftToken, IdentifierOrCriteria: "9", StartAmount: "5", EndAmount: "5"}},
		[]ConsiderationItem{{OfferItem: OfferItem{ItemType: "0", StartAmount: "1"}, Recipient: spender}},
	)
	out := assess(t, f, typed(t, seaport, PrimaryOrderComponents, o))

	assert.Equal(t, string(risk.ERC1155Transfer), out.MessageType)
	require.Equal(t, []risk.Kind{risk.MaliciousSeaportSignature}, kinds(out.RiskProfiles))
	assert.Equal(t, "You are exchanging NFTs in return for nothing", out.RiskProfiles.Data[0].Text)
}

func TestAssessMessage_UnknownIsAllowed(t *testing.T) {
	f := newFixture()
	out := assess(t, f, typed(t, usdc, "Mail", map[string]any{"contents": "hi"}))

	assert.Equal(t, "Mail", out.MessageType)
	assert.Equal(t, risk.Allow, out.RiskProfiles.Summary.Result)
	assert.Nil(t, out.RiskProfiles.Summary.Counts)
}

func TestAssessMessage_EmptyBulkOrderIsAllowed(t *testing.T) {
	f := newFixture()
	req := typed(t, seaport, PrimaryBulkOrder, map[string]any{"tree": []any{}})
	out := f.engine.AssessMessage(context.Background(), chain.Ethereum, chain.Mainnet, req, &SeaportBulkOrder{})

	assert.Equal(t, PrimaryBulkOrder, out.MessageType)
	assert.Equal(t, risk.Allow, out.RiskProfiles.Summary.Result)
	assert.Empty(t, out.RiskProfiles.Data)
}

func TestAssessUser(t *testing.T) {
	f := newFixture()
	f.store.AddCounterparty(chain.Ethereum, chain.Mainnet, dataset.Counterparty{Address: router, Tags: []string{"phisher"}})
	f.chain.names["vitalik.eth"] = router
	ctx := context.Background()

	out, err := f.engine.AssessUser(ctx, chain.Ethereum, chain.Mainnet, UserRequest{User: User{ENS: "vitalik.eth"}})
	require.NoError(t, err)
	assert.Equal(t, router, out.User.Address)
	require.NotNil(t, out.User.ENS)
	assert.Equal(t, "vitalik.eth", *out.User.ENS)
	assert.Equal(t, counterparty.EOA, out.User.Type)
	assert.Equal(t, risk.Block, out.RiskProfiles.Summary.Result)
	assert.Equal(t, "The EOA "+router+" is an identified malicious counterparty", out.RiskProfiles.Data[0].Text)

	out, err = f.engine.AssessUser(ctx, chain.Ethereum, chain.Mainnet, UserRequest{User: User{ENS: "nobody.eth"}})
	require.NoError(t, err)
	assert.Equal(t, "", out.User.Address)
	assert.Equal(t, risk.AllowOnly(), out.RiskProfiles)

	_, err = f.engine.AssessUser(ctx, chain.Ethereum, chain.Mainnet, UserRequest{User: User{ENS: "ab.eth"}})
	assert.ErrorIs(t, err, ErrInvalidENSName)

	out, err = f.engine.AssessUser(ctx, chain.Ethereum, chain.Mainnet, UserRequest{User: User{Address: strings.ToUpper(wallet)}})
	require.NoError(t, err)
	assert.Equal(t, strings.ToLower(wallet), out.User.Address)
	assert.Nil(t, out.User.ENS)
	assert.Equal(t, risk.Allow, out.RiskProfiles.Summary.Result)
}
