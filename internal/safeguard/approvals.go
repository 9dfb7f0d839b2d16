package safeguard

import (
	"context"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/LukasBures/olynthus/internal/calldata"
	"github.com/LukasBures/olynthus/internal/counterparty"
	"github.com/LukasBures/olynthus/internal/risk"
)

// Approval thresholds.
const (
	LargeApprovalUSD   = 500
	LargeApprovalCount = 500
	LongApprovalDays   = 30
)

var (
	// FallbackApprovalThreshold applies when nothing is known about the token.
	FallbackApprovalThreshold = mustHex("f00000000f1f4")
	fallbackApprovalThreshold = new(big.Float).SetPrec(256).SetInt(FallbackApprovalThreshold)

	// MaxApproval is the amount a DAI permit with allowed=true grants.
	MaxApproval = mustHex("7fffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")
)

func mustHex(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("safeguard: bad hex constant " + s)
	}
	return v
}

// approvalInput is one approval check. Exactly one of data (a call) or
// value (a signed amount) drives it.
type approvalInput struct {
	target     string
	targetType counterparty.Type
	from       string
	data       string

	value    string
	hasValue bool

	token *TokenDetails
	// deadline is in unix milliseconds; empty when the approval has none.
	deadline string
	// entry is listed in the details of a LARGE_APPROVAL raised on value.
	entry *ApprovalEntry
}

// approvalFindings reports who is being approved, for how long and for how
// much. Findings are ordered: approval target, long approval, then the
// amount findings.
func (e *Engine) approvalFindings(ctx context.Context, s *session, in approvalInput) []risk.Finding {
	sel := calldata.SelectorOf(in.data)
	isAmount := sel.IsAmountApproval()
	isAll := sel.IsApprovalForAll()
	if !isAmount && !isAll && !in.hasValue {
		return nil
	}

	var out []risk.Finding
	if in.targetType != counterparty.VerifiedContract {
		out = append(out, approvalTarget(in.target, in.targetType, "unverified contract ", "private address "))
	}
	if days := relativeDays(in.deadline, e.now()); days >= LongApprovalDays {
		out = append(out, risk.Finding{
			Level: risk.High,
			Kind:  risk.LongApproval,
			Text:  "This transaction asks for a long duration approval (" + strconv.FormatInt(days, 10) + " days)",
		})
	}

	switch {
	case isAmount:
		entry := e.decodeApproval(ctx, s, in)
		if entry.Spender != "" {
			out = append(out, e.spenderFindings(ctx, s, in, entry.Spender)...)
		}
		raw := new(big.Float).SetPrec(256).SetInt(calldata.TrailingWord(in.data))
		if amount, large := IsLargeApproval(raw, in.token); large {
			name := entry.Token.Name
			if name != "" {
				name += " "
			}
			out = append(out, risk.Finding{
				Level:   risk.High,
				Kind:    risk.LargeApproval,
				Text:    "This transaction asks for a large approval of " + jsNumber(amount) + " " + name + "tokens",
				Details: &ApprovalDetails{Approvals: []ApprovalEntry{entry}},
			})
		}

	case isAll:
		entry := e.decodeApproval(ctx, s, in)
		out = append(out, risk.Finding{
			Level:   risk.High,
			Kind:    risk.ApprovalAll,
			Text:    "This transaction asks for all approvals for " + in.target + " token",
			Details: &ApprovalDetails{Approvals: []ApprovalEntry{entry}},
		})

	default:
		raw, ok := new(big.Float).SetPrec(256).SetString(in.value)
		if !ok {
			e.logger.Debug("approval value is not numeric", "value", in.value)
			return out
		}
		if amount, large := IsLargeApproval(raw, in.token); large {
			details := &ApprovalDetails{Approvals: []ApprovalEntry{}}
			if in.entry != nil {
				details.Approvals = append(details.Approvals, *in.entry)
			}
			out = append(out, risk.Finding{
				Level:   risk.High,
				Kind:    risk.LargeApproval,
				Text:    "This transaction asks for a large approval of " + jsNumber(amount) + " tokens",
				Details: details,
			})
		}
	}
	return out
}

func approvalTarget(address string, kind counterparty.Type, contractNoun, eoaNoun string) risk.Finding {
	f := risk.Finding{
		Level: risk.High,
		Kind:  risk.ApprovalToEOA,
		Text:  "This transaction asks for approval to " + eoaNoun + address,
	}
	if kind == counterparty.UnverifiedContract {
		f.Kind = risk.ApprovalToUnverifiedContract
		f.Text = "This transaction asks for approval to " + contractNoun + address
	}
	return f
}

// spenderFindings checks the decoded spender of an approve call. A spender
// equal to the target reuses the target's classification. The malicious
// counterparty check names the spender a contract whenever the approval
// target is one.
func (e *Engine) spenderFindings(ctx context.Context, s *session, in approvalInput, spender string) []risk.Finding {
	kind := in.targetType
	if !strings.EqualFold(spender, in.target) {
		kind = s.classify(ctx, spender)
	}
	if kind == counterparty.VerifiedContract {
		return nil
	}
	out := []risk.Finding{approvalTarget(spender, kind, "unverified spender contract ", "private spender address ")}
	prefix := "The spender contract"
	if kind == counterparty.EOA {
		prefix = "The private spender address"
	}
	if f := e.maliciousCounterparty(ctx, s, spender, in.targetType != counterparty.EOA, prefix); f != nil {
		out = append(out, *f)
	}
	return out
}

// decodeApproval lists an approve or setApprovalForAll call. Call data of
// the wrong length yields an entry with an empty spender.
func (e *Engine) decodeApproval(ctx context.Context, s *session, in approvalInput) ApprovalEntry {
	entry := ApprovalEntry{
		ApprovalValue: "",
		From:          in.from,
		Token:         ApprovalToken{Address: in.target},
	}
	a, err := calldata.DecodeApproval(in.data)
	if err != nil {
		return entry
	}
	entry.Spender = a.Spender
	if a.Amount != nil {
		entry.ApprovalValue = a.Amount.String()
	} else {
		entry.ApprovalValue = a.All
	}
	if info, ok := s.tokenInfo(ctx, in.target); ok {
		entry.Token.Name = info.Symbol
	}
	return entry
}

// IsLargeApproval scales raw by the token's decimals and decides whether
// it is large. Exactly one ladder applies: USD value when decimals and
// price are known, token count when only decimals are known, and a fixed
// raw threshold otherwise. It returns the scaled amount.
func IsLargeApproval(raw *big.Float, token *TokenDetails) (*big.Float, bool) {
	amount := new(big.Float).SetPrec(256).Set(raw)
	decimals := 0
	if token != nil && token.Decimals != nil {
		decimals = *token.Decimals
	}
	if decimals <= 0 {
		return amount, amount.Cmp(fallbackApprovalThreshold) > 0
	}
	scale := new(big.Float).SetPrec(256).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	amount.Quo(amount, scale)

	if token.PriceUSD != 0 {
		f, _ := amount.Float64()
		if usd := f * token.PriceUSD; usd != 0 {
			return amount, usd > LargeApprovalUSD
		}
	}
	return amount, amount.Cmp(big.NewFloat(LargeApprovalCount)) > 0
}

// relativeDays is the whole number of days from now until a deadline in
// unix milliseconds, rounded down. An absent deadline is 0 days away.
func relativeDays(deadlineMillis string, now time.Time) int64 {
	if deadlineMillis == "" {
		return 0
	}
	ms, err := strconv.ParseInt(deadlineMillis, 10, 64)
	if err != nil {
		return 0
	}
	const day = float64(24 * time.Hour / time.Millisecond)
	return int64(math.Floor(float64(ms-now.UnixMilli()) / day))
}

// toMillis converts a 10-digit seconds or 13-digit milliseconds timestamp
// to milliseconds. Anything else is no deadline.
func toMillis(ts string) string {
	switch len(ts) {
	case 10:
		if v, err := strconv.ParseInt(ts, 10, 64); err == nil {
			return strconv.FormatInt(v*1000, 10)
		}
	case 13:
		return ts
	}
	return ""
}

// jsNumber renders f the way a JavaScript number prints: plain decimals
// between 1e-7 and 1e21, exponent notation outside.
func jsNumber(f *big.Float) string {
	v, _ := f.Float64()
	return jsFloat(v)
}

func jsFloat(v float64) string {
	abs := math.Abs(v)
	if abs != 0 && (abs >= 1e21 || abs < 1e-6) {
		s := strconv.FormatFloat(v, 'e', -1, 64)
		mant, exp, _ := strings.Cut(s, "e")
		sign := exp[:1]
		digits := strings.TrimLeft(exp[1:], "0")
		if digits == "" {
			digits = "0"
		}
		return mant + "e" + sign + digits
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
