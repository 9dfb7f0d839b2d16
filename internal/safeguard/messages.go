package safeguard

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/LukasBures/olynthus/internal/chain"
	"github.com/LukasBures/olynthus/internal/validation"
)

// Primary types the engine understands.
const (
	PrimaryPermit                         = "Permit"
	PrimaryOrderComponents                = "OrderComponents"
	PrimaryBulkOrder                      = "BulkOrder"
	PrimaryPermitSingle                   = "PermitSingle"
	PrimaryPermitBatch                    = "PermitBatch"
	PrimaryPermitTransferFrom             = "PermitTransferFrom"
	PrimaryPermitBatchTransferFrom        = "PermitBatchTransferFrom"
	PrimaryPermitWitnessTransferFrom      = "PermitWitnessTransferFrom"
	PrimaryPermitBatchWitnessTransferFrom = "PermitBatchWitnessTransferFrom"
)

// MaxBulkOrderDepth is the deepest Seaport bulk-order tree accepted.
const MaxBulkOrderDepth = 24

// ErrMalformedMessage is returned when a message matches a known shape but
// its fields do not decode.
var ErrMalformedMessage = errors.New("safeguard: malformed message")

// Message is one of the typed-message shapes the engine assesses.
// ParseMessage returns *Unknown for anything else.
type Message interface {
	// Validate checks the fields the engine relies on.
	Validate(now time.Time) validation.ValidationErrors
}

// PermitKind distinguishes the EIP-2612 style permits.
type PermitKind int

const (
	PermitERC20 PermitKind = iota
	PermitDAI
	PermitERC721
)

// Permit is an ERC-20, DAI or ERC-721 permit. Owner is the holder for DAI
// permits and Deadline its expiry.
type Permit struct {
	Kind     PermitKind
	Owner    string
	Spender  string
	Value    string
	TokenID  string
	Allowed  bool
	Nonce    string
	Deadline string
}

// OfferItem is a Seaport offer item.
type OfferItem struct {
	ItemType             Numeric `json:"itemType"`
	Token                string  `json:"token"`
	IdentifierOrCriteria Numeric `json:"identifierOrCriteria"`
	StartAmount          Numeric `json:"startAmount"`
	EndAmount            Numeric `json:"endAmount"`
}

// ConsiderationItem is a Seaport consideration item.
type ConsiderationItem struct {
	OfferItem
	Recipient string `json:"recipient"`
}

// OrderComponents is a Seaport order.
type OrderComponents struct {
	Offerer                         string              `json:"offerer"`
	Zone                            string              `json:"zone"`
	Offer                           []OfferItem         `json:"offer"`
	Consideration                   []ConsiderationItem `json:"consideration"`
	OrderType                       Numeric             `json:"orderType"`
	StartTime                       Numeric             `json:"startTime"`
	EndTime                         Numeric             `json:"endTime"`
	ZoneHash                        string              `json:"zoneHash"`
	Salt                            Numeric             `json:"salt"`
	ConduitKey                      string              `json:"conduitKey"`
	TotalOriginalConsiderationItems Numeric             `json:"totalOriginalConsiderationItems"`
	Counter                         Numeric             `json:"counter"`
}

// placeholder reports whether o is the zero order padding a bulk-order tree.
func (o OrderComponents) placeholder() bool {
	return o.Offerer == chain.ZeroAddress &&
		len(o.Offer) == 0 &&
		len(o.Consideration) == 0 &&
		o.StartTime == "0" &&
		o.EndTime == "0"
}

func (o OrderComponents) validate(prefix string) validation.ValidationErrors {
	var errs validation.ValidationErrors
	if !validation.IsValidEthAddress(o.Offerer) {
		errs = append(errs, validation.ValidationError{Field: prefix + ".offerer", Message: "should be valid ethereum address"})
	}
	if len(o.Offer) == 0 {
		errs = append(errs, validation.ValidationError{Field: prefix + ".offer", Message: "should not be empty"})
	}
	if len(o.Consideration) == 0 {
		errs = append(errs, validation.ValidationError{Field: prefix + ".consideration", Message: "should not be empty"})
	}
	return errs
}

// SeaportOrder is a single Seaport listing.
type SeaportOrder struct {
	Order OrderComponents
}

// SeaportBulkOrder is a Seaport bulk listing. Orders holds the flattened
// tree without placeholder orders.
type SeaportBulkOrder struct {
	Orders []OrderComponents
	depth  int
}

// PermitDetails is a Permit2 allowance entry.
type PermitDetails struct {
	Token      string  `json:"token"`
	Amount     Numeric `json:"amount"`
	Expiration Numeric `json:"expiration"`
	Nonce      Numeric `json:"nonce"`
}

// TokenPermissions is a Permit2 signature-transfer entry.
type TokenPermissions struct {
	Token  string  `json:"token"`
	Amount Numeric `json:"amount"`
}

// PermitSingle is a Permit2 allowance for one token.
type PermitSingle struct {
	Details     PermitDetails `json:"details"`
	Spender     string        `json:"spender"`
	SigDeadline Numeric       `json:"sigDeadline"`
}

// PermitTransferFrom is a Permit2 signature transfer of one token,
// optionally carrying a witness.
type PermitTransferFrom struct {
	Permitted TokenPermissions `json:"permitted"`
	Spender   string           `json:"spender"`
	Nonce     Numeric          `json:"nonce"`
	Deadline  Numeric          `json:"deadline"`
	Witness   json.RawMessage  `json:"witness,omitempty"`

	witnessed bool
}

// PermitBatch is a Permit2 allowance for several tokens.
type PermitBatch struct {
	Details     []PermitDetails `json:"details"`
	Spender     string          `json:"spender"`
	SigDeadline Numeric         `json:"sigDeadline"`
}

// PermitBatchTransferFrom is a Permit2 signature transfer of several
// tokens, optionally carrying a witness.
type PermitBatchTransferFrom struct {
	Permitted []TokenPermissions `json:"permitted"`
	Spender   string             `json:"spender"`
	Nonce     Numeric            `json:"nonce"`
	Deadline  Numeric            `json:"deadline"`
	Witness   json.RawMessage    `json:"witness,omitempty"`

	witnessed bool
}

// Unknown is any message the engine does not assess.
type Unknown struct {
	PrimaryType string
}

var (
	daiPermitKeys    = keySet("holder", "spender", "nonce", "expiry", "allowed")
	erc721PermitKeys = keySet("owner", "spender", "tokenId", "nonce", "deadline")
	erc20PermitKeys  = keySet("owner", "spender", "value", "nonce", "deadline")
	orderKeys        = keySet("offerer", "offer", "consideration", "startTime", "endTime", "orderType",
		"zone", "zoneHash", "salt", "conduitKey", "totalOriginalConsiderationItems", "counter")
	bulkOrderKeys          = keySet("tree")
	permitSingleKeys       = keySet("details", "spender", "sigDeadline")
	permitTransferKeys     = keySet("permitted", "spender", "nonce", "deadline")
	permitWitnessKeys      = keySet("permitted", "spender", "nonce", "deadline", "witness")
	permitBatchKeys        = keySet("details", "spender", "sigDeadline")
	permitBatchXferKeys    = keySet("permitted", "spender", "nonce", "deadline")
	permitBatchWitnessKeys = keySet("permitted", "spender", "nonce", "deadline", "witness")
)

func keySet(keys ...string) map[string]bool {
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return m
}

// fits reports whether every key of fields belongs to shape.
func fits(fields map[string]json.RawMessage, shape map[string]bool) bool {
	for k := range fields {
		if !shape[k] {
			return false
		}
	}
	return true
}

// ParseMessage matches m against the known shapes, in precedence order, by
// its primary type and key set. Unmatched messages yield *Unknown.
func ParseMessage(m TypedMessage) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(m.Message, &fields); err != nil {
		return &Unknown{PrimaryType: m.PrimaryType}, nil
	}

	switch m.PrimaryType {
	case PrimaryPermit:
		switch {
		case fits(fields, daiPermitKeys):
			return parsePermit(fields, PermitDAI)
		case fits(fields, erc721PermitKeys):
			return parsePermit(fields, PermitERC721)
		case fits(fields, erc20PermitKeys):
			return parsePermit(fields, PermitERC20)
		}
	case PrimaryOrderComponents:
		if fits(fields, orderKeys) {
			var o OrderComponents
			if err := decodeInto(m.Message, &o); err != nil {
				return nil, err
			}
			return &SeaportOrder{Order: o}, nil
		}
	case PrimaryBulkOrder:
		if fits(fields, bulkOrderKeys) {
			return parseBulkOrder(fields["tree"])
		}
	case PrimaryPermitSingle:
		if fits(fields, permitSingleKeys) {
			var p PermitSingle
			if err := decodeInto(m.Message, &p); err != nil {
				return nil, err
			}
			return &p, nil
		}
	case PrimaryPermitTransferFrom, PrimaryPermitWitnessTransferFrom:
		witnessed := m.PrimaryType == PrimaryPermitWitnessTransferFrom
		shape := permitTransferKeys
		if witnessed {
			shape = permitWitnessKeys
		}
		if fits(fields, shape) {
			p := PermitTransferFrom{witnessed: witnessed}
			if err := decodeInto(m.Message, &p); err != nil {
				return nil, err
			}
			return &p, nil
		}
	case PrimaryPermitBatch:
		if fits(fields, permitBatchKeys) {
			var p PermitBatch
			if err := decodeInto(m.Message, &p); err != nil {
				return nil, err
			}
			return &p, nil
		}
	case PrimaryPermitBatchTransferFrom, PrimaryPermitBatchWitnessTransferFrom:
		witnessed := m.PrimaryType == PrimaryPermitBatchWitnessTransferFrom
		shape := permitBatchXferKeys
		if witnessed {
			shape = permitBatchWitnessKeys
		}
		if fits(fields, shape) {
			p := PermitBatchTransferFrom{witnessed: witnessed}
			if err := decodeInto(m.Message, &p); err != nil {
				return nil, err
			}
			return &p, nil
		}
	}
	return &Unknown{PrimaryType: m.PrimaryType}, nil
}

func decodeInto(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return nil
}

func parsePermit(fields map[string]json.RawMessage, kind PermitKind) (*Permit, error) {
	var raw struct {
		Holder   string  `json:"holder"`
		Owner    string  `json:"owner"`
		Spender  string  `json:"spender"`
		Value    Numeric `json:"value"`
		TokenID  Numeric `json:"tokenId"`
		Nonce    Numeric `json:"nonce"`
		Deadline Numeric `json:"deadline"`
		Expiry   Numeric `json:"expiry"`
		Allowed  *bool   `json:"allowed"`
	}
	buf, _ := json.Marshal(fields)
	if err := decodeInto(buf, &raw); err != nil {
		return nil, err
	}
	p := &Permit{
		Kind:    kind,
		Owner:   raw.Owner,
		Spender: strings.ToLower(raw.Spender),
		Value:   raw.Value.String(),
		TokenID: raw.TokenID.String(),
		Nonce:   raw.Nonce.String(),
	}
	switch kind {
	case PermitDAI:
		if raw.Allowed == nil {
			return nil, fmt.Errorf("%w: allowed should be a valid boolean value", ErrMalformedMessage)
		}
		p.Owner = raw.Holder
		p.Allowed = *raw.Allowed
		p.Deadline = raw.Expiry.String()
	default:
		p.Deadline = raw.Deadline.String()
	}
	return p, nil
}

// parseBulkOrder flattens tree to at most MaxBulkOrderDepth levels and drops
// placeholder orders.
func parseBulkOrder(tree json.RawMessage) (*SeaportBulkOrder, error) {
	b := &SeaportBulkOrder{}
	if err := b.flatten(tree, 0); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *SeaportBulkOrder) flatten(node json.RawMessage, depth int) error {
	node = bytes.TrimSpace(node)
	if len(node) == 0 {
		return nil
	}
	if node[0] != '[' {
		if depth == 0 {
			return fmt.Errorf("%w: tree should be an array", ErrMalformedMessage)
		}
		var o OrderComponents
		if err := decodeInto(node, &o); err != nil {
			return err
		}
		if !o.placeholder() {
			b.Orders = append(b.Orders, o)
		}
		return nil
	}
	if depth+1 > b.depth {
		b.depth = depth + 1
	}
	if depth >= MaxBulkOrderDepth {
		return nil
	}
	var children []json.RawMessage
	if err := decodeInto(node, &children); err != nil {
		return err
	}
	for _, c := range children {
		if err := b.flatten(c, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func deadlineErr(field, value string, now time.Time) func() *validation.ValidationError {
	return validation.FutureDeadline(field, value, now)
}

func (p *Permit) Validate(now time.Time) validation.ValidationErrors {
	const prefix = "message.message."
	owner, deadline := "owner", "deadline"
	if p.Kind == PermitDAI {
		owner, deadline = "holder", "expiry"
	}
	checks := []func() *validation.ValidationError{
		validation.RequiredAddress(prefix+owner, p.Owner),
		validation.RequiredAddress(prefix+"spender", p.Spender),
	}
	switch p.Kind {
	case PermitERC20:
		checks = append(checks, validation.Required(prefix+"value", p.Value))
	case PermitERC721:
		checks = append(checks, validation.Required(prefix+"tokenId", p.TokenID))
	}
	checks = append(checks,
		validation.Required(prefix+"nonce", p.Nonce),
		deadlineErr(prefix+deadline, p.Deadline, now),
	)
	return validation.Validate(checks...)
}

func (s *SeaportOrder) Validate(time.Time) validation.ValidationErrors {
	return s.Order.validate("message.message")
}

func (b *SeaportBulkOrder) Validate(time.Time) validation.ValidationErrors {
	invalid := validation.ValidationErrors{{
		Field:   "message.message",
		Message: "should be a valid Opensea Seaport BulkOrder object",
	}}
	if b.depth < 1 || b.depth > MaxBulkOrderDepth || len(b.Orders) == 0 {
		return invalid
	}
	for _, o := range b.Orders {
		if len(o.validate("message.message")) > 0 {
			return invalid
		}
	}
	return nil
}

func (p *PermitSingle) Validate(now time.Time) validation.ValidationErrors {
	const prefix = "message.message."
	return validation.Validate(
		validation.RequiredAddress(prefix+"details.token", p.Details.Token),
		validation.Required(prefix+"details.nonce", p.Details.Nonce.String()),
		validation.Required(prefix+"details.amount", p.Details.Amount.String()),
		validation.RequiredAddress(prefix+"spender", p.Spender),
		deadlineErr(prefix+"details.expiration", p.Details.Expiration.String(), now),
		deadlineErr(prefix+"sigDeadline", p.SigDeadline.String(), now),
	)
}

func (p *PermitTransferFrom) Validate(now time.Time) validation.ValidationErrors {
	const prefix = "message.message."
	checks := []func() *validation.ValidationError{
		validation.RequiredAddress(prefix+"permitted.token", p.Permitted.Token),
		validation.Required(prefix+"permitted.amount", p.Permitted.Amount.String()),
		validation.RequiredAddress(prefix+"spender", p.Spender),
		validation.Required(prefix+"nonce", p.Nonce.String()),
	}
	if p.witnessed {
		checks = append(checks, func() *validation.ValidationError {
			w := bytes.TrimSpace(p.Witness)
			if len(w) == 0 || bytes.Equal(w, []byte("null")) || bytes.Equal(w, []byte(`""`)) {
				return &validation.ValidationError{Field: prefix + "witness", Message: "should not be empty"}
			}
			return nil
		})
	}
	checks = append(checks, deadlineErr(prefix+"deadline", p.Deadline.String(), now))
	return validation.Validate(checks...)
}

func (p *PermitBatch) Validate(now time.Time) validation.ValidationErrors {
	const prefix = "message.message."
	errs := validation.Validate(
		validation.RequiredAddress(prefix+"spender", p.Spender),
		deadlineErr(prefix+"sigDeadline", p.SigDeadline.String(), now),
	)
	if len(p.Details) == 0 {
		errs = append(validation.ValidationErrors{{Field: prefix + "details", Message: "should not be empty"}}, errs...)
	}
	for i, d := range p.Details {
		errs = append(errs, validation.Validate(
			validation.RequiredAddress(fmt.Sprintf("%sdetails[%d].token", prefix, i), d.Token),
		)...)
	}
	return errs
}

func (p *PermitBatchTransferFrom) Validate(now time.Time) validation.ValidationErrors {
	const prefix = "message.message."
	errs := validation.Validate(
		validation.RequiredAddress(prefix+"spender", p.Spender),
		validation.Required(prefix+"nonce", p.Nonce.String()),
		deadlineErr(prefix+"deadline", p.Deadline.String(), now),
	)
	if len(p.Permitted) == 0 {
		errs = append(validation.ValidationErrors{{Field: prefix + "permitted", Message: "should not be empty"}}, errs...)
	}
	for i, t := range p.Permitted {
		errs = append(errs, validation.Validate(
			validation.RequiredAddress(fmt.Sprintf("%spermitted[%d].token", prefix, i), t.Token),
		)...)
	}
	return errs
}

func (*Unknown) Validate(time.Time) validation.ValidationErrors { return nil }

// batchPermit is one token of a Permit2 batch, normalized across the
// allowance and signature-transfer variants.
type batchPermit struct {
	token    string
	amount   string
	deadline string
	spender  string
}

func (p *PermitBatch) permits() []batchPermit {
	out := make([]batchPermit, len(p.Details))
	for i, d := range p.Details {
		out[i] = batchPermit{token: d.Token, amount: d.Amount.String(), deadline: d.Expiration.String(), spender: p.Spender}
	}
	return out
}

func (p *PermitBatchTransferFrom) permits() []batchPermit {
	out := make([]batchPermit, len(p.Permitted))
	for i, t := range p.Permitted {
		out[i] = batchPermit{token: t.Token, amount: t.Amount.String(), deadline: p.Deadline.String(), spender: p.Spender}
	}
	return out
}
