// Package calldata recognizes and decodes the approve and transfer function
// families in raw transaction input.
package calldata

import (
	"encoding/hex"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrUnrecognized is returned when input does not carry a known selector
// or does not decode against it.
var ErrUnrecognized = errors.New("calldata: unrecognized input")

// Family is the coarse function family of a call.
type Family string

const (
	FamilyApprove  Family = "APPROVE"
	FamilyTransfer Family = "TRANSFER"
	FamilyOther    Family = ""
)

// Selector is a 0x-prefixed lowercase 4-byte function selector.
type Selector string

func selectorOf(signature string) Selector {
	return Selector("0x" + hex.EncodeToString(crypto.Keccak256([]byte(signature))[:4]))
}

// Selectors of the recognized functions, computed from their signatures.
var (
	Approve                = selectorOf("approve(address,uint256)")
	SafeApprove            = selectorOf("safeApprove(address,uint256)")
	IncreaseAllowance      = selectorOf("increaseAllowance(address,uint256)")
	SetApprovalForAll      = selectorOf("setApprovalForAll(address,bool)")
	Transfer               = selectorOf("transfer(address,uint256)")
	SafeTransfer           = selectorOf("safeTransfer(address,uint256)")
	TransferFrom           = selectorOf("transferFrom(address,address,uint256)")
	SafeTransferFrom       = selectorOf("safeTransferFrom(address,address,uint256)")
	SafeTransferFromAmount = selectorOf("safeTransferFrom(address,address,uint256,uint256,bytes)")
	SafeTransferFromData   = selectorOf("safeTransferFrom(address,address,uint256,bytes)")
	SafeBatchTransferFrom  = selectorOf("safeBatchTransferFrom(address,address,uint256[],uint256[],bytes)")
)

var families = map[Selector]Family{
	Approve:                FamilyApprove,
	SafeApprove:            FamilyApprove,
	SetApprovalForAll:      FamilyApprove,
	IncreaseAllowance:      FamilyApprove,
	Transfer:               FamilyTransfer,
	SafeTransfer:           FamilyTransfer,
	TransferFrom:           FamilyTransfer,
	SafeTransferFrom:       FamilyTransfer,
	SafeTransferFromAmount: FamilyTransfer,
	SafeTransferFromData:   FamilyTransfer,
	SafeBatchTransferFrom:  FamilyTransfer,
}

// SelectorOf returns the selector at the head of input, or "" when input is
// shorter than a selector.
func SelectorOf(input string) Selector {
	input = strings.ToLower(input)
	if !strings.HasPrefix(input, "0x") {
		input = "0x" + input
	}
	if len(input) < 10 {
		return ""
	}
	return Selector(input[:10])
}

// Classify returns the family of input.
func Classify(input string) Family {
	return families[SelectorOf(input)]
}

// IsAmountApproval reports approve, safeApprove and increaseAllowance.
func (s Selector) IsAmountApproval() bool {
	return s == Approve || s == SafeApprove || s == IncreaseAllowance
}

// IsApprovalForAll reports setApprovalForAll.
func (s Selector) IsApprovalForAll() bool {
	return s == SetApprovalForAll
}

// approvalInputLen is the hex length of a two-word approval call: 0x, the
// selector and two 32-byte arguments.
const approvalInputLen = 2 + 8 + 128

// Approval is a decoded approval call.
type Approval struct {
	Spender string
	// Amount is set for amount approvals.
	Amount *big.Int
	// All is set for setApprovalForAll.
	All bool
}

var (
	addressT, _      = abi.NewType("address", "", nil)
	uint256T, _      = abi.NewType("uint256", "", nil)
	uint256SliceT, _ = abi.NewType("uint256[]", "", nil)
	boolT, _         = abi.NewType("bool", "", nil)
	bytesT, _        = abi.NewType("bytes", "", nil)
)

func args(types ...abi.Type) abi.Arguments {
	out := make(abi.Arguments, len(types))
	for i, t := range types {
		out[i] = abi.Argument{Type: t}
	}
	return out
}

var (
	approveArgs    = args(addressT, uint256T)
	approveAllArgs = args(addressT, boolT)
	transferArgs   = args(addressT, uint256T)
	fromToArgs     = args(addressT, addressT, uint256T)
	fromToDataArgs = args(addressT, addressT, uint256T, bytesT)
	fromToAmtArgs  = args(addressT, addressT, uint256T, uint256T, bytesT)
	batchArgs      = args(addressT, addressT, uint256SliceT, uint256SliceT, bytesT)
)

// DecodeApproval decodes an approval call. Input that is not exactly a
// selector plus two words returns ErrUnrecognized.
func DecodeApproval(input string) (Approval, error) {
	if len(input) != approvalInputLen {
		return Approval{}, ErrUnrecognized
	}
	sel := SelectorOf(input)
	payload, err := payloadOf(input)
	if err != nil {
		return Approval{}, err
	}

	switch {
	case sel.IsAmountApproval():
		vals, err := approveArgs.Unpack(payload)
		if err != nil {
			return Approval{}, ErrUnrecognized
		}
		return Approval{
			Spender: lowerHex(vals[0].(common.Address)),
			Amount:  vals[1].(*big.Int),
		}, nil
	case sel.IsApprovalForAll():
		vals, err := approveAllArgs.Unpack(payload)
		if err != nil {
			return Approval{}, ErrUnrecognized
		}
		return Approval{
			Spender: lowerHex(vals[0].(common.Address)),
			All:     vals[1].(bool),
		}, nil
	}
	return Approval{}, ErrUnrecognized
}

// TransferCall is a decoded transfer call. From is empty for
// transfer/safeTransfer, which move the caller's own tokens.
type TransferCall struct {
	From  string
	To    string
	Value *big.Int
	// IDs and Amounts are set for safeBatchTransferFrom.
	IDs     []*big.Int
	Amounts []*big.Int
}

// DecodeTransfer decodes a transfer-family call.
func DecodeTransfer(input string) (TransferCall, error) {
	sel := SelectorOf(input)
	payload, err := payloadOf(input)
	if err != nil {
		return TransferCall{}, err
	}

	var arguments abi.Arguments
	switch sel {
	case Transfer, SafeTransfer:
		arguments = transferArgs
	case TransferFrom, SafeTransferFrom:
		arguments = fromToArgs
	case SafeTransferFromAmount:
		arguments = fromToAmtArgs
	case SafeTransferFromData:
		arguments = fromToDataArgs
	case SafeBatchTransferFrom:
		arguments = batchArgs
	default:
		return TransferCall{}, ErrUnrecognized
	}

	vals, err := arguments.Unpack(payload)
	if err != nil {
		return TransferCall{}, ErrUnrecognized
	}

	if sel == Transfer || sel == SafeTransfer {
		return TransferCall{To: lowerHex(vals[0].(common.Address)), Value: vals[1].(*big.Int)}, nil
	}
	out := TransferCall{
		From: lowerHex(vals[0].(common.Address)),
		To:   lowerHex(vals[1].(common.Address)),
	}
	if sel == SafeBatchTransferFrom {
		out.IDs = vals[2].([]*big.Int)
		out.Amounts = vals[3].([]*big.Int)
		return out, nil
	}
	out.Value = vals[2].(*big.Int)
	return out, nil
}

// TrailingWord reads the last 32-byte word of input as an unsigned integer.
// It is the amount argument of every two-word approval.
func TrailingWord(input string) *big.Int {
	input = strings.TrimPrefix(strings.ToLower(input), "0x")
	if len(input) > 64 {
		input = input[len(input)-64:]
	}
	v, ok := new(big.Int).SetString(input, 16)
	if !ok {
		return new(big.Int)
	}
	return v
}

func payloadOf(input string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(input), "0x"))
	if err != nil || len(raw) < 4 {
		return nil, ErrUnrecognized
	}
	return raw[4:], nil
}

func lowerHex(a common.Address) string {
	return strings.ToLower(a.Hex())
}
