package safeguard

import (
	"context"

	"github.com/LukasBures/olynthus/internal/calldata"
	"github.com/LukasBures/olynthus/internal/chain"
	"github.com/LukasBures/olynthus/internal/risk"
)

// transferRecipient is the address a transfer call sends tokens to, or ""
// when data is not a recognized transfer.
func transferRecipient(data string) string {
	call, err := calldata.DecodeTransfer(data)
	if err != nil {
		return ""
	}
	return call.To
}

// burnFindings flags transfers whose recipient can never move the tokens
// again: a token contract, or a burn address.
func (e *Engine) burnFindings(ctx context.Context, s *session, recipient string) []risk.Finding {
	if s.classify(ctx, recipient).IsContract() {
		info, ok := s.tokenInfo(ctx, recipient)
		if !ok || !info.IsKnownType() {
			return nil
		}
		label := ""
		switch {
		case info.Name != "" && info.Symbol != "":
			label = info.Name + " (" + info.Symbol + ") "
		case info.Name != "":
			label = info.Name + " "
		case info.Symbol != "":
			label = info.Symbol + " "
		}
		return []risk.Finding{{
			Level: risk.High,
			Kind:  risk.TransferToTokenContract,
			Text:  "This transaction transfers token(s) to the " + label + "ERC-20 Token Contract " + recipient,
		}}
	}
	if chain.IsBurnAddress(recipient) {
		return []risk.Finding{{
			Level: risk.High,
			Kind:  risk.TransferToBurnAddress,
			Text:  "This transaction transfers token(s) to the Burn Address " + recipient,
		}}
	}
	return nil
}
