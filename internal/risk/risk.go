// Package risk is the verdict vocabulary shared by every check: severity
// levels, finding kinds, findings and the summary a set of findings
// reduces to.
//
// A verdict BLOCKs when any HIGH or MEDIUM finding is present, WARNs when
// only LOW findings are present, and ALLOWs otherwise.
package risk

import "encoding/json"

// Level is the severity of a finding.
type Level string

const (
	Low    Level = "LOW"
	Medium Level = "MEDIUM"
	High   Level = "HIGH"
)

// Kind identifies the check that produced a finding.
type Kind string

const (
	ApprovalAll                  Kind = "APPROVAL_ALL"
	LargeApproval                Kind = "LARGE_APPROVAL"
	LongApproval                 Kind = "LONG_APPROVAL"
	ApprovalToEOA                Kind = "APPROVAL_TO_EOA"
	ApprovalToUnverifiedContract Kind = "APPROVAL_TO_UNVERIFIED_CONTRACT"
	MaliciousCounterparty        Kind = "MALICIOUS_COUNTERPARTY"
	MaliciousDomain              Kind = "MALICIOUS_DOMAIN"
	InsecureDomain               Kind = "INSECURE_DOMAIN"
	MaliciousSeaportSignature    Kind = "MALICIOUS_SEAPORT_SIGNATURE"
	TransferToBurnAddress        Kind = "TRANSFER_TO_BURN_ADDRESS"
	TransferToTokenContract      Kind = "TRANSFER_TO_TOKEN_CONTRACT"

	NewContract        Kind = "NEW_CONTRACT"
	UnverifiedContract Kind = "UNVERIFIED_CONTRACT"
	SeaportTokenSale   Kind = "SEAPORT_TOKEN_SALE"

	// Reserved; no active check produces these.
	TVLPercentChange24h Kind = "TVL_PERCENT_CHANGE_24H"
	TokenPriceDepegs    Kind = "TOKEN_PRICE_DEPEGS"
)

// TxType is the interaction type of an assessed transaction or message.
type TxType string

const (
	EOAInteraction      TxType = "EOA_INTERACTION"
	ContractCreation    TxType = "CONTRACT_CREATION"
	ContractInteraction TxType = "CONTRACT_INTERACTION"

	ERC20Transfer    TxType = "ERC20_TRANSFER"
	ERC20Approval    TxType = "ERC20_APPROVAL"
	ERC20Interaction TxType = "ERC20_INTERACTION"

	ERC721Transfer    TxType = "ERC721_TRANSFER"
	ERC721Approval    TxType = "ERC721_APPROVAL"
	ERC721Interaction TxType = "ERC721_INTERACTION"

	ERC1155Transfer    TxType = "ERC1155_TRANSFER"
	ERC1155Approval    TxType = "ERC1155_APPROVAL"
	ERC1155Interaction TxType = "ERC1155_INTERACTION"

	Permit2 TxType = "PERMIT2"
)

// Verdict is the overall decision.
type Verdict string

const (
	Allow Verdict = "ALLOW"
	Warn  Verdict = "WARN"
	Block Verdict = "BLOCK"
)

// Finding is one typed risk observation. Findings are not modified after
// they are produced.
type Finding struct {
	Level   Level  `json:"risk_profile_type"`
	Kind    Kind   `json:"risk_type"`
	Text    string `json:"text"`
	Details any    `json:"details,omitempty"`
}

// Counts is the number of findings per level.
type Counts struct {
	Low    int `json:"LOW"`
	Medium int `json:"MEDIUM"`
	High   int `json:"HIGH"`
}

// Summary is the verdict with its counts.
type Summary struct {
	Result Verdict `json:"result"`
	Counts *Counts `json:"counts,omitempty"`
}

// Profiles is the risk_profiles block of a response. Data is serialized,
// possibly empty, whenever the summary carries counts.
type Profiles struct {
	Summary Summary   `json:"summary"`
	Data    []Finding `json:"data"`
}

func (p Profiles) MarshalJSON() ([]byte, error) {
	if p.Summary.Counts == nil {
		return json.Marshal(struct {
			Summary Summary `json:"summary"`
		}{p.Summary})
	}
	data := p.Data
	if data == nil {
		data = []Finding{}
	}
	return json.Marshal(struct {
		Summary Summary   `json:"summary"`
		Data    []Finding `json:"data"`
	}{p.Summary, data})
}

// Decide maps counts to a verdict.
func Decide(c Counts) Verdict {
	switch {
	case c.High+c.Medium > 0:
		return Block
	case c.Low > 0:
		return Warn
	default:
		return Allow
	}
}

// Summarize builds Profiles from per-level findings. Data lists high, then
// medium, then low findings, each in the order given.
func Summarize(high, medium, low []Finding) Profiles {
	counts := Counts{Low: len(low), Medium: len(medium), High: len(high)}
	data := make([]Finding, 0, len(high)+len(medium)+len(low))
	data = append(data, high...)
	data = append(data, medium...)
	data = append(data, low...)
	return Profiles{
		Summary: Summary{Result: Decide(counts), Counts: &counts},
		Data:    data,
	}
}

// AllowOnly is the summary of an assessment that runs no checks.
func AllowOnly() Profiles {
	return Profiles{Summary: Summary{Result: Allow}}
}
