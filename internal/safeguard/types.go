package safeguard

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"github.com/LukasBures/olynthus/internal/chain"
	"github.com/LukasBures/olynthus/internal/counterparty"
	"github.com/LukasBures/olynthus/internal/risk"
	"github.com/LukasBures/olynthus/internal/simulation"
)

// Numeric is a JSON value sent either as a string or as a number. It keeps
// the decimal text so large integers survive decoding.
type Numeric string

func (n *Numeric) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = Numeric(s)
		return nil
	}
	var num json.Number
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&num); err != nil {
		return errors.New("safeguard: expected a string or a number")
	}
	*n = Numeric(num.String())
	return nil
}

func (n Numeric) String() string { return string(n) }

// Transaction is a pending transaction. Value is in ether.
type Transaction struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Value    string `json:"value"`
	Data     string `json:"data"`
	Gas      string `json:"gas,omitempty"`
	GasPrice string `json:"gas_price,omitempty"`
}

// Metadata describes where a request came from.
type Metadata struct {
	URL string `json:"url"`
}

// TransactionRequest is the body of a transaction assessment.
type TransactionRequest struct {
	Transaction Transaction `json:"transaction"`
	Metadata    Metadata    `json:"metadata"`
}

// Domain is the EIP-712 domain of a typed message.
type Domain struct {
	Name              string  `json:"name"`
	Version           string  `json:"version,omitempty"`
	ChainID           Numeric `json:"chainId"`
	VerifyingContract string  `json:"verifyingContract"`
}

// TypedMessage is an EIP-712 message as handed to a wallet for signing.
type TypedMessage struct {
	Domain      Domain          `json:"domain"`
	PrimaryType string          `json:"primaryType"`
	Types       json.RawMessage `json:"types,omitempty"`
	Message     json.RawMessage `json:"message"`
}

// MessageRequest is the body of a message assessment.
type MessageRequest struct {
	Message  TypedMessage `json:"message"`
	Metadata Metadata     `json:"metadata"`
}

// User identifies a wallet by address or by ENS name.
type User struct {
	Address string `json:"address,omitempty"`
	ENS     string `json:"ens,omitempty"`
}

// UserRequest is the body of a user assessment.
type UserRequest struct {
	User User `json:"user"`
}

// CounterpartyDetails names the transaction target.
type CounterpartyDetails struct {
	Name string `json:"name"`
}

// TransactionAssessment is the verdict on a transaction.
type TransactionAssessment struct {
	Chain               chain.Chain         `json:"chain"`
	Network             chain.Network       `json:"network"`
	CounterpartyDetails CounterpartyDetails `json:"counterparty_details"`
	TxType              risk.TxType         `json:"tx_type"`
	RiskProfiles        risk.Profiles       `json:"risk_profiles"`
	Simulation          simulation.Result   `json:"simulation"`
}

// MessageAssessment is the verdict on a typed message. MessageType is empty
// for Seaport bulk orders.
type MessageAssessment struct {
	Chain        chain.Chain   `json:"chain"`
	Network      chain.Network `json:"network"`
	MessageType  string        `json:"message_type,omitempty"`
	RiskProfiles risk.Profiles `json:"risk_profiles"`
}

// UserProfile is the resolved user of a user assessment.
type UserProfile struct {
	Address string            `json:"address,omitempty"`
	ENS     *string           `json:"ens"`
	Type    counterparty.Type `json:"type,omitempty"`
}

// UserAssessment is the verdict on a wallet.
type UserAssessment struct {
	Chain        chain.Chain   `json:"chain"`
	Network      chain.Network `json:"network"`
	User         UserProfile   `json:"user"`
	RiskProfiles risk.Profiles `json:"risk_profiles"`
}

// ApprovalToken is the token an approval covers.
type ApprovalToken struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// ApprovalEntry is one approval listed in a finding. ApprovalValue is a
// base-10 string, or a bool for setApprovalForAll.
type ApprovalEntry struct {
	Spender       string        `json:"spender"`
	ApprovalValue any           `json:"approval_value"`
	From          string        `json:"from"`
	Token         ApprovalToken `json:"token"`
}

// ApprovalDetails is the details payload of LARGE_APPROVAL and APPROVAL_ALL.
type ApprovalDetails struct {
	Approvals []ApprovalEntry `json:"approvals"`
}

// CounterpartyRef names an address and whether it is a contract.
type CounterpartyRef struct {
	Address string `json:"address"`
	Type    string `json:"type"`
}

// MaliciousCounterpartyDetails is the details payload of a dataset match.
type MaliciousCounterpartyDetails struct {
	Labels                []string        `json:"labels"`
	MaliciousCounterparty CounterpartyRef `json:"malicious_counterparty"`
	Tags                  []string        `json:"tags"`
}

// PrivateAddressDetails is the details payload of an EOA verifying contract.
type PrivateAddressDetails struct {
	MaliciousCounterparty CounterpartyRef `json:"malicious_counterparty"`
}

// NewContractDetails is the details payload of NEW_CONTRACT.
type NewContractDetails struct {
	Contract          string    `json:"contract"`
	ContractCreatedAt time.Time `json:"contract_created_at"`
}

// SeaportAsset is one NFT offered in a Seaport order.
type SeaportAsset struct {
	Address  string `json:"address"`
	TokenID  string `json:"token_id"`
	Name     string `json:"name"`
	ImageURL string `json:"image_url"`
}

// SeaportSaleDetails is the details payload of SEAPORT_TOKEN_SALE.
type SeaportSaleDetails struct {
	Assets []SeaportAsset `json:"assets"`
	From   string         `json:"from"`
	Value  string         `json:"value"`
}
