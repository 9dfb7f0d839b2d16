package explorer

import (
	"errors"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ErrUnknown is returned when the explorer answers without a usable result
// (non-200, status "0", malformed payload). Callers treat it as "unknown",
// never as a negative answer.
var ErrUnknown = errors.New("explorer: unknown result")

// Token types as reported by etherscan-style explorers.
const (
	TokenERC20   = "ERC20"
	TokenBEP20   = "BEP20"
	TokenERC721  = "ERC721"
	TokenERC1155 = "ERC1155"
	TokenUnknown = "unknown"
)

const notVerified = "Contract source code not verified"

// ContractDetails is the verification record of a contract.
type ContractDetails struct {
	Name     string
	Verified bool
	// Implementation is the proxy target, lowercased, when it differs from the contract.
	Implementation string
	// ABI governing behavior: the implementation's for proxies, else the contract's.
	// Nil when unverified or unparsable.
	ABI *abi.ABI
}

// HasMethod reports whether the governing ABI declares a method by name.
func (d *ContractDetails) HasMethod(name string) bool {
	if d == nil || d.ABI == nil {
		return false
	}
	_, ok := d.ABI.Methods[name]
	return ok
}

// TokenInfo is token metadata.
type TokenInfo struct {
	Address     string `json:"address"`
	Symbol      string `json:"symbol"`
	Name        string `json:"name"`
	Decimals    int    `json:"decimals"`
	TotalSupply string `json:"total_supply"`
	TokenType   string `json:"token_type"`
}

// UnknownToken is the neutral token record: 18 decimals, type unknown.
func UnknownToken(address string) TokenInfo {
	return TokenInfo{Address: address, Decimals: 18, TokenType: TokenUnknown}
}

// IsKnownType reports whether the token type is one the engine branches on.
func (t TokenInfo) IsKnownType() bool {
	switch t.TokenType {
	case TokenERC20, TokenBEP20, TokenERC721, TokenERC1155:
		return true
	}
	return false
}

// IsFungible reports ERC20/BEP20.
func (t TokenInfo) IsFungible() bool {
	return t.TokenType == TokenERC20 || t.TokenType == TokenBEP20
}

// Creation is a contract-creation record.
type Creation struct {
	ContractAddress string `json:"contractAddress"`
	ContractCreator string `json:"contractCreator"`
	TxHash          string `json:"txHash"`
}

type envelope[T any] struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  T      `json:"result"`
}

type sourceCode struct {
	ABI            string `json:"ABI"`
	ContractName   string `json:"ContractName"`
	Implementation string `json:"Implementation"`
}

type tokenInfo struct {
	ContractAddress string `json:"contractAddress"`
	TokenName       string `json:"tokenName"`
	Symbol          string `json:"symbol"`
	Divisor         string `json:"divisor"`
	TokenType       string `json:"tokenType"`
	TotalSupply     string `json:"totalSupply"`
}

func (t tokenInfo) toTokenInfo(fallbackAddr string) TokenInfo {
	decimals, err := strconv.Atoi(strings.TrimSpace(t.Divisor))
	if err != nil {
		decimals = 18
	}
	addr := strings.ToLower(t.ContractAddress)
	if addr == "" {
		addr = fallbackAddr
	}
	tokenType := t.TokenType
	if tokenType == "" {
		tokenType = TokenUnknown
	}
	return TokenInfo{
		Address:     addr,
		Symbol:      t.Symbol,
		Name:        t.TokenName,
		Decimals:    decimals,
		TotalSupply: t.TotalSupply,
		TokenType:   tokenType,
	}
}
