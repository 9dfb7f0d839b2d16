// Package chain defines the EVM chains and networks the engine can assess,
// with the per-chain constants every other package keys on.
package chain

import (
	"errors"
	"fmt"
	"strings"
)

// Chain identifies an EVM chain.
type Chain string

const (
	Ethereum Chain = "ETHEREUM"
	BSC      Chain = "BSC"
	Polygon  Chain = "POLYGON"
)

// Network identifies a network of a chain.
type Network string

const (
	Mainnet Network = "MAINNET"
	Testnet Network = "TESTNET"
	Goerli  Network = "GOERLI"
	Mumbai  Network = "MUMBAI"
)

// ErrUnsupportedChain is returned when a chain name is not one of the supported chains.
var ErrUnsupportedChain = errors.New("chain: unsupported chain")

// Supported lists the chains the engine assesses, in display order.
var Supported = []Chain{Ethereum, BSC, Polygon}

// Burn addresses are canonical sinks; tokens sent there are unrecoverable.
var BurnAddresses = []string{
	"0x0000000000000000000000000000000000000000",
	"0x000000000000000000000000000000000000dead",
}

// ZeroAddress is the all-zero address.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// Parse resolves a chain name case-insensitively.
func Parse(name string) (Chain, error) {
	c := Chain(strings.ToUpper(strings.TrimSpace(name)))
	for _, s := range Supported {
		if s == c {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedChain, name)
}

// Key is the memo key for a (chain, network) pair.
func Key(c Chain, n Network) string {
	return string(c) + "/" + string(n)
}

// IsBurnAddress reports whether addr is one of the canonical burn addresses.
func IsBurnAddress(addr string) bool {
	addr = strings.ToLower(addr)
	for _, b := range BurnAddresses {
		if addr == b {
			return true
		}
	}
	return false
}

var chainIDs = map[Chain]map[Network]int64{
	Ethereum: {Mainnet: 1, Goerli: 5},
	BSC:      {Mainnet: 56, Testnet: 97},
	Polygon:  {Mainnet: 137, Mumbai: 80001, Testnet: 80001},
}

// ID returns the numeric chain ID, or 0 when the pair is unknown.
func ID(c Chain, n Network) int64 {
	return chainIDs[c][n]
}

var nativeCurrency = map[Chain]string{
	Ethereum: "ETH",
	BSC:      "BNB",
	Polygon:  "MATIC",
}

// NativeCurrency returns the symbol of the chain's gas token.
func NativeCurrency(c Chain) string {
	if s, ok := nativeCurrency[c]; ok {
		return s
	}
	return "ETH"
}

// Wrapped native tokens used as price references for the native currency.
var wrappedNative = map[Chain]string{
	Ethereum: "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2",
	BSC:      "0xbb4cdb9cbd36b01bd1cbaebf2de08d9173bc095c",
	Polygon:  "0x0d500b1d8e8ef31e21c99d1db9a6444d3adf1270",
}

// WrappedNative returns the lowercase address of the wrapped native token.
func WrappedNative(c Chain) string {
	return wrappedNative[c]
}

var externalNames = map[Chain]string{
	Ethereum: "ethereum",
	BSC:      "bsc",
	Polygon:  "polygon",
}

// ExternalName is the chain slug used by pricing and NFT metadata APIs.
func ExternalName(c Chain) string {
	if s, ok := externalNames[c]; ok {
		return s
	}
	return strings.ToLower(string(c))
}
