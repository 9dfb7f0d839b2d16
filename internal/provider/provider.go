// Package provider selects a live blockchain data source per operation
// category from static priority lists, with lazily created clients memoized
// per (chain, network).
package provider

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/LukasBures/olynthus/internal/config"
)

// ErrNoProvider means no provider in the category's priority list is
// configured and live. Callers degrade rather than fail.
var ErrNoProvider = errors.New("provider: no provider available")

// Category groups operations that share a priority list.
type Category string

const (
	FullNode         Category = "full_node"
	ArchiveNode      Category = "archive_node"
	ContractDetails  Category = "contract_details"
	TokenInformation Category = "token_information"
	ContractCreation Category = "contract_creation"
)

// Mode is the access mode a caller needs from the provider.
type Mode string

const (
	ModeRPC     Mode = "rpc"
	ModeHTTPAPI Mode = "http_api"
)

// Provider names. Node providers share their names with the config keys.
const (
	ArdaFullNode    = config.ProviderArdaFullNode
	ArdaArchiveNode = config.ProviderArdaArchiveNode
	ArchiveNodeIO   = config.ProviderArchiveNodeIO
	Ankr            = config.ProviderAnkr
	Infura          = config.ProviderInfura
	BlockchainScan  = "blockchain_scan"
)

// Priorities is the ordered provider list for each category.
var Priorities = map[Category][]string{
	FullNode:         {ArdaFullNode, ArdaArchiveNode, ArchiveNodeIO, Ankr, Infura},
	ArchiveNode:      {ArdaArchiveNode, ArchiveNodeIO, Ankr, Infura},
	TokenInformation: {BlockchainScan},
	ContractDetails:  {BlockchainScan},
	ContractCreation: {BlockchainScan},
}

// capabilities lists the modes each provider serves.
var capabilities = map[string][]Mode{
	ArdaFullNode:    {ModeRPC},
	ArdaArchiveNode: {ModeRPC},
	ArchiveNodeIO:   {ModeRPC},
	Ankr:            {ModeRPC},
	Infura:          {ModeRPC},
	BlockchainScan:  {ModeHTTPAPI},
}

// Supports reports whether the named provider serves mode.
func Supports(name string, mode Mode) bool {
	for _, m := range capabilities[name] {
		if m == mode {
			return true
		}
	}
	return false
}

// Node is the JSON-RPC surface the engine uses. *ethclient.Client satisfies it.
type Node interface {
	BlockNumber(ctx context.Context) (uint64, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}
