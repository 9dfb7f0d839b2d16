// Package multiplexer answers the engine's on-chain questions (is this a
// contract, is it verified, what token is it, when was it created) by
// routing each call to the provider category that serves it. Provider
// failures degrade to neutral answers; they are logged, not returned.
package multiplexer

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/LukasBures/olynthus/internal/chain"
	"github.com/LukasBures/olynthus/internal/counterparty"
	"github.com/LukasBures/olynthus/internal/ens"
	"github.com/LukasBures/olynthus/internal/explorer"
	"github.com/LukasBures/olynthus/internal/logging"
	"github.com/LukasBures/olynthus/internal/provider"
	"github.com/LukasBures/olynthus/internal/traces"
)

// erc1155InterfaceID is the ERC-165 identifier of ERC-1155.
var erc1155InterfaceID = [4]byte{0xd9, 0xb6, 0x7a, 0x26}

// Providers is the provider pool surface used here. *provider.Pool satisfies it.
type Providers interface {
	RPC(ctx context.Context, c chain.Chain, n chain.Network, category provider.Category) (provider.Node, error)
	Explorer(ctx context.Context, c chain.Chain, n chain.Network) (*explorer.Client, error)
}

// Creation describes when and by whom a contract was deployed.
type Creation struct {
	Address string
	Time    uint64
	Block   uint64
	TxHash  string
	Creator string
}

// ContractInfo is the merged view of creation, token and verification data.
// Zero fields mean the corresponding source had nothing to say.
type ContractInfo struct {
	Name           string `json:"name"`
	Address        string `json:"address"`
	BlockNumber    uint64 `json:"block_number,omitempty"`
	BlockTimestamp uint64 `json:"block_timestamp,omitempty"`
	TxnHash        string `json:"txn_hash,omitempty"`
	Creator        string `json:"creator,omitempty"`
	TokenType      string `json:"token_type,omitempty"`
	IsVerified     *bool  `json:"is_verified,omitempty"`
}

// HasCreationTime reports whether the creation timestamp is known.
func (i ContractInfo) HasCreationTime() bool { return i.BlockTimestamp > 0 }

// Multiplexer is safe for concurrent use.
type Multiplexer struct {
	providers Providers
	resolver  *ens.Resolver
	logger    *slog.Logger
}

// Option configures a Multiplexer.
type Option func(*Multiplexer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Multiplexer) { m.logger = logging.Component(l, "multiplexer") }
}

// New creates a Multiplexer over providers.
func New(providers Providers, opts ...Option) *Multiplexer {
	m := &Multiplexer{
		providers: providers,
		resolver:  ens.NewResolver(),
		logger:    logging.Component(nil, "multiplexer"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsContract reports whether address has bytecode, read from a full node.
func (m *Multiplexer) IsContract(ctx context.Context, c chain.Chain, n chain.Network, address string) (bool, error) {
	if address == "" {
		return false, nil
	}
	node, err := m.providers.RPC(ctx, c, n, provider.FullNode)
	if err != nil {
		return false, err
	}
	code, err := node.CodeAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return false, err
	}
	return len(code) > 0, nil
}

// Classify returns the counterparty type of address. An unknown bytecode
// answer classifies as EOA; an unknown verification answer classifies as
// verified. Only an explorer-confirmed unverified contract is UNVERIFIED_CONTRACT.
func (m *Multiplexer) Classify(ctx context.Context, c chain.Chain, n chain.Network, address string) counterparty.Type {
	ctx, span := traces.StartSpan(ctx, "multiplexer.Classify", traces.Chain(string(c)), traces.Address(address))
	defer span.End()

	isContract, err := m.IsContract(ctx, c, n, address)
	if err != nil {
		m.logger.Warn("bytecode lookup failed, treating as EOA", "address", address, "chain", c, "network", n, "error", err)
		return counterparty.EOA
	}
	if !isContract {
		return counterparty.EOA
	}

	details, err := m.ContractDetails(ctx, c, n, address)
	if err != nil {
		m.logger.Debug("verification unknown, not flagging", "address", address, "error", err)
		return counterparty.VerifiedContract
	}
	if !details.Verified {
		return counterparty.UnverifiedContract
	}
	return counterparty.VerifiedContract
}

// Classifier binds Classify to a chain and network.
func (m *Multiplexer) Classifier(c chain.Chain, n chain.Network) counterparty.Classifier {
	return counterparty.ClassifierFunc(func(ctx context.Context, address string) counterparty.Type {
		return m.Classify(ctx, c, n, address)
	})
}

// ContractDetails returns the explorer verification record of address.
func (m *Multiplexer) ContractDetails(ctx context.Context, c chain.Chain, n chain.Network, address string) (*explorer.ContractDetails, error) {
	ex, err := m.providers.Explorer(ctx, c, n)
	if err != nil {
		return nil, err
	}
	return ex.ContractDetails(ctx, address)
}

// TokenInfo returns token metadata for address. ok is false when no
// explorer answered at all; an explorer answer without data yields
// explorer.UnknownToken with ok true. When the explorer type is not a known
// fungible or ERC-721 type and the verified ABI exposes supportsInterface,
// the contract is probed for ERC-1155.
func (m *Multiplexer) TokenInfo(ctx context.Context, c chain.Chain, n chain.Network, address string) (info explorer.TokenInfo, ok bool) {
	address = strings.ToLower(address)
	ex, err := m.providers.Explorer(ctx, c, n)
	if err != nil {
		m.logger.Warn("no explorer for token information", "chain", c, "network", n, "error", err)
		return explorer.UnknownToken(address), false
	}

	info, err = ex.TokenInfo(ctx, address)
	if err != nil && !errors.Is(err, explorer.ErrUnknown) {
		m.logger.Warn("token information failed", "address", address, "error", err)
		return explorer.UnknownToken(address), false
	}

	switch info.TokenType {
	case explorer.TokenERC20, explorer.TokenBEP20, explorer.TokenERC721:
		return info, true
	}
	if m.supportsERC1155(ctx, c, n, address) {
		info.TokenType = explorer.TokenERC1155
	}
	return info, true
}

func (m *Multiplexer) supportsERC1155(ctx context.Context, c chain.Chain, n chain.Network, address string) bool {
	details, err := m.ContractDetails(ctx, c, n, address)
	if err != nil || !details.HasMethod("supportsInterface") {
		return false
	}

	data, err := details.ABI.Pack("supportsInterface", erc1155InterfaceID)
	if err != nil {
		m.logger.Debug("cannot pack supportsInterface", "address", address, "error", err)
		return false
	}
	node, err := m.providers.RPC(ctx, c, n, provider.ArchiveNode)
	if err != nil {
		m.logger.Warn("no archive node for ERC-1155 probe", "address", address, "error", err)
		return false
	}
	to := common.HexToAddress(address)
	out, err := node.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		m.logger.Debug("supportsInterface call failed", "address", address, "error", err)
		return false
	}
	res, err := details.ABI.Unpack("supportsInterface", out)
	if err != nil || len(res) == 0 {
		return false
	}
	supported, _ := res[0].(bool)
	return supported
}

// ContractCreation returns the deployment record of address: the explorer
// gives the creation transaction, an archive node gives its block and time.
func (m *Multiplexer) ContractCreation(ctx context.Context, c chain.Chain, n chain.Network, address string) (*Creation, error) {
	address = strings.ToLower(address)
	ex, err := m.providers.Explorer(ctx, c, n)
	if err != nil {
		return nil, err
	}
	records, err := ex.ContractCreation(ctx, address)
	if err != nil {
		return nil, err
	}

	var rec *explorer.Creation
	for i := range records {
		if strings.EqualFold(records[i].ContractAddress, address) {
			rec = &records[i]
			break
		}
	}
	if rec == nil {
		return nil, explorer.ErrUnknown
	}

	node, err := m.providers.RPC(ctx, c, n, provider.ArchiveNode)
	if err != nil {
		return nil, err
	}
	receipt, err := node.TransactionReceipt(ctx, common.HexToHash(rec.TxHash))
	if err != nil {
		return nil, err
	}
	header, err := node.HeaderByNumber(ctx, new(big.Int).Set(receipt.BlockNumber))
	if err != nil {
		return nil, err
	}

	return &Creation{
		Address: address,
		Time:    header.Time,
		Block:   receipt.BlockNumber.Uint64(),
		TxHash:  rec.TxHash,
		Creator: strings.ToLower(rec.ContractCreator),
	}, nil
}

// DetailedContractInfo merges creation, token and verification data,
// fetched concurrently. Each source degrades independently.
func (m *Multiplexer) DetailedContractInfo(ctx context.Context, c chain.Chain, n chain.Network, address string) ContractInfo {
	address = strings.ToLower(address)

	var (
		creation *Creation
		token    explorer.TokenInfo
		tokenOK  bool
		details  *explorer.ContractDetails
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if creation, err = m.ContractCreation(gctx, c, n, address); err != nil {
			m.logger.Debug("contract creation unavailable", "address", address, "error", err)
		}
		return nil
	})
	g.Go(func() error {
		token, tokenOK = m.TokenInfo(gctx, c, n, address)
		return nil
	})
	g.Go(func() error {
		var err error
		if details, err = m.ContractDetails(gctx, c, n, address); err != nil {
			m.logger.Debug("contract details unavailable", "address", address, "error", err)
		}
		return nil
	})
	_ = g.Wait()

	info := ContractInfo{Address: address}
	switch {
	case chain.IsBurnAddress(address):
		info.Name = "Burn Address"
	case tokenOK && token.Name != "":
		info.Name = token.Name
	case details != nil:
		info.Name = details.Name
	}
	if creation != nil {
		info.BlockNumber = creation.Block
		info.BlockTimestamp = creation.Time
		info.TxnHash = creation.TxHash
		info.Creator = creation.Creator
	}
	if tokenOK {
		info.TokenType = token.TokenType
	}
	if details != nil {
		verified := details.Verified
		info.IsVerified = &verified
	}
	return info
}

// ResolveENS resolves name through a full node. Invalid names return
// ens.ErrInvalidName; every other failure is returned wrapped.
func (m *Multiplexer) ResolveENS(ctx context.Context, c chain.Chain, n chain.Network, name string) (string, error) {
	if _, err := ens.Namehash(name); err != nil {
		return "", err
	}
	node, err := m.providers.RPC(ctx, c, n, provider.FullNode)
	if err != nil {
		return "", err
	}
	return m.resolver.Resolve(ctx, node, name)
}
