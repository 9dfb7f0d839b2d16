// Package ens resolves ENS names through the on-chain registry.
package ens

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidName is returned for names that cannot be hashed or fail the
// accepted name shape.
var ErrInvalidName = errors.New("ens: invalid ENS name")

// RegistryAddress is the ENS registry on Ethereum mainnet and Goerli.
var RegistryAddress = common.HexToAddress("0x00000000000C2E074eC69A0dFb2997BA6C7d2e1e")

var nameShape = regexp.MustCompile(`^[a-z0-9]{3,251}\.eth$`)

// Validate reports whether name is an accepted .eth name (3 to 251
// alphanumerics under the eth root).
func Validate(name string) bool {
	return nameShape.MatchString(strings.ToLower(name))
}

// Namehash computes the EIP-137 node of name.
func Namehash(name string) (common.Hash, error) {
	var node common.Hash
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return node, nil
	}
	labels := strings.Split(name, ".")
	for i := len(labels) - 1; i >= 0; i-- {
		if labels[i] == "" {
			return common.Hash{}, fmt.Errorf("%w: empty component in %q", ErrInvalidName, name)
		}
		label := crypto.Keccak256([]byte(labels[i]))
		node = common.BytesToHash(crypto.Keccak256(node[:], label))
	}
	return node, nil
}

// Caller is the eth_call surface the resolver needs.
type Caller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

var (
	resolverSelector = crypto.Keccak256([]byte("resolver(bytes32)"))[:4]
	addrSelector     = crypto.Keccak256([]byte("addr(bytes32)"))[:4]
)

// Resolver resolves forward ENS records.
type Resolver struct {
	registry common.Address
}

// NewResolver uses the canonical registry.
func NewResolver() *Resolver {
	return &Resolver{registry: RegistryAddress}
}

// Resolve returns the lowercase address name points to, or "" when the name
// has no resolver or no address record.
func (r *Resolver) Resolve(ctx context.Context, node Caller, name string) (string, error) {
	hash, err := Namehash(name)
	if err != nil {
		return "", err
	}

	resolver, err := r.lookup(ctx, node, r.registry, resolverSelector, hash)
	if err != nil {
		return "", fmt.Errorf("ens: lookup resolver: %w", err)
	}
	if resolver == (common.Address{}) {
		return "", nil
	}

	addr, err := r.lookup(ctx, node, resolver, addrSelector, hash)
	if err != nil {
		return "", fmt.Errorf("ens: lookup addr: %w", err)
	}
	if addr == (common.Address{}) {
		return "", nil
	}
	return strings.ToLower(addr.Hex()), nil
}

func (r *Resolver) lookup(ctx context.Context, node Caller, to common.Address, selector []byte, hash common.Hash) (common.Address, error) {
	data := make([]byte, 0, 36)
	data = append(data, selector...)
	data = append(data, hash[:]...)

	out, err := node.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return common.Address{}, err
	}
	if len(out) < 32 {
		return common.Address{}, nil
	}
	return common.BytesToAddress(out[12:32]), nil
}
