package testutil

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrNotFound mirrors ethereum.NotFound for missing receipts and headers.
var ErrNotFound = ethereum.NotFound

// FakeNode is an in-memory JSON-RPC node for tests. Zero value is a live
// node with no contracts.
type FakeNode struct {
	mu sync.Mutex

	// Down makes every call fail.
	Down bool
	// Code maps lowercase addresses to their bytecode.
	Code map[string][]byte
	// Call answers eth_call. Nil returns an error.
	Call func(msg ethereum.CallMsg) ([]byte, error)
	// Receipts and Headers are keyed by tx hash and block number.
	Receipts map[common.Hash]*types.Receipt
	Headers  map[uint64]*types.Header

	probes int32
}

var errDown = errors.New("fake node: connection refused")

// SetCode marks addr as a contract.
func (f *FakeNode) SetCode(addr string, code []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Code == nil {
		f.Code = make(map[string][]byte)
	}
	f.Code[strings.ToLower(addr)] = code
}

// Probes counts BlockNumber calls.
func (f *FakeNode) Probes() int {
	return int(atomic.LoadInt32(&f.probes))
}

func (f *FakeNode) BlockNumber(ctx context.Context) (uint64, error) {
	atomic.AddInt32(&f.probes, 1)
	if f.Down {
		return 0, errDown
	}
	return 18_000_000, nil
}

func (f *FakeNode) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	if f.Down {
		return nil, errDown
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Code[strings.ToLower(account.Hex())], nil
}

func (f *FakeNode) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if f.Down || f.Call == nil {
		return nil, errDown
	}
	return f.Call(call)
}

func (f *FakeNode) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if f.Down {
		return nil, errDown
	}
	if r, ok := f.Receipts[txHash]; ok {
		return r, nil
	}
	return nil, ErrNotFound
}

func (f *FakeNode) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if f.Down {
		return nil, errDown
	}
	if number == nil {
		return &types.Header{Number: big.NewInt(18_000_000)}, nil
	}
	if h, ok := f.Headers[number.Uint64()]; ok {
		return h, nil
	}
	return nil, ErrNotFound
}
