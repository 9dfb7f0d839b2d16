package calldata

import (
	"fmt"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const spender = "0x1111111254eeb25477b68fb85ed929f73a960582"

func word(v *big.Int) string {
	return fmt.Sprintf("%064x", v)
}

func addrWord(addr string) string {
	return strings.Repeat("0", 24) + strings.TrimPrefix(addr, "0x")
}

func maxUint256() *big.Int {
	return new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
}

func TestSelectors(t *testing.T) {
	tests := []struct {
		sel  Selector
		want string
	}{
		{Approve, "0x095ea7b3"},
		{IncreaseAllowance, "0x39509351"},
		{SetApprovalForAll, "0xa22cb465"},
		{Transfer, "0xa9059cbb"},
		{TransferFrom, "0x23b872dd"},
		{SafeTransferFrom, "0x42842e0e"},
		{SafeTransferFromAmount, "0xf242432a"},
		{SafeTransferFromData, "0xb88d4fde"},
		{SafeBatchTransferFrom, "0x2eb2c2d6"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, string(tt.sel))
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		input string
		want  Family
	}{
		{"0x095ea7b3" + addrWord(spender) + word(big.NewInt(1)), FamilyApprove},
		{"0xA22CB465", FamilyApprove},
		{"0xa9059cbb", FamilyTransfer},
		{"0x2eb2c2d6", FamilyTransfer},
		{"0xdeadbeef", FamilyOther},
		{"", FamilyOther},
		{"0x", FamilyOther},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.input))
		})
	}
}

func TestDecodeApproval(t *testing.T) {
	input := "0x095ea7b3" + addrWord(spender) + word(maxUint256())
	got, err := DecodeApproval(input)
	require.NoError(t, err)
	assert.Equal(t, spender, got.Spender)
	assert.Equal(t, 0, got.Amount.Cmp(maxUint256()))

	all, err := DecodeApproval("0xa22cb465" + addrWord(spender) + word(big.NewInt(1)))
	require.NoError(t, err)
	assert.True(t, all.All)
	assert.Nil(t, all.Amount)
}

func TestDecodeApproval_MalformedLength(t *testing.T) {
	_, err := DecodeApproval("0x095ea7b3" + addrWord(spender))
	assert.ErrorIs(t, err, ErrUnrecognized)

	_, err = DecodeApproval("0xa9059cbb" + addrWord(spender) + word(big.NewInt(1)))
	assert.ErrorIs(t, err, ErrUnrecognized, "transfer is not an approval")
}

func TestDecodeTransfer(t *testing.T) {
	from := "0x2222222222222222222222222222222222222222"
	to := "0x000000000000000000000000000000000000dead"

	got, err := DecodeTransfer("0xa9059cbb" + addrWord(to) + word(big.NewInt(42)))
	require.NoError(t, err)
	assert.Empty(t, got.From)
	assert.Equal(t, to, got.To)
	assert.Equal(t, int64(42), got.Value.Int64())

	got, err = DecodeTransfer("0x23b872dd" + addrWord(from) + addrWord(to) + word(big.NewInt(7)))
	require.NoError(t, err)
	assert.Equal(t, from, got.From)
	assert.Equal(t, to, got.To)
	assert.Equal(t, int64(7), got.Value.Int64())

	_, err = DecodeTransfer("0x095ea7b3" + addrWord(to) + word(big.NewInt(1)))
	assert.ErrorIs(t, err, ErrUnrecognized)

	_, err = DecodeTransfer("0xa9059cbb" + addrWord(to))
	assert.ErrorIs(t, err, ErrUnrecognized)
}

func TestTrailingWord(t *testing.T) {
	input := "0x095ea7b3" + addrWord(spender) + word(big.NewInt(500))
	assert.Equal(t, int64(500), TrailingWord(input).Int64())
	assert.Equal(t, int64(0), TrailingWord("0xzz").Int64())
}
