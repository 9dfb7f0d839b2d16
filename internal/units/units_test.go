package units

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in       string
		decimals int
		want     string
		wantErr  bool
	}{
		{"1", 18, "1000000000000000000", false},
		{"0.5", 18, "500000000000000000", false},
		{".25", 2, "25", false},
		{"", 18, "0", false},
		{"1.234", 2, "", true},
		{"abc", 18, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in, tt.decimals)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		in       string
		decimals int
		want     string
	}{
		{"1000000000000000000", 18, "1.0"},
		{"1500000000000000000", 18, "1.5"},
		{"1", 18, "0.000000000000000001"},
		{"0", 18, "0.0"},
		{"1234567", 6, "1.234567"},
		{"-2500000", 6, "-2.5"},
		{"42", 0, "42.0"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, _ := new(big.Int).SetString(tt.in, 10)
			assert.Equal(t, tt.want, Format(v, tt.decimals))
		})
	}
}

func TestFloatAndRound(t *testing.T) {
	assert.InDelta(t, 1.5, Float(big.NewInt(1500000), 6), 1e-12)
	assert.Zero(t, Float(nil, 18))
	assert.Equal(t, 1.234568, Round(1.2345678, 6))
	assert.Equal(t, -0.5, Round(-0.45, 1))
}
