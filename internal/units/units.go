// Package units converts between integer token amounts and their decimal
// representations.
package units

import (
	"errors"
	"math"
	"math/big"
	"strings"
)

// EtherDecimals is the number of decimals of every EVM native currency.
const EtherDecimals = 18

// ErrInvalidAmount is returned for amounts that are not decimal numbers or
// carry more fractional digits than the unit allows.
var ErrInvalidAmount = errors.New("units: invalid amount")

// Parse converts a decimal string such as "1.5" into base units.
func Parse(amount string, decimals int) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return new(big.Int), nil
	}
	neg := strings.HasPrefix(amount, "-")
	amount = strings.TrimPrefix(amount, "-")

	whole, frac, _ := strings.Cut(amount, ".")
	if len(frac) > decimals {
		return nil, ErrInvalidAmount
	}
	if whole == "" {
		whole = "0"
	}
	digits := whole + frac + strings.Repeat("0", decimals-len(frac))
	v, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, ErrInvalidAmount
	}
	if neg {
		v.Neg(v)
	}
	return v, nil
}

// Format renders base units as a decimal string with at least one
// fractional digit, e.g. 1500000000000000000 at 18 decimals is "1.5" and
// 10^18 is "1.0".
func Format(v *big.Int, decimals int) string {
	if v == nil {
		v = new(big.Int)
	}
	s := new(big.Int).Abs(v).String()
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	whole, frac := s[:len(s)-decimals], strings.TrimRight(s[len(s)-decimals:], "0")
	if frac == "" {
		frac = "0"
	}
	if v.Sign() < 0 {
		whole = "-" + whole
	}
	return whole + "." + frac
}

// Float converts base units to a float64, losing precision beyond 53 bits.
func Float(v *big.Int, decimals int) float64 {
	if v == nil {
		return 0
	}
	f := new(big.Float).SetPrec(256).SetInt(v)
	if decimals > 0 {
		f.Quo(f, new(big.Float).SetInt(pow10(decimals)))
	}
	out, _ := f.Float64()
	return out
}

// Round rounds f half away from zero to places decimal places.
func Round(f float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(f*p) / p
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
