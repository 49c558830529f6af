// Package money provides fixed-point arithmetic for token amounts.
// Amounts are raw integer token units (*big.Int); products are computed with
// 256-bit checked math so results match what the EVM would produce.
package money

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// Scale factors
const (
	BPSScale       int64 = 10000 // basis points: 100% = 10000
	WeightDecimals       = 18    // issuance weight is an 18-decimal fixed point number
)

var (
	ErrOverflow       = errors.New("money: result overflows uint256")
	ErrDivisionByZero = errors.New("money: division by zero")
	ErrNegative       = errors.New("money: negative operand")
)

// BPS represents basis points (1 bps = 0.01% = 0.0001).
type BPS int64

// NewBPSFromInt creates BPS directly from basis points.
func NewBPSFromInt(bps int64) BPS {
	return BPS(bps)
}

// Of returns amount * bps / 10000, truncating.
func (a BPS) Of(amount *big.Int) *big.Int {
	if amount == nil || amount.Sign() == 0 || a == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(amount, big.NewInt(int64(a)))
	return out.Quo(out, big.NewInt(BPSScale))
}

// Deduct returns amount minus its bps fraction.
func (a BPS) Deduct(amount *big.Int) *big.Int {
	if amount == nil {
		return new(big.Int)
	}
	return new(big.Int).Sub(amount, a.Of(amount))
}

// Percent returns as percentage string (e.g., "0.50%").
func (a BPS) Percent() string {
	return fmt.Sprintf("%.2f%%", float64(a)/100.0)
}

// String returns basis points as string (e.g., "50 bps").
func (a BPS) String() string {
	return fmt.Sprintf("%d bps", a)
}

// Int64 returns raw basis points value.
func (a BPS) Int64() int64 {
	return int64(a)
}

// Pow10 returns 10^decimals as *big.Int
func Pow10(decimals int) *big.Int {
	if decimals < 0 {
		decimals = 0
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

// MulDiv computes floor(x * y / denominator) with a full 512-bit intermediate,
// failing when an operand or the result does not fit in 256 bits.
func MulDiv(x, y, denominator *big.Int) (*big.Int, error) {
	if x.Sign() < 0 || y.Sign() < 0 || denominator.Sign() < 0 {
		return nil, ErrNegative
	}
	if denominator.Sign() == 0 {
		return nil, ErrDivisionByZero
	}

	ux, overflow := uint256.FromBig(x)
	if overflow {
		return nil, ErrOverflow
	}
	uy, overflow := uint256.FromBig(y)
	if overflow {
		return nil, ErrOverflow
	}
	ud, overflow := uint256.FromBig(denominator)
	if overflow {
		return nil, ErrOverflow
	}

	result, overflow := new(uint256.Int).MulDivOverflow(ux, uy, ud)
	if overflow {
		return nil, ErrOverflow
	}
	return result.ToBig(), nil
}

// TokenCount returns how many tokens amount mints at weight, where weight is
// the number of tokens (18 decimals) issued per whole unit of a currency with
// the given decimals.
func TokenCount(amount, weight *big.Int, decimals int) (*big.Int, error) {
	if amount == nil || weight == nil {
		return new(big.Int), nil
	}
	return MulDiv(amount, weight, Pow10(decimals))
}

// Format renders a raw amount as a decimal string for logs.
func Format(raw *big.Int, decimals int) string {
	if raw == nil {
		return "0"
	}
	val := new(big.Float).SetInt(raw)
	scale := new(big.Float).SetInt(Pow10(decimals))
	return new(big.Float).Quo(val, scale).Text('f', 6)
}

// Min returns the smaller of two amounts.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) < 0 {
		return a
	}
	return b
}
