package uniswapv3

import (
	"bytes"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrZeroPeriod       = errors.New("observation period must be positive")
	ErrAmountTooLarge   = errors.New("base amount exceeds uint128")
	ErrInvalidCumulants = errors.New("expected exactly two tick cumulatives")

	maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	q192       = new(big.Int).Lsh(big.NewInt(1), 192)
)

// ArithmeticMeanTick returns the time-weighted mean tick between two tick
// cumulatives observed period seconds apart, rounded toward negative infinity.
// Ported from Uniswap V3 OracleLibrary.consult
func ArithmeticMeanTick(tickCumulatives []int64, period uint32) (int32, error) {
	if period == 0 {
		return 0, ErrZeroPeriod
	}
	if len(tickCumulatives) != 2 {
		return 0, ErrInvalidCumulants
	}

	delta := tickCumulatives[1] - tickCumulatives[0]
	mean := delta / int64(period)
	if delta < 0 && delta%int64(period) != 0 {
		mean--
	}

	if mean < int64(MinTick) || mean > int64(MaxTick) {
		return 0, ErrInvalidTick
	}
	return int32(mean), nil
}

// GetQuoteAtTick returns the amount of quoteToken received for baseAmount of
// baseToken at the price implied by tick.
// Ported from Uniswap V3 OracleLibrary.getQuoteAtTick
func GetQuoteAtTick(tick int32, baseAmount *big.Int, baseToken, quoteToken common.Address) (*big.Int, error) {
	if baseAmount.Sign() < 0 || baseAmount.Cmp(maxUint128) > 0 {
		return nil, ErrAmountTooLarge
	}

	sqrtRatioX96, err := GetSqrtRatioAtTick(tick)
	if err != nil {
		return nil, err
	}

	baseIsToken0 := bytes.Compare(baseToken.Bytes(), quoteToken.Bytes()) < 0

	// Better precision when the squared ratio fits in 256 bits
	if sqrtRatioX96.Cmp(maxUint128) <= 0 {
		ratioX192 := new(big.Int).Mul(sqrtRatioX96, sqrtRatioX96)
		if baseIsToken0 {
			return mulDiv(ratioX192, baseAmount, q192), nil
		}
		return mulDiv(q192, baseAmount, ratioX192), nil
	}

	ratioX128 := mulDiv(sqrtRatioX96, sqrtRatioX96, new(big.Int).Lsh(big.NewInt(1), 64))
	if baseIsToken0 {
		return mulDiv(ratioX128, baseAmount, q128), nil
	}
	return mulDiv(q128, baseAmount, ratioX128), nil
}

func mulDiv(a, b, denominator *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, denominator)
}
