package uniswapv3

import (
	"errors"
	"math/big"
)

var (
	ErrInvalidLiquidity      = errors.New("liquidity must be positive")
	ErrInvalidPrice          = errors.New("invalid sqrt price")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")

	q96 = new(big.Int).Lsh(big.NewInt(1), 96)
)

// GetAmount0Delta calculates amount0 delta between two prices
// amount0 = liquidity * (sqrt(upper) - sqrt(lower)) / (sqrt(upper) * sqrt(lower))
// Ported from Uniswap V3 SqrtPriceMath.sol
func GetAmount0Delta(sqrtRatioAX96, sqrtRatioBX96, liquidity *big.Int, roundUp bool) *big.Int {
	if sqrtRatioAX96.Cmp(sqrtRatioBX96) > 0 {
		sqrtRatioAX96, sqrtRatioBX96 = sqrtRatioBX96, sqrtRatioAX96
	}

	numerator1 := new(big.Int).Lsh(liquidity, 96)
	numerator2 := new(big.Int).Sub(sqrtRatioBX96, sqrtRatioAX96)

	if roundUp {
		return divRoundingUp(mulDivRoundingUp(numerator1, numerator2, sqrtRatioBX96), sqrtRatioAX96)
	}

	out := new(big.Int).Mul(numerator1, numerator2)
	out.Quo(out, sqrtRatioBX96)
	return out.Quo(out, sqrtRatioAX96)
}

// GetAmount1Delta calculates amount1 delta between two prices
// amount1 = liquidity * (sqrt(upper) - sqrt(lower))
// Ported from Uniswap V3 SqrtPriceMath.sol
func GetAmount1Delta(sqrtRatioAX96, sqrtRatioBX96, liquidity *big.Int, roundUp bool) *big.Int {
	if sqrtRatioAX96.Cmp(sqrtRatioBX96) > 0 {
		sqrtRatioAX96, sqrtRatioBX96 = sqrtRatioBX96, sqrtRatioAX96
	}

	diff := new(big.Int).Sub(sqrtRatioBX96, sqrtRatioAX96)

	if roundUp {
		return mulDivRoundingUp(liquidity, diff, q96)
	}

	out := new(big.Int).Mul(liquidity, diff)
	return out.Quo(out, q96)
}

// getNextSqrtPriceFromAmount0RoundingUp moves the price by an amount of token0 added.
// Always rounds up so the price never moves too far.
func getNextSqrtPriceFromAmount0RoundingUp(sqrtPX96, liquidity, amount *big.Int) *big.Int {
	if amount.Sign() == 0 {
		return new(big.Int).Set(sqrtPX96)
	}

	numerator1 := new(big.Int).Lsh(liquidity, 96)
	denominator := new(big.Int).Mul(amount, sqrtPX96)
	denominator.Add(denominator, numerator1)

	return mulDivRoundingUp(numerator1, sqrtPX96, denominator)
}

// getNextSqrtPriceFromAmount1RoundingDown moves the price by an amount of token1 added.
func getNextSqrtPriceFromAmount1RoundingDown(sqrtPX96, liquidity, amount *big.Int) *big.Int {
	quotient := new(big.Int).Lsh(amount, 96)
	quotient.Quo(quotient, liquidity)
	return quotient.Add(quotient, sqrtPX96)
}

// GetNextSqrtPriceFromInput calculates the next sqrt price given an input amount
// zeroForOne: true if swapping token0 for token1, false otherwise
func GetNextSqrtPriceFromInput(sqrtPX96, liquidity, amountIn *big.Int, zeroForOne bool) (*big.Int, error) {
	if sqrtPX96.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	if liquidity.Sign() <= 0 {
		return nil, ErrInvalidLiquidity
	}

	if zeroForOne {
		return getNextSqrtPriceFromAmount0RoundingUp(sqrtPX96, liquidity, amountIn), nil
	}

	return getNextSqrtPriceFromAmount1RoundingDown(sqrtPX96, liquidity, amountIn), nil
}

// mulDivRoundingUp performs (a * b) / c with rounding up
func mulDivRoundingUp(a, b, denominator *big.Int) *big.Int {
	product := new(big.Int).Mul(a, b)
	result, remainder := new(big.Int).QuoRem(product, denominator, new(big.Int))
	if remainder.Sign() > 0 {
		result.Add(result, big.NewInt(1))
	}
	return result
}

func divRoundingUp(a, denominator *big.Int) *big.Int {
	return mulDivRoundingUp(a, big.NewInt(1), denominator)
}

// Q96ToFloat converts a Q96 sqrt price to a float64 price (token1 per token0).
// Display only.
func Q96ToFloat(sqrtPriceX96 *big.Int) float64 {
	sqrtPrice := new(big.Float).Quo(new(big.Float).SetInt(sqrtPriceX96), new(big.Float).SetInt(q96))
	price, _ := new(big.Float).Mul(sqrtPrice, sqrtPrice).Float64()
	return price
}

// FloatToQ96 converts a float price (token1 per token0) to a Q96 sqrt price
func FloatToQ96(price float64) *big.Int {
	sqrtPrice := new(big.Float).Sqrt(big.NewFloat(price))
	sqrtPriceX96, _ := new(big.Float).Mul(sqrtPrice, new(big.Float).SetInt(q96)).Int(nil)
	return sqrtPriceX96
}
