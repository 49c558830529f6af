package uniswapv3

import (
	"math/big"
)

// FeeDenominator is the pips denominator for pool fees (3000 = 0.3%)
const FeeDenominator = 1_000_000

// SwapStepResult holds the result of a single swap computation step
type SwapStepResult struct {
	SqrtRatioNextX96 *big.Int // The sqrt price after the swap step
	AmountIn         *big.Int // Amount of input token consumed, excluding fee
	AmountOut        *big.Int // Amount of output token produced
	FeeAmount        *big.Int // Fee amount charged
}

// ComputeSwapStepExactIn computes an exact-input swap within a single price
// range, stopping at sqrtRatioTargetX96 if the input is large enough to get there.
// Ported from Uniswap V3 SwapMath.sol (exact input branch)
func ComputeSwapStepExactIn(
	sqrtRatioCurrentX96 *big.Int,
	sqrtRatioTargetX96 *big.Int,
	liquidity *big.Int,
	amountRemaining *big.Int,
	feePips uint32,
) (*SwapStepResult, error) {
	zeroForOne := sqrtRatioCurrentX96.Cmp(sqrtRatioTargetX96) >= 0

	amountRemainingLessFee := new(big.Int).Mul(amountRemaining, big.NewInt(int64(FeeDenominator-feePips)))
	amountRemainingLessFee.Quo(amountRemainingLessFee, big.NewInt(FeeDenominator))

	var amountInToTarget *big.Int
	if zeroForOne {
		amountInToTarget = GetAmount0Delta(sqrtRatioTargetX96, sqrtRatioCurrentX96, liquidity, true)
	} else {
		amountInToTarget = GetAmount1Delta(sqrtRatioCurrentX96, sqrtRatioTargetX96, liquidity, true)
	}

	result := &SwapStepResult{}
	reachedTarget := amountRemainingLessFee.Cmp(amountInToTarget) >= 0
	if reachedTarget {
		result.SqrtRatioNextX96 = new(big.Int).Set(sqrtRatioTargetX96)
		result.AmountIn = amountInToTarget
	} else {
		next, err := GetNextSqrtPriceFromInput(sqrtRatioCurrentX96, liquidity, amountRemainingLessFee, zeroForOne)
		if err != nil {
			return nil, err
		}
		result.SqrtRatioNextX96 = next
		if zeroForOne {
			result.AmountIn = GetAmount0Delta(next, sqrtRatioCurrentX96, liquidity, true)
		} else {
			result.AmountIn = GetAmount1Delta(sqrtRatioCurrentX96, next, liquidity, true)
		}
	}

	if zeroForOne {
		result.AmountOut = GetAmount1Delta(result.SqrtRatioNextX96, sqrtRatioCurrentX96, liquidity, false)
	} else {
		result.AmountOut = GetAmount0Delta(sqrtRatioCurrentX96, result.SqrtRatioNextX96, liquidity, false)
	}

	if reachedTarget {
		// feeAmount = ceil(amountIn * feePips / (1e6 - feePips))
		result.FeeAmount = mulDivRoundingUp(result.AmountIn, big.NewInt(int64(feePips)), big.NewInt(int64(FeeDenominator-feePips)))
	} else {
		// The remainder of the input is taken as fee
		result.FeeAmount = new(big.Int).Sub(amountRemaining, result.AmountIn)
	}

	return result, nil
}
