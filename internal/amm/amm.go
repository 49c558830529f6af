// Package amm describes the Uniswap V3 pool surface the buyback hook trades
// against, with a read-only JSON-RPC implementation.
package amm

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrPoolNotFound means no pool contract exists at the address
	ErrPoolNotFound = errors.New("amm: pool not found")
	// ErrReadOnly is returned by adapters that cannot execute swaps
	ErrReadOnly = errors.New("amm: pool adapter is read-only")
)

// Slot0 is the pool's packed live state
type Slot0 struct {
	SqrtPriceX96               *big.Int
	Tick                       int32
	ObservationIndex           uint16
	ObservationCardinality     uint16
	ObservationCardinalityNext uint16
	// Unlocked is false while a swap is in progress and before initialization
	Unlocked bool
}

// Initialized reports whether the pool has a price
func (s Slot0) Initialized() bool {
	return s.SqrtPriceX96 != nil && s.SqrtPriceX96.Sign() > 0
}

// SwapResult holds the signed balance deltas of a swap from the pool's side:
// positive is paid into the pool, negative is paid out.
type SwapResult struct {
	Amount0 *big.Int
	Amount1 *big.Int
}

// SwapCallback is implemented by the swap initiator. The pool calls it once,
// mid-swap, to collect the input it is owed.
type SwapCallback interface {
	UniswapV3SwapCallback(ctx context.Context, pool common.Address, amount0Delta, amount1Delta *big.Int, data []byte) error
}

// Pool is a Uniswap V3 pool
type Pool interface {
	Address() common.Address
	Slot0(ctx context.Context) (Slot0, error)
	// Observe returns tick cumulatives for each secondsAgo
	Observe(ctx context.Context, secondsAgos []uint32) ([]int64, error)
	// OldestObservationSecondsAgo is the age of the oldest stored observation
	OldestObservationSecondsAgo(ctx context.Context) (uint32, error)
	// Swap executes an exact-input swap when amountSpecified is positive.
	// The pool pays the output to recipient, then calls cb for the input.
	Swap(ctx context.Context, recipient common.Address, zeroForOne bool, amountSpecified, sqrtPriceLimitX96 *big.Int, data []byte, cb SwapCallback) (SwapResult, error)
}

// Provider looks up pools by address
type Provider interface {
	// Pool returns ErrPoolNotFound when nothing is deployed at addr
	Pool(ctx context.Context, addr common.Address) (Pool, error)
}
