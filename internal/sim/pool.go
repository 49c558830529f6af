package sim

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Bananapus/juice-buyback-hook/internal/amm"
	"github.com/Bananapus/juice-buyback-hook/internal/pooladdress"
	"github.com/Bananapus/juice-buyback-hook/internal/pricing/uniswapv3"
)

var (
	ErrPoolExists           = errors.New("sim: pool already deployed")
	ErrLocked               = errors.New("sim: pool locked")
	ErrExactOutput          = errors.New("sim: only exact input swaps are supported")
	ErrPriceLimit           = errors.New("sim: price limit out of range")
	ErrInsufficientInput    = errors.New("sim: pool was not paid")
	ErrInsufficientReserves = errors.New("sim: pool reserves too low")
	ErrObservationTooOld    = errors.New("sim: observation older than pool history")
)

// PoolConfig describes a pool to deploy
type PoolConfig struct {
	TokenA, TokenB common.Address
	Fee            uint32
	// SqrtPriceX96 is the initial price of token0 in token1
	SqrtPriceX96 *big.Int
	// Liquidity is constant across the whole price range
	Liquidity *big.Int
	// Reserves minted to the pool at deployment, in token0 and token1
	Reserve0, Reserve1 *big.Int
	// Zero values use the canonical Uniswap V3 deployment
	Factory      common.Address
	InitCodeHash common.Hash
}

type observation struct {
	timestamp      uint32
	tickCumulative int64
	// tick in effect from timestamp onward
	tick int32
}

// Pool is a single-range Uniswap V3 pool. Swaps move the price along a
// constant liquidity curve and are priced with the V3 swap step math.
type Pool struct {
	chain   *Chain
	address common.Address
	token0  common.Address
	token1  common.Address
	fee     uint32

	mu           sync.Mutex
	liquidity    *big.Int
	sqrtPriceX96 *big.Int
	tick         int32
	unlocked     bool
	observations []observation
}

// DeployPool creates a pool at its CREATE2 address
func (c *Chain) DeployPool(cfg PoolConfig) (*Pool, error) {
	deriver := pooladdress.NewDeriver(cfg.Factory, cfg.InitCodeHash)
	addr, err := pooladdress.Derive(deriver.Factory, deriver.InitCodeHash, cfg.TokenA, cfg.TokenB, cfg.Fee)
	if err != nil {
		return nil, err
	}
	if cfg.Liquidity == nil || cfg.Liquidity.Sign() <= 0 {
		return nil, uniswapv3.ErrInvalidLiquidity
	}
	if cfg.SqrtPriceX96 == nil {
		return nil, uniswapv3.ErrInvalidPrice
	}
	tick, err := uniswapv3.GetTickAtSqrtRatio(cfg.SqrtPriceX96)
	if err != nil {
		return nil, err
	}

	token0, token1 := pooladdress.SortTokens(cfg.TokenA, cfg.TokenB)
	p := &Pool{
		chain:        c,
		address:      addr,
		token0:       token0,
		token1:       token1,
		fee:          cfg.Fee,
		liquidity:    new(big.Int).Set(cfg.Liquidity),
		sqrtPriceX96: new(big.Int).Set(cfg.SqrtPriceX96),
		tick:         tick,
		unlocked:     true,
		observations: []observation{{timestamp: c.Timestamp(), tick: tick}},
	}

	c.mu.Lock()
	if _, exists := c.pools[addr]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrPoolExists, addr.Hex())
	}
	c.pools[addr] = p
	c.mu.Unlock()

	if cfg.Reserve0 != nil {
		if err := c.Mint(token0, addr, cfg.Reserve0); err != nil {
			return nil, err
		}
	}
	if cfg.Reserve1 != nil {
		if err := c.Mint(token1, addr, cfg.Reserve1); err != nil {
			return nil, err
		}
	}

	c.logger.LogInfo(context.Background(), "pool deployed",
		"pool", addr.Hex(),
		"token0", token0.Hex(),
		"token1", token1.Hex(),
		"fee", cfg.Fee,
		"tick", tick,
	)
	return p, nil
}

// Pool implements amm.Provider
func (c *Chain) Pool(_ context.Context, addr common.Address) (amm.Pool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pools[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", amm.ErrPoolNotFound, addr.Hex())
	}
	return p, nil
}

// Address implements amm.Pool
func (p *Pool) Address() common.Address { return p.address }

// Token0 returns the lower-addressed token
func (p *Pool) Token0() common.Address { return p.token0 }

// Token1 returns the higher-addressed token
func (p *Pool) Token1() common.Address { return p.token1 }

// Fee returns the fee tier in pips
func (p *Pool) Fee() uint32 { return p.fee }

// Slot0 implements amm.Pool
func (p *Pool) Slot0(context.Context) (amm.Slot0, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := uint16(len(p.observations))
	return amm.Slot0{
		SqrtPriceX96:               new(big.Int).Set(p.sqrtPriceX96),
		Tick:                       p.tick,
		ObservationIndex:           n - 1,
		ObservationCardinality:     n,
		ObservationCardinalityNext: n,
		Unlocked:                   p.unlocked,
	}, nil
}

// OldestObservationSecondsAgo implements amm.Pool
func (p *Pool) OldestObservationSecondsAgo(context.Context) (uint32, error) {
	now := p.chain.Timestamp()
	p.mu.Lock()
	defer p.mu.Unlock()
	return now - p.observations[0].timestamp, nil
}

// Observe implements amm.Pool
func (p *Pool) Observe(_ context.Context, secondsAgos []uint32) ([]int64, error) {
	now := p.chain.Timestamp()
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]int64, len(secondsAgos))
	for i, ago := range secondsAgos {
		if ago > now-p.observations[0].timestamp {
			return nil, fmt.Errorf("%w: %ds", ErrObservationTooOld, ago)
		}
		target := now - ago
		// last observation at or before target
		idx := sort.Search(len(p.observations), func(j int) bool {
			return p.observations[j].timestamp > target
		}) - 1
		obs := p.observations[idx]
		out[i] = obs.tickCumulative + int64(obs.tick)*int64(target-obs.timestamp)
	}
	return out, nil
}

// Swap implements amm.Pool for exact-input swaps. Output is paid to recipient
// before cb is asked for the input; the whole swap is undone if cb does not
// pay in full.
func (p *Pool) Swap(ctx context.Context, recipient common.Address, zeroForOne bool, amountSpecified, sqrtPriceLimitX96 *big.Int, data []byte, cb amm.SwapCallback) (amm.SwapResult, error) {
	if amountSpecified == nil || amountSpecified.Sign() <= 0 {
		return amm.SwapResult{}, ErrExactOutput
	}

	var result amm.SwapResult
	err := p.chain.Try(ctx, func(ctx context.Context) error {
		p.mu.Lock()
		if !p.unlocked {
			p.mu.Unlock()
			return ErrLocked
		}
		p.unlocked = false
		current := new(big.Int).Set(p.sqrtPriceX96)
		liquidity := new(big.Int).Set(p.liquidity)
		p.mu.Unlock()

		defer func() {
			p.mu.Lock()
			p.unlocked = true
			p.mu.Unlock()
		}()

		if zeroForOne {
			if sqrtPriceLimitX96.Cmp(current) >= 0 || sqrtPriceLimitX96.Cmp(uniswapv3.MinSqrtRatio) <= 0 {
				return ErrPriceLimit
			}
		} else if sqrtPriceLimitX96.Cmp(current) <= 0 || sqrtPriceLimitX96.Cmp(uniswapv3.MaxSqrtRatio) >= 0 {
			return ErrPriceLimit
		}

		step, err := uniswapv3.ComputeSwapStepExactIn(current, sqrtPriceLimitX96, liquidity, amountSpecified, p.fee)
		if err != nil {
			return err
		}
		nextTick, err := uniswapv3.GetTickAtSqrtRatio(step.SqrtRatioNextX96)
		if err != nil {
			return err
		}

		amountIn := new(big.Int).Add(step.AmountIn, step.FeeAmount)
		amountOut := step.AmountOut

		tokenIn, tokenOut := p.token0, p.token1
		result = amm.SwapResult{Amount0: amountIn, Amount1: new(big.Int).Neg(amountOut)}
		if !zeroForOne {
			tokenIn, tokenOut = p.token1, p.token0
			result = amm.SwapResult{Amount0: new(big.Int).Neg(amountOut), Amount1: amountIn}
		}

		p.writeObservation(nextTick)
		p.setPrice(step.SqrtRatioNextX96, nextTick)

		if amountOut.Sign() > 0 {
			if err := p.chain.Transfer(ctx, tokenOut, p.address, recipient, amountOut); err != nil {
				return fmt.Errorf("%w: %v", ErrInsufficientReserves, err)
			}
		}

		before := p.chain.BalanceOf(tokenIn, p.address)
		if err := cb.UniswapV3SwapCallback(ctx, p.address, result.Amount0, result.Amount1, data); err != nil {
			return fmt.Errorf("swap callback: %w", err)
		}
		paid := new(big.Int).Sub(p.chain.BalanceOf(tokenIn, p.address), before)
		if paid.Cmp(amountIn) < 0 {
			return fmt.Errorf("%w: owed %s, received %s", ErrInsufficientInput, amountIn, paid)
		}
		return nil
	})
	if err != nil {
		return amm.SwapResult{}, err
	}
	return result, nil
}

// writeObservation closes the current tick's interval at the chain time
func (p *Pool) writeObservation(nextTick int32) {
	now := p.chain.Timestamp()

	p.mu.Lock()
	last := len(p.observations) - 1
	prev := p.observations[last]
	if prev.timestamp == now {
		p.observations[last].tick = nextTick
		p.mu.Unlock()
		p.chain.record(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.observations[last] = prev
		})
		return
	}
	p.observations = append(p.observations, observation{
		timestamp:      now,
		tickCumulative: prev.tickCumulative + int64(prev.tick)*int64(now-prev.timestamp),
		tick:           nextTick,
	})
	p.mu.Unlock()

	p.chain.record(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.observations = p.observations[:last+1]
	})
}

func (p *Pool) setPrice(sqrtPriceX96 *big.Int, tick int32) {
	p.mu.Lock()
	prevPrice, prevTick := p.sqrtPriceX96, p.tick
	p.sqrtPriceX96 = new(big.Int).Set(sqrtPriceX96)
	p.tick = tick
	p.mu.Unlock()

	p.chain.record(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.sqrtPriceX96, p.tick = prevPrice, prevTick
	})
}
