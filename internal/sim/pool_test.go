package sim

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/Bananapus/juice-buyback-hook/internal/amm"
	"github.com/Bananapus/juice-buyback-hook/internal/pricing/uniswapv3"
)

var (
	q96      = new(big.Int).Lsh(big.NewInt(1), 96)
	oneToken = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	deep     = new(big.Int).Mul(oneToken, big.NewInt(1_000_000))
)

// payer settles swap callbacks from its own balance
type payer struct {
	chain    *Chain
	from     common.Address
	pool     *Pool
	shortBy  int64
	reenter  bool
	observed amm.Slot0
}

func (p *payer) UniswapV3SwapCallback(ctx context.Context, pool common.Address, amount0, amount1 *big.Int, _ []byte) error {
	p.observed, _ = p.pool.Slot0(ctx)
	if p.reenter {
		_, err := p.pool.Swap(ctx, p.from, true, big.NewInt(1), new(big.Int).Add(uniswapv3.MinSqrtRatio, big.NewInt(1)), nil, p)
		return err
	}
	token, owed := p.pool.Token0(), amount0
	if amount1.Sign() > 0 {
		token, owed = p.pool.Token1(), amount1
	}
	owed = new(big.Int).Sub(owed, big.NewInt(p.shortBy))
	return p.chain.Transfer(ctx, token, p.from, pool, owed)
}

func deployTestPool(t *testing.T, c *Chain) *Pool {
	t.Helper()
	pool, err := c.DeployPool(PoolConfig{
		TokenA:       tokenB,
		TokenB:       tokenA,
		Fee:          3000,
		SqrtPriceX96: q96,
		Liquidity:    deep,
		Reserve0:     deep,
		Reserve1:     deep,
	})
	require.NoError(t, err)
	return pool
}

func swapAtomically(c *Chain, p *Pool, cb *payer, zeroForOne bool, amount *big.Int) (amm.SwapResult, error) {
	limit := new(big.Int).Add(uniswapv3.MinSqrtRatio, big.NewInt(1))
	if !zeroForOne {
		limit = new(big.Int).Sub(uniswapv3.MaxSqrtRatio, big.NewInt(1))
	}
	var result amm.SwapResult
	err := c.Atomically(context.Background(), func(ctx context.Context) error {
		var err error
		result, err = p.Swap(ctx, cb.from, zeroForOne, amount, limit, nil, cb)
		return err
	})
	return result, err
}

func TestDeployPool(t *testing.T) {
	c := newTestChain(nil)
	pool := deployTestPool(t, c)

	require.Equal(t, tokenA, pool.Token0())
	require.Equal(t, tokenB, pool.Token1())

	got, err := c.Pool(context.Background(), pool.Address())
	require.NoError(t, err)
	require.Equal(t, pool.Address(), got.Address())

	_, err = c.Pool(context.Background(), common.HexToAddress("0xdead"))
	require.ErrorIs(t, err, amm.ErrPoolNotFound)

	_, err = c.DeployPool(PoolConfig{TokenA: tokenA, TokenB: tokenB, Fee: 3000, SqrtPriceX96: q96, Liquidity: deep})
	require.ErrorIs(t, err, ErrPoolExists)

	slot0, err := pool.Slot0(context.Background())
	require.NoError(t, err)
	require.True(t, slot0.Initialized())
	require.True(t, slot0.Unlocked)
	require.Equal(t, int32(0), slot0.Tick)
}

func TestSwap_ExactInput(t *testing.T) {
	c := newTestChain(nil)
	pool := deployTestPool(t, c)
	require.NoError(t, c.Mint(tokenA, alice, oneToken))
	cb := &payer{chain: c, from: alice, pool: pool}

	result, err := swapAtomically(c, pool, cb, true, oneToken)
	require.NoError(t, err)

	require.Equal(t, oneToken.String(), result.Amount0.String())
	out := new(big.Int).Neg(result.Amount1)
	// 0.3% fee at a 1:1 price with negligible impact
	require.True(t, out.Cmp(new(big.Int).Div(new(big.Int).Mul(oneToken, big.NewInt(996)), big.NewInt(1000))) > 0)
	require.True(t, out.Cmp(new(big.Int).Div(new(big.Int).Mul(oneToken, big.NewInt(997)), big.NewInt(1000))) <= 0)

	require.Zero(t, c.BalanceOf(tokenA, alice).Sign())
	require.Equal(t, out.String(), c.BalanceOf(tokenB, alice).String())
	require.False(t, cb.observed.Unlocked, "pool locked during callback")

	slot0, _ := pool.Slot0(context.Background())
	require.True(t, slot0.Unlocked)
	require.Less(t, slot0.Tick, int32(0))
}

func TestSwap_UnderpaidCallbackReverts(t *testing.T) {
	c := newTestChain(nil)
	pool := deployTestPool(t, c)
	require.NoError(t, c.Mint(tokenA, alice, oneToken))
	cb := &payer{chain: c, from: alice, pool: pool, shortBy: 1}
	before, _ := pool.Slot0(context.Background())

	_, err := swapAtomically(c, pool, cb, true, oneToken)
	require.ErrorIs(t, err, ErrInsufficientInput)

	after, _ := pool.Slot0(context.Background())
	require.Equal(t, before.SqrtPriceX96.String(), after.SqrtPriceX96.String())
	require.Equal(t, before.ObservationCardinality, after.ObservationCardinality)
	require.Equal(t, oneToken.String(), c.BalanceOf(tokenA, alice).String())
	require.Zero(t, c.BalanceOf(tokenB, alice).Sign())
	require.Equal(t, deep.String(), c.BalanceOf(tokenB, pool.Address()).String())
}

func TestSwap_ReentryIsLocked(t *testing.T) {
	c := newTestChain(nil)
	pool := deployTestPool(t, c)
	require.NoError(t, c.Mint(tokenA, alice, oneToken))

	_, err := swapAtomically(c, pool, &payer{chain: c, from: alice, pool: pool, reenter: true}, true, oneToken)
	require.ErrorIs(t, err, ErrLocked)
}

func TestSwap_RejectsBadInput(t *testing.T) {
	c := newTestChain(nil)
	pool := deployTestPool(t, c)
	cb := &payer{chain: c, from: alice, pool: pool}

	_, err := pool.Swap(context.Background(), alice, true, big.NewInt(-1), uniswapv3.MinSqrtRatio, nil, cb)
	require.ErrorIs(t, err, ErrExactOutput)

	err = c.Atomically(context.Background(), func(ctx context.Context) error {
		// price limit above the current price for a zeroForOne swap
		_, err := pool.Swap(ctx, alice, true, oneToken, new(big.Int).Mul(q96, big.NewInt(2)), nil, cb)
		return err
	})
	require.ErrorIs(t, err, ErrPriceLimit)
}

func TestObserve(t *testing.T) {
	c := newTestChain(nil)
	pool := deployTestPool(t, c)
	ctx := context.Background()

	age, err := pool.OldestObservationSecondsAgo(ctx)
	require.NoError(t, err)
	require.Zero(t, age)

	c.Advance(100 * time.Second)
	require.NoError(t, c.Mint(tokenA, alice, new(big.Int).Mul(oneToken, big.NewInt(10_000))))
	_, err = swapAtomically(c, pool, &payer{chain: c, from: alice, pool: pool}, true, new(big.Int).Mul(oneToken, big.NewInt(10_000)))
	require.NoError(t, err)

	slot0, _ := pool.Slot0(ctx)
	require.Less(t, slot0.Tick, int32(0))
	c.Advance(100 * time.Second)

	age, _ = pool.OldestObservationSecondsAgo(ctx)
	require.Equal(t, uint32(200), age)

	cumulatives, err := pool.Observe(ctx, []uint32{200, 100, 0})
	require.NoError(t, err)
	// tick 0 for the first 100 seconds, then the post-swap tick
	require.Equal(t, int64(0), cumulatives[0])
	require.Equal(t, int64(0), cumulatives[1])
	require.Equal(t, int64(slot0.Tick)*100, cumulatives[2])

	mean, err := uniswapv3.ArithmeticMeanTick([]int64{cumulatives[0], cumulatives[2]}, 200)
	require.NoError(t, err)
	require.Greater(t, mean, slot0.Tick)

	_, err = pool.Observe(ctx, []uint32{201, 0})
	require.ErrorIs(t, err, ErrObservationTooOld)
}
