package buyback_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/Bananapus/juice-buyback-hook/internal/buyback"
	"github.com/Bananapus/juice-buyback-hook/internal/events"
	"github.com/Bananapus/juice-buyback-hook/internal/metadata"
	"github.com/Bananapus/juice-buyback-hook/internal/money"
	"github.com/Bananapus/juice-buyback-hook/internal/platform/observability"
	"github.com/Bananapus/juice-buyback-hook/internal/pooladdress"
	"github.com/Bananapus/juice-buyback-hook/internal/pricing/uniswapv3"
	"github.com/Bananapus/juice-buyback-hook/internal/sim"
)

const projectID uint64 = 1

var (
	owner       = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	payer       = common.HexToAddress("0x0000000000000000000000000000000000000b22")
	beneficiary = common.HexToAddress("0x0000000000000000000000000000000000000c33")
	reservedTo  = common.HexToAddress("0x0000000000000000000000000000000000000d44")
	stranger    = common.HexToAddress("0x0000000000000000000000000000000000000e55")
)

// units returns n whole 18-decimal tokens
func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

// milli returns n thousandths of an 18-decimal token
func milli(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(15), nil))
}

type fixtureConfig struct {
	// project tokens minted per ETH paid
	weight       int64
	reservedRate int64
	// project tokens per ETH in the pool; zero leaves the pool undeployed
	price float64
	// project tokens held by the pool; defaults to a deep reserve
	projectReserve *big.Int
}

type fixture struct {
	t            *testing.T
	env          *sim.Environment
	rec          *events.Recorder
	projectToken common.Address
	weth         common.Address
	pool         *sim.Pool
}

func newFixture(t *testing.T, fc fixtureConfig) *fixture {
	t.Helper()
	ctx := context.Background()
	rec := &events.Recorder{}

	env, err := sim.NewEnvironment(sim.EnvironmentConfig{
		Events: rec,
		Logger: observability.NewDiscardLogger(),
	})
	require.NoError(t, err)

	projectToken, err := env.LaunchProject(sim.ProjectConfig{
		ID:                  projectID,
		Owner:               owner,
		Weight:              units(fc.weight),
		ReservedRate:        money.NewBPSFromInt(fc.reservedRate),
		ReservedBeneficiary: reservedTo,
	})
	require.NoError(t, err)

	_, err = env.Registry.SetPool(ctx, owner, projectID, metadata.NativeToken, 3000, 600, 1000)
	require.NoError(t, err)

	f := &fixture{t: t, env: env, rec: rec, projectToken: projectToken, weth: env.Chain.WrappedNativeToken()}
	if fc.price > 0 {
		f.pool = f.deployPool(fc)
	}

	env.Chain.Advance(time.Hour)
	require.NoError(t, env.Chain.Mint(metadata.NativeToken, payer, units(10)))
	return f
}

func (f *fixture) deployPool(fc fixtureConfig) *sim.Pool {
	wethReserve := units(10_000)
	projectReserve := fc.projectReserve
	if projectReserve == nil {
		projectReserve, _ = new(big.Float).Mul(new(big.Float).SetInt(wethReserve), big.NewFloat(fc.price)).Int(nil)
	}
	liquidity, _ := new(big.Float).Mul(new(big.Float).SetInt(wethReserve), new(big.Float).Sqrt(big.NewFloat(fc.price))).Int(nil)

	// price is token1 per token0
	seed := sim.PoolSeed{
		ProjectID:       projectID,
		SettlementToken: metadata.NativeToken,
		Fee:             3000,
		Liquidity:       liquidity,
	}
	if token0, _ := pooladdress.SortTokens(f.projectToken, f.weth); token0 == f.weth {
		seed.SqrtPriceX96 = uniswapv3.FloatToQ96(fc.price)
		seed.Reserve0, seed.Reserve1 = wethReserve, projectReserve
	} else {
		seed.SqrtPriceX96 = uniswapv3.FloatToQ96(1 / fc.price)
		seed.Reserve0, seed.Reserve1 = projectReserve, wethReserve
	}

	pool, err := f.env.DeployProjectPool(context.Background(), seed)
	require.NoError(f.t, err)
	return pool
}

func (f *fixture) pay(amount *big.Int, quote *metadata.Quote) (sim.Receipt, error) {
	var md []byte
	if quote != nil {
		data, err := metadata.EncodeQuote(*quote)
		require.NoError(f.t, err)
		md, err = metadata.Build(metadata.Entry{ID: f.env.Hook.QuoteID(), Data: data})
		require.NoError(f.t, err)
	}
	return f.env.Terminal.Pay(context.Background(), sim.PayRequest{
		ProjectID:   projectID,
		Payer:       payer,
		Token:       metadata.NativeToken,
		Amount:      amount,
		Beneficiary: beneficiary,
		Metadata:    md,
	})
}

// state captures every balance a payment can touch
func (f *fixture) state() map[string]string {
	chain := f.env.Chain
	hook := f.env.Hook.Address()
	out := map[string]string{
		"payer native":    chain.BalanceOf(metadata.NativeToken, payer).String(),
		"hook native":     chain.BalanceOf(metadata.NativeToken, hook).String(),
		"hook weth":       chain.BalanceOf(f.weth, hook).String(),
		"hook project":    chain.BalanceOf(f.projectToken, hook).String(),
		"beneficiary":     chain.BalanceOf(f.projectToken, beneficiary).String(),
		"reserved":        chain.BalanceOf(f.projectToken, reservedTo).String(),
		"supply":          f.env.Controller.TotalSupplyOf(projectID).String(),
		"project balance": f.env.Terminal.BalanceOf(projectID, metadata.NativeToken).String(),
		"terminal native": chain.BalanceOf(metadata.NativeToken, f.env.Terminal.Address()).String(),
	}
	if f.pool != nil {
		slot0, _ := f.pool.Slot0(context.Background())
		out["pool price"] = slot0.SqrtPriceX96.String()
		out["pool weth"] = chain.BalanceOf(f.weth, f.pool.Address()).String()
		out["pool project"] = chain.BalanceOf(f.projectToken, f.pool.Address()).String()
	}
	return out
}

func (f *fixture) requireSwapFree() {
	f.t.Helper()
	require.Empty(f.t, f.rec.OfKind(events.KindSwapExecuted))
	hook := f.env.Hook.Address()
	require.Zero(f.t, f.env.Chain.BalanceOf(f.projectToken, hook).Sign())
	require.Zero(f.t, f.env.Chain.BalanceOf(f.weth, hook).Sign())
	require.Zero(f.t, f.env.Chain.BalanceOf(metadata.NativeToken, hook).Sign())
}

func between(t *testing.T, got, low, high *big.Int) {
	t.Helper()
	require.Truef(t, got.Cmp(low) >= 0 && got.Cmp(high) <= 0, "%s not in [%s, %s]", got, low, high)
}

func TestScenarioA_MintBeatsTwapMinimum(t *testing.T) {
	f := newFixture(t, fixtureConfig{weight: 100, price: 100})
	before := f.state()

	receipt, err := f.pay(units(1), nil)
	require.NoError(t, err)

	d := receipt.Decision
	require.Equal(t, buyback.MintDirect, d.Path)
	require.Equal(t, units(100).String(), d.Weight.String())
	require.False(t, d.QuoteWasExplicit)
	// 100 per ETH less the 10% tolerance
	between(t, d.MinimumSwapAmountOut, units(89), units(91))

	require.Equal(t, units(100).String(), receipt.BeneficiaryTokens.String())
	require.Equal(t, units(1).String(), f.env.Terminal.BalanceOf(projectID, metadata.NativeToken).String())
	after := f.state()
	require.Equal(t, before["pool price"], after["pool price"])
	require.Equal(t, before["pool weth"], after["pool weth"])
	f.requireSwapFree()
}

func TestScenarioB_SwapBeatsMint(t *testing.T) {
	f := newFixture(t, fixtureConfig{weight: 50, price: 100})
	before := f.state()

	receipt, err := f.pay(units(1), nil)
	require.NoError(t, err)

	d := receipt.Decision
	require.Equal(t, buyback.SwapThenSettle, d.Path)
	require.Zero(t, d.Weight.Sign())
	require.Equal(t, units(1).String(), d.AmountToSwapWith.String())
	require.Zero(t, d.LeftoverAmount.Sign())
	require.False(t, d.QuoteWasExplicit)

	// 100 per ETH less the 0.3% fee and a little price impact
	between(t, receipt.BeneficiaryTokens, units(99), milli(99_700))

	swaps := f.rec.OfKind(events.KindSwapExecuted)
	require.Len(t, swaps, 1)
	require.Equal(t, units(1).String(), swaps[0].AmountIn)
	require.Equal(t, receipt.BeneficiaryTokens.String(), swaps[0].AmountReceived)
	require.Empty(t, f.rec.OfKind(events.KindSettlementMinted))

	after := f.state()
	// bought tokens are burned and reminted
	require.Equal(t, before["supply"], after["supply"])
	require.Equal(t, "0", after["hook project"])
	require.Equal(t, "0", after["hook weth"])
	require.Equal(t, "0", after["hook native"])
	require.Equal(t, "0", after["project balance"])

	poolWeth, _ := new(big.Int).SetString(after["pool weth"], 10)
	poolWethBefore, _ := new(big.Int).SetString(before["pool weth"], 10)
	require.Equal(t, units(1).String(), new(big.Int).Sub(poolWeth, poolWethBefore).String())
}

func TestScenarioC_ExplicitQuoteShortfallReverts(t *testing.T) {
	f := newFixture(t, fixtureConfig{weight: 50, price: 100})
	before := f.state()
	recorded := len(f.rec.Records())

	_, err := f.pay(units(1), &metadata.Quote{AmountToSwapWith: new(big.Int), MinimumSwapAmountOut: units(1000)})
	require.ErrorIs(t, err, buyback.ErrSpecifiedSlippageExceeded)

	var slippage *buyback.SlippageError
	require.True(t, errors.As(err, &slippage))
	require.Equal(t, units(1000).String(), slippage.Minimum.String())
	between(t, slippage.Received, units(99), units(100))

	require.Equal(t, before, f.state())
	require.Len(t, f.rec.Records(), recorded)
}

func TestScenarioD_LeftoverMintsAndReturnsToProject(t *testing.T) {
	f := newFixture(t, fixtureConfig{weight: 100, reservedRate: 1000, price: 120})

	receipt, err := f.pay(units(1), &metadata.Quote{AmountToSwapWith: milli(800), MinimumSwapAmountOut: new(big.Int)})
	require.NoError(t, err)

	d := receipt.Decision
	require.Equal(t, buyback.SwapThenSettle, d.Path)
	require.Equal(t, milli(800).String(), d.AmountToSwapWith.String())
	require.Equal(t, milli(200).String(), d.LeftoverAmount.String())

	swaps := f.rec.OfKind(events.KindSwapExecuted)
	require.Len(t, swaps, 1)
	received, ok := new(big.Int).SetString(swaps[0].AmountReceived, 10)
	require.True(t, ok)
	between(t, received, units(95), units(96))

	settlements := f.rec.OfKind(events.KindSettlementMinted)
	require.Len(t, settlements, 1)
	require.Equal(t, milli(200).String(), settlements[0].AmountDeposited)
	require.Equal(t, units(20).String(), settlements[0].TokensMinted)
	require.Equal(t, beneficiary.Hex(), settlements[0].Beneficiary)

	total := new(big.Int).Add(received, units(20))
	reserved := money.NewBPSFromInt(1000).Of(total)
	require.Equal(t, new(big.Int).Sub(total, reserved).String(), receipt.BeneficiaryTokens.String())
	require.Equal(t, reserved.String(), f.env.Chain.BalanceOf(f.projectToken, reservedTo).String())
	require.Equal(t, milli(200).String(), f.env.Terminal.BalanceOf(projectID, metadata.NativeToken).String())
}

func TestTieBreak_EqualOutcomesMint(t *testing.T) {
	f := newFixture(t, fixtureConfig{weight: 100, price: 100})
	before := f.state()

	receipt, err := f.pay(units(1), &metadata.Quote{AmountToSwapWith: new(big.Int), MinimumSwapAmountOut: units(100)})
	require.NoError(t, err)

	require.Equal(t, buyback.MintDirect, receipt.Decision.Path)
	require.True(t, receipt.Decision.QuoteWasExplicit)
	require.Equal(t, units(100).String(), receipt.BeneficiaryTokens.String())
	require.Equal(t, before["pool price"], f.state()["pool price"])
	f.requireSwapFree()
}

func TestFallback_FailedSwapMintsEverything(t *testing.T) {
	tests := []struct {
		name string
		cfg  fixtureConfig
	}{
		{"pool cannot pay out", fixtureConfig{weight: 50, price: 100, projectReserve: units(1)}},
		{"pool not deployed", fixtureConfig{weight: 50}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.cfg)
			before := f.state()

			receipt, err := f.pay(units(1), &metadata.Quote{AmountToSwapWith: new(big.Int), MinimumSwapAmountOut: units(60)})
			require.NoError(t, err)
			require.Equal(t, buyback.SwapThenSettle, receipt.Decision.Path)

			require.Equal(t, units(50).String(), receipt.BeneficiaryTokens.String())
			supplyBefore, _ := new(big.Int).SetString(before["supply"], 10)
			supplyAfter := f.env.Controller.TotalSupplyOf(projectID)
			require.Equal(t, units(50).String(), new(big.Int).Sub(supplyAfter, supplyBefore).String(), "nothing burned")

			require.Equal(t, units(1).String(), f.env.Terminal.BalanceOf(projectID, metadata.NativeToken).String())
			settlements := f.rec.OfKind(events.KindSettlementMinted)
			require.Len(t, settlements, 1)
			require.Equal(t, units(1).String(), settlements[0].AmountDeposited)
			require.Equal(t, units(50).String(), settlements[0].TokensMinted)

			if f.pool != nil {
				require.Equal(t, before["pool price"], f.state()["pool price"])
				require.Equal(t, before["pool project"], f.state()["pool project"])
			}
			f.requireSwapFree()
		})
	}
}

func TestOracleUnavailable_MintsWithoutQuote(t *testing.T) {
	f := newFixture(t, fixtureConfig{weight: 1})

	receipt, err := f.pay(units(1), nil)
	require.NoError(t, err)
	require.Equal(t, buyback.MintDirect, receipt.Decision.Path)
	require.Zero(t, receipt.Decision.MinimumSwapAmountOut.Sign())
	require.Equal(t, units(1).String(), receipt.BeneficiaryTokens.String())
}

func TestInsufficientPayAmount(t *testing.T) {
	for _, weight := range []int64{50, 1000} {
		f := newFixture(t, fixtureConfig{weight: weight, price: 100})
		before := f.state()

		_, err := f.pay(units(1), &metadata.Quote{AmountToSwapWith: units(2), MinimumSwapAmountOut: new(big.Int)})
		require.ErrorIs(t, err, buyback.ErrInsufficientPayAmount)

		var detail *buyback.InsufficientPayAmountError
		require.True(t, errors.As(err, &detail))
		require.Equal(t, units(2).String(), detail.AmountToSwapWith.String())
		require.Equal(t, units(1).String(), detail.AmountPaid.String())

		require.Equal(t, before, f.state())
	}
}

func TestPayParams(t *testing.T) {
	f := newFixture(t, fixtureConfig{weight: 50, price: 100})
	ctx := context.Background()
	pc := buyback.PayContext{
		Terminal:    f.env.Terminal.Address(),
		Payer:       payer,
		ProjectID:   projectID,
		Amount:      buyback.Amount{Token: metadata.NativeToken, Value: units(1), Decimals: 18},
		Weight:      units(50),
		Beneficiary: beneficiary,
	}

	t.Run("quote for another hook is ignored", func(t *testing.T) {
		data, err := metadata.EncodeQuote(metadata.Quote{AmountToSwapWith: units(5), MinimumSwapAmountOut: units(1)})
		require.NoError(t, err)
		other := metadata.IDFor(metadata.QuotePurpose, stranger)
		pc := pc
		pc.Metadata, err = metadata.Build(metadata.Entry{ID: other, Data: data})
		require.NoError(t, err)

		d, err := f.env.Hook.PayParams(ctx, pc)
		require.NoError(t, err)
		require.Equal(t, buyback.SwapThenSettle, d.Path)
		require.False(t, d.QuoteWasExplicit)
		require.Equal(t, units(1).String(), d.Forward.String())
	})

	t.Run("malformed metadata", func(t *testing.T) {
		pc := pc
		pc.Metadata = make([]byte, 64)
		_, err := f.env.Hook.PayParams(ctx, pc)
		require.ErrorIs(t, err, metadata.ErrMalformed)
	})

	t.Run("token ordering flag", func(t *testing.T) {
		d, err := f.env.Hook.PayParams(ctx, pc)
		require.NoError(t, err)
		require.Equal(t, pooladdress.IsToken0(f.projectToken, f.weth), d.ProjectTokenIsZero)

		cfg, ok, err := f.env.Registry.Config(ctx, projectID, metadata.NativeToken)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, cfg.ProjectTokenIsZero(), d.ProjectTokenIsZero)
	})
}

func TestDidPay_RejectsUnknownCaller(t *testing.T) {
	f := newFixture(t, fixtureConfig{weight: 50, price: 100})

	err := f.env.Hook.DidPay(context.Background(), stranger, buyback.SettleContext{
		PayContext: buyback.PayContext{ProjectID: projectID, Weight: units(50), Beneficiary: stranger},
		Forwarded:  buyback.Amount{Token: metadata.NativeToken, Value: units(1), Decimals: 18},
		Decision:   buyback.Decision{Path: buyback.SwapThenSettle, AmountToSwapWith: units(1), MinimumSwapAmountOut: new(big.Int)},
	})
	require.ErrorIs(t, err, buyback.ErrUnauthorized)
}
