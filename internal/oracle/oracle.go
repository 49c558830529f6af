// Package oracle prices a payment in project tokens from a pool's TWAP and
// turns it into a conservative minimum swap output.
package oracle

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Bananapus/juice-buyback-hook/internal/amm"
	"github.com/Bananapus/juice-buyback-hook/internal/money"
	"github.com/Bananapus/juice-buyback-hook/internal/platform/observability"
	"github.com/Bananapus/juice-buyback-hook/internal/pricing/uniswapv3"
	"github.com/Bananapus/juice-buyback-hook/internal/registry"
)

// ConfigReader returns a pair's pool configuration
type ConfigReader interface {
	Config(ctx context.Context, projectID uint64, settlementToken common.Address) (registry.ProjectPoolConfig, bool, error)
}

// Config holds engine dependencies
type Config struct {
	Registry ConfigReader
	Pools    amm.Provider
	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Tracer   observability.Tracer
}

// Engine computes TWAP-derived minimum swap outputs
type Engine struct {
	registry ConfigReader
	pools    amm.Provider
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   observability.Tracer
}

// New creates an Engine
func New(cfg Config) *Engine {
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoopTracer()
	}
	return &Engine{
		registry: cfg.Registry,
		pools:    cfg.Pools,
		logger:   cfg.Logger.Component("oracle"),
		metrics:  cfg.Metrics,
		tracer:   cfg.Tracer,
	}
}

// unavailable explains why no quote could be produced
type unavailable string

func (u unavailable) Error() string { return string(u) }

// Quote returns the minimum number of projectToken an amountIn swap of
// settlementToken should return: the TWAP output less the project's slippage
// tolerance. It returns zero whenever no oracle is available and never fails.
func (e *Engine) Quote(ctx context.Context, projectID uint64, projectToken common.Address, amountIn *big.Int, settlementToken common.Address) *big.Int {
	start := time.Now()
	ctx, span := e.tracer.StartSpan(ctx, "Oracle.Quote",
		observability.WithAttributes(
			observability.ProjectAttr(projectID),
			observability.AddressAttr("settlement_token", settlementToken),
			observability.AmountAttr("amount_in", amountIn),
		),
	)
	defer span.End()

	out, err := e.quote(ctx, projectID, projectToken, amountIn, settlementToken)
	if err != nil {
		var reason unavailable
		if !errors.As(err, &reason) {
			span.NoticeError(err)
		}
		e.metrics.RecordQuote(ctx, "unavailable", time.Since(start))
		e.logger.LogDebug(ctx, "TWAP quote unavailable",
			"project_id", projectID,
			"settlement_token", settlementToken.Hex(),
			"reason", err.Error(),
		)
		return new(big.Int)
	}

	e.metrics.RecordQuote(ctx, "ok", time.Since(start))
	span.SetAttributes(observability.AmountAttr("minimum_out", out))
	return out
}

func (e *Engine) quote(ctx context.Context, projectID uint64, projectToken common.Address, amountIn *big.Int, settlementToken common.Address) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, unavailable("nothing to quote")
	}

	cfg, ok, err := e.registry.Config(ctx, projectID, settlementToken)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, unavailable("no pool configured")
	}
	if projectToken == (common.Address{}) {
		projectToken = cfg.ProjectToken
	}

	pool, err := e.pools.Pool(ctx, cfg.Pool)
	if errors.Is(err, amm.ErrPoolNotFound) {
		return nil, unavailable("pool not deployed")
	}
	if err != nil {
		return nil, err
	}

	slot0, err := pool.Slot0(ctx)
	if err != nil {
		return nil, err
	}
	if !slot0.Initialized() {
		return nil, unavailable("pool not initialized")
	}
	if !slot0.Unlocked {
		return nil, unavailable("pool locked")
	}

	window := cfg.TwapWindow
	oldest, err := pool.OldestObservationSecondsAgo(ctx)
	if err != nil {
		return nil, err
	}
	if oldest == 0 {
		return nil, unavailable("no observation history")
	}
	if oldest < window {
		window = oldest
	}

	cumulatives, err := pool.Observe(ctx, []uint32{window, 0})
	if err != nil {
		return nil, err
	}
	tick, err := uniswapv3.ArithmeticMeanTick(cumulatives, window)
	if err != nil {
		return nil, err
	}

	out, err := uniswapv3.GetQuoteAtTick(tick, amountIn, cfg.SettlementToken, projectToken)
	if errors.Is(err, uniswapv3.ErrAmountTooLarge) {
		return nil, unavailable("amount exceeds uint128")
	}
	if err != nil {
		return nil, err
	}

	return money.NewBPSFromInt(int64(cfg.TwapSlippageTolerance)).Deduct(out), nil
}
