package buyback

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Bananapus/juice-buyback-hook/internal/events"
	"github.com/Bananapus/juice-buyback-hook/internal/metadata"
	"github.com/Bananapus/juice-buyback-hook/internal/money"
	"github.com/Bananapus/juice-buyback-hook/internal/platform/observability"
	"github.com/Bananapus/juice-buyback-hook/internal/pricing/uniswapv3"
)

var errNoPool = errors.New("no pool configured")

var (
	minPriceLimit = new(big.Int).Add(uniswapv3.MinSqrtRatio, big.NewInt(1))
	maxPriceLimit = new(big.Int).Sub(uniswapv3.MaxSqrtRatio, big.NewInt(1))
)

// DidPay settles a payment routed through the pool: swap, burn what the swap
// bought, return unswapped funds to the project and mint everything to the
// beneficiary with the reserved rate applied. A failed swap falls back to
// minting the whole payment. Any returned error must abort the enclosing
// transaction.
func (h *Hook) DidPay(ctx context.Context, caller common.Address, sc SettleContext) error {
	ctx, span := h.tracer.StartSpan(ctx, "Buyback.DidPay",
		observability.WithAttributes(
			observability.ProjectAttr(sc.ProjectID),
			observability.AddressAttr("caller", caller),
		),
	)
	defer span.End()

	ok, err := h.directory.IsTerminalOf(ctx, sc.ProjectID, caller)
	if err != nil {
		return fmt.Errorf("failed to check terminal: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s is not a terminal of project %d", ErrUnauthorized, caller.Hex(), sc.ProjectID)
	}
	if sc.Decision.Path != SwapThenSettle {
		return nil
	}

	d := sc.Decision
	forwarded := sc.Forwarded.Value
	if forwarded == nil || d.AmountToSwapWith == nil || d.AmountToSwapWith.Cmp(forwarded) > 0 {
		return &InsufficientPayAmountError{AmountToSwapWith: d.AmountToSwapWith, AmountPaid: forwarded}
	}

	outcome, err := h.swap(ctx, sc)
	if err != nil {
		span.NoticeError(err)
		return err
	}

	// Unswapped funds mint at the issuance weight
	unswapped := new(big.Int).Sub(forwarded, d.AmountToSwapWith)
	if outcome.Succeeded {
		if err := h.controller.BurnTokensOf(ctx, h.address, sc.ProjectID, outcome.AmountReceived); err != nil {
			return fmt.Errorf("failed to burn swapped tokens: %w", err)
		}
		if d.QuoteWasExplicit && outcome.AmountReceived.Cmp(d.MinimumSwapAmountOut) < 0 {
			h.metrics.RecordSlippageRevert(ctx)
			return &SlippageError{Received: outcome.AmountReceived, Minimum: d.MinimumSwapAmountOut}
		}
	} else {
		unswapped.Set(forwarded)
	}

	partialMintCount, err := money.TokenCount(unswapped, sc.Weight, int(sc.Forwarded.Decimals))
	if err != nil {
		return fmt.Errorf("partial mint count: %w", err)
	}

	if unswapped.Sign() > 0 {
		if err := h.terminal.AddToBalanceOf(ctx, h.address, sc.ProjectID, sc.Forwarded.Token, unswapped); err != nil {
			return fmt.Errorf("failed to return funds to project: %w", err)
		}
		h.events.Emit(ctx, events.SettlementMinted(caller, sc.ProjectID, sc.Forwarded.Token, sc.Beneficiary, unswapped, partialMintCount))
	}

	total := new(big.Int).Add(outcome.AmountReceived, partialMintCount)
	minted := new(big.Int)
	if total.Sign() > 0 {
		minted, err = h.controller.MintTokensOf(ctx, sc.ProjectID, total, sc.Beneficiary, true)
		if err != nil {
			return fmt.Errorf("failed to mint: %w", err)
		}
	}

	path := "fallback"
	if outcome.Succeeded {
		path = "swap"
	}
	h.metrics.RecordSettlement(ctx, path)
	span.SetAttributes(attribute.String("settlement", path))
	h.logger.LogInfo(ctx, "payment settled",
		"project_id", sc.ProjectID,
		"path", path,
		"received", outcome.AmountReceived.String(),
		"partial_mint", partialMintCount.String(),
		"returned_to_project", unswapped.String(),
		"beneficiary_tokens", minted.String(),
	)
	return nil
}

// swap buys project tokens with the decision's amount. Pool failures come back
// as an unsuccessful outcome; only a cancelled context is an error.
func (h *Hook) swap(ctx context.Context, sc SettleContext) (SwapOutcome, error) {
	failed := SwapOutcome{AmountReceived: new(big.Int)}
	d := sc.Decision
	settlementToken := h.registry.Normalize(sc.Forwarded.Token)

	cfg, ok, err := h.registry.Config(ctx, sc.ProjectID, settlementToken)
	if err == nil && !ok {
		err = errNoPool
	}
	if err != nil {
		h.swapFailed(ctx, sc.ProjectID, common.Address{}, err)
		return failed, nil
	}

	pool, err := h.pools.Pool(ctx, cfg.Pool)
	if err != nil {
		h.swapFailed(ctx, sc.ProjectID, cfg.Pool, err)
		return failed, nil
	}

	zeroForOne := !d.ProjectTokenIsZero
	limit := maxPriceLimit
	if zeroForOne {
		limit = minPriceLimit
	}

	capability := h.issue(swapRequest{
		projectID:          sc.ProjectID,
		pool:               cfg.Pool,
		token:              sc.Forwarded.Token,
		settlementToken:    settlementToken,
		projectTokenIsZero: d.ProjectTokenIsZero,
	})
	defer h.revoke(capability)

	result, err := pool.Swap(ctx, h.address, zeroForOne, d.AmountToSwapWith, limit, capability[:], h)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return failed, ctxErr
		}
		h.swapFailed(ctx, sc.ProjectID, cfg.Pool, err)
		return failed, nil
	}

	received := new(big.Int).Neg(result.Amount1)
	if d.ProjectTokenIsZero {
		received = new(big.Int).Neg(result.Amount0)
	}

	h.metrics.RecordSwap(ctx, true)
	h.events.Emit(ctx, events.SwapExecuted(sc.Terminal, sc.ProjectID, cfg.Pool, d.AmountToSwapWith, received))
	return SwapOutcome{Succeeded: true, AmountReceived: received}, nil
}

func (h *Hook) swapFailed(ctx context.Context, projectID uint64, pool common.Address, err error) {
	h.metrics.RecordSwap(ctx, false)
	h.logger.LogWarn(ctx, "swap failed, minting instead",
		"project_id", projectID,
		"pool", pool.Hex(),
		"error", err.Error(),
	)
}

func (h *Hook) issue(req swapRequest) uuid.UUID {
	id := uuid.New()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending[id] = req
	return id
}

func (h *Hook) revoke(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.pending, id)
}

// consume redeems a capability for pool. A capability is good for one call.
func (h *Hook) consume(data []byte, pool common.Address) (swapRequest, bool) {
	id, err := uuid.FromBytes(data)
	if err != nil {
		return swapRequest{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	req, ok := h.pending[id]
	if !ok || req.pool != pool {
		return swapRequest{}, false
	}
	delete(h.pending, id)
	return req, true
}

// UniswapV3SwapCallback implements amm.SwapCallback: it pays the pool the
// settlement token it is owed for a swap this hook started.
func (h *Hook) UniswapV3SwapCallback(ctx context.Context, pool common.Address, amount0Delta, amount1Delta *big.Int, data []byte) error {
	req, ok := h.consume(data, pool)
	if !ok {
		h.logger.LogWarn(ctx, "rejected swap callback", "pool", pool.Hex())
		return fmt.Errorf("%w: unexpected swap callback from %s", ErrUnauthorized, pool.Hex())
	}

	owed := amount0Delta
	if req.projectTokenIsZero {
		owed = amount1Delta
	}
	if owed == nil || owed.Sign() <= 0 {
		return nil
	}

	if req.token == metadata.NativeToken {
		if err := h.wrappedNative.Deposit(ctx, h.address, owed); err != nil {
			return fmt.Errorf("failed to wrap native currency: %w", err)
		}
	}
	if err := h.tokens.Transfer(ctx, req.settlementToken, h.address, pool, owed); err != nil {
		return fmt.Errorf("failed to pay pool: %w", err)
	}
	return nil
}
