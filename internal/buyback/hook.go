// Package buyback routes each payment to whichever of two paths gives the
// payer more project tokens: minting at the project's issuance weight, or
// buying the tokens from a Uniswap V3 pool.
package buyback

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Bananapus/juice-buyback-hook/internal/amm"
	"github.com/Bananapus/juice-buyback-hook/internal/events"
	"github.com/Bananapus/juice-buyback-hook/internal/metadata"
	"github.com/Bananapus/juice-buyback-hook/internal/money"
	"github.com/Bananapus/juice-buyback-hook/internal/platform/observability"
	"github.com/Bananapus/juice-buyback-hook/internal/pooladdress"
)

// Config holds hook dependencies
type Config struct {
	// Address is the hook's own account: it receives forwarded payments and
	// swap output, and scopes the payer quote metadata id
	Address       common.Address
	Registry      PoolConfigs
	Oracle        Quoter
	Pools         amm.Provider
	Directory     Directory
	Controller    Controller
	Terminal      Terminal
	Tokens        Tokens
	WrappedNative WrappedNative
	Events        events.Sink
	Logger        *observability.Logger
	Metrics       *observability.Metrics
	Tracer        observability.Tracer
}

// Hook is the buyback pay hook
type Hook struct {
	address       common.Address
	quoteID       metadata.ID
	registry      PoolConfigs
	oracle        Quoter
	pools         amm.Provider
	directory     Directory
	controller    Controller
	terminal      Terminal
	tokens        Tokens
	wrappedNative WrappedNative
	events        events.Sink
	logger        *observability.Logger
	metrics       *observability.Metrics
	tracer        observability.Tracer

	// outstanding swap callbacks, keyed by capability
	mu      sync.Mutex
	pending map[uuid.UUID]swapRequest
}

// swapRequest is what a capability entitles the pool to collect
type swapRequest struct {
	projectID          uint64
	pool               common.Address
	token              common.Address
	settlementToken    common.Address
	projectTokenIsZero bool
}

// New creates a Hook
func New(cfg Config) (*Hook, error) {
	switch {
	case cfg.Address == (common.Address{}):
		return nil, fmt.Errorf("hook address is required")
	case cfg.Registry == nil:
		return nil, fmt.Errorf("registry is required")
	case cfg.Oracle == nil:
		return nil, fmt.Errorf("oracle is required")
	case cfg.Pools == nil:
		return nil, fmt.Errorf("pool provider is required")
	case cfg.Directory == nil:
		return nil, fmt.Errorf("directory is required")
	case cfg.Controller == nil:
		return nil, fmt.Errorf("controller is required")
	case cfg.Terminal == nil:
		return nil, fmt.Errorf("terminal is required")
	case cfg.Tokens == nil:
		return nil, fmt.Errorf("token ledger is required")
	case cfg.WrappedNative == nil:
		return nil, fmt.Errorf("wrapped native token is required")
	}
	if cfg.Events == nil {
		cfg.Events = events.Discard{}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoopTracer()
	}

	return &Hook{
		address:       cfg.Address,
		quoteID:       metadata.IDFor(metadata.QuotePurpose, cfg.Address),
		registry:      cfg.Registry,
		oracle:        cfg.Oracle,
		pools:         cfg.Pools,
		directory:     cfg.Directory,
		controller:    cfg.Controller,
		terminal:      cfg.Terminal,
		tokens:        cfg.Tokens,
		wrappedNative: cfg.WrappedNative,
		events:        cfg.Events,
		logger:        cfg.Logger.Component("buyback"),
		metrics:       cfg.Metrics,
		tracer:        cfg.Tracer,
		pending:       make(map[uuid.UUID]swapRequest),
	}, nil
}

// Address returns the hook's account
func (h *Hook) Address() common.Address {
	return h.address
}

// QuoteID returns the metadata id payers use for their quote
func (h *Hook) QuoteID() metadata.ID {
	return h.quoteID
}

// PayParams decides how a payment settles. MintDirect leaves the weight
// untouched; SwapThenSettle reports a zero weight and asks the ledger to
// forward the whole payment to the hook.
func (h *Hook) PayParams(ctx context.Context, pc PayContext) (Decision, error) {
	ctx, span := h.tracer.StartSpan(ctx, "Buyback.PayParams",
		observability.WithAttributes(
			observability.ProjectAttr(pc.ProjectID),
			observability.AddressAttr("token", pc.Amount.Token),
			observability.AmountAttr("amount", pc.Amount.Value),
		),
	)
	defer span.End()

	paid := pc.Amount.Value
	amountToSwapWith := new(big.Int).Set(paid)
	minimum := new(big.Int)

	quote, explicit, err := metadata.QuoteFor(h.address, pc.Metadata)
	if err != nil {
		span.NoticeError(err)
		return Decision{}, fmt.Errorf("decode payment metadata: %w", err)
	}
	if explicit {
		if quote.AmountToSwapWith != nil && quote.AmountToSwapWith.Sign() > 0 {
			if quote.AmountToSwapWith.Cmp(paid) > 0 {
				return Decision{}, &InsufficientPayAmountError{AmountToSwapWith: quote.AmountToSwapWith, AmountPaid: paid}
			}
			amountToSwapWith.Set(quote.AmountToSwapWith)
		}
		if quote.MinimumSwapAmountOut != nil {
			minimum.Set(quote.MinimumSwapAmountOut)
		}
	}

	mintOnlyCount, err := money.TokenCount(amountToSwapWith, pc.Weight, int(pc.Amount.Decimals))
	if err != nil {
		return Decision{}, fmt.Errorf("mint-only token count: %w", err)
	}

	settlementToken := h.registry.Normalize(pc.Amount.Token)
	projectToken, err := h.controller.TokenOf(ctx, pc.ProjectID)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to resolve project token: %w", err)
	}

	quoteWasExplicit := minimum.Sign() > 0
	if !quoteWasExplicit && projectToken != (common.Address{}) {
		minimum = h.oracle.Quote(ctx, pc.ProjectID, projectToken, amountToSwapWith, settlementToken)
	}

	// Equal outcomes mint
	if mintOnlyCount.Cmp(minimum) >= 0 {
		h.metrics.RecordRoutingDecision(ctx, MintDirect.String(), quoteWasExplicit)
		h.logger.LogDebug(ctx, "routing payment to mint",
			"project_id", pc.ProjectID,
			"mint_only_count", mintOnlyCount.String(),
			"minimum_swap_out", minimum.String(),
		)
		return Decision{
			Path:                 MintDirect,
			Weight:               pc.Weight,
			AmountToSwapWith:     amountToSwapWith,
			LeftoverAmount:       new(big.Int),
			MinimumSwapAmountOut: minimum,
			QuoteWasExplicit:     quoteWasExplicit,
			Forward:              new(big.Int),
		}, nil
	}

	if amountToSwapWith.Cmp(paid) > 0 {
		return Decision{}, &InsufficientPayAmountError{AmountToSwapWith: amountToSwapWith, AmountPaid: paid}
	}

	decision := Decision{
		Path:                 SwapThenSettle,
		Weight:               new(big.Int),
		AmountToSwapWith:     amountToSwapWith,
		LeftoverAmount:       new(big.Int).Sub(paid, amountToSwapWith),
		MinimumSwapAmountOut: minimum,
		QuoteWasExplicit:     quoteWasExplicit,
		ProjectTokenIsZero:   pooladdress.IsToken0(projectToken, settlementToken),
		Forward:              new(big.Int).Set(paid),
	}

	h.metrics.RecordRoutingDecision(ctx, SwapThenSettle.String(), quoteWasExplicit)
	span.SetAttributes(attribute.String("path", decision.Path.String()))
	h.logger.LogInfo(ctx, "routing payment through pool",
		"project_id", pc.ProjectID,
		"amount_to_swap_with", amountToSwapWith.String(),
		"leftover", decision.LeftoverAmount.String(),
		"mint_only_count", mintOnlyCount.String(),
		"minimum_swap_out", minimum.String(),
		"explicit_quote", quoteWasExplicit,
	)
	return decision, nil
}
