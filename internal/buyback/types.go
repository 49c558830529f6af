package buyback

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Bananapus/juice-buyback-hook/internal/registry"
)

var (
	ErrUnauthorized              = errors.New("buyback: unauthorized")
	ErrInsufficientPayAmount     = errors.New("buyback: insufficient pay amount")
	ErrSpecifiedSlippageExceeded = errors.New("buyback: specified slippage exceeded")
)

// InsufficientPayAmountError is returned when the payer asks to swap more
// than was paid
type InsufficientPayAmountError struct {
	AmountToSwapWith *big.Int
	AmountPaid       *big.Int
}

func (e *InsufficientPayAmountError) Error() string {
	return fmt.Sprintf("%v: swap %s exceeds payment %s", ErrInsufficientPayAmount, e.AmountToSwapWith, e.AmountPaid)
}

func (e *InsufficientPayAmountError) Unwrap() error { return ErrInsufficientPayAmount }

// SlippageError is returned when a swap returns less than the payer's
// explicit minimum
type SlippageError struct {
	Received *big.Int
	Minimum  *big.Int
}

func (e *SlippageError) Error() string {
	return fmt.Sprintf("%v: received %s, minimum %s", ErrSpecifiedSlippageExceeded, e.Received, e.Minimum)
}

func (e *SlippageError) Unwrap() error { return ErrSpecifiedSlippageExceeded }

// Path is the settlement route chosen for a payment
type Path int

const (
	MintDirect Path = iota
	SwapThenSettle
)

func (p Path) String() string {
	switch p {
	case MintDirect:
		return "mint"
	case SwapThenSettle:
		return "swap"
	default:
		return "unknown"
	}
}

// Amount is a token amount with the token's decimals
type Amount struct {
	Token    common.Address
	Value    *big.Int
	Decimals uint8
}

// PayContext describes a payment before the ledger records it
type PayContext struct {
	Terminal  common.Address
	Payer     common.Address
	ProjectID uint64
	Amount    Amount
	// Weight is project tokens per unit paid, 18-decimal fixed point
	Weight      *big.Int
	Beneficiary common.Address
	Metadata    []byte
}

// Decision is the routing result reported back to the ledger
type Decision struct {
	Path Path
	// Weight the ledger mints at; zero when minting is deferred to settlement
	Weight               *big.Int
	AmountToSwapWith     *big.Int
	LeftoverAmount       *big.Int
	MinimumSwapAmountOut *big.Int
	QuoteWasExplicit     bool
	ProjectTokenIsZero   bool
	// Forward is the amount the ledger sends to the hook before DidPay
	Forward *big.Int
}

// SettleContext describes a recorded payment whose funds were forwarded to
// the hook
type SettleContext struct {
	PayContext
	Forwarded Amount
	Decision  Decision
}

// SwapOutcome is the result of a swap attempt
type SwapOutcome struct {
	Succeeded      bool
	AmountReceived *big.Int
}

// PoolConfigs reads registered pools
type PoolConfigs interface {
	Config(ctx context.Context, projectID uint64, settlementToken common.Address) (registry.ProjectPoolConfig, bool, error)
	Normalize(token common.Address) common.Address
}

// Quoter returns a TWAP-derived minimum swap output, zero when unavailable
type Quoter interface {
	Quote(ctx context.Context, projectID uint64, projectToken common.Address, amountIn *big.Int, settlementToken common.Address) *big.Int
}

// Directory knows which terminals serve a project
type Directory interface {
	IsTerminalOf(ctx context.Context, projectID uint64, terminal common.Address) (bool, error)
}

// Controller issues, mints and burns project tokens
type Controller interface {
	TokenOf(ctx context.Context, projectID uint64) (common.Address, error)
	MintTokensOf(ctx context.Context, projectID uint64, count *big.Int, beneficiary common.Address, useReservedRate bool) (*big.Int, error)
	BurnTokensOf(ctx context.Context, holder common.Address, projectID uint64, count *big.Int) error
}

// Terminal accepts funds back into a project's balance
type Terminal interface {
	AddToBalanceOf(ctx context.Context, from common.Address, projectID uint64, token common.Address, amount *big.Int) error
}

// Tokens moves token balances
type Tokens interface {
	Transfer(ctx context.Context, token, from, to common.Address, amount *big.Int) error
}

// WrappedNative wraps the native currency
type WrappedNative interface {
	Deposit(ctx context.Context, from common.Address, amount *big.Int) error
}
