// Package sim is an in-memory execution environment for the buyback hook: a
// journaled token ledger with all-or-nothing transactions, Uniswap V3 style
// pools, an issuance controller, a payment terminal and a permission table.
// Tests and the dev daemon run payments against it end to end.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Bananapus/juice-buyback-hook/internal/events"
	"github.com/Bananapus/juice-buyback-hook/internal/metadata"
	"github.com/Bananapus/juice-buyback-hook/internal/platform/observability"
)

var (
	ErrInsufficientBalance = errors.New("sim: insufficient balance")
	ErrNegativeAmount      = errors.New("sim: negative amount")
	ErrPanic               = errors.New("sim: panic during transaction")
)

// ChainConfig holds chain dependencies
type ChainConfig struct {
	WrappedNative common.Address
	// Events receives records once the transaction that emitted them commits
	Events events.Sink
	// Clock defaults to time.Now
	Clock  func() time.Time
	Logger *observability.Logger
}

// Chain is a token ledger with journaled state. Every mutation made inside
// Atomically is undone if the transaction fails.
type Chain struct {
	wrappedNative common.Address
	sink          events.Sink
	clock         func() time.Time
	logger        *observability.Logger

	// serialises transactions
	txMu sync.Mutex

	mu       sync.Mutex
	balances map[common.Address]map[common.Address]*big.Int
	journal  []func()
	pending  []pendingEvent
	inTx     bool
	offset   time.Duration
	pools    map[common.Address]*Pool
}

type pendingEvent struct {
	ctx context.Context
	rec events.Record
}

// NewChain creates an empty chain
func NewChain(cfg ChainConfig) *Chain {
	if cfg.Events == nil {
		cfg.Events = events.Discard{}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.WrappedNative == (common.Address{}) {
		cfg.WrappedNative = DefaultWrappedNative
	}
	return &Chain{
		wrappedNative: cfg.WrappedNative,
		sink:          cfg.Events,
		clock:         cfg.Clock,
		logger:        cfg.Logger.Component("sim-chain"),
		balances:      make(map[common.Address]map[common.Address]*big.Int),
		pools:         make(map[common.Address]*Pool),
	}
}

// DefaultWrappedNative is the mainnet WETH address
var DefaultWrappedNative = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")

// WrappedNativeToken returns the wrapped native token address
func (c *Chain) WrappedNativeToken() common.Address {
	return c.wrappedNative
}

// Now returns the chain clock
func (c *Chain) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clock().Add(c.offset)
}

// Timestamp returns the chain clock in unix seconds
func (c *Chain) Timestamp() uint32 {
	return uint32(c.Now().Unix())
}

// Advance moves the chain clock forward
func (c *Chain) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset += d
}

// record appends an undo step. Outside a transaction nothing is kept.
func (c *Chain) record(undo func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inTx {
		c.journal = append(c.journal, undo)
	}
}

func (c *Chain) snapshot() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.journal)
}

func (c *Chain) revertTo(id int) {
	c.mu.Lock()
	undo := c.journal[id:]
	c.journal = c.journal[:id]
	c.mu.Unlock()

	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
}

// Atomically runs fn as one transaction. An error or panic from fn reverts
// every balance, pool and event change it made.
func (c *Chain) Atomically(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	c.txMu.Lock()
	defer c.txMu.Unlock()

	c.mu.Lock()
	c.inTx = true
	c.journal = c.journal[:0]
	c.pending = c.pending[:0]
	c.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
		if err != nil {
			c.revertTo(0)
		}

		c.mu.Lock()
		pending := c.pending
		c.pending = nil
		c.journal = nil
		c.inTx = false
		c.mu.Unlock()

		if err != nil {
			c.logger.LogDebug(ctx, "transaction reverted", "error", err.Error())
			return
		}
		for _, p := range pending {
			c.sink.Emit(p.ctx, p.rec)
		}
	}()

	return fn(ctx)
}

// Try runs fn as a nested call frame inside the current transaction,
// reverting only fn's changes when it fails.
func (c *Chain) Try(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	snap := c.snapshot()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
		if err != nil {
			c.revertTo(snap)
		}
	}()
	return fn(ctx)
}

// Emit implements events.Sink. Inside a transaction records are held until
// commit; outside one they pass straight through.
func (c *Chain) Emit(ctx context.Context, rec events.Record) {
	c.mu.Lock()
	if !c.inTx {
		c.mu.Unlock()
		c.sink.Emit(ctx, rec)
		return
	}
	c.pending = append(c.pending, pendingEvent{ctx: ctx, rec: rec})
	n := len(c.pending)
	c.journal = append(c.journal, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if len(c.pending) >= n {
			c.pending = c.pending[:n-1]
		}
	})
	c.mu.Unlock()
}

// BalanceOf returns a copy of holder's balance of token
func (c *Chain) BalanceOf(token, holder common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.balanceLocked(token, holder))
}

func (c *Chain) balanceLocked(token, holder common.Address) *big.Int {
	if b, ok := c.balances[token][holder]; ok {
		return b
	}
	return new(big.Int)
}

// setBalance writes a balance and journals the previous value
func (c *Chain) setBalance(token, holder common.Address, amount *big.Int) {
	c.mu.Lock()
	prev := new(big.Int).Set(c.balanceLocked(token, holder))
	holders, ok := c.balances[token]
	if !ok {
		holders = make(map[common.Address]*big.Int)
		c.balances[token] = holders
	}
	holders[holder] = new(big.Int).Set(amount)
	c.mu.Unlock()

	c.record(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.balances[token][holder] = prev
	})
}

// Mint credits amount of token to holder
func (c *Chain) Mint(token, holder common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	c.setBalance(token, holder, new(big.Int).Add(c.BalanceOf(token, holder), amount))
	return nil
}

// Burn debits amount of token from holder
func (c *Chain) Burn(token, holder common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	balance := c.BalanceOf(token, holder)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s of %s, needs %s", ErrInsufficientBalance, holder.Hex(), balance, token.Hex(), amount)
	}
	c.setBalance(token, holder, balance.Sub(balance, amount))
	return nil
}

// Transfer moves amount of token between holders
func (c *Chain) Transfer(_ context.Context, token, from, to common.Address, amount *big.Int) error {
	if err := c.Burn(token, from, amount); err != nil {
		return err
	}
	return c.Mint(token, to, amount)
}

// Deposit wraps amount of the native currency held by from
func (c *Chain) Deposit(_ context.Context, from common.Address, amount *big.Int) error {
	if err := c.Burn(metadata.NativeToken, from, amount); err != nil {
		return fmt.Errorf("wrap native: %w", err)
	}
	return c.Mint(c.wrappedNative, from, amount)
}
