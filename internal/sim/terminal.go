package sim

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Bananapus/juice-buyback-hook/internal/buyback"
	"github.com/Bananapus/juice-buyback-hook/internal/money"
	"github.com/Bananapus/juice-buyback-hook/internal/platform/observability"
)

var (
	ErrTokenNotAccepted = errors.New("sim: token not accepted by terminal")
	ErrOverForward      = errors.New("sim: hook asked for more than was paid")
)

// PayHook is the hook a terminal consults on every payment
type PayHook interface {
	Address() common.Address
	PayParams(ctx context.Context, pc buyback.PayContext) (buyback.Decision, error)
	DidPay(ctx context.Context, caller common.Address, sc buyback.SettleContext) error
}

// PayRequest is a payment into a project
type PayRequest struct {
	ProjectID   uint64
	Payer       common.Address
	Token       common.Address
	Amount      *big.Int
	Beneficiary common.Address
	Metadata    []byte
}

// Receipt summarises a settled payment
type Receipt struct {
	Decision buyback.Decision
	// BeneficiaryTokens is the change in the beneficiary's project token balance
	BeneficiaryTokens *big.Int
}

// TerminalConfig holds terminal dependencies
type TerminalConfig struct {
	Address    common.Address
	Chain      *Chain
	Controller *Controller
	Logger     *observability.Logger
}

// Terminal is a payment ledger. It records payments into project balances,
// mints at the ruleset weight and runs the project's pay hook.
type Terminal struct {
	address    common.Address
	chain      *Chain
	controller *Controller
	logger     *observability.Logger

	mu       sync.RWMutex
	hooks    map[uint64]PayHook
	weights  map[uint64]*big.Int
	decimals map[common.Address]uint8
	balances map[uint64]map[common.Address]*big.Int
}

// NewTerminal creates a terminal
func NewTerminal(cfg TerminalConfig) *Terminal {
	return &Terminal{
		address:    cfg.Address,
		chain:      cfg.Chain,
		controller: cfg.Controller,
		logger:     cfg.Logger.Component("sim-terminal"),
		hooks:      make(map[uint64]PayHook),
		weights:    make(map[uint64]*big.Int),
		decimals:   make(map[common.Address]uint8),
		balances:   make(map[uint64]map[common.Address]*big.Int),
	}
}

// Address returns the terminal's account
func (t *Terminal) Address() common.Address { return t.address }

// AcceptToken lets the terminal take payments in token
func (t *Terminal) AcceptToken(token common.Address, decimals uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.decimals[token] = decimals
}

// SetWeight sets the project's issuance weight (18-decimal fixed point)
func (t *Terminal) SetWeight(projectID uint64, weight *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.weights[projectID] = new(big.Int).Set(weight)
}

// SetHook installs the project's pay hook
func (t *Terminal) SetHook(projectID uint64, hook PayHook) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hooks[projectID] = hook
}

// IsTerminalOf implements buyback.Directory
func (t *Terminal) IsTerminalOf(_ context.Context, _ uint64, terminal common.Address) (bool, error) {
	return terminal == t.address, nil
}

// BalanceOf returns the project's recorded balance of token
func (t *Terminal) BalanceOf(projectID uint64, token common.Address) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if b, ok := t.balances[projectID][token]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (t *Terminal) credit(projectID uint64, token common.Address, amount *big.Int) {
	t.mu.Lock()
	prev := new(big.Int)
	if b, ok := t.balances[projectID][token]; ok {
		prev.Set(b)
	}
	if t.balances[projectID] == nil {
		t.balances[projectID] = make(map[common.Address]*big.Int)
	}
	t.balances[projectID][token] = new(big.Int).Add(prev, amount)
	t.mu.Unlock()

	t.chain.record(func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.balances[projectID][token] = prev
	})
}

// AddToBalanceOf implements buyback.Terminal
func (t *Terminal) AddToBalanceOf(ctx context.Context, from common.Address, projectID uint64, token common.Address, amount *big.Int) error {
	if err := t.chain.Transfer(ctx, token, from, t.address, amount); err != nil {
		return err
	}
	t.credit(projectID, token, amount)
	return nil
}

// Pay runs a payment as one transaction: take the funds, ask the hook how to
// settle, mint at the returned weight, then hand any forwarded funds to the
// hook. Nothing changes if any step fails.
func (t *Terminal) Pay(ctx context.Context, req PayRequest) (Receipt, error) {
	t.mu.RLock()
	decimals, accepted := t.decimals[req.Token]
	hook := t.hooks[req.ProjectID]
	weight, ok := t.weights[req.ProjectID]
	t.mu.RUnlock()
	if !accepted {
		return Receipt{}, fmt.Errorf("%w: %s", ErrTokenNotAccepted, req.Token.Hex())
	}
	if !ok {
		weight = new(big.Int)
	}

	projectToken, _ := t.controller.TokenOf(ctx, req.ProjectID)
	before := t.chain.BalanceOf(projectToken, req.Beneficiary)

	var receipt Receipt
	err := t.chain.Atomically(ctx, func(ctx context.Context) error {
		if err := t.chain.Transfer(ctx, req.Token, req.Payer, t.address, req.Amount); err != nil {
			return err
		}

		pc := buyback.PayContext{
			Terminal:    t.address,
			Payer:       req.Payer,
			ProjectID:   req.ProjectID,
			Amount:      buyback.Amount{Token: req.Token, Value: new(big.Int).Set(req.Amount), Decimals: decimals},
			Weight:      new(big.Int).Set(weight),
			Beneficiary: req.Beneficiary,
			Metadata:    req.Metadata,
		}

		decision := buyback.Decision{Path: buyback.MintDirect, Weight: pc.Weight, Forward: new(big.Int)}
		if hook != nil {
			var err error
			decision, err = hook.PayParams(ctx, pc)
			if err != nil {
				return err
			}
		}

		forward := decision.Forward
		if forward == nil {
			forward = new(big.Int)
		}
		if forward.Cmp(req.Amount) > 0 {
			return fmt.Errorf("%w: %s of %s", ErrOverForward, forward, req.Amount)
		}

		count, err := money.TokenCount(req.Amount, decision.Weight, int(decimals))
		if err != nil {
			return err
		}
		if count.Sign() > 0 {
			if _, err := t.controller.MintTokensOf(ctx, req.ProjectID, count, req.Beneficiary, true); err != nil {
				return err
			}
		}

		t.credit(req.ProjectID, req.Token, new(big.Int).Sub(req.Amount, forward))

		if forward.Sign() > 0 {
			if err := t.chain.Transfer(ctx, req.Token, t.address, hook.Address(), forward); err != nil {
				return err
			}
			err := hook.DidPay(ctx, t.address, buyback.SettleContext{
				PayContext: pc,
				Forwarded:  buyback.Amount{Token: req.Token, Value: new(big.Int).Set(forward), Decimals: decimals},
				Decision:   decision,
			})
			if err != nil {
				return err
			}
		}

		receipt.Decision = decision
		return nil
	})
	if err != nil {
		t.logger.LogDebug(ctx, "payment reverted", "project_id", req.ProjectID, "error", err.Error())
		return Receipt{}, err
	}

	receipt.BeneficiaryTokens = new(big.Int).Sub(t.chain.BalanceOf(projectToken, req.Beneficiary), before)
	return receipt, nil
}
