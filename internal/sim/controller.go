package sim

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Bananapus/juice-buyback-hook/internal/money"
)

var (
	ErrTokenAlreadyIssued = errors.New("sim: project token already issued")
	ErrNoToken            = errors.New("sim: project has no token")
)

// Controller issues project tokens and mints them with the project's
// reserved rate applied
type Controller struct {
	chain *Chain

	mu                    sync.RWMutex
	tokens                map[uint64]common.Address
	reservedRates         map[uint64]money.BPS
	reservedBeneficiaries map[uint64]common.Address
}

// NewController creates a controller on chain
func NewController(chain *Chain) *Controller {
	return &Controller{
		chain:                 chain,
		tokens:                make(map[uint64]common.Address),
		reservedRates:         make(map[uint64]money.BPS),
		reservedBeneficiaries: make(map[uint64]common.Address),
	}
}

// ProjectTokenAddress is the deterministic address of a project's token
func ProjectTokenAddress(projectID uint64) common.Address {
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], projectID)
	return common.BytesToAddress(crypto.Keccak256([]byte("project-token"), id[:]))
}

// IssueToken gives the project its token
func (c *Controller) IssueToken(projectID uint64) (common.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if token, ok := c.tokens[projectID]; ok {
		return token, fmt.Errorf("%w: project %d", ErrTokenAlreadyIssued, projectID)
	}
	token := ProjectTokenAddress(projectID)
	c.tokens[projectID] = token
	return token, nil
}

// SetReservedRate sends rate of every reserved-rate mint to beneficiary
func (c *Controller) SetReservedRate(projectID uint64, rate money.BPS, beneficiary common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reservedRates[projectID] = rate
	c.reservedBeneficiaries[projectID] = beneficiary
}

// TokenOf returns the project's token, zero when none is issued
func (c *Controller) TokenOf(_ context.Context, projectID uint64) (common.Address, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens[projectID], nil
}

// MintTokensOf mints count tokens, sending the reserved share to the
// project's reserved beneficiary when useReservedRate is set. It returns the
// amount the beneficiary received.
func (c *Controller) MintTokensOf(ctx context.Context, projectID uint64, count *big.Int, beneficiary common.Address, useReservedRate bool) (*big.Int, error) {
	c.mu.RLock()
	token, ok := c.tokens[projectID]
	rate := c.reservedRates[projectID]
	reservedTo := c.reservedBeneficiaries[projectID]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: project %d", ErrNoToken, projectID)
	}

	toBeneficiary := new(big.Int).Set(count)
	if useReservedRate && rate.Int64() > 0 {
		reserved := rate.Of(count)
		toBeneficiary.Sub(toBeneficiary, reserved)
		if err := c.chain.Mint(token, reservedTo, reserved); err != nil {
			return nil, err
		}
	}
	if err := c.chain.Mint(token, beneficiary, toBeneficiary); err != nil {
		return nil, err
	}
	return toBeneficiary, nil
}

// BurnTokensOf burns count of holder's project tokens
func (c *Controller) BurnTokensOf(_ context.Context, holder common.Address, projectID uint64, count *big.Int) error {
	c.mu.RLock()
	token, ok := c.tokens[projectID]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: project %d", ErrNoToken, projectID)
	}
	return c.chain.Burn(token, holder, count)
}

// TotalSupplyOf sums every holder's balance of the project token
func (c *Controller) TotalSupplyOf(projectID uint64) *big.Int {
	c.mu.RLock()
	token := c.tokens[projectID]
	c.mu.RUnlock()

	c.chain.mu.Lock()
	defer c.chain.mu.Unlock()
	total := new(big.Int)
	for _, balance := range c.chain.balances[token] {
		total.Add(total, balance)
	}
	return total
}
