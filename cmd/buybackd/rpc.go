package main

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/Bananapus/juice-buyback-hook/internal/platform/config"
	"github.com/Bananapus/juice-buyback-hook/internal/registry"
)

// boundProjects serves project tokens and owners from configuration when the
// daemon has no controller to ask
type boundProjects struct {
	tokens map[uint64]common.Address
	owners map[uint64]common.Address
}

func newBoundProjects(bindings []config.ProjectBinding) *boundProjects {
	p := &boundProjects{
		tokens: make(map[uint64]common.Address, len(bindings)),
		owners: make(map[uint64]common.Address, len(bindings)),
	}
	for _, b := range bindings {
		p.tokens[b.ID] = common.HexToAddress(b.Token)
		p.owners[b.ID] = common.HexToAddress(b.Owner)
	}
	return p
}

// TokenOf implements registry.TokenResolver
func (p *boundProjects) TokenOf(_ context.Context, projectID uint64) (common.Address, error) {
	return p.tokens[projectID], nil
}

// HasPermission implements registry.Permissions. Only owners are bound.
func (p *boundProjects) HasPermission(_ context.Context, caller common.Address, projectID uint64, _ registry.Permission) (bool, error) {
	owner, ok := p.owners[projectID]
	return ok && owner == caller, nil
}

// timeoutCaller bounds every contract call
type timeoutCaller struct {
	next    bind.ContractCaller
	timeout time.Duration
}

func (c timeoutCaller) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.next.CodeAt(ctx, contract, blockNumber)
}

func (c timeoutCaller) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.next.CallContract(ctx, call, blockNumber)
}
