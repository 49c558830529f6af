package sim

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Bananapus/juice-buyback-hook/internal/registry"
)

type grantKey struct {
	operator   common.Address
	projectID  uint64
	permission registry.Permission
}

// Permissions tracks project owners and the operators they delegate to
type Permissions struct {
	mu     sync.RWMutex
	owners map[uint64]common.Address
	grants map[grantKey]bool
}

// NewPermissions creates an empty permission table
func NewPermissions() *Permissions {
	return &Permissions{
		owners: make(map[uint64]common.Address),
		grants: make(map[grantKey]bool),
	}
}

// SetOwner records the project's owner
func (p *Permissions) SetOwner(projectID uint64, owner common.Address) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.owners[projectID] = owner
}

// OwnerOf returns the project's owner, zero when unknown
func (p *Permissions) OwnerOf(projectID uint64) common.Address {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.owners[projectID]
}

// Grant lets operator act for the project
func (p *Permissions) Grant(operator common.Address, projectID uint64, permission registry.Permission) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.grants[grantKey{operator, projectID, permission}] = true
}

// Revoke removes a grant
func (p *Permissions) Revoke(operator common.Address, projectID uint64, permission registry.Permission) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.grants, grantKey{operator, projectID, permission})
}

// HasPermission implements registry.Permissions
func (p *Permissions) HasPermission(_ context.Context, caller common.Address, projectID uint64, permission registry.Permission) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if owner, ok := p.owners[projectID]; ok && owner == caller {
		return true, nil
	}
	return p.grants[grantKey{caller, projectID, permission}], nil
}
