package registry

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// PoolEntry is the persisted identity of a (project, settlement token) pool
type PoolEntry struct {
	Pool         common.Address `json:"pool"`
	ProjectToken common.Address `json:"projectToken"`
	Fee          uint32         `json:"fee"`
}

// TwapParams are the oracle parameters shared by all of a project's pools
type TwapParams struct {
	Window            uint32 `json:"window"`            // seconds
	SlippageTolerance uint32 `json:"slippageTolerance"` // bps of SlippageDenominator
}

// Store persists registry state. Implementations must be safe for
// concurrent use.
type Store interface {
	// GetPool returns false when the pair has no pool
	GetPool(ctx context.Context, projectID uint64, settlementToken common.Address) (PoolEntry, bool, error)
	// CreatePool stores entry and params together, failing with
	// ErrPoolAlreadySet when the pair already has a pool
	CreatePool(ctx context.Context, projectID uint64, settlementToken common.Address, entry PoolEntry, params TwapParams) error
	// GetTwapParams returns false when the project was never configured
	GetTwapParams(ctx context.Context, projectID uint64) (TwapParams, bool, error)
	PutTwapParams(ctx context.Context, projectID uint64, params TwapParams) error
	Close() error
}

type pairKey struct {
	projectID uint64
	token     common.Address
}

// MemoryStore keeps registry state in process memory
type MemoryStore struct {
	mu    sync.RWMutex
	pools map[pairKey]PoolEntry
	twap  map[uint64]TwapParams
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools: make(map[pairKey]PoolEntry),
		twap:  make(map[uint64]TwapParams),
	}
}

// GetPool implements Store
func (s *MemoryStore) GetPool(_ context.Context, projectID uint64, settlementToken common.Address) (PoolEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.pools[pairKey{projectID, settlementToken}]
	return entry, ok, nil
}

// CreatePool implements Store
func (s *MemoryStore) CreatePool(_ context.Context, projectID uint64, settlementToken common.Address, entry PoolEntry, params TwapParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{projectID, settlementToken}
	if _, exists := s.pools[key]; exists {
		return ErrPoolAlreadySet
	}
	s.pools[key] = entry
	s.twap[projectID] = params
	return nil
}

// GetTwapParams implements Store
func (s *MemoryStore) GetTwapParams(_ context.Context, projectID uint64) (TwapParams, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	params, ok := s.twap[projectID]
	return params, ok, nil
}

// PutTwapParams implements Store
func (s *MemoryStore) PutTwapParams(_ context.Context, projectID uint64, params TwapParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.twap[projectID] = params
	return nil
}

// Close implements Store
func (s *MemoryStore) Close() error {
	return nil
}
