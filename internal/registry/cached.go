package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Bananapus/juice-buyback-hook/internal/platform/cache"
	"github.com/Bananapus/juice-buyback-hook/internal/platform/observability"
)

// CachedStore reads through a cache in front of another Store. Writes go to
// the store first, then invalidate the affected keys. Cache failures degrade
// to store reads.
type CachedStore struct {
	store  Store
	cache  cache.Cache
	ttl    time.Duration
	logger *observability.Logger
}

// NewCachedStore wraps store with c. A zero ttl defaults to five minutes.
func NewCachedStore(store Store, c cache.Cache, ttl time.Duration, logger *observability.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedStore{store: store, cache: c, ttl: ttl, logger: logger.Component("registry-cache")}
}

func poolCacheKey(projectID uint64, token common.Address) string {
	return fmt.Sprintf("pool:%d:%s", projectID, token.Hex())
}

func twapCacheKey(projectID uint64) string {
	return fmt.Sprintf("twap:%d", projectID)
}

// readThrough returns the cached value for key, or loads it from the store
// and caches it when found
func readThrough[T any](ctx context.Context, s *CachedStore, key string, load func() (T, bool, error)) (T, bool, error) {
	raw, err := s.cache.Get(ctx, key)
	if err == nil {
		var v T
		if jsonErr := json.Unmarshal(raw, &v); jsonErr == nil {
			return v, true, nil
		}
	} else if !errors.Is(err, cache.ErrNotFound) {
		s.logger.LogWarn(ctx, "registry cache read failed", "key", key, "error", err)
	}

	v, ok, err := load()
	if err != nil || !ok {
		return v, ok, err
	}

	if raw, jsonErr := json.Marshal(v); jsonErr == nil {
		if setErr := s.cache.Set(ctx, key, raw, s.ttl); setErr != nil {
			s.logger.LogWarn(ctx, "registry cache write failed", "key", key, "error", setErr)
		}
	}
	return v, true, nil
}

func (s *CachedStore) invalidate(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if err := s.cache.Delete(ctx, key); err != nil {
			s.logger.LogWarn(ctx, "registry cache invalidation failed", "key", key, "error", err)
		}
	}
}

// GetPool implements Store
func (s *CachedStore) GetPool(ctx context.Context, projectID uint64, settlementToken common.Address) (PoolEntry, bool, error) {
	return readThrough(ctx, s, poolCacheKey(projectID, settlementToken), func() (PoolEntry, bool, error) {
		return s.store.GetPool(ctx, projectID, settlementToken)
	})
}

// CreatePool implements Store
func (s *CachedStore) CreatePool(ctx context.Context, projectID uint64, settlementToken common.Address, entry PoolEntry, params TwapParams) error {
	if err := s.store.CreatePool(ctx, projectID, settlementToken, entry, params); err != nil {
		return err
	}
	s.invalidate(ctx, poolCacheKey(projectID, settlementToken), twapCacheKey(projectID))
	return nil
}

// GetTwapParams implements Store
func (s *CachedStore) GetTwapParams(ctx context.Context, projectID uint64) (TwapParams, bool, error) {
	return readThrough(ctx, s, twapCacheKey(projectID), func() (TwapParams, bool, error) {
		return s.store.GetTwapParams(ctx, projectID)
	})
}

// PutTwapParams implements Store
func (s *CachedStore) PutTwapParams(ctx context.Context, projectID uint64, params TwapParams) error {
	if err := s.store.PutTwapParams(ctx, projectID, params); err != nil {
		return err
	}
	s.invalidate(ctx, twapCacheKey(projectID))
	return nil
}

// Close closes the store and the cache
func (s *CachedStore) Close() error {
	return errors.Join(s.store.Close(), s.cache.Close())
}
