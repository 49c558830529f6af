package cache

import (
	"context"
	"errors"
	"time"

	"github.com/Bananapus/juice-buyback-hook/internal/platform/observability"
)

// DefaultL1MaxTTL caps how long an entry lives in the in-memory layer
const DefaultL1MaxTTL = time.Minute

// LayeredCache implements a two-tier cache (L1: memory, L2: Redis).
// Either layer may be nil.
type LayeredCache struct {
	l1       Cache
	l2       Cache
	l1MaxTTL time.Duration
	metrics  *observability.Metrics
}

// LayeredConfig holds layered cache configuration
type LayeredConfig struct {
	L1       Cache
	L2       Cache
	L1MaxTTL time.Duration
	Metrics  *observability.Metrics
}

// NewLayeredCache creates a new layered cache
func NewLayeredCache(cfg LayeredConfig) *LayeredCache {
	if cfg.L1MaxTTL <= 0 {
		cfg.L1MaxTTL = DefaultL1MaxTTL
	}
	return &LayeredCache{
		l1:       cfg.L1,
		l2:       cfg.L2,
		l1MaxTTL: cfg.L1MaxTTL,
		metrics:  cfg.Metrics,
	}
}

// Get retrieves a value from cache (L1 -> L2 -> miss)
func (lc *LayeredCache) Get(ctx context.Context, key string) ([]byte, error) {
	if lc.l1 != nil {
		if val, err := lc.l1.Get(ctx, key); err == nil {
			lc.metrics.RecordCacheHit(ctx, "l1")
			return val, nil
		}
		lc.metrics.RecordCacheMiss(ctx, "l1")
	}

	if lc.l2 != nil {
		val, err := lc.l2.Get(ctx, key)
		if err == nil {
			lc.metrics.RecordCacheHit(ctx, "l2")
			if lc.l1 != nil {
				_ = lc.l1.Set(ctx, key, val, lc.l1MaxTTL)
			}
			return val, nil
		}
		lc.metrics.RecordCacheMiss(ctx, "l2")
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	return nil, ErrNotFound
}

// Set writes through to both layers. Fails only when every present layer fails.
func (lc *LayeredCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var l1Err, l2Err error

	if lc.l1 != nil {
		l1Err = lc.l1.Set(ctx, key, value, min(ttl, lc.l1MaxTTL))
	}
	if lc.l2 != nil {
		l2Err = lc.l2.Set(ctx, key, value, ttl)
	}

	switch {
	case lc.l2 == nil:
		return l1Err
	case lc.l1 == nil:
		return l2Err
	case l1Err != nil && l2Err != nil:
		return l2Err
	}
	return nil
}

// Delete removes a key from both layers
func (lc *LayeredCache) Delete(ctx context.Context, key string) error {
	var errs []error
	if lc.l1 != nil {
		errs = append(errs, lc.l1.Delete(ctx, key))
	}
	if lc.l2 != nil {
		errs = append(errs, lc.l2.Delete(ctx, key))
	}
	return errors.Join(errs...)
}

// Close closes both cache layers
func (lc *LayeredCache) Close() error {
	var errs []error
	if lc.l1 != nil {
		errs = append(errs, lc.l1.Close())
	}
	if lc.l2 != nil {
		errs = append(errs, lc.l2.Close())
	}
	return errors.Join(errs...)
}
