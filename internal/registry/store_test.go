package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/Bananapus/juice-buyback-hook/internal/platform/cache"
	"github.com/Bananapus/juice-buyback-hook/internal/platform/observability"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()

	sqlStore, err := OpenSQLStore(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)

	cached := NewCachedStore(NewMemoryStore(), cache.NewMemoryCache(100), time.Minute, observability.NewDiscardLogger())

	all := map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlStore,
		"cached": cached,
	}
	t.Cleanup(func() {
		for _, s := range all {
			_ = s.Close()
		}
	})
	return all
}

func TestStores(t *testing.T) {
	entry := PoolEntry{Pool: common.HexToAddress("0x1001"), ProjectToken: projTok, Fee: 3000}
	params := TwapParams{Window: 600, SlippageTolerance: 500}

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, ok, err := store.GetPool(ctx, 1, weth)
			require.NoError(t, err)
			require.False(t, ok)

			_, ok, err = store.GetTwapParams(ctx, 1)
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, store.CreatePool(ctx, 1, weth, entry, params))
			require.ErrorIs(t, store.CreatePool(ctx, 1, weth, entry, TwapParams{Window: 1, SlippageTolerance: 1}), ErrPoolAlreadySet)

			got, ok, err := store.GetPool(ctx, 1, weth)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, entry, got)

			gotParams, ok, err := store.GetTwapParams(ctx, 1)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, params, gotParams)

			updated := TwapParams{Window: 1200, SlippageTolerance: 500}
			require.NoError(t, store.PutTwapParams(ctx, 1, updated))
			gotParams, _, err = store.GetTwapParams(ctx, 1)
			require.NoError(t, err)
			require.Equal(t, updated, gotParams)

			// Pairs are independent
			_, ok, err = store.GetPool(ctx, 2, weth)
			require.NoError(t, err)
			require.False(t, ok)
			_, ok, err = store.GetPool(ctx, 1, usdc)
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestSQLStore_LargeProjectID(t *testing.T) {
	store, err := OpenSQLStore(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	id := uint64(1<<63 + 5)
	require.NoError(t, store.PutTwapParams(ctx, id, TwapParams{Window: 600, SlippageTolerance: 100}))

	got, ok, err := store.GetTwapParams(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(600), got.Window)
}

func TestSQLStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.db")
	ctx := context.Background()

	store, err := OpenSQLStore(path)
	require.NoError(t, err)
	require.NoError(t, store.CreatePool(ctx, 1, weth, PoolEntry{Pool: common.HexToAddress("0x1"), ProjectToken: projTok, Fee: 500}, TwapParams{Window: 600, SlippageTolerance: 500}))
	require.NoError(t, store.Close())

	store, err = OpenSQLStore(path)
	require.NoError(t, err)
	defer store.Close()

	_, ok, err := store.GetPool(ctx, 1, weth)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestOpenSQLStore_PathRequired(t *testing.T) {
	_, err := OpenSQLStore("  ")
	require.ErrorIs(t, err, ErrPathRequired)
}

func TestCachedStore_Invalidation(t *testing.T) {
	ctx := context.Background()
	backing := NewMemoryStore()
	c := cache.NewMemoryCache(100)
	store := NewCachedStore(backing, c, time.Minute, nil)
	defer store.Close()

	require.NoError(t, store.PutTwapParams(ctx, 1, TwapParams{Window: 600, SlippageTolerance: 500}))

	// Populate the cache
	_, ok, err := store.GetTwapParams(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, c.Len())

	// A write through the decorator invalidates
	require.NoError(t, store.PutTwapParams(ctx, 1, TwapParams{Window: 900, SlippageTolerance: 500}))
	got, _, err := store.GetTwapParams(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, uint32(900), got.Window)

	// Reads are served from the cache once populated
	require.NoError(t, backing.PutTwapParams(ctx, 1, TwapParams{Window: 1200, SlippageTolerance: 500}))
	got, _, err = store.GetTwapParams(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, uint32(900), got.Window)
}
