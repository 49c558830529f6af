package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryCache_LRUEviction(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(2)
	defer c.Close()

	_ = c.Set(ctx, "a", []byte("1"), time.Minute)
	_ = c.Set(ctx, "b", []byte("2"), time.Minute)
	_, _ = c.Get(ctx, "a") // a is now most recent
	_ = c.Set(ctx, "c", []byte("3"), time.Minute)

	if _, err := c.Get(ctx, "b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected b evicted, got %v", err)
	}
	if _, err := c.Get(ctx, "a"); err != nil {
		t.Errorf("expected a present, got %v", err)
	}
	if c.Len() != 2 {
		t.Errorf("len = %d, want 2", c.Len())
	}
}

func TestMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	c := NewMemoryCache(10, WithClock(func() time.Time { return now }), WithSweepInterval(0))
	defer c.Close()

	_ = c.Set(ctx, "pool:1:eth", []byte("v"), time.Minute)
	_ = c.Set(ctx, "twap:1", []byte("w"), time.Hour)

	now = now.Add(59 * time.Second)
	if _, err := c.Get(ctx, "pool:1:eth"); err != nil {
		t.Fatalf("entry expired early: %v", err)
	}

	now = now.Add(time.Second)
	if _, err := c.Get(ctx, "pool:1:eth"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected expired entry, got %v", err)
	}

	now = now.Add(time.Hour)
	c.purge()
	if c.Len() != 0 {
		t.Errorf("purge left %d entries", c.Len())
	}
}

func TestMemoryCache_NonPositiveTTLDeletes(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(10, WithSweepInterval(0))
	defer c.Close()

	_ = c.Set(ctx, "k", []byte("v"), time.Minute)
	_ = c.Set(ctx, "k", []byte("v2"), 0)
	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected deletion, got %v", err)
	}
}

func TestMemoryCache_ValuesAreCopied(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(10)
	defer c.Close()

	buf := []byte("abc")
	_ = c.Set(ctx, "k", buf, time.Minute)
	buf[0] = 'x'

	got, _ := c.Get(ctx, "k")
	if string(got) != "abc" {
		t.Errorf("got %q, want abc", got)
	}
	got[1] = 'y'
	again, _ := c.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("got %q, want abc", again)
	}
}

func TestMemoryCache_CloseIdempotent(t *testing.T) {
	c := NewMemoryCache(1)
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
}
