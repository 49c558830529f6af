package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// mockCache is a simple in-memory cache recording calls and TTLs
type mockCache struct {
	mu       sync.Mutex
	data     map[string][]byte
	ttls     map[string]time.Duration
	getErr   error
	setErr   error
	getCalls int
	setCalls int
}

func newMockCache() *mockCache {
	return &mockCache{
		data: make(map[string][]byte),
		ttls: make(map[string]time.Duration),
	}
}

func (m *mockCache) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++

	if m.getErr != nil {
		return nil, m.getErr
	}
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (m *mockCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCalls++

	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *mockCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *mockCache) Close() error { return nil }

func (m *mockCache) calls() (gets, sets int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getCalls, m.setCalls
}

func TestL2HitBackfillsL1(t *testing.T) {
	ctx := context.Background()
	l1, l2 := newMockCache(), newMockCache()
	lc := NewLayeredCache(LayeredConfig{L1: l1, L2: l2})

	if err := l2.Set(ctx, "pool:1", []byte("cfg"), time.Hour); err != nil {
		t.Fatal(err)
	}

	val, err := lc.Get(ctx, "pool:1")
	if err != nil {
		t.Fatalf("expected L2 hit, got %v", err)
	}
	if string(val) != "cfg" {
		t.Errorf("got %q, want cfg", val)
	}
	if l1.ttls["pool:1"] != DefaultL1MaxTTL {
		t.Errorf("backfill TTL = %v, want %v", l1.ttls["pool:1"], DefaultL1MaxTTL)
	}

	_, l2Sets := l2.calls()
	l2Gets, _ := l2.calls()
	if _, err := lc.Get(ctx, "pool:1"); err != nil {
		t.Fatal(err)
	}
	if gets, _ := l2.calls(); gets != l2Gets {
		t.Errorf("second read should be served by L1, L2 gets went %d -> %d", l2Gets, gets)
	}
	if _, sets := l2.calls(); sets != l2Sets {
		t.Errorf("read should not write L2")
	}
}

func TestSetWriteThrough_CapsL1TTL(t *testing.T) {
	ctx := context.Background()
	l1, l2 := newMockCache(), newMockCache()
	lc := NewLayeredCache(LayeredConfig{L1: l1, L2: l2, L1MaxTTL: 10 * time.Second})

	if err := lc.Set(ctx, "k", []byte("v"), time.Hour); err != nil {
		t.Fatal(err)
	}
	if l1.ttls["k"] != 10*time.Second {
		t.Errorf("L1 TTL = %v, want 10s", l1.ttls["k"])
	}
	if l2.ttls["k"] != time.Hour {
		t.Errorf("L2 TTL = %v, want 1h", l2.ttls["k"])
	}

	if err := lc.Set(ctx, "short", []byte("v"), time.Second); err != nil {
		t.Fatal(err)
	}
	if l1.ttls["short"] != time.Second {
		t.Errorf("L1 TTL = %v, want 1s", l1.ttls["short"])
	}
}

func TestSetFailure(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	tests := []struct {
		name    string
		l1Err   error
		l2Err   error
		wantErr bool
	}{
		{"both ok", nil, nil, false},
		{"l1 fails", boom, nil, false},
		{"l2 fails", nil, boom, false},
		{"both fail", boom, boom, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l1, l2 := newMockCache(), newMockCache()
			l1.setErr, l2.setErr = tt.l1Err, tt.l2Err
			err := NewLayeredCache(LayeredConfig{L1: l1, L2: l2}).Set(ctx, "k", []byte("v"), time.Minute)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSingleLayerModes(t *testing.T) {
	ctx := context.Background()

	for _, tt := range []struct {
		name string
		cfg  func(c Cache) LayeredConfig
	}{
		{"l1 only", func(c Cache) LayeredConfig { return LayeredConfig{L1: c} }},
		{"l2 only", func(c Cache) LayeredConfig { return LayeredConfig{L2: c} }},
	} {
		t.Run(tt.name, func(t *testing.T) {
			lc := NewLayeredCache(tt.cfg(newMockCache()))
			if err := lc.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
				t.Fatal(err)
			}
			val, err := lc.Get(ctx, "k")
			if err != nil || string(val) != "v" {
				t.Fatalf("got %q, %v", val, err)
			}
			if err := lc.Delete(ctx, "k"); err != nil {
				t.Fatal(err)
			}
			if _, err := lc.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound after delete, got %v", err)
			}
		})
	}
}

func TestL2ErrorPropagation(t *testing.T) {
	l2 := newMockCache()
	l2.getErr = errors.New("redis down")
	lc := NewLayeredCache(LayeredConfig{L1: newMockCache(), L2: l2})

	_, err := lc.Get(context.Background(), "k")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("expected L2 error, got %v", err)
	}
}

func TestConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	lc := NewLayeredCache(LayeredConfig{L1: NewMemoryCache(16), L2: newMockCache()})
	defer lc.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i%5))
			_ = lc.Set(ctx, key, []byte{byte(i)}, time.Minute)
			_, _ = lc.Get(ctx, key)
		}(i)
	}
	wg.Wait()
}
