package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type entry struct {
	key     string
	value   []byte
	expires time.Time
}

// MemoryOption configures a MemoryCache
type MemoryOption func(*MemoryCache)

// WithClock replaces time.Now for expiry checks
func WithClock(now func() time.Time) MemoryOption {
	return func(c *MemoryCache) { c.now = now }
}

// WithSweepInterval sets how often expired entries are dropped. Zero
// disables the sweeper; expired entries are still never served.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(c *MemoryCache) { c.sweep = d }
}

// MemoryCache is a bounded LRU with per-entry TTLs. It serves as the L1 in
// front of Redis for pool configs and TWAP parameters.
type MemoryCache struct {
	capacity int
	now      func() time.Time
	sweep    time.Duration

	mu      sync.Mutex
	index   map[string]*list.Element
	recency *list.List

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryCache returns a cache holding at most capacity entries
func NewMemoryCache(capacity int, opts ...MemoryOption) *MemoryCache {
	if capacity <= 0 {
		capacity = 1000
	}
	c := &MemoryCache{
		capacity: capacity,
		now:      time.Now,
		sweep:    time.Minute,
		index:    make(map[string]*list.Element, capacity),
		recency:  list.New(),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sweep > 0 {
		go c.sweeper()
	}
	return c
}

// Get returns a copy of the live value under key
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[key]
	if !ok {
		return nil, ErrNotFound
	}
	e := el.Value.(*entry)
	if !c.now().Before(e.expires) {
		c.drop(el)
		return nil, ErrNotFound
	}
	c.recency.MoveToFront(el)
	return clone(e.value), nil
}

// Set stores a copy of value, evicting the least recently used entry when
// full. A non-positive ttl deletes the key.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl <= 0 {
		if el, ok := c.index[key]; ok {
			c.drop(el)
		}
		return nil
	}

	expires := c.now().Add(ttl)
	if el, ok := c.index[key]; ok {
		e := el.Value.(*entry)
		e.value, e.expires = clone(value), expires
		c.recency.MoveToFront(el)
		return nil
	}

	c.index[key] = c.recency.PushFront(&entry{key: key, value: clone(value), expires: expires})
	for c.recency.Len() > c.capacity {
		c.drop(c.recency.Back())
	}
	return nil
}

// Delete removes key
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[key]; ok {
		c.drop(el)
	}
	return nil
}

// Close stops the sweeper. Safe to call more than once.
func (c *MemoryCache) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return nil
}

// Len counts stored entries including expired ones not yet swept
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

// drop unlinks el. Callers hold mu.
func (c *MemoryCache) drop(el *list.Element) {
	c.recency.Remove(el)
	delete(c.index, el.Value.(*entry).key)
}

func (c *MemoryCache) sweeper() {
	ticker := time.NewTicker(c.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.purge()
		case <-c.stop:
			return
		}
	}
}

func (c *MemoryCache) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for el := c.recency.Back(); el != nil; {
		prev := el.Prev()
		if !now.Before(el.Value.(*entry).expires) {
			c.drop(el)
		}
		el = prev
	}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
