package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewPool_Defaults(t *testing.T) {
	pool := NewPool(context.Background(), 4, 10)
	defer pool.Close()

	if pool.Workers() != 4 {
		t.Errorf("Expected 4 workers, got %d", pool.Workers())
	}
	if pool.DropPolicy() != DropPolicyBlock {
		t.Errorf("Expected DropPolicyBlock, got %d", pool.DropPolicy())
	}
}

func TestNewPoolWithConfig_ZeroWorkers(t *testing.T) {
	pool := NewPoolWithConfig(context.Background(), PoolConfig{
		Workers:   0,
		QueueSize: -5,
	})
	defer pool.Close()

	if pool.Workers() != 1 {
		t.Errorf("Expected 1 worker (default), got %d", pool.Workers())
	}
}

func TestPool_CloseDrainsQueue(t *testing.T) {
	pool := NewPool(context.Background(), 2, 100)

	var count atomic.Int64
	for i := 0; i < 50; i++ {
		err := pool.Submit(Job{Execute: func(ctx context.Context) error {
			count.Add(1)
			return nil
		}})
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	pool.Close()

	if got := count.Load(); got != 50 {
		t.Errorf("Expected 50 jobs run before Close returned, got %d", got)
	}
}

func TestPool_SubmitAfterClose(t *testing.T) {
	pool := NewPool(context.Background(), 1, 1)
	pool.Close()
	pool.Close()

	err := pool.Submit(Job{Execute: func(ctx context.Context) error { return nil }})
	if !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Expected ErrPoolClosed, got %v", err)
	}
}

func TestPool_OnError(t *testing.T) {
	var mu sync.Mutex
	var failed []string

	pool := NewPoolWithConfig(context.Background(), PoolConfig{
		Workers:   1,
		QueueSize: 4,
		OnError: func(job Job, err error) {
			mu.Lock()
			defer mu.Unlock()
			failed = append(failed, job.ID)
		},
	})

	_ = pool.Submit(Job{ID: "ok", Execute: func(ctx context.Context) error { return nil }})
	_ = pool.Submit(Job{ID: "bad", Execute: func(ctx context.Context) error { return errors.New("boom") }})
	pool.Close()

	if len(failed) != 1 || failed[0] != "bad" {
		t.Errorf("Expected only the failing job reported, got %v", failed)
	}
}

func TestPool_DropNewest(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})

	pool := NewPoolWithConfig(context.Background(), PoolConfig{
		Workers:    1,
		QueueSize:  1,
		DropPolicy: DropPolicyDropNewest,
	})

	// Occupy the single worker
	_ = pool.Submit(Job{Execute: func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}})
	<-started

	// Fill the queue
	if err := pool.Submit(Job{Execute: func(ctx context.Context) error { return nil }}); err != nil {
		t.Fatalf("Expected queued job, got %v", err)
	}

	err := pool.Submit(Job{Execute: func(ctx context.Context) error { return nil }})
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}

	close(release)
	pool.Close()
}

func TestPool_BlockingSubmitRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	started := make(chan struct{})

	pool := NewPool(ctx, 1, 0)

	_ = pool.Submit(Job{Execute: func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}})
	<-started

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := pool.Submit(Job{Execute: func(ctx context.Context) error { return nil }})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}

	close(release)
	pool.Close()
}
