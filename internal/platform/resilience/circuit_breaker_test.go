package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func failN(cb *CircuitBreaker, n int, err error) {
	for i := 0; i < n; i++ {
		_ = cb.Execute(context.Background(), func(ctx context.Context) error {
			return err
		})
	}
}

func TestStateTransitions_ClosedToOpen(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "rpc",
		FailureThreshold: 3,
		Timeout:          time.Second,
		Clock:            clock.Now,
	})

	failN(cb, 2, errors.New("connection refused"))
	if cb.State() != StateClosed {
		t.Fatalf("expected Closed after 2 failures, got %s", cb.State())
	}

	failN(cb, 1, errors.New("connection refused"))
	if cb.State() != StateOpen {
		t.Fatalf("expected Open after 3 failures, got %s", cb.State())
	}

	clock.Advance(400 * time.Millisecond)
	err := cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	var open *OpenError
	if !errors.As(err, &open) || open.RetryAfter != 600*time.Millisecond || open.Name != "rpc" {
		t.Errorf("open error = %+v", open)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2})

	failN(cb, 1, errors.New("timeout"))
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	failN(cb, 1, errors.New("timeout"))

	if cb.State() != StateClosed {
		t.Errorf("failures must be consecutive, got %s", cb.State())
	}
}

func TestStateTransitions_HalfOpenRecovery(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "rpc",
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          20 * time.Millisecond,
		Clock:            clock.Now,
	})

	failN(cb, 1, errors.New("timeout"))
	clock.Advance(30 * time.Millisecond)

	ok := func(ctx context.Context) error { return nil }
	if err := cb.Execute(context.Background(), ok); err != nil {
		t.Fatalf("half-open request rejected: %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected HalfOpen after one success, got %s", cb.State())
	}
	if err := cb.Execute(context.Background(), ok); err != nil {
		t.Fatal(err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected Closed, got %s", cb.State())
	}
}

func TestHalfOpenToOpenOnFailure(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		Timeout:          10 * time.Millisecond,
		Clock:            clock.Now,
	})

	failN(cb, 1, errors.New("boom"))
	clock.Advance(20 * time.Millisecond)
	failN(cb, 1, errors.New("boom"))

	if cb.State() != StateOpen {
		t.Errorf("expected Open, got %s", cb.State())
	}
}

func TestHalfOpenLimitsProbes(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		MaxProbes:        1,
		Timeout:          time.Second,
		Clock:            clock.Now,
	})
	failN(cb, 1, errors.New("boom"))
	clock.Advance(2 * time.Second)

	inProbe := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(context.Background(), func(ctx context.Context) error {
			close(inProbe)
			<-release
			return nil
		})
	}()
	<-inProbe

	err := cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second probe should be rejected, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if cb.State() != StateClosed {
		t.Errorf("expected Closed after the probe succeeded, got %s", cb.State())
	}
}

func TestIgnoredErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"context cancelled", context.Canceled},
		{"deadline exceeded", context.DeadlineExceeded},
		{"contract revert", errors.New("execution reverted: LOK")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2})
			failN(cb, 5, tt.err)
			if cb.State() != StateClosed {
				t.Errorf("expected Closed, got %s", cb.State())
			}
		})
	}
}

func TestOnStateChangeCallback(t *testing.T) {
	var mu sync.Mutex
	var transitions []string

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		OnStateChange: func(from, to State) {
			mu.Lock()
			defer mu.Unlock()
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	failN(cb, 1, errors.New("boom"))
	cb.Reset()

	mu.Lock()
	defer mu.Unlock()
	want := []string{"closed->open", "open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("got %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d: got %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestExecuteWithResult(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})

	got, err := ExecuteWithResult(cb, context.Background(), func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Errorf("got %d, %v", got, err)
	}
}

func TestCircuitBreakerConcurrentAccess(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1000})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = cb.Execute(context.Background(), func(ctx context.Context) error {
				if i%2 == 0 {
					return errors.New("boom")
				}
				return nil
			})
		}(i)
	}
	wg.Wait()

	if cb.State() != StateClosed {
		t.Errorf("expected Closed, got %s", cb.State())
	}
}
