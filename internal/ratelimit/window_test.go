package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWindowAdmitsUpToLimit(t *testing.T) {
	w := NewWindow(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := w.CheckAndIncrement(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		if d.Remaining != 3-i-1 {
			t.Errorf("request %d: remaining = %d, want %d", i+1, d.Remaining, 3-i-1)
		}
	}

	d, err := w.CheckAndIncrement(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Error("4th request should be rejected")
	}
	if d.Remaining != 0 {
		t.Errorf("rejected decision remaining = %d, want 0", d.Remaining)
	}
	if d.ResetAt.IsZero() {
		t.Error("rejected decision should carry the reset time")
	}
}

func TestWindowResetsAfterExpiry(t *testing.T) {
	w := NewWindow(1, time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }
	ctx := context.Background()

	if d, _ := w.CheckAndIncrement(ctx); !d.Allowed {
		t.Fatal("first request should be allowed")
	}
	if d, _ := w.CheckAndIncrement(ctx); d.Allowed {
		t.Fatal("second request in same window should be rejected")
	}

	now = now.Add(time.Minute)
	if d, _ := w.CheckAndIncrement(ctx); !d.Allowed {
		t.Error("request after window expiry should be allowed")
	}
}

// Concurrency property: the number of allowed results within one window
// never exceeds the limit, no matter how goroutines interleave.
func TestWindowConcurrentNeverExceedsLimit(t *testing.T) {
	const limit = 50
	const callers = 200

	w := NewWindow(limit, time.Hour)
	ctx := context.Background()

	var allowed int64
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := w.CheckAndIncrement(ctx)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if d.Allowed {
				atomic.AddInt64(&allowed, 1)
			}
		}()
	}
	wg.Wait()

	if allowed != limit {
		t.Errorf("allowed = %d, want exactly %d", allowed, limit)
	}
}

func TestWindowDecrementFloorsAtZero(t *testing.T) {
	w := NewWindow(5, time.Minute)
	ctx := context.Background()

	// Decrement on a fresh window must not go negative
	for i := 0; i < 3; i++ {
		if err := w.Decrement(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	info, err := w.Peek(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Remaining != 5 {
		t.Errorf("remaining after floor decrement = %d, want 5", info.Remaining)
	}
}

func TestWindowDecrementReturnsBudget(t *testing.T) {
	w := NewWindow(1, time.Minute)
	ctx := context.Background()

	if d, _ := w.CheckAndIncrement(ctx); !d.Allowed {
		t.Fatal("first request should be allowed")
	}
	if d, _ := w.CheckAndIncrement(ctx); d.Allowed {
		t.Fatal("budget should be exhausted")
	}

	w.Decrement(ctx)

	if d, _ := w.CheckAndIncrement(ctx); !d.Allowed {
		t.Error("request after refund should be allowed")
	}
}

func TestWindowPeekDoesNotMutate(t *testing.T) {
	w := NewWindow(2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := w.Peek(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	info, _ := w.Peek(ctx)
	if info.Remaining != 2 {
		t.Errorf("Peek consumed budget: remaining = %d, want 2", info.Remaining)
	}
	if info.Limit != 2 {
		t.Errorf("limit = %d, want 2", info.Limit)
	}
}
