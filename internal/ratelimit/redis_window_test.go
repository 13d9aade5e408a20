package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisWindow(t *testing.T, limit int, duration time.Duration) (*RedisWindow, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisWindow(client, "test", limit, duration), mr
}

func TestRedisWindowAdmitsUpToLimit(t *testing.T) {
	w, _ := newTestRedisWindow(t, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := w.CheckAndIncrement(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	d, err := w.CheckAndIncrement(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Error("4th request should be rejected")
	}
}

func TestRedisWindowResetsAfterExpiry(t *testing.T) {
	w, _ := newTestRedisWindow(t, 1, time.Minute)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	if d, _ := w.CheckAndIncrement(ctx); !d.Allowed {
		t.Fatal("first request should be allowed")
	}
	if d, _ := w.CheckAndIncrement(ctx); d.Allowed {
		t.Fatal("second request should be rejected")
	}

	now = now.Add(61 * time.Second)
	if d, _ := w.CheckAndIncrement(ctx); !d.Allowed {
		t.Error("request after window expiry should be allowed")
	}
}

func TestRedisWindowConcurrentNeverExceedsLimit(t *testing.T) {
	const limit = 20
	const callers = 60

	w, _ := newTestRedisWindow(t, limit, time.Hour)
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

func TestRedisWindowDecrementFloorsAtZero(t *testing.T) {
	w, _ := newTestRedisWindow(t, 5, time.Minute)
	ctx := context.Background()

	// Refunds with nothing held must not create phantom budget
	for i := 0; i < 3; i++ {
		if err := w.Decrement(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	for i := 0; i < 5; i++ {
		d, err := w.CheckAndIncrement(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if d, _ := w.CheckAndIncrement(ctx); d.Allowed {
		t.Error("budget should be exhausted after exactly 5 admits")
	}
}

func TestRedisWindowDecrementReturnsBudget(t *testing.T) {
	w, _ := newTestRedisWindow(t, 1, time.Minute)
	ctx := context.Background()

	if d, _ := w.CheckAndIncrement(ctx); !d.Allowed {
		t.Fatal("first request should be allowed")
	}
	if err := w.Decrement(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d, _ := w.CheckAndIncrement(ctx); !d.Allowed {
		t.Error("request after refund should be allowed")
	}
}

func TestRedisWindowPeek(t *testing.T) {
	w, _ := newTestRedisWindow(t, 10, time.Minute)
	ctx := context.Background()

	info, err := w.Peek(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Remaining != 10 {
		t.Errorf("fresh window remaining = %d, want 10", info.Remaining)
	}

	w.CheckAndIncrement(ctx)
	w.CheckAndIncrement(ctx)

	info, err = w.Peek(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Remaining != 8 {
		t.Errorf("remaining after 2 admits = %d, want 8", info.Remaining)
	}
	if info.Limit != 10 {
		t.Errorf("limit = %d, want 10", info.Limit)
	}
}
