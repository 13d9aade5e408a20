package ratelimit

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWebhookLimiterPerIPCap(t *testing.T) {
	l := NewWebhookLimiter(1000, 100, time.Hour)

	for i := 0; i < 100; i++ {
		if !l.Check("10.0.0.1") {
			t.Fatalf("request %d from 10.0.0.1 should be admitted", i+1)
		}
	}
	if l.Check("10.0.0.1") {
		t.Error("101st request from same IP should be rejected")
	}
	// A different IP in the same window is still admitted
	if !l.Check("10.0.0.2") {
		t.Error("request from different IP should be admitted")
	}
}

func TestWebhookLimiterGlobalCap(t *testing.T) {
	l := NewWebhookLimiter(10, 100, time.Hour)

	for i := 0; i < 10; i++ {
		ip := fmt.Sprintf("10.0.0.%d", i)
		if !l.Check(ip) {
			t.Fatalf("request %d should be admitted under global cap", i+1)
		}
	}
	if l.Check("10.0.99.99") {
		t.Error("request over the global cap should be rejected even from a fresh IP")
	}
}

func TestWebhookLimiterWindowReset(t *testing.T) {
	l := NewWebhookLimiter(1000, 2, time.Hour)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Check("10.0.0.1")
	l.Check("10.0.0.1")
	if l.Check("10.0.0.1") {
		t.Fatal("3rd request should be rejected")
	}

	now = now.Add(time.Hour)
	if !l.Check("10.0.0.1") {
		t.Error("request after window expiry should be admitted")
	}
}

func TestWebhookLimiterRejectionsDoNotBurnBudget(t *testing.T) {
	l := NewWebhookLimiter(5, 2, time.Hour)

	l.Check("10.0.0.1")
	l.Check("10.0.0.1")
	// Rejected per-IP: must not consume global budget
	for i := 0; i < 10; i++ {
		l.Check("10.0.0.1")
	}

	globalCount, _ := l.Stats()
	if globalCount != 2 {
		t.Errorf("global count = %d, want 2 (rejections must not increment)", globalCount)
	}

	// Global budget of 5 still has 3 left for other IPs
	for i := 0; i < 3; i++ {
		ip := fmt.Sprintf("10.0.1.%d", i)
		if !l.Check(ip) {
			t.Errorf("request from %s should be admitted", ip)
		}
	}
}

func TestWebhookLimiterPrunesExpiredIPs(t *testing.T) {
	l := NewWebhookLimiter(1000, 100, time.Hour)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	for i := 0; i < 50; i++ {
		l.Check(fmt.Sprintf("10.0.0.%d", i))
	}
	if _, tracked := l.Stats(); tracked != 50 {
		t.Fatalf("tracked IPs = %d, want 50", tracked)
	}

	// Global reset prunes stale per-IP windows
	now = now.Add(2 * time.Hour)
	l.Check("10.0.0.200")
	if _, tracked := l.Stats(); tracked != 1 {
		t.Errorf("tracked IPs after prune = %d, want 1", tracked)
	}
}

func TestWebhookLimiterConcurrentGlobalCap(t *testing.T) {
	const globalCap = 40
	l := NewWebhookLimiter(globalCap, 1000, time.Hour)

	var admitted int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if l.Check(fmt.Sprintf("10.1.%d.%d", n/250, n%250)) {
				atomic.AddInt64(&admitted, 1)
			}
		}(i)
	}
	wg.Wait()

	if admitted != globalCap {
		t.Errorf("admitted = %d, want exactly %d", admitted, globalCap)
	}
}
