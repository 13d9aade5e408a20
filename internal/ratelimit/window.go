package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Window is a process-local rolling-window budget. All state transitions
// happen under a single mutex so that concurrent admission checks can never
// collectively overshoot the limit. Lock hold time is O(1) counter
// arithmetic; the lock is never held across I/O.
type Window struct {
	mu          sync.Mutex
	limit       int
	duration    time.Duration
	count       int
	windowStart time.Time

	now func() time.Time // injectable clock for tests
}

// NewWindow creates a window admitting at most limit requests per duration.
func NewWindow(limit int, duration time.Duration) *Window {
	if limit <= 0 {
		limit = 1
	}
	if duration <= 0 {
		duration = time.Minute
	}
	return &Window{
		limit:    limit,
		duration: duration,
		now:      time.Now,
	}
}

// resetIfExpired must be called with w.mu held.
func (w *Window) resetIfExpired(now time.Time) {
	if w.windowStart.IsZero() || now.Sub(w.windowStart) >= w.duration {
		w.windowStart = now
		w.count = 0
	}
}

// CheckAndIncrement implements Limiter. The context is accepted for
// interface parity with the externalized limiters and is not used.
func (w *Window) CheckAndIncrement(_ context.Context) (Decision, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.resetIfExpired(now)
	resetAt := w.windowStart.Add(w.duration)

	if w.count >= w.limit {
		return Decision{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}

	w.count++
	return Decision{Allowed: true, Remaining: w.limit - w.count, ResetAt: resetAt}, nil
}

// Decrement implements Limiter. Floors at zero.
func (w *Window) Decrement(_ context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.count > 0 {
		w.count--
	}
	return nil
}

// Peek implements Limiter.
func (w *Window) Peek(_ context.Context) (Info, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.resetIfExpired(now)
	return Info{
		Limit:     w.limit,
		Remaining: w.limit - w.count,
		ResetAt:   w.windowStart.Add(w.duration),
	}, nil
}
