package ratelimit

import (
	"sync"
	"time"
)

// Default webhook ingestion caps. Providers batch aggressively, so the
// global cap is the real backstop; the per-IP cap catches a single
// misbehaving source.
const (
	DefaultWebhookGlobalLimit = 1000
	DefaultWebhookPerIPLimit  = 100
	DefaultWebhookWindow      = time.Hour
)

type fixedWindow struct {
	count int
	start time.Time
}

// WebhookLimiter protects the ingestion endpoint with fixed-window counters:
// one global, one per source IP. Both counters are read and written under a
// single mutex per Check call, so interleaved resets cannot produce an
// inconsistent accept/reject decision (e.g. global incremented but per-IP
// rejected).
type WebhookLimiter struct {
	mu          sync.Mutex
	globalLimit int
	perIPLimit  int
	window      time.Duration

	global fixedWindow
	perIP  map[string]*fixedWindow

	now func() time.Time
}

// NewWebhookLimiter creates a webhook admission limiter. Zero or negative
// arguments fall back to the defaults.
func NewWebhookLimiter(globalLimit, perIPLimit int, window time.Duration) *WebhookLimiter {
	if globalLimit <= 0 {
		globalLimit = DefaultWebhookGlobalLimit
	}
	if perIPLimit <= 0 {
		perIPLimit = DefaultWebhookPerIPLimit
	}
	if window <= 0 {
		window = DefaultWebhookWindow
	}
	return &WebhookLimiter{
		globalLimit: globalLimit,
		perIPLimit:  perIPLimit,
		window:      window,
		perIP:       make(map[string]*fixedWindow),
		now:         time.Now,
	}
}

// Check admits or rejects one inbound webhook from the given source IP.
// Counters are only incremented when the request is admitted, so a rejected
// request does not burn budget for either counter.
func (l *WebhookLimiter) Check(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	if now.Sub(l.global.start) >= l.window {
		l.global = fixedWindow{start: now}
		l.pruneLocked(now)
	}
	if l.global.count >= l.globalLimit {
		return false
	}

	w := l.perIP[ip]
	if w == nil {
		w = &fixedWindow{start: now}
		l.perIP[ip] = w
	} else if now.Sub(w.start) >= l.window {
		w.count = 0
		w.start = now
	}
	if w.count >= l.perIPLimit {
		return false
	}

	l.global.count++
	w.count++
	return true
}

// pruneLocked drops per-IP windows that expired before the current global
// window began. Called on global reset, so the map cannot grow without bound
// across windows. Caller holds l.mu.
func (l *WebhookLimiter) pruneLocked(now time.Time) {
	for ip, w := range l.perIP {
		if now.Sub(w.start) >= l.window {
			delete(l.perIP, ip)
		}
	}
}

// Stats returns the current global count and tracked IP count, for the
// stats endpoint.
func (l *WebhookLimiter) Stats() (globalCount, trackedIPs int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.global.count, len(l.perIP)
}
