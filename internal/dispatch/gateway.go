package dispatch

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/ignite/email-relay/internal/domain"
	"github.com/ignite/email-relay/internal/pkg/logger"
	"github.com/ignite/email-relay/internal/ratelimit"
)

const (
	// DefaultMaxRetries is the number of additional attempts after the first.
	DefaultMaxRetries = 3
	// DefaultBaseDelay seeds the exponential backoff schedule.
	DefaultBaseDelay = 1 * time.Second
	// DefaultMaxDelay caps a single backoff sleep.
	DefaultMaxDelay = 30 * time.Second
	// maxResetHint is the longest provider reset hint the gateway will honor
	// instead of its own backoff schedule.
	maxResetHint = 5 * time.Minute
)

// GatewayConfig tunes retry behavior. Zero values fall back to defaults.
type GatewayConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Gateway sends messages through one provider credential under one shared
// rate-limit budget. Admission happens before the network call so concurrent
// senders cannot collectively overshoot the budget while requests are in
// flight; the budget is refunded when an attempt ultimately fails.
type Gateway struct {
	provider   ProviderClient
	limiter    ratelimit.Limiter
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration

	// Injectable for tests
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
}

// NewGateway creates a dispatch gateway for the given provider and budget.
func NewGateway(provider ProviderClient, limiter ratelimit.Limiter, cfg GatewayConfig) *Gateway {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	return &Gateway{
		provider:   provider,
		limiter:    limiter,
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		maxDelay:   cfg.MaxDelay,
		sleep:      sleepCtx,
		jitter:     func() time.Duration { return time.Duration(rand.Int63n(int64(time.Second))) },
	}
}

// Send dispatches one message, retrying transient failures internally, and
// always returns a terminal DispatchResult, never an error value, so bulk
// send loops can continue past individual failures.
func (g *Gateway) Send(ctx context.Context, msg *domain.OutboundMessage) *domain.DispatchResult {
	provider := g.provider.Name()

	decision, err := g.limiter.CheckAndIncrement(ctx)
	if err != nil {
		// A broken limiter store must not halt sending. Proceed without
		// holding budget; there is nothing to refund on failure either.
		logger.Warn("rate limit check failed, failing open", "provider", string(provider), "error", err.Error())
		return g.attemptLoop(ctx, msg, false)
	}
	if !decision.Allowed {
		return &domain.DispatchResult{
			Status:    domain.DispatchFailed,
			ErrorKind: domain.ErrRateLimitExceeded,
			Message:   fmt.Sprintf("rate limit exceeded, window resets at %s", decision.ResetAt.Format(time.RFC3339)),
			Provider:  provider,
			RateReset: decision.ResetAt,
		}
	}

	return g.attemptLoop(ctx, msg, true)
}

// Budget reports the current admission window without consuming from it.
// Bulk callers use it to fail fast before queuing a large send.
func (g *Gateway) Budget(ctx context.Context) (ratelimit.Info, error) {
	return g.limiter.Peek(ctx)
}

// attemptLoop runs the actual send attempts. budgetHeld tells the failure
// paths whether an admission slot needs refunding.
func (g *Gateway) attemptLoop(ctx context.Context, msg *domain.OutboundMessage, budgetHeld bool) *domain.DispatchResult {
	provider := g.provider.Name()

	var lastKind domain.ErrorKind
	var lastMsg string
	var lastBody []byte
	attempts := 0

	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return g.fail(ctx, budgetHeld, attempts, domain.ErrHTTPTimeout,
				fmt.Sprintf("send canceled: %v", ctx.Err()), lastBody)
		}

		attempts++
		resp, err := g.provider.Send(ctx, msg)
		if err != nil {
			if ctx.Err() != nil {
				return g.fail(ctx, budgetHeld, attempts, domain.ErrHTTPTimeout,
					fmt.Sprintf("send canceled: %v", ctx.Err()), lastBody)
			}
			// Connection/timeout errors are transient
			lastKind = domain.ErrHTTPTimeout
			lastMsg = fmt.Sprintf("%s request failed: %v", provider, err)
			lastBody = nil
		} else if resp.StatusCode < 400 {
			return &domain.DispatchResult{
				MessageID:   resp.MessageID,
				Status:      domain.DispatchSent,
				Message:     "accepted by provider",
				Provider:    provider,
				Attempts:    attempts,
				RawResponse: string(resp.Body),
				SentAt:      time.Now(),
			}
		} else {
			lastKind, lastMsg = classifyStatus(provider, resp.StatusCode)
			lastBody = resp.Body
			if !lastKind.Retryable() {
				return g.fail(ctx, budgetHeld, attempts, lastKind, lastMsg, lastBody)
			}
		}

		if attempt == g.maxRetries {
			break
		}

		delay := g.backoff(attempt)
		if resp != nil && resp.StatusCode == 429 && resp.RetryAfter > 0 && resp.RetryAfter <= maxResetHint {
			// The provider told us when its window resets; trust it over
			// the exponential schedule when the wait is short.
			delay = resp.RetryAfter
		}

		logger.Debug("retrying send",
			"provider", string(provider), "attempt", attempt+1, "delay", delay.String())
		if err := g.sleep(ctx, delay); err != nil {
			return g.fail(ctx, budgetHeld, attempts, domain.ErrHTTPTimeout,
				fmt.Sprintf("send canceled during backoff: %v", err), lastBody)
		}
	}

	return g.fail(ctx, budgetHeld, attempts, lastKind, lastMsg, lastBody)
}

// fail refunds the admission slot and builds the terminal failure result.
// Refunding is best-effort with a context detached from the caller's, so a
// canceled send still returns its budget.
func (g *Gateway) fail(ctx context.Context, budgetHeld bool, attempts int, kind domain.ErrorKind, msg string, body []byte) *domain.DispatchResult {
	if budgetHeld {
		refundCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := g.limiter.Decrement(refundCtx); err != nil {
			logger.Warn("rate limit refund failed", "provider", string(g.provider.Name()), "error", err.Error())
		}
	}
	return &domain.DispatchResult{
		Status:      domain.DispatchFailed,
		ErrorKind:   kind,
		Message:     msg,
		Provider:    g.provider.Name(),
		Attempts:    attempts,
		RawResponse: string(body),
	}
}

// backoff computes baseDelay * 2^attempt + jitter(0, 1s), capped at maxDelay
// before jitter is applied.
func (g *Gateway) backoff(attempt int) time.Duration {
	exp := float64(g.baseDelay) * math.Pow(2, float64(attempt))
	if exp > float64(g.maxDelay) {
		exp = float64(g.maxDelay)
	}
	return time.Duration(exp) + g.jitter()
}

// classifyStatus maps a provider HTTP status to an error kind and message.
func classifyStatus(provider domain.ProviderType, status int) (domain.ErrorKind, string) {
	switch {
	case status == 429:
		return domain.ErrRateLimitExceeded, fmt.Sprintf("%s returned 429 Too Many Requests", provider)
	case status >= 500:
		return domain.ErrProviderServer, fmt.Sprintf("%s returned server error %d", provider, status)
	default:
		return domain.ErrProviderValidation, fmt.Sprintf("%s rejected the request with status %d", provider, status)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
