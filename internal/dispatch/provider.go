// Package dispatch turns outbound messages into provider API calls, honoring
// the rate-limit budget and retrying transient failures with exponential
// backoff. The gateway owns all admission and retry logic; provider clients
// are thin transports that surface the HTTP status and raw body so the
// gateway can classify retryability.
package dispatch

import (
	"context"
	"time"

	"github.com/ignite/email-relay/internal/domain"
)

// ProviderResponse is what a provider client returns from one network call.
// A non-2xx status is not an error at this layer: the transport worked, the
// provider rejected the request, and the gateway decides what to do next.
// The error return is reserved for transport failures (connect, timeout).
type ProviderResponse struct {
	MessageID  string        // provider message id, empty unless accepted
	StatusCode int           // HTTP status (0 for non-HTTP transports)
	Body       []byte        // raw provider response for diagnostics
	RetryAfter time.Duration // reset hint from a 429, zero when absent
}

// ProviderClient performs the actual network call to an email provider.
// Implementations must be safe for concurrent use.
type ProviderClient interface {
	Name() domain.ProviderType
	Send(ctx context.Context, msg *domain.OutboundMessage) (*ProviderResponse, error)
}

// parseRetryAfter interprets a Retry-After header value as either delta
// seconds or an HTTP date. Returns zero when the value is unusable.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := time.ParseDuration(v + "s"); err == nil && secs > 0 {
		return secs
	}
	if at, err := time.Parse(time.RFC1123, v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
