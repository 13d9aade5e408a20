package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/email-relay/internal/delivery"
	"github.com/ignite/email-relay/internal/domain"
	"github.com/ignite/email-relay/internal/events"
	"github.com/ignite/email-relay/internal/pkg/logger"
	"github.com/ignite/email-relay/internal/ratelimit"
)

// EventStore is the durable log of every webhook sighting. Rows are keyed
// by (provider, event_type, message_id, payload_hash) for deduplication.
type EventStore interface {
	// IncrementDuplicate bumps duplicate_count on the row matching the
	// event's dedup key. Returns true when a row matched.
	IncrementDuplicate(ctx context.Context, ev *domain.WebhookEvent) (bool, error)
	// Insert reports created=false when an identical event won the insert
	// race after the duplicate lookup; the conflict arm counts the sighting.
	Insert(ctx context.Context, ev *domain.WebhookEvent) (created bool, err error)
	// MarkProcessed flags the row processed, recording procErr's message
	// when non-nil. Rows left unmatched at ingest skip this until the
	// reconciliation sweep lands them.
	MarkProcessed(ctx context.Context, id string, procErr error) error
}

// DeliveryUpdater is the slice of the delivery service ingestion drives.
type DeliveryUpdater interface {
	ApplyEvent(ctx context.Context, ev *domain.WebhookEvent) error
	HandleBounce(ctx context.Context, email string, bounceType domain.BounceType, reason string) error
	HandleUnsubscribe(ctx context.Context, email, reason string) error
}

// ProcessingResult summarizes one Ingest call for the HTTP layer.
type ProcessingResult struct {
	Accepted   bool             `json:"accepted"`
	Received   int              `json:"received"`   // new rows persisted
	Duplicates int              `json:"duplicates"` // sightings absorbed by dedup
	Malformed  bool             `json:"malformed,omitempty"`
	ErrorKind  domain.ErrorKind `json:"error_kind,omitempty"`
	Message    string           `json:"message,omitempty"`
}

// Ingestor runs the ingestion pipeline for one provider payload: admission,
// signature verification, normalization, dedup, durable logging, then
// delivery-state side effects. Safe for concurrent use.
type Ingestor struct {
	limiter   *ratelimit.WebhookLimiter
	verifier  *Verifier
	store     EventStore
	delivery  DeliveryUpdater
	publisher *events.Publisher // nil disables fan-out
	now       func() time.Time

	eventsReceived int64
	duplicates     int64
	rejected       int64
	unmatched      int64
	sideEffectErrs int64
}

// NewIngestor wires the ingestion pipeline.
func NewIngestor(limiter *ratelimit.WebhookLimiter, verifier *Verifier, store EventStore, delivery DeliveryUpdater) *Ingestor {
	return &Ingestor{
		limiter:  limiter,
		verifier: verifier,
		store:    store,
		delivery: delivery,
		now:      time.Now,
	}
}

// SetPublisher enables downstream fan-out of processed events.
func (i *Ingestor) SetPublisher(p *events.Publisher) { i.publisher = p }

// Ingest processes one provider request body. Admission and signature
// rejection happen before any parsing or storage access. Once an event is
// durably logged the result stays accepted even if downstream side effects
// fail; the failure is recorded on the event row instead.
func (i *Ingestor) Ingest(ctx context.Context, provider domain.ProviderType, payload []byte, signature, sourceIP string) *ProcessingResult {
	if !i.limiter.Check(sourceIP) {
		atomic.AddInt64(&i.rejected, 1)
		logger.Warn("webhook rejected by rate limiter", "provider", string(provider), "source_ip", sourceIP)
		return &ProcessingResult{
			ErrorKind: domain.ErrRateLimitExceeded,
			Message:   "webhook rate limit exceeded",
		}
	}

	if err := i.verifier.Verify(payload, signature); err != nil {
		atomic.AddInt64(&i.rejected, 1)
		logger.Warn("webhook signature rejected", "provider", string(provider), "source_ip", sourceIP)
		return &ProcessingResult{
			ErrorKind: domain.ErrInvalidSignature,
			Message:   "signature verification failed",
		}
	}

	receivedAt := i.now()
	events, malformed := Normalize(provider, payload, receivedAt)
	res := &ProcessingResult{Accepted: true, Malformed: malformed}
	if malformed {
		res.ErrorKind = domain.ErrMalformedPayload
		logger.Warn("malformed webhook payload normalized with defaults",
			"provider", string(provider), "bytes", fmt.Sprintf("%d", len(payload)))
	}

	for _, ev := range events {
		ev.ID = uuid.New().String()
		ev.Signature = signature
		ev.ReceivedAt = receivedAt
		ev.PayloadHash = payloadHash(ev.Payload)

		dup, err := i.store.IncrementDuplicate(ctx, ev)
		if err != nil {
			res.Accepted = false
			res.Message = fmt.Sprintf("event store lookup failed: %v", err)
			logger.Error("webhook dedup lookup failed", "provider", string(provider), "error", err.Error())
			continue
		}
		if dup {
			atomic.AddInt64(&i.duplicates, 1)
			res.Duplicates++
			continue
		}

		created, err := i.store.Insert(ctx, ev)
		if err != nil {
			// Not durably logged: fail the request so the provider retries.
			res.Accepted = false
			res.Message = fmt.Sprintf("event store insert failed: %v", err)
			logger.Error("webhook event insert failed", "provider", string(provider), "error", err.Error())
			continue
		}
		if !created {
			// An identical event landed between the duplicate lookup and
			// the insert; its owner runs the side effects.
			atomic.AddInt64(&i.duplicates, 1)
			res.Duplicates++
			continue
		}
		atomic.AddInt64(&i.eventsReceived, 1)
		res.Received++

		if ev.EventType == domain.EventUnknown {
			logger.Warn("unknown webhook event type acknowledged",
				"provider", string(provider), "message_id", ev.MessageID)
			if res.ErrorKind == domain.ErrNone {
				res.ErrorKind = domain.ErrUnknownEventType
			}
			i.markProcessed(ctx, ev.ID, nil)
			continue
		}

		sideErr := i.applySideEffects(ctx, ev)
		switch {
		case sideErr == nil:
			i.markProcessed(ctx, ev.ID, nil)
			i.publisher.Publish(ctx, ev)
		case errors.Is(sideErr, delivery.ErrRecordNotFound):
			// The delivery record may still be landing from a concurrent
			// send. Leave the row unprocessed; the reconciliation sweep
			// re-drives it once the record exists.
			atomic.AddInt64(&i.unmatched, 1)
			logger.Debug("webhook event left for reconciliation",
				"provider", string(provider), "event_type", string(ev.EventType),
				"message_id", ev.MessageID)
		default:
			atomic.AddInt64(&i.sideEffectErrs, 1)
			res.Message = sideErr.Error()
			logger.Error("webhook side effects failed",
				"provider", string(provider), "event_type", string(ev.EventType),
				"message_id", ev.MessageID, "error", sideErr.Error())
			i.markProcessed(ctx, ev.ID, sideErr)
		}
	}

	return res
}

// applySideEffects advances the delivery record and runs the contact-level
// consequences for suppression-class events. Contact handlers are keyed by
// email, not message id, so they run even when no delivery record matches
// yet; the sentinel is still returned so the event stays pending.
func (i *Ingestor) applySideEffects(ctx context.Context, ev *domain.WebhookEvent) error {
	applyErr := i.delivery.ApplyEvent(ctx, ev)
	if applyErr != nil && !errors.Is(applyErr, delivery.ErrRecordNotFound) {
		return fmt.Errorf("apply delivery event: %w", applyErr)
	}

	switch ev.EventType {
	case domain.EventBounced:
		if ev.Email != "" {
			if err := i.delivery.HandleBounce(ctx, ev.Email, ev.BounceType, ev.Reason); err != nil {
				return fmt.Errorf("handle bounce: %w", err)
			}
		}
	case domain.EventUnsubscribe:
		if ev.Email != "" {
			if err := i.delivery.HandleUnsubscribe(ctx, ev.Email, ev.Reason); err != nil {
				return fmt.Errorf("handle unsubscribe: %w", err)
			}
		}
	}
	if applyErr != nil {
		return fmt.Errorf("apply delivery event: %w", applyErr)
	}
	return nil
}

func (i *Ingestor) markProcessed(ctx context.Context, id string, procErr error) {
	if err := i.store.MarkProcessed(ctx, id, procErr); err != nil {
		logger.Error("failed to mark webhook event processed", "event_id", id, "error", err.Error())
	}
}

// Stats returns ingestion counters for the stats endpoint.
func (i *Ingestor) Stats() map[string]int64 {
	return map[string]int64{
		"events_received":    atomic.LoadInt64(&i.eventsReceived),
		"duplicates":         atomic.LoadInt64(&i.duplicates),
		"rejected":           atomic.LoadInt64(&i.rejected),
		"unmatched":          atomic.LoadInt64(&i.unmatched),
		"side_effect_errors": atomic.LoadInt64(&i.sideEffectErrs),
	}
}

func payloadHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
