// Package worker runs the relay's background loops: re-driving webhook
// events whose side effects never completed, and pruning the event log
// past its retention horizon.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/email-relay/internal/domain"
	"github.com/ignite/email-relay/internal/pkg/distlock"
	"github.com/ignite/email-relay/internal/pkg/logger"
)

// EventLog is the slice of the event store the maintenance loop drives.
type EventLog interface {
	ListUnprocessed(ctx context.Context, limit int) ([]*domain.WebhookEvent, error)
	MarkProcessed(ctx context.Context, id string, procErr error) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// DeliveryUpdater applies an event's delivery-state side effects.
type DeliveryUpdater interface {
	ApplyEvent(ctx context.Context, ev *domain.WebhookEvent) error
	HandleBounce(ctx context.Context, email string, bounceType domain.BounceType, reason string) error
	HandleUnsubscribe(ctx context.Context, email, reason string) error
}

// MaintenanceConfig tunes the background loop.
type MaintenanceConfig struct {
	Interval        time.Duration // sweep cadence, default 30s
	BatchSize       int           // unprocessed events per sweep, default 1000
	RetentionDays   int           // event log retention, default 30
	ReconcileMaxAge time.Duration // give up re-driving events older than this, default 6h
}

// Maintenance periodically retries failed event side effects and enforces
// event-log retention. An optional distributed lock keeps multi-instance
// deployments down to one active sweeper.
type Maintenance struct {
	events   EventLog
	delivery DeliveryUpdater
	lock     distlock.DistLock // nil skips coordination
	cfg      MaintenanceConfig
	stopCh   chan struct{}
	now      func() time.Time
}

// NewMaintenance creates the maintenance loop. lock may be nil for
// single-instance deployments.
func NewMaintenance(events EventLog, delivery DeliveryUpdater, lock distlock.DistLock, cfg MaintenanceConfig) *Maintenance {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	if cfg.ReconcileMaxAge <= 0 {
		cfg.ReconcileMaxAge = 6 * time.Hour
	}
	return &Maintenance{
		events:   events,
		delivery: delivery,
		lock:     lock,
		cfg:      cfg,
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
}

// Start runs the sweep loop until the context is cancelled or Stop is called.
func (m *Maintenance) Start(ctx context.Context) {
	logger.Info("maintenance loop starting",
		"interval", m.cfg.Interval.String(),
		"retention_days", fmt.Sprintf("%d", m.cfg.RetentionDays))

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

// Stop terminates the loop.
func (m *Maintenance) Stop() {
	close(m.stopCh)
}

// RunOnce performs one sweep: reconcile unprocessed events, then prune.
func (m *Maintenance) RunOnce(ctx context.Context) {
	if m.lock != nil {
		ok, err := m.lock.Acquire(ctx)
		if err != nil {
			logger.Error("maintenance lock acquire failed", "error", err.Error())
			return
		}
		if !ok {
			// Another instance is sweeping
			return
		}
		defer m.lock.Release(ctx)
	}

	if err := m.reconcile(ctx); err != nil {
		logger.Error("reconciliation sweep failed", "error", err.Error())
	}
	if err := m.cleanup(ctx); err != nil {
		logger.Error("retention cleanup failed", "error", err.Error())
	}
}

// reconcile re-drives side effects for events whose processing failed mid
// way. Events older than ReconcileMaxAge are abandoned: the row keeps the
// failure for inspection but stops being retried.
func (m *Maintenance) reconcile(ctx context.Context) error {
	pending, err := m.events.ListUnprocessed(ctx, m.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list unprocessed: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	now := m.now()
	retried, abandoned := 0, 0

	for _, ev := range pending {
		if now.Sub(ev.ReceivedAt) > m.cfg.ReconcileMaxAge {
			abandonErr := fmt.Errorf("abandoned after %s unprocessed", m.cfg.ReconcileMaxAge)
			if err := m.events.MarkProcessed(ctx, ev.ID, abandonErr); err != nil {
				logger.Error("failed to abandon stale event", "event_id", ev.ID, "error", err.Error())
			}
			abandoned++
			continue
		}

		sideErr := m.applySideEffects(ctx, ev)
		if sideErr != nil {
			// Leave unprocessed; next sweep retries until max age
			logger.Warn("reconcile retry failed",
				"event_id", ev.ID, "event_type", string(ev.EventType), "error", sideErr.Error())
			continue
		}
		if err := m.events.MarkProcessed(ctx, ev.ID, nil); err != nil {
			logger.Error("failed to mark reconciled event", "event_id", ev.ID, "error", err.Error())
			continue
		}
		retried++
	}

	logger.Info("reconciliation sweep done",
		"pending", fmt.Sprintf("%d", len(pending)),
		"recovered", fmt.Sprintf("%d", retried),
		"abandoned", fmt.Sprintf("%d", abandoned))
	return nil
}

func (m *Maintenance) applySideEffects(ctx context.Context, ev *domain.WebhookEvent) error {
	if ev.EventType == domain.EventUnknown {
		return nil
	}
	if err := m.delivery.ApplyEvent(ctx, ev); err != nil {
		return fmt.Errorf("apply delivery event: %w", err)
	}
	switch ev.EventType {
	case domain.EventBounced:
		if ev.Email != "" {
			return m.delivery.HandleBounce(ctx, ev.Email, ev.BounceType, ev.Reason)
		}
	case domain.EventUnsubscribe:
		if ev.Email != "" {
			return m.delivery.HandleUnsubscribe(ctx, ev.Email, ev.Reason)
		}
	}
	return nil
}

func (m *Maintenance) cleanup(ctx context.Context) error {
	cutoff := m.now().AddDate(0, 0, -m.cfg.RetentionDays)
	n, err := m.events.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		logger.Info("retention cleanup removed events",
			"deleted", fmt.Sprintf("%d", n), "cutoff", cutoff.Format(time.RFC3339))
	}
	return nil
}
