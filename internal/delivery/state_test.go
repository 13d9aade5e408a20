package delivery

import (
	"testing"
	"time"

	"github.com/ignite/email-relay/internal/domain"
)

func TestTransitionFor(t *testing.T) {
	tests := []struct {
		eventType  domain.WebhookEventType
		wantStatus domain.DeliveryStatus
		wantOK     bool
	}{
		{domain.EventDelivered, domain.DeliveryDelivered, true},
		{domain.EventOpened, domain.DeliveryOpened, true},
		{domain.EventClicked, domain.DeliveryClicked, true},
		{domain.EventBounced, domain.DeliveryBounced, true},
		{domain.EventSpam, domain.DeliveryFailed, true},
		{domain.EventUnsubscribe, "", false},
		{domain.EventUnknown, "", false},
		{domain.WebhookEventType("gibberish"), "", false},
	}

	for _, tt := range tests {
		tr, ok := TransitionFor(tt.eventType)
		if ok != tt.wantOK {
			t.Errorf("TransitionFor(%q) ok = %v, want %v", tt.eventType, ok, tt.wantOK)
			continue
		}
		if ok && tr.Status != tt.wantStatus {
			t.Errorf("TransitionFor(%q) status = %q, want %q", tt.eventType, tr.Status, tt.wantStatus)
		}
	}
}

func TestApplySetsTimestampOnce(t *testing.T) {
	rec := &domain.DeliveryRecord{Status: domain.DeliverySent}
	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	tr, _ := TransitionFor(domain.EventDelivered)
	Apply(rec, tr, first, "")
	Apply(rec, tr, second, "")

	if rec.DeliveredAt == nil || !rec.DeliveredAt.Equal(first) {
		t.Fatalf("DeliveredAt = %v, want first sighting %v", rec.DeliveredAt, first)
	}
	if rec.Status != domain.DeliveryDelivered {
		t.Errorf("status = %q, want delivered", rec.Status)
	}
}

func TestApplyOutOfOrderConverges(t *testing.T) {
	openAt := time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)
	deliveredAt := openAt.Add(-5 * time.Minute)

	// opened arrives before delivered
	rec := &domain.DeliveryRecord{Status: domain.DeliverySent}
	opened, _ := TransitionFor(domain.EventOpened)
	delivered, _ := TransitionFor(domain.EventDelivered)
	Apply(rec, opened, openAt, "")
	Apply(rec, delivered, deliveredAt, "")

	if rec.Status != domain.DeliveryOpened {
		t.Errorf("status regressed to %q after late delivered event", rec.Status)
	}
	if rec.DeliveredAt == nil || !rec.DeliveredAt.Equal(deliveredAt) {
		t.Errorf("DeliveredAt = %v, want %v", rec.DeliveredAt, deliveredAt)
	}
	if rec.OpenedAt == nil || !rec.OpenedAt.Equal(openAt) {
		t.Errorf("OpenedAt = %v, want %v", rec.OpenedAt, openAt)
	}

	// same two events, causal order, must converge to the same record
	rec2 := &domain.DeliveryRecord{Status: domain.DeliverySent}
	Apply(rec2, delivered, deliveredAt, "")
	Apply(rec2, opened, openAt, "")

	if rec2.Status != rec.Status || !rec2.DeliveredAt.Equal(*rec.DeliveredAt) || !rec2.OpenedAt.Equal(*rec.OpenedAt) {
		t.Errorf("arrival order changed outcome: %+v vs %+v", rec, rec2)
	}
}

func TestApplyBounceOutranksEngagement(t *testing.T) {
	rec := &domain.DeliveryRecord{Status: domain.DeliveryClicked}
	bounced, _ := TransitionFor(domain.EventBounced)
	at := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)

	Apply(rec, bounced, at, "550 user unknown")

	if rec.Status != domain.DeliveryBounced {
		t.Errorf("status = %q, want bounced", rec.Status)
	}
	if rec.BounceReason != "550 user unknown" {
		t.Errorf("bounce reason = %q", rec.BounceReason)
	}

	// a late open does not pull the record back down
	opened, _ := TransitionFor(domain.EventOpened)
	Apply(rec, opened, at.Add(time.Minute), "")
	if rec.Status != domain.DeliveryBounced {
		t.Errorf("status = %q after late open, want bounced", rec.Status)
	}
	if rec.OpenedAt == nil {
		t.Error("late open should still record its timestamp")
	}
}

func TestApplySpamUsesFixedReason(t *testing.T) {
	rec := &domain.DeliveryRecord{Status: domain.DeliveryDelivered}
	spam, ok := TransitionFor(domain.EventSpam)
	if !ok {
		t.Fatal("spam should map to a transition")
	}

	Apply(rec, spam, time.Now(), "")

	if rec.Status != domain.DeliveryFailed {
		t.Errorf("status = %q, want failed", rec.Status)
	}
	if rec.BounceReason != "marked as spam" {
		t.Errorf("reason = %q, want fixed spam reason", rec.BounceReason)
	}
}

func TestApplyKeepsFirstBounceReason(t *testing.T) {
	rec := &domain.DeliveryRecord{Status: domain.DeliverySent}
	bounced, _ := TransitionFor(domain.EventBounced)
	at := time.Now()

	Apply(rec, bounced, at, "first reason")
	Apply(rec, bounced, at.Add(time.Minute), "second reason")

	if rec.BounceReason != "first reason" {
		t.Errorf("reason = %q, want first sighting preserved", rec.BounceReason)
	}
}
