package webhook

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/email-relay/internal/domain"
)

// Normalize parses a raw provider payload into canonical events. Providers
// batch differently (SparkPost and SendGrid post arrays, Mailgun and SES
// post one event per request), so one request body may yield several events.
//
// Malformed input never fails: missing fields get defaults (message id
// "unknown", event type unknown, timestamp = receivedAt) and the second
// return reports that degradation so the caller can log it. A payload that
// is not even JSON yields a single unknown event carrying the raw bytes.
func Normalize(provider domain.ProviderType, body []byte, receivedAt time.Time) ([]*domain.WebhookEvent, bool) {
	var events []*domain.WebhookEvent
	var malformed bool

	switch provider {
	case domain.ProviderSparkPost:
		events, malformed = normalizeSparkPost(body, receivedAt)
	case domain.ProviderMailgun:
		events, malformed = normalizeMailgun(body, receivedAt)
	case domain.ProviderSES:
		events, malformed = normalizeSES(body, receivedAt)
	case domain.ProviderSendGrid:
		events, malformed = normalizeSendGrid(body, receivedAt)
	default:
		events, malformed = normalizeGeneric(provider, body, receivedAt)
	}

	if len(events) == 0 {
		events = []*domain.WebhookEvent{fallbackEvent(provider, body, receivedAt)}
		malformed = true
	}
	return events, malformed
}

// canonicalEventType maps provider spellings onto the internal enum.
func canonicalEventType(raw string) domain.WebhookEventType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "delivered", "delivery":
		return domain.EventDelivered
	case "open", "opened", "initial_open":
		return domain.EventOpened
	case "click", "clicked":
		return domain.EventClicked
	case "bounce", "bounced", "failed", "dropped", "out_of_band":
		return domain.EventBounced
	case "spam", "spam_complaint", "spamreport", "spam_report", "complaint", "complained":
		return domain.EventSpam
	case "unsubscribe", "unsubscribed", "list_unsubscribe", "link_unsubscribe", "group_unsubscribe":
		return domain.EventUnsubscribe
	default:
		return domain.EventUnknown
	}
}

// classifyBounceReason decides hard vs soft from diagnostic text when the
// provider gives no explicit classification. Transient conditions (full
// mailbox, throttling) stay soft so the contact is not suppressed.
func classifyBounceReason(reason string) domain.BounceType {
	r := strings.ToLower(reason)
	switch {
	case strings.Contains(r, "mailbox full"),
		strings.Contains(r, "over quota"),
		strings.Contains(r, "insufficient storage"),
		strings.Contains(r, "rate limit"),
		strings.Contains(r, "try again later"),
		strings.Contains(r, "temporar"):
		return domain.BounceSoft
	case strings.Contains(r, "user unknown"),
		strings.Contains(r, "no such user"),
		strings.Contains(r, "does not exist"),
		strings.Contains(r, "invalid recipient"),
		strings.Contains(r, "permanent"):
		return domain.BounceHard
	default:
		return domain.BounceSoft
	}
}

func fillDefaults(ev *domain.WebhookEvent, receivedAt time.Time) {
	if ev.MessageID == "" {
		ev.MessageID = "unknown"
	}
	if ev.EventType == "" {
		ev.EventType = domain.EventUnknown
	}
	if ev.EventAt.IsZero() {
		ev.EventAt = receivedAt
	}
}

func fallbackEvent(provider domain.ProviderType, body []byte, receivedAt time.Time) *domain.WebhookEvent {
	ev := &domain.WebhookEvent{
		Provider:  provider,
		EventType: domain.EventUnknown,
		MessageID: "unknown",
		Payload:   body,
		EventAt:   receivedAt,
	}
	return ev
}

// SparkPost posts an array of msys-wrapped events. Each element nests the
// event under one of several category keys; bounce_class codes 10, 25 and
// 30 are the permanent classes.
func normalizeSparkPost(body []byte, receivedAt time.Time) ([]*domain.WebhookEvent, bool) {
	var batch []struct {
		Msys map[string]json.RawMessage `json:"msys"`
	}
	raws := []json.RawMessage{}
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, true
	}
	if err := json.Unmarshal(body, &batch); err != nil {
		return nil, true
	}

	var events []*domain.WebhookEvent
	malformed := false

	for i, wrapper := range batch {
		if len(wrapper.Msys) == 0 {
			malformed = true
			continue
		}
		for category, rawEvent := range wrapper.Msys {
			var data struct {
				Type        string `json:"type"`
				MessageID   string `json:"message_id"`
				Recipient   string `json:"rcpt_to"`
				Reason      string `json:"reason"`
				RawReason   string `json:"raw_reason"`
				BounceClass string `json:"bounce_class"`
				Timestamp   string `json:"timestamp"`
			}
			if err := json.Unmarshal(rawEvent, &data); err != nil {
				malformed = true
				continue
			}

			eventType := canonicalEventType(data.Type)
			if category == "unsubscribe_event" {
				eventType = domain.EventUnsubscribe
			}
			if category == "spam_complaint" {
				eventType = domain.EventSpam
			}

			ev := &domain.WebhookEvent{
				Provider:  domain.ProviderSparkPost,
				EventType: eventType,
				MessageID: data.MessageID,
				Email:     strings.ToLower(data.Recipient),
				Reason:    data.Reason,
				Payload:   raws[i],
				EventAt:   parseSparkPostTimestamp(data.Timestamp),
			}
			if ev.Reason == "" {
				ev.Reason = data.RawReason
			}
			if eventType == domain.EventBounced {
				switch data.BounceClass {
				case "10", "25", "30":
					ev.BounceType = domain.BounceHard
				case "":
					ev.BounceType = classifyBounceReason(ev.Reason)
				default:
					ev.BounceType = domain.BounceSoft
				}
			}
			fillDefaults(ev, receivedAt)
			events = append(events, ev)
		}
	}
	return events, malformed
}

// SparkPost timestamps arrive either as RFC3339 or as unix seconds.
func parseSparkPostTimestamp(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC()
	}
	return time.Time{}
}

// Mailgun posts one event per request under an event-data wrapper.
// Severity "permanent" marks a hard bounce.
func normalizeMailgun(body []byte, receivedAt time.Time) ([]*domain.WebhookEvent, bool) {
	var payload struct {
		EventData struct {
			Event     string  `json:"event"`
			Recipient string  `json:"recipient"`
			Severity  string  `json:"severity"`
			Reason    string  `json:"reason"`
			Timestamp float64 `json:"timestamp"`
			Message   struct {
				Headers struct {
					MessageID string `json:"message-id"`
				} `json:"headers"`
			} `json:"message"`
			DeliveryStatus struct {
				Description string `json:"description"`
			} `json:"delivery-status"`
		} `json:"event-data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, true
	}

	data := payload.EventData
	ev := &domain.WebhookEvent{
		Provider:  domain.ProviderMailgun,
		EventType: canonicalEventType(data.Event),
		MessageID: data.Message.Headers.MessageID,
		Email:     strings.ToLower(data.Recipient),
		Reason:    data.Reason,
		Payload:   body,
	}
	if ev.Reason == "" {
		ev.Reason = data.DeliveryStatus.Description
	}
	if data.Timestamp > 0 {
		ev.EventAt = time.Unix(int64(data.Timestamp), 0).UTC()
	}
	if ev.EventType == domain.EventBounced {
		if data.Severity == "permanent" {
			ev.BounceType = domain.BounceHard
		} else if data.Severity == "temporary" {
			ev.BounceType = domain.BounceSoft
		} else {
			ev.BounceType = classifyBounceReason(ev.Reason)
		}
	}

	malformed := data.Event == ""
	fillDefaults(ev, receivedAt)
	return []*domain.WebhookEvent{ev}, malformed
}

// snsEnvelope is the SNS wrapper SES notifications arrive in. The actual
// SES event is a JSON string inside Message.
type snsEnvelope struct {
	Type         string `json:"Type"`
	Message      string `json:"Message"`
	SubscribeURL string `json:"SubscribeURL"`
	TopicArn     string `json:"TopicArn"`
}

func normalizeSES(body []byte, receivedAt time.Time) ([]*domain.WebhookEvent, bool) {
	var envelope snsEnvelope
	inner := body
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Message != "" {
		inner = []byte(envelope.Message)
	}

	var notification struct {
		NotificationType string `json:"notificationType"`
		EventType        string `json:"eventType"`
		Mail             struct {
			MessageID string `json:"messageId"`
			Timestamp string `json:"timestamp"`
		} `json:"mail"`
		Bounce struct {
			BounceType        string `json:"bounceType"`
			Timestamp         string `json:"timestamp"`
			BouncedRecipients []struct {
				EmailAddress   string `json:"emailAddress"`
				DiagnosticCode string `json:"diagnosticCode"`
			} `json:"bouncedRecipients"`
		} `json:"bounce"`
		Complaint struct {
			Timestamp            string `json:"timestamp"`
			ComplainedRecipients []struct {
				EmailAddress string `json:"emailAddress"`
			} `json:"complainedRecipients"`
		} `json:"complaint"`
		Delivery struct {
			Timestamp  string   `json:"timestamp"`
			Recipients []string `json:"recipients"`
		} `json:"delivery"`
	}
	if err := json.Unmarshal(inner, &notification); err != nil {
		return nil, true
	}

	rawType := notification.NotificationType
	if rawType == "" {
		rawType = notification.EventType
	}

	ev := &domain.WebhookEvent{
		Provider:  domain.ProviderSES,
		EventType: canonicalEventType(rawType),
		MessageID: notification.Mail.MessageID,
		Payload:   inner,
		EventAt:   parseISOTime(notification.Mail.Timestamp),
	}

	switch ev.EventType {
	case domain.EventBounced:
		if len(notification.Bounce.BouncedRecipients) > 0 {
			ev.Email = strings.ToLower(notification.Bounce.BouncedRecipients[0].EmailAddress)
			ev.Reason = notification.Bounce.BouncedRecipients[0].DiagnosticCode
		}
		if notification.Bounce.BounceType == "Permanent" {
			ev.BounceType = domain.BounceHard
		} else {
			ev.BounceType = domain.BounceSoft
		}
		if ts := parseISOTime(notification.Bounce.Timestamp); !ts.IsZero() {
			ev.EventAt = ts
		}
	case domain.EventSpam:
		if len(notification.Complaint.ComplainedRecipients) > 0 {
			ev.Email = strings.ToLower(notification.Complaint.ComplainedRecipients[0].EmailAddress)
		}
		ev.Reason = "spam complaint"
		if ts := parseISOTime(notification.Complaint.Timestamp); !ts.IsZero() {
			ev.EventAt = ts
		}
	case domain.EventDelivered:
		if len(notification.Delivery.Recipients) > 0 {
			ev.Email = strings.ToLower(notification.Delivery.Recipients[0])
		}
		if ts := parseISOTime(notification.Delivery.Timestamp); !ts.IsZero() {
			ev.EventAt = ts
		}
	}

	malformed := rawType == ""
	fillDefaults(ev, receivedAt)
	return []*domain.WebhookEvent{ev}, malformed
}

func parseISOTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts
	}
	return time.Time{}
}

// SendGrid posts a flat array of events. A bounce event's "type" field
// distinguishes hard bounces from soft blocks.
func normalizeSendGrid(body []byte, receivedAt time.Time) ([]*domain.WebhookEvent, bool) {
	var batch []struct {
		Email       string `json:"email"`
		Event       string `json:"event"`
		Type        string `json:"type"`
		Reason      string `json:"reason"`
		SGMessageID string `json:"sg_message_id"`
		Timestamp   int64  `json:"timestamp"`
	}
	raws := []json.RawMessage{}
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, true
	}
	if err := json.Unmarshal(body, &batch); err != nil {
		return nil, true
	}

	var events []*domain.WebhookEvent
	malformed := false

	for i, data := range batch {
		ev := &domain.WebhookEvent{
			Provider:  domain.ProviderSendGrid,
			EventType: canonicalEventType(data.Event),
			MessageID: data.SGMessageID,
			Email:     strings.ToLower(data.Email),
			Reason:    data.Reason,
			Payload:   raws[i],
		}
		if data.Timestamp > 0 {
			ev.EventAt = time.Unix(data.Timestamp, 0).UTC()
		}
		if ev.EventType == domain.EventBounced {
			if data.Type == "blocked" {
				ev.BounceType = domain.BounceSoft
			} else if data.Type == "bounce" {
				ev.BounceType = domain.BounceHard
			} else {
				ev.BounceType = classifyBounceReason(data.Reason)
			}
		}
		if data.Event == "" {
			malformed = true
		}
		fillDefaults(ev, receivedAt)
		events = append(events, ev)
	}
	return events, malformed
}

// normalizeGeneric accepts a flat shape for providers without a dedicated
// parser: event/type, message_id, email or recipient, reason, timestamp.
func normalizeGeneric(provider domain.ProviderType, body []byte, receivedAt time.Time) ([]*domain.WebhookEvent, bool) {
	var data struct {
		Event     string `json:"event"`
		Type      string `json:"type"`
		MessageID string `json:"message_id"`
		Email     string `json:"email"`
		Recipient string `json:"recipient"`
		Reason    string `json:"reason"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, true
	}

	rawType := data.Event
	if rawType == "" {
		rawType = data.Type
	}
	email := data.Email
	if email == "" {
		email = data.Recipient
	}

	ev := &domain.WebhookEvent{
		Provider:  provider,
		EventType: canonicalEventType(rawType),
		MessageID: data.MessageID,
		Email:     strings.ToLower(email),
		Reason:    data.Reason,
		Payload:   body,
		EventAt:   parseISOTime(data.Timestamp),
	}
	if ev.EventType == domain.EventBounced {
		ev.BounceType = classifyBounceReason(data.Reason)
	}

	malformed := rawType == "" || data.MessageID == ""
	fillDefaults(ev, receivedAt)
	return []*domain.WebhookEvent{ev}, malformed
}
