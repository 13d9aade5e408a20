package domain

import "time"

// ProviderType identifies the email service provider used for sending.
type ProviderType string

const (
	ProviderSparkPost ProviderType = "sparkpost"
	ProviderSES       ProviderType = "ses"
	ProviderMailgun   ProviderType = "mailgun"
	ProviderSendGrid  ProviderType = "sendgrid"
)

// OutboundMessage is a fully-resolved message ready to hand to a provider.
// It is immutable once built: the dispatch gateway reads it but never
// modifies it, so a caller may safely reuse the value after Send returns.
type OutboundMessage struct {
	ID         string            `json:"id"`
	FromName   string            `json:"from_name"`
	FromEmail  string            `json:"from_email"`
	ReplyTo    string            `json:"reply_to,omitempty"`
	To         []string          `json:"to"`
	CC         []string          `json:"cc,omitempty"`
	BCC        []string          `json:"bcc,omitempty"`
	Subject    string            `json:"subject"`
	HTMLBody   string            `json:"html_body"`
	TextBody   string            `json:"text_body,omitempty"`
	CampaignID string            `json:"campaign_id,omitempty"`
	ContactID  string            `json:"contact_id,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
}

// DispatchStatus is the terminal state of a dispatch attempt.
type DispatchStatus string

const (
	DispatchSent   DispatchStatus = "sent"
	DispatchQueued DispatchStatus = "queued"
	DispatchFailed DispatchStatus = "failed"
)

// DispatchResult is returned by the gateway after a send attempt, including
// all internal retries. It is terminal: never mutated after return.
type DispatchResult struct {
	MessageID   string         `json:"message_id"` // provider message id, empty on failure
	Status      DispatchStatus `json:"status"`
	Message     string         `json:"message"`
	ErrorKind   ErrorKind      `json:"error_kind,omitempty"`
	Provider    ProviderType   `json:"provider"`
	Attempts    int            `json:"attempts"`
	RawResponse string         `json:"raw_response,omitempty"`
	RateReset   time.Time      `json:"rate_reset,omitzero"` // when admission was denied, the window reset time
	SentAt      time.Time      `json:"sent_at,omitzero"`
}

// Succeeded reports whether the provider accepted the message.
func (r *DispatchResult) Succeeded() bool {
	return r.Status == DispatchSent || r.Status == DispatchQueued
}
