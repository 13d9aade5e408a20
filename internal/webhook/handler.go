package webhook

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/email-relay/internal/domain"
	"github.com/ignite/email-relay/internal/pkg/logger"
)

// maxPayloadBytes caps webhook request bodies to prevent OOM from a
// misbehaving or hostile sender.
const maxPayloadBytes = 5 * 1024 * 1024

// Handler exposes the per-provider webhook endpoints.
type Handler struct {
	ingestor *Ingestor
	// confirmClient fetches SNS SubscribeURLs; swapped out in tests.
	confirmClient *http.Client
}

// NewHandler creates the webhook HTTP layer.
func NewHandler(ingestor *Ingestor) *Handler {
	return &Handler{
		ingestor:      ingestor,
		confirmClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Routes mounts the webhook endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/sparkpost", h.handleProvider(domain.ProviderSparkPost))
	r.Post("/mailgun", h.handleProvider(domain.ProviderMailgun))
	r.Post("/ses", h.HandleSES)
	r.Post("/sendgrid", h.handleProvider(domain.ProviderSendGrid))
	r.Get("/stats", h.HandleStats)
	return r
}

func (h *Handler) handleProvider(provider domain.ProviderType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := h.readBody(w, r)
		if !ok {
			return
		}
		res := h.ingestor.Ingest(r.Context(), provider, body, signatureHeader(r), sourceIP(r))
		writeResult(w, res)
	}
}

// HandleSES unwraps the SNS envelope SES events arrive in. Subscription
// confirmations are fetched immediately so the topic starts delivering.
func (h *Handler) HandleSES(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	var envelope snsEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Type == "SubscriptionConfirmation" {
		h.confirmSubscription(envelope)
		w.WriteHeader(http.StatusOK)
		return
	}

	res := h.ingestor.Ingest(r.Context(), domain.ProviderSES, body, signatureHeader(r), sourceIP(r))
	writeResult(w, res)
}

func (h *Handler) confirmSubscription(envelope snsEnvelope) {
	if envelope.SubscribeURL == "" {
		logger.Warn("SNS subscription confirmation without SubscribeURL", "topic", envelope.TopicArn)
		return
	}
	logger.Info("confirming SNS subscription", "topic", envelope.TopicArn)
	resp, err := h.confirmClient.Get(envelope.SubscribeURL)
	if err != nil {
		logger.Error("SNS subscription confirmation failed", "topic", envelope.TopicArn, "error", err.Error())
		return
	}
	resp.Body.Close()
	logger.Info("SNS subscription confirmed", "topic", envelope.TopicArn)
}

// HandleStats reports ingestion and limiter counters.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.ingestor.Stats())
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPayloadBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

func writeResult(w http.ResponseWriter, res *ProcessingResult) {
	switch res.ErrorKind {
	case domain.ErrRateLimitExceeded:
		http.Error(w, res.Message, http.StatusTooManyRequests)
		return
	case domain.ErrInvalidSignature:
		http.Error(w, res.Message, http.StatusUnauthorized)
		return
	}
	if !res.Accepted {
		// Not durably logged: non-2xx so the provider retries, dedup
		// absorbs any events that did land.
		http.Error(w, res.Message, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

// signatureHeader finds the provider signature across the header names the
// supported providers use.
func signatureHeader(r *http.Request) string {
	for _, name := range []string{"X-Webhook-Signature", "X-Mailgun-Signature", "X-SparkPost-Signature", "X-Twilio-Email-Event-Webhook-Signature"} {
		if v := r.Header.Get(name); v != "" {
			return v
		}
	}
	return ""
}

// sourceIP prefers the first X-Forwarded-For hop, falling back to the
// connection's remote address.
func sourceIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
