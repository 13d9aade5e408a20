package api

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ignite/email-relay/internal/delivery"
	"github.com/ignite/email-relay/internal/dispatch"
	"github.com/ignite/email-relay/internal/domain"
	"github.com/ignite/email-relay/internal/pkg/logger"
)

// Handlers contains the HTTP handlers for the dispatch API.
type Handlers struct {
	gateway  *dispatch.Gateway
	delivery *delivery.Service
	db       *sql.DB
	started  time.Time
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(gateway *dispatch.Gateway, deliverySvc *delivery.Service, db *sql.DB) *Handlers {
	return &Handlers{
		gateway:  gateway,
		delivery: deliverySvc,
		db:       db,
		started:  time.Now(),
	}
}

// HandleSend accepts an outbound message, dispatches it through the gateway
// and records the resulting delivery state. The gateway owns retries and
// rate limiting; this handler only maps the terminal result onto HTTP.
func (h *Handlers) HandleSend(w http.ResponseWriter, r *http.Request) {
	if h.gateway == nil {
		respondError(w, http.StatusServiceUnavailable, "no sending provider configured")
		return
	}

	var msg domain.OutboundMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(msg.To) == 0 {
		respondError(w, http.StatusBadRequest, "at least one recipient is required")
		return
	}
	if msg.FromEmail == "" {
		respondError(w, http.StatusBadRequest, "from_email is required")
		return
	}
	if msg.Subject == "" {
		respondError(w, http.StatusBadRequest, "subject is required")
		return
	}
	if msg.HTMLBody == "" && msg.TextBody == "" {
		respondError(w, http.StatusBadRequest, "message body is required")
		return
	}

	result := h.gateway.Send(r.Context(), &msg)

	if result.Succeeded() && h.delivery != nil {
		if err := h.delivery.RecordSent(r.Context(), result, &msg); err != nil {
			// The provider accepted the message, so the send stands even if
			// the local record failed. Webhook reconciliation picks it up.
			logger.Error("failed to record sent message",
				"provider_message_id", result.MessageID,
				"error", err.Error())
		}
	}

	respondJSON(w, statusForResult(result), result)
}

// HandleBudget reports the current send quota without consuming any of it.
func (h *Handlers) HandleBudget(w http.ResponseWriter, r *http.Request) {
	if h.gateway == nil {
		respondError(w, http.StatusServiceUnavailable, "no sending provider configured")
		return
	}
	info, err := h.gateway.Budget(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"limit":     info.Limit,
		"remaining": info.Remaining,
		"reset_at":  info.ResetAt,
	})
}

// HealthCheck returns the health status of the service.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	dbStatus := "not configured"
	if h.db != nil {
		if err := h.db.PingContext(r.Context()); err != nil {
			status = "degraded"
			dbStatus = "unreachable: " + err.Error()
		} else {
			dbStatus = "connected"
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"database":  dbStatus,
		"timestamp": time.Now(),
		"uptime":    time.Since(h.started).String(),
	})
}

func statusForResult(result *domain.DispatchResult) int {
	if result.Succeeded() {
		return http.StatusOK
	}
	switch result.ErrorKind {
	case domain.ErrRateLimitExceeded:
		return http.StatusTooManyRequests
	case domain.ErrProviderValidation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

// Response helpers

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
