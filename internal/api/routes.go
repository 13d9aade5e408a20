package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/email-relay/internal/webhook"
)

// SetupRoutes configures the top-level router: dispatch API under /api,
// provider webhook endpoints under /webhooks, and the health check.
func SetupRoutes(h *Handlers, wh *webhook.Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	// Health check (no auth required)
	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Post("/send", h.HandleSend)
		r.Get("/budget", h.HandleBudget)
	})

	// Provider webhook endpoints carry their own signature verification
	// and rate limiting inside the ingestor.
	if wh != nil {
		r.Mount("/webhooks", wh.Routes())
	}

	return r
}
