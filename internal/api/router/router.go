// Package router assembles the chi router for the relay's HTTP surface.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/arcosum/lead-relay/internal/http/handlers"
	httpmiddleware "github.com/arcosum/lead-relay/internal/http/middleware"
	"github.com/arcosum/lead-relay/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	Webhook        *handlers.WebhookHandler
	Health         *handlers.HealthHandler
	Export         *handlers.ExportHandler
	MetricsHandler http.Handler
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	if cfg.Health != nil {
		r.Get("/health", cfg.Health.Check)
	}
	if cfg.Webhook != nil {
		r.Get("/webhook", cfg.Webhook.Verify)
		r.Post("/webhook", cfg.Webhook.Receive)
	}
	if cfg.Export != nil {
		r.Get("/export", cfg.Export.Export)
	}
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	return r
}
