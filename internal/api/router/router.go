package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/odontosorriso/scheduling-agent/internal/http/handlers"
	httpmiddleware "github.com/odontosorriso/scheduling-agent/internal/http/middleware"
	"github.com/odontosorriso/scheduling-agent/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Webhook            *handlers.WhatsAppWebhookHandler
	AdminConversations *handlers.AdminConversationsHandler
	AdminAuthSecret    string
	MetricsHandler     http.Handler
	HealthChecks       map[string]handlers.HealthCheck

	// Per-IP limit on the webhook; zero disables it.
	WebhookRatePerSecond float64
	WebhookBurst         int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Group(func(public chi.Router) {
		public.Get("/health", handlers.Health("scheduling-agent", cfg.HealthChecks))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.Webhook != nil {
			public.Route("/webhook", func(wh chi.Router) {
				if cfg.WebhookRatePerSecond > 0 {
					wh.Use(httpmiddleware.RateLimit(cfg.WebhookRatePerSecond, cfg.WebhookBurst))
				}
				wh.Post("/whatsapp", cfg.Webhook.Handle)
				wh.Get("/health", cfg.Webhook.Health)
			})
		}
	})

	if cfg.AdminConversations != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret, cfg.Logger))
			admin.Get("/conversations", cfg.AdminConversations.List)
			admin.Get("/conversations/{phone}", cfg.AdminConversations.Get)
			admin.Delete("/conversations/{phone}", cfg.AdminConversations.Clear)
		})
	}

	return r
}
