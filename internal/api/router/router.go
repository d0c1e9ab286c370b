package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/vetcare-platform/internal/bookings"
	httpmiddleware "github.com/wolfman30/vetcare-platform/internal/http/middleware"
	"github.com/wolfman30/vetcare-platform/internal/payments"
	"github.com/wolfman30/vetcare-platform/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger             *logging.Logger
	Bookings           *bookings.Handler
	Checkout           *payments.CheckoutHandler
	PaymentWebhook     *payments.WebhookHandler
	WebhookEvents      *payments.WebhookEventsHandler
	AuthJWTSecret      string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
	// CheckoutLimiter throttles session creation per caller; nil disables it.
	CheckoutLimiter *httpmiddleware.RateLimiter
	// HealthCheck reports dependency health; nil means always healthy.
	HealthCheck func(ctx context.Context) error
}

// New creates the chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	// Public endpoints: the gateway authenticates with its signature.
	r.Group(func(public chi.Router) {
		public.Get("/health", healthHandler(cfg.HealthCheck))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.PaymentWebhook != nil {
			public.Post("/webhooks/payments", cfg.PaymentWebhook.Handle)
		}
	})

	r.Group(func(authed chi.Router) {
		authed.Use(httpmiddleware.ActorJWT(cfg.AuthJWTSecret))

		if cfg.Checkout != nil {
			checkout := authed
			if cfg.CheckoutLimiter != nil {
				checkout = authed.With(httpmiddleware.RateLimit(cfg.CheckoutLimiter))
			}
			checkout.Post("/checkout/sessions", cfg.Checkout.CreateSession)
		}
		if cfg.Bookings != nil {
			cfg.Bookings.Routes(authed)
		}
		if cfg.WebhookEvents != nil {
			authed.Route("/admin", func(admin chi.Router) {
				admin.Use(httpmiddleware.RequireElevated)
				admin.Get("/webhook-events", cfg.WebhookEvents.List)
			})
		}
	})

	return r
}

func healthHandler(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, body := http.StatusOK, map[string]string{"status": "ok"}
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				status, body = http.StatusServiceUnavailable, map[string]string{"status": "degraded"}
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
