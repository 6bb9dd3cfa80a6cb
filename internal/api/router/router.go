package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/salon-booking/internal/bookings"
	"github.com/wolfman30/salon-booking/internal/catalog"
	"github.com/wolfman30/salon-booking/internal/checkout"
	"github.com/wolfman30/salon-booking/internal/customers"
	httpmiddleware "github.com/wolfman30/salon-booking/internal/http/middleware"
	"github.com/wolfman30/salon-booking/internal/payments"
	"github.com/wolfman30/salon-booking/internal/reconcile"
	"github.com/wolfman30/salon-booking/internal/staff"
	"github.com/wolfman30/salon-booking/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Catalog            *catalog.Handler
	Checkout           *checkout.Handler
	StripeWebhook      *payments.StripeWebhookHandler
	Bookings           *bookings.Service
	Customers          *customers.Handler
	Staff              *staff.Handler
	Incidents          *reconcile.Handler
	Velocity           *payments.VelocityHandler
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// Per-IP limit on the public checkout endpoints; zero disables it.
	RateLimitRPS   float64
	RateLimitBurst int

	// Admin auth: Supabase session JWT plus an email-domain allowlist.
	SupabaseJWTSecret string
	AdminEmailDomains []string

	// HealthCheck reports dependency health; nil means always healthy.
	HealthCheck func(ctx context.Context) error
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	r.Get("/health", healthHandler(cfg.HealthCheck))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}
	if cfg.StripeWebhook != nil {
		r.Post("/webhooks/stripe", cfg.StripeWebhook.Handle)
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(middleware.Compress(5))
		if cfg.Catalog != nil {
			api.Get("/catalog/categories", cfg.Catalog.ListCategories)
			api.Get("/catalog/services", cfg.Catalog.ListServices)
		}
		if cfg.Checkout != nil {
			api.Group(func(pay chi.Router) {
				if cfg.RateLimitRPS > 0 {
					pay.Use(httpmiddleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
				}
				pay.Post("/create-payment-intent", cfg.Checkout.CreatePaymentIntent)
				pay.Post("/bookings/confirm", cfg.Checkout.ConfirmBooking)
			})
		}
	})

	r.Route("/admin", func(admin chi.Router) {
		admin.Use(httpmiddleware.SupabaseAdmin(cfg.SupabaseJWTSecret, cfg.AdminEmailDomains))
		admin.Use(middleware.Compress(5))
		if cfg.Bookings != nil {
			admin.Get("/calendar", cfg.Bookings.Calendar)
		}
		if cfg.Customers != nil {
			admin.Get("/customers", cfg.Customers.ListCustomers)
		}
		if cfg.Staff != nil {
			admin.Get("/employees", cfg.Staff.ListEmployees)
			admin.Get("/employees/{id}/availability", cfg.Staff.Availability)
		}
		if cfg.Incidents != nil {
			admin.Get("/incidents", cfg.Incidents.ListIncidents)
			admin.Post("/incidents/{id}/resolve", cfg.Incidents.ResolveIncident)
		}
		if cfg.Velocity != nil {
			admin.Get("/velocity", cfg.Velocity.Status)
			admin.Delete("/velocity", cfg.Velocity.Reset)
		}
	})

	return r
}

func healthHandler(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}
