/**
 * @description
 * This file sets up the HTTP router for the billing service using the
 * go-chi/chi router. It defines the API routes, applies middleware for
 * logging, CORS, authentication, and rate limiting, and maps the routes to
 * their corresponding handler functions.
 *
 * Route groups:
 * - /health and /webhooks/stripe are unauthenticated. The webhook endpoint
 *   authenticates requests with the signature header instead of a bearer
 *   token, so it must sit outside the auth group.
 * - /payments/* and /onboarding require a merchant JWT.
 * - /internal/* requires the internal API key.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for the browser frontend.
 */

package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig carries the dependencies and settings the router needs.
type RouterConfig struct {
	PaymentHandler    *PaymentHandler
	OnboardingHandler *OnboardingHandler
	JobsHandler       *JobsHandler
	WebhookHandler    *WebhookHandler

	AuthJWTSecret  string
	InternalAPIKey string

	RateLimiter          RateLimiter
	PaymentRateLimit     int
	PaymentRateLimitSpan time.Duration

	Logger *slog.Logger
}

// NewRouter creates a new Chi router and registers the billing-service routes.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Setup middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Stripe-Signature"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Billing service is healthy"))
	})

	// Webhook endpoint, authenticated by signature rather than bearer token.
	r.Post("/webhooks/stripe", cfg.WebhookHandler.HandleWebhook)

	// Protected routes that require merchant authentication
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.AuthJWTSecret))

		r.Post("/onboarding", cfg.OnboardingHandler.StartOnboarding)

		r.Group(func(r chi.Router) {
			r.Use(RateLimitMiddleware(cfg.RateLimiter, cfg.Logger, "payments", cfg.PaymentRateLimit, cfg.PaymentRateLimitSpan))

			r.Post("/payments/intents", cfg.PaymentHandler.CreatePaymentIntent)
			r.Post("/payments/links", cfg.PaymentHandler.CreatePaymentLink)
		})
	})

	// Internal operational routes
	r.Group(func(r chi.Router) {
		r.Use(InternalKeyMiddleware(cfg.InternalAPIKey))

		r.Post("/internal/jobs/recurring-invoices", cfg.JobsHandler.TriggerRecurringInvoices)
	})

	return r
}
