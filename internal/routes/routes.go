package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/stepgate/internal/handlers"
	"github.com/BradenHooton/stepgate/internal/middleware"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	twoFactorHandler *handlers.TwoFactorHandler,
	healthHandler *handlers.HealthHandler,
	metricsHandler http.Handler,
	rateLimitConfig middleware.RateLimitConfig,
) {
	router.Get("/health", healthHandler.Health)
	router.Handle("/metrics", metricsHandler)

	// Credential-bearing endpoints share the coarse per-IP limit
	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(rateLimitConfig))

		r.Post("/auth/login", twoFactorHandler.Login)

		r.Route("/2fa", func(r chi.Router) {
			r.Post("/status", twoFactorHandler.Status)
			r.Post("/obtain", twoFactorHandler.Obtain)
			r.Post("/verify", twoFactorHandler.Verify)
			r.Post("/forget-device", twoFactorHandler.ForgetDevice)
		})
	})
}
