/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the web client

ADMIN GUARD:
  Admin routes require "Authorization: Bearer <token>" matching the
  configured token. An empty configured token disables the admin surface
  entirely; it never means "open".

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Settings routes
		r.Get("/settings", h.GetSettings)
		r.With(h.adminOnly).Post("/settings", h.UpdateSettings)

		// Transaction routes
		r.Route("/transactions", func(r chi.Router) {
			r.Post("/calculate", h.Calculate)
			r.Post("/", h.CreateTransaction)
			r.Get("/", h.ListTransactions)
			r.Get("/{id}/otp-poll", h.PollAuthCode)
			r.Post("/{id}/reset", h.ResetAuthCode)
		})

		// Customer routes
		r.Post("/customers/login", h.Login)
		r.With(h.adminOnly).Get("/customers", h.ListCustomers)

		// OTP pool routes
		r.Post("/otps/refresh", h.RefreshOTPs)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(h.adminOnly)
			r.Post("/sync-all", h.SyncAll)
		})
	})

	return r
}

// adminOnly rejects requests without the configured bearer token.
func (h *Handler) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if h.AdminToken == "" || token == "" || token != h.AdminToken {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Unauthorized", Code: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
