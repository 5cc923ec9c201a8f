/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, echoed in access logs
  2. RealIP:     Client address behind a proxy
  3. Logger:     Structured access log (zap)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /health               Liveness + database ping
  /metrics              Prometheus
  /api/services         Bookable service types
  /api/plans/*          Plan configuration
  /api/members          Member directory
  /api/assignments/*    Plan assignment + wallet initialization
  /api/users/{userId}/* Wallet views and admin adjustments
  /api/bookings/{type}/* Booking lifecycle per service type
  /api/payments/*       Member payments
  /api/admin/*          Operational triggers
  /api/scenarios/*      Demo scenarios

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/carepay/benefit-wallet/obs"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(h.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor-ID", "X-Actor-Role"},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)
	r.Handle("/metrics", obs.MetricsHandler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/services", h.ListServices)

		// Plan routes
		r.Route("/plans", func(r chi.Router) {
			r.Post("/", h.CreatePlan)
			r.Get("/{id}", h.GetPlan)
		})

		r.Post("/members", h.CreateMember)

		r.Route("/assignments", func(r chi.Router) {
			r.Post("/", h.CreateAssignment)
			r.Delete("/{id}", h.DeleteAssignment)
		})

		// User / wallet routes
		r.Route("/users/{userId}", func(r chi.Router) {
			r.Get("/assignments", h.GetAssignments)
			r.Get("/summaries", h.ListSummaries)
			r.Route("/wallet", func(r chi.Router) {
				r.Get("/", h.GetWallet)
				r.Get("/transactions", h.GetWalletTransactions)
				r.Get("/check", h.CheckBalance)
				r.Post("/topup", h.TopupWallet)
				r.Post("/debit", h.DebitWallet)
				r.Post("/credit", h.CreditWallet)
			})
		})

		// Booking routes, one set per service type
		r.Route("/bookings/{type}", func(r chi.Router) {
			r.Post("/quote", h.withService(h.QuoteBooking))
			r.Post("/", h.withService(h.CreateBooking))
			r.Get("/", h.withService(h.ListBookings))
			r.Get("/{id}", h.withService(h.GetBooking))
			r.Post("/{id}/confirm", h.withService(h.ConfirmBooking))
			r.Post("/{id}/cancel", h.withService(h.CancelBooking))
			r.Post("/{id}/no-show", h.withService(h.NoShowBooking))
			r.Post("/{id}/complete", h.withService(h.CompleteBooking))
			r.Post("/{id}/reschedule", h.withService(h.RescheduleBooking))
		})

		r.Route("/payments", func(r chi.Router) {
			r.Get("/{id}", h.GetPayment)
			r.Post("/{id}/pay", h.PayPayment)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/no-shows/sweep", h.SweepNoShows)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}

// accessLog replaces chi's text logger with one zap line per request.
func accessLog(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
