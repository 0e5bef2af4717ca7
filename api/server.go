/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the frontend

ROUTE GROUPS:
  /api/orgs/{orgID}/cases/{caseID}/fund/*     Retainer fund per case
  /api/orgs/{orgID}/fund/*                    Entry-level operations
  /api/orgs/{orgID}/cases/{caseID}/invoices   Invoice list/create
  /api/orgs/{orgID}/invoices/*                Invoice-level operations
  /api/scenarios/*                            Demo data (dev only)

SECURITY NOTE:
  No authentication middleware. Session handling and permission gating
  live in the surrounding application; this service trusts the org id in
  the path and scopes every store call by it.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
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
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/orgs/{orgID}", func(r chi.Router) {
			// Case-scoped fund routes
			r.Route("/cases/{caseID}", func(r chi.Router) {
				r.Get("/fund", h.GetFund)
				r.Post("/fund/topups", h.Topup)
				r.Post("/fund/adjustments", h.Adjust)

				r.Get("/invoices", h.ListInvoices)
				r.Post("/invoices", h.CreateInvoice)
			})

			// Entry-level routes
			r.Route("/fund/{entryID}", func(r chi.Router) {
				r.Put("/", h.UpdateEntry)
				r.Delete("/", h.RequestDeleteEntry)
				r.Post("/undo", h.UndoDeleteEntry)
			})

			// Invoice-level routes
			r.Route("/invoices/{invoiceID}", func(r chi.Router) {
				r.Get("/", h.GetInvoice)
				r.Put("/", h.EditInvoice)
				r.Delete("/", h.VoidInvoice)
				r.Post("/send", h.SendInvoice)
				r.Post("/payments", h.RecordPayment)
			})
		})

		// Demo scenario routes (dev only)
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
