/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the collector app and portal

ROUTE GROUPS:
  /api/events/*    Event submission and listing
  /api/batches/*   Batch lifecycle
  /api/rules/*     Rule set management
  /api/dashboard   Aggregate metrics
  /api/public/*    Consumer portal (no auth; read-only)

SECURITY NOTE:
  No authentication middleware currently. Role enforcement belongs to the
  deployment's gateway; /api/public is intentionally open.

SEE ALSO:
  - handlers.go: handler implementations
  - cmd/server/main.go: server startup
*/
package api

import (
	"net/http"

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
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3004"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Event routes
		r.Route("/events", func(r chi.Router) {
			r.Post("/collection", h.SubmitCollectionEvent)
			r.Get("/collection", h.ListCollectionEvents)
			r.Post("/processing", h.SubmitProcessingStep)
			r.Get("/processing", h.ListProcessingSteps)
			r.Post("/quality", h.SubmitQualityTest)
			r.Get("/quality", h.ListQualityTests)
			r.Post("/custody", h.SubmitCustodyEvent)
		})

		// Batch routes
		r.Route("/batches", func(r chi.Router) {
			r.Post("/", h.CreateBatch)
			r.Get("/", h.ListBatches)
			r.Get("/{id}", h.GetBatch)
			r.Post("/{id}/mint", h.MintBatch)
			r.Post("/{id}/release", h.ReleaseBatch)
			r.Post("/{id}/recall", h.RecallBatch)
		})

		// Rule routes
		r.Route("/rules", func(r chi.Router) {
			r.Get("/{species}", h.ListRules)
			r.Put("/{species}", h.UpsertRule)
		})

		// Dashboard
		r.Get("/dashboard", h.GetDashboard)

		// Public consumer portal
		r.Route("/public", func(r chi.Router) {
			r.Get("/provenance/{slug}", h.GetProvenanceBundle)
			r.Get("/batch/{slug}", h.GetBatchBySlug)
		})
	})

	// Health check
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}
