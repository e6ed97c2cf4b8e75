package api

import (
	"log/slog"
	"net/http"

	"github.com/Priya8975/error-ingest/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Deps are the services the router exposes.
type Deps struct {
	Ingester     Ingester
	Symbolicator Symbolicator
	Store        ReadStore
	Verifier     TokenVerifier
	Metrics      *metrics.Collector
	Health       map[string]Pinger
	Version      string
	Logger       *slog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// Browser clients post from arbitrary tenant origins.
	r.Use(corsMiddleware)

	ingestHandler := NewIngestHandler(d.Ingester, d.Logger)
	symHandler := NewSymbolicateHandler(d.Symbolicator, d.Logger)
	eventHandler := NewEventHandler(d.Store)
	issueHandler := NewIssueHandler(d.Store)
	statsHandler := NewStatsHandler(d.Store)

	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", HealthHandler(d.Version, d.Health))

		r.With(optionalActor(d.Verifier)).Post("/ingest", ingestHandler.Create)

		r.Group(func(r chi.Router) {
			r.Use(requireOperator(d.Verifier))

			r.Post("/symbolicate", symHandler.Create)
			r.Get("/events/{id}", eventHandler.Get)

			r.Route("/issues", func(r chi.Router) {
				r.Get("/", issueHandler.List)
				r.Get("/{id}", issueHandler.Get)
				r.Get("/{id}/events", issueHandler.Events)
			})

			r.Get("/error-catalog", issueHandler.Catalog)
			r.Get("/stats", statsHandler.Stats)
		})
	})

	return r
}

// corsMiddleware adds CORS headers for browser clients.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Tenant-Hint")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
