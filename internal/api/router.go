package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/lynx/internal/api/alerts"
	"github.com/good-yellow-bee/lynx/internal/api/auth"
	"github.com/good-yellow-bee/lynx/internal/api/ingestion"
	"github.com/good-yellow-bee/lynx/internal/api/middleware"
	"github.com/good-yellow-bee/lynx/internal/api/notifiers"
	"github.com/good-yellow-bee/lynx/internal/api/systems"
)

// setupRouter creates and configures the chi router with all routes.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	// JWT TTL only matters when issuing; the API only validates.
	jwtService := auth.NewJWTService(s.config.JWTSecret, 0)

	r.Use(middleware.RequestLogger(s.config.Verbose))
	r.Use(middleware.PrometheusMiddleware)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		JSONError(w, ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		JSONError(w, ErrMethodNotAllowed)
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Agent routes authenticate with the per-system agent key.
		if s.deps.Ingest != nil {
			r.Route("/ingest", func(r chi.Router) {
				r.Use(middleware.RateLimitByIP(s.ingestLimiter))
				h := ingestion.NewHandler(s.deps.Ingest)
				r.Post("/metrics", h.Metrics)
				r.Post("/disks", h.Disks)
			})
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.JWTAuth(jwtService))
			r.Use(middleware.RateLimitByUser(s.userLimiter))

			r.Route("/systems", func(r chi.Router) {
				h := systems.NewHandler(s.deps.Storage, s.deps.Aggregator, s.config.QueryTimeout, s.config.MaxQueryRange)
				r.Get("/", h.List)
				r.Post("/", h.Create)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.GetByID)
					r.Put("/", h.Update)
					r.Delete("/", h.Delete)
					r.Get("/metrics", h.Metrics)
					r.Get("/disks", h.Disks)
					r.Get("/chart", h.Chart)
					r.Get("/history", h.History)
				})
			})

			r.Route("/alerts", func(r chi.Router) {
				h := alerts.NewHandler(s.deps.Storage, s.deps.Rules)
				r.Get("/", h.List)
				r.Post("/", h.Create)
				r.Post("/validate", h.Validate)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.GetByID)
					r.Put("/", h.Update)
					r.Delete("/", h.Delete)
					r.Get("/history", h.History)
					r.Put("/systems/{systemID}", h.AttachSystem)
					r.Delete("/systems/{systemID}", h.DetachSystem)
					r.Put("/notifiers/{notifierID}", h.AttachNotifier)
					r.Delete("/notifiers/{notifierID}", h.DetachNotifier)
				})
			})

			r.Route("/notifiers", func(r chi.Router) {
				h := notifiers.NewHandler(s.deps.Storage, s.deps.Sender)
				r.Get("/", h.List)
				r.Post("/", h.Create)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.GetByID)
					r.Put("/", h.Update)
					r.Delete("/", h.Delete)
					r.Post("/test", h.Test)
				})
			})
		})
	})

	r.Get("/health", s.healthHandler.Health)
	r.Get("/health/live", s.healthHandler.Live)
	r.Get("/health/ready", s.healthHandler.Ready)

	return r
}
