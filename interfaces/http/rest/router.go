// Package rest assembles the HTTP API.
package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"lessonmap-backend/application/assistant"
	"lessonmap-backend/application/commit"
	"lessonmap-backend/application/ports"
	"lessonmap-backend/interfaces/http/rest/handlers"
	"lessonmap-backend/interfaces/http/rest/middleware"
	pkgerrors "lessonmap-backend/pkg/errors"
	"lessonmap-backend/pkg/observability"
)

// Options toggles optional parts of the router.
type Options struct {
	EnableCORS     bool
	EnableMetrics  bool
	AllowedOrigins []string
	// Debug includes internal error details in responses.
	Debug bool
}

// Router creates and configures the HTTP router
type Router struct {
	store     ports.GraphStore
	engine    *commit.Engine
	assistant *assistant.Service
	metrics   *observability.Collector
	logger    *zap.Logger
	opts      Options
}

// NewRouter creates a new router instance
func NewRouter(
	store ports.GraphStore,
	engine *commit.Engine,
	assistant *assistant.Service,
	metrics *observability.Collector,
	logger *zap.Logger,
	opts Options,
) *Router {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	return &Router{
		store:     store,
		engine:    engine,
		assistant: assistant,
		metrics:   metrics,
		logger:    logger,
		opts:      opts,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	errs := pkgerrors.NewErrorHandler(rt.logger, rt.opts.Debug)
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(errs.Middleware)
	router.Use(middleware.Logger(rt.logger))
	if rt.metrics != nil {
		router.Use(middleware.Metrics(rt.metrics))
	}

	if rt.opts.EnableCORS {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   rt.opts.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", middleware.ActorHeader},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	router.Get("/health", rt.healthCheck)
	router.Get("/ready", rt.readinessCheck)
	if rt.opts.EnableMetrics && rt.metrics != nil {
		router.Handle("/metrics", rt.metrics.Handler())
	}

	graphs := handlers.NewGraphHandler(rt.store, rt.engine, errs, rt.logger)
	cards := handlers.NewCardHandler(rt.store, rt.engine, errs, rt.logger)
	ai := handlers.NewAssistantHandler(rt.store, rt.assistant, errs, rt.logger)

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireActor(errs))

		r.Route("/graphs", func(r chi.Router) {
			r.Post("/", graphs.CreateGraph)
			r.Get("/", graphs.ListGraphs)

			r.Route("/{graphID}", func(r chi.Router) {
				r.Get("/", graphs.GetGraph)
				r.Patch("/", graphs.UpdateGraph)
				r.Get("/audit", graphs.ListAudit)

				r.Post("/cards", cards.CreateCard)
				r.Patch("/cards/{cardID}", cards.UpdateCard)
				r.Delete("/cards/{cardID}", cards.DeleteCard)
				r.Post("/cards/{cardID}/ai/{op}", ai.Suggest)

				r.Post("/links", cards.CreateLink)
				r.Patch("/links/{linkID}", cards.RelabelLink)
				r.Delete("/links/{linkID}", cards.DeleteLink)

				r.Post("/ai/generate", ai.Generate)
				r.Post("/ai/commit", ai.Commit)
			})
		})
	})

	return router
}

func (rt *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

// readinessCheck reports ready once the store answers a query.
func (rt *Router) readinessCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := rt.store.ListGraphs(req.Context(), "readiness-check"); err != nil {
		rt.logger.Warn("Readiness check failed", zap.Error(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"unavailable"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}
