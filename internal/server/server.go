// Package server exposes the Hauk-compatible publisher API and the
// subscriber stream endpoints over HTTP.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ducktracker/ducktracker/internal/auth"
	"github.com/ducktracker/ducktracker/internal/config"
	"github.com/ducktracker/ducktracker/internal/engine"
	"github.com/ducktracker/ducktracker/internal/metrics"
)

// Server holds the handler dependencies. The engine handle is threaded
// explicitly; there is no ambient global state.
type Server struct {
	cfg     *config.Config
	hub     *engine.Hub
	gate    *auth.Gate
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewServer wires the HTTP layer to the engine.
func NewServer(cfg *config.Config, hub *engine.Hub, gate *auth.Gate, collector *metrics.Collector, logger *zap.Logger) *Server {
	return &Server{
		cfg:     cfg,
		hub:     hub,
		gate:    gate,
		metrics: collector,
		logger:  logger,
	}
}

// Router builds the chi router with all routes and middleware. The .php
// aliases keep stock Hauk 1.x mobile clients working.
func (s *Server) Router(streamHandlers ...func(chi.Router)) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(zapLoggerMiddleware(s.logger))

	loginLimiter := newIPRateLimiter(1, 5)

	r.Route("/api", func(api chi.Router) {
		api.Post("/create", s.handleCreate)
		api.Post("/create.php", s.handleCreate)
		api.Post("/post", s.handlePost)
		api.Post("/post.php", s.handlePost)
		api.Post("/stop", s.handleStop)
		api.Post("/stop.php", s.handleStop)

		api.With(rateLimitMiddleware(loginLimiter)).Post("/login", s.handleLogin)
		api.Get("/stream", s.handleStream)
		api.Get("/health", s.handleHealth)

		for _, mount := range streamHandlers {
			mount(api)
		}
	})

	r.Method(http.MethodGet, "/metrics", s.metrics.Handler(s.cfg.MetricsUser, s.cfg.MetricsPass))

	return r
}
