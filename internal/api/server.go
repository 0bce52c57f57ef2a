package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mailgate/mailgate/internal/config"
	"github.com/mailgate/mailgate/internal/dispatch"
	"github.com/mailgate/mailgate/internal/keys"
	"github.com/mailgate/mailgate/internal/metrics"
	"github.com/mailgate/mailgate/internal/queue"
)

// Server is the HTTP API server
type Server struct {
	router       *chi.Mux
	httpServer   *http.Server
	orchestrator *dispatch.Orchestrator
	keys         *keys.Repository
	spool        queue.Queue
	metrics      *metrics.Metrics
	config       *config.APIConfig
	version      string
	logger       *slog.Logger
	startTime    time.Time
}

// NewServer creates a new API server. metrics may be nil when the
// metrics listener is disabled.
func NewServer(orch *dispatch.Orchestrator, keyRepo *keys.Repository, spool queue.Queue, m *metrics.Metrics, cfg *config.APIConfig, version string, logger *slog.Logger) *Server {
	s := &Server{
		router:       chi.NewRouter(),
		orchestrator: orch,
		keys:         keyRepo,
		spool:        spool,
		metrics:      m,
		config:       cfg,
		version:      version,
		logger:       logger,
		startTime:    time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	if s.metrics != nil {
		s.router.Use(s.metrics.HTTPMiddleware)
	}
	s.router.Use(middleware.Recoverer)

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Key-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/send", s.handleSend)
			r.Get("/usage", s.handleUsage)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(s.adminMiddleware)

			r.Get("/keys", s.handleKeysList)
			r.Post("/keys", s.handleKeysCreate)
			r.Post("/keys/{id}/activate", s.handleKeyActivate)
			r.Post("/keys/{id}/deactivate", s.handleKeyDeactivate)
		})
	})
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:           s.config.ListenAddr,
		Handler:        s.router,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Router exposes the router for tests
func (s *Server) Router() http.Handler {
	return s.router
}
