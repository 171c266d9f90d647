package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/michaelbrown/runbox/internal/config"
	"github.com/michaelbrown/runbox/internal/language"
	"github.com/michaelbrown/runbox/internal/pipeline"
	"github.com/michaelbrown/runbox/internal/scoring"
	"github.com/michaelbrown/runbox/internal/storage"
)

// Server is the HTTP front end of the execution pipeline.
type Server struct {
	cfg       *config.Config
	pipeline  *pipeline.Pipeline
	languages *language.Registry
	rubrics   *scoring.Registry
	store     storage.Store
	limiter   *ipRateLimiter
	logger    *zerolog.Logger
	router    chi.Router
	http      *http.Server
	// ctx ends when Shutdown is called; background loops watch it.
	ctx  context.Context
	stop context.CancelFunc
}

// New creates a new Server. store may be nil when the ledger is disabled.
func New(cfg *config.Config, p *pipeline.Pipeline, languages *language.Registry, rubrics *scoring.Registry, store storage.Store, logger *zerolog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		pipeline:  p,
		languages: languages,
		rubrics:   rubrics,
		store:     store,
		logger:    logger,
		router:    chi.NewRouter(),
	}
	if cfg.RateLimit.Enabled {
		s.limiter = newIPRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}
	s.setupRoutes()
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.ctx, s.stop = context.WithCancel(context.Background())
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(s.recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, pipeline.ErrorResponse(http.StatusNotFound, "not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, pipeline.ErrorResponse(http.StatusMethodNotAllowed, "method not allowed"))
	})

	r.Route("/api", func(r chi.Router) {
		// WebSocket (no JSON content-type)
		r.Get("/execute/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(jsonContentType)
			if s.limiter != nil {
				r.Use(s.limiter.middleware)
			}
			r.Post("/execute/", s.handleExecute)
			r.Post("/execute", s.handleExecute)
		})

		r.Group(func(r chi.Router) {
			r.Use(jsonContentType)
			r.Get("/languages", s.handleListLanguages)
			r.Get("/rubrics", s.handleListRubrics)
			r.Get("/rubrics/{id}", s.handleGetRubric)
			r.Get("/executions", s.handleListExecutions)
			r.Get("/executions/summary", s.handleExecutionSummary)
			r.Get("/executions/{id}", s.handleGetExecution)
		})
	})

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// jsonContentType sets Content-Type to application/json for API routes.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// recoverer turns a panic into the standard internal-error reply.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error().
					Interface("panic", rec).
					Str("request_id", middleware.GetReqID(r.Context())).
					Msg("handler panic")
				writeResponse(w, pipeline.ErrorResponse(http.StatusInternalServerError, "internal error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Start listens on the given port (0 picks a free one) and serves until
// Shutdown is called, when it returns http.ErrServerClosed.
func (s *Server) Start(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("listening on port %d: %w", port, err)
	}
	if s.limiter != nil {
		go s.limiter.cleanup(s.ctx, time.Minute, 10*time.Minute)
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("runbox server starting")
	return s.http.Serve(ln)
}

// Shutdown gracefully shuts down the server, waiting for in-flight
// executions until ctx is done. It is safe to call before or while Start runs.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down server")
	s.stop()
	return s.http.Shutdown(ctx)
}
