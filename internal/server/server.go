package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/me/cmdbase/internal/robot"
	"github.com/me/cmdbase/internal/store"
)

// Server is the cmdbase dashboard API.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	startTime time.Time
	loop      *robot.Loop
	store     store.Store // optional; journal endpoints are only routed when set
	version   string
	timeout   time.Duration
	ssePeriod time.Duration
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithStore enables the journal endpoints.
func WithStore(st store.Store) Option {
	return func(s *Server) {
		s.store = st
	}
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithLoopTimeout bounds how long a handler waits for the robot loop.
func WithLoopTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.timeout = d
	}
}

// WithStreamPeriod sets how often the SSE stream samples the scheduler.
func WithStreamPeriod(d time.Duration) Option {
	return func(s *Server) {
		s.ssePeriod = d
	}
}

// New creates a new Server with all routes registered. Handlers reach the
// scheduler only through loop.Do, so loop must be running.
func New(loop *robot.Loop, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "server"),
		startTime: time.Now(),
		loop:      loop,
		version:   "dev",
		timeout:   2 * time.Second,
		ssePeriod: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.handleDiscovery)
		r.Get("/health", s.handleHealth)

		r.Route("/scheduler", func(r chi.Router) {
			r.Get("/", s.handleGetScheduler)
			r.Post("/cancel-all", s.handleCancelAll)
			r.Post("/tasks/{id}/cancel", s.handleCancelTask)
		})

		r.Route("/robot", func(r chi.Router) {
			r.Get("/mode", s.handleGetMode)
			r.Put("/mode", s.handleSetMode)
		})

		if s.store != nil {
			r.Get("/events", s.handleListEvents)
			r.Get("/runs", s.handleListRuns)
		}

		r.Get("/sse/scheduler", s.handleSSEScheduler)
	})
}
