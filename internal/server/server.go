package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/me/flightlogic/internal/scheduler"
	"github.com/me/flightlogic/internal/store"
	"github.com/me/flightlogic/pkg/model"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// QueueReader exposes the live scheduler state. *scheduler.TaskManager
// implements it.
type QueueReader interface {
	Snapshot() scheduler.QueueSnapshot
	StateOf(rec *model.Task) model.TaskState
}

// Server is the read-only status API.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	store     store.Store
	queues    QueueReader
	kinds     []string
	bootID    string
	startTime time.Time
}

// Option configures optional Server fields.
type Option func(*Server)

// WithBootID sets the boot identifier reported by /health.
func WithBootID(id string) Option {
	return func(s *Server) { s.bootID = id }
}

// WithPluginKinds lists the registered plugin kinds, including those not yet
// loaded into the store.
func WithPluginKinds(kinds []string) Option {
	return func(s *Server) { s.kinds = kinds }
}

// New creates a new Server with all routes registered.
func New(st store.Store, queues QueueReader, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "server"),
		store:     st,
		queues:    queues,
		startTime: time.Now(),
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

// ListenAndServe serves on addr until ctx is cancelled, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server starting", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("status server stopped")
	return nil
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
		r.Get("/queues", s.handleQueues)

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Get("/{id}", s.handleGetTask)
		})

		r.Get("/logs", s.handleListLogs)
		r.Get("/data", s.handleListData)
		r.Get("/packets", s.handleListPackets)
		r.Get("/plugins", s.handleListPlugins)
	})
}
