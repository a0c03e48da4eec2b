package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seantiz/concord/internal/coordinator"
	"github.com/seantiz/concord/internal/executor"
	"github.com/seantiz/concord/internal/store"
)

const (
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
)

// JobService submits jobs to a Master and reports their status.
type JobService interface {
	SubmitJob(ctx context.Context, jobType string, config json.RawMessage, algorithmConfig string) (string, error)
	JobStatus(ctx context.Context, jobID string) (string, error)
}

// LogSource streams live log lines of a running task.
type LogSource interface {
	Subscribe(taskID string) (<-chan string, func())
}

// PartyLister reports the coordinator's current registrations.
type PartyLister interface {
	Snapshot() coordinator.Snapshot
}

// defaultService labels metrics and health output when Options.Service is
// empty.
const defaultService = "concord"

// Options selects the route groups a Server exposes. Nil dependencies leave
// their routes unregistered, so each binary mounts only its own surface.
type Options struct {
	// Service names the binary in metrics and /healthz.
	Service string
	// Health maps component names to readiness checks run by /healthz.
	Health map[string]func(context.Context) error

	Jobs      JobService
	JobStore  store.JobStore
	Tasks     store.TaskStore
	Logs      LogSource
	Executors *executor.Registry
	Parties   PartyLister
}

// Server wraps the chi router and the dependencies of one binary.
type Server struct {
	router *chi.Mux
	opts   Options
	logger *slog.Logger
	addr   string

	httpServer *http.Server
	listener   net.Listener
	errCh      chan error
}

// NewServer creates and configures a new HTTP server.
func NewServer(addr string, opts Options, logger *slog.Logger) *Server {
	srv := &Server{
		router: chi.NewRouter(),
		opts:   opts,
		logger: logger,
		addr:   addr,
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(newRequestMetrics(srv.service()).middleware)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()

	return srv
}

// routes registers the route groups enabled by the options.
func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", metricsHandler())

	if s.opts.Jobs != nil {
		s.router.Post("/submit", s.handleSubmit)
		s.router.Post("/query", s.handleQuery)
	}
	if s.opts.JobStore != nil {
		s.router.Get("/v1/jobs", s.handleListJobs)
		s.router.Get("/v1/jobs/{id}", s.handleGetJob)
	}
	if s.opts.JobStore != nil || s.opts.Tasks != nil {
		s.router.Get("/v1/stats", s.handleGetStats)
	}
	if s.opts.Tasks != nil {
		s.router.Route("/v1/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Get("/{id}", s.handleGetTask)
			r.Get("/{id}/logs", s.handleStreamLogs)
			r.Get("/{id}/logs/history", s.handleGetLogHistory)
		})
	}
	if s.opts.Executors != nil {
		s.router.Get("/v1/executors", s.handleListExecutors)
	}
	if s.opts.Parties != nil {
		s.router.Get("/v1/parties", s.handleListParties)
	}
}

func (s *Server) service() string {
	if s.opts.Service == "" {
		return defaultService
	}
	return s.opts.Service
}

// Router returns the chi router.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start binds the listen address and serves in the background. Bind errors
// are returned directly; later serve errors surface from Shutdown.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.listener = lis
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}
	s.errCh = make(chan error, 1)

	go func() {
		s.logger.Info("http server listening", "addr", lis.Addr().String())
		if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errCh <- err
		}
		close(s.errCh)
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx
// expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-s.errCh; err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

// loggingMiddleware logs each request using the structured logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
