// Package server wires the HTTP API onto a chi router.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/cloudres/internal/errors"
	"github.com/3leaps/cloudres/internal/server/handlers"
	"github.com/3leaps/cloudres/internal/server/middleware"
)

// Server is the HTTP front end of the orchestrator.
type Server struct {
	host string
	port int

	svc            handlers.RunService
	logger         *zap.Logger
	version        handlers.VersionInfo
	corsOrigins    []string
	testDataDir    string
	maxUploadBytes int64

	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration

	router chi.Router
	http   *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithService mounts the run endpoints backed by svc.
func WithService(svc handlers.RunService) Option {
	return func(s *Server) { s.svc = svc }
}

// WithLogger sets the request logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithVersion sets the /version payload.
func WithVersion(info handlers.VersionInfo) Option {
	return func(s *Server) { s.version = info }
}

// WithCORSOrigins sets the allowed browser origins.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithTestDataDir serves the example reads from dir.
func WithTestDataDir(dir string) Option {
	return func(s *Server) { s.testDataDir = dir }
}

// WithMaxUploadBytes caps upload request bodies.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) { s.maxUploadBytes = n }
}

// WithTimeouts sets the listener timeouts. Zero values keep the defaults.
func WithTimeouts(read, write, idle time.Duration) Option {
	return func(s *Server) {
		if read > 0 {
			s.readTimeout = read
		}
		if write > 0 {
			s.writeTimeout = write
		}
		if idle > 0 {
			s.idleTimeout = idle
		}
	}
}

// New builds the router. Nothing listens until Start.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:         host,
		port:         port,
		logger:       zap.NewNop(),
		version:      handlers.VersionInfo{Name: "cloudres", Version: "dev"},
		readTimeout:  30 * time.Second,
		writeTimeout: 30 * time.Second,
		idleTimeout:  120 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	s.http = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadTimeout:       s.readTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.writeTimeout,
		IdleTimeout:       s.idleTimeout,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.ErrorHandler)
	if len(s.corsOrigins) > 0 {
		r.Use(middleware.CORS(s.corsOrigins))
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apperrors.WriteJSON(w, http.StatusNotFound, apperrors.NewHTTPErrorResponse(
			apperrors.CodeNotFound, "route not found", nil, apperrors.RequestIDFromContext(req.Context())))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		apperrors.WriteJSON(w, http.StatusMethodNotAllowed, apperrors.NewHTTPErrorResponse(
			apperrors.CodeMethodNotAllowed, "method not allowed", nil, apperrors.RequestIDFromContext(req.Context())))
	})

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", handlers.VersionHandler(s.version))

	if s.testDataDir != "" {
		r.Get("/api/download-test-data/{filename}", handlers.TestData(s.testDataDir))
	}

	if s.svc != nil {
		h := handlers.NewRuns(s.svc, s.logger, s.maxUploadBytes)
		r.Post("/upload", h.Upload)
		r.Post("/runs", h.Submit)
		r.Get("/runs", h.List)
		r.Get("/runs/{run_id}", h.Get)
		r.Get("/status", h.Status)
		r.Post("/notify_completion", h.NotifyCompletion)
		r.Get("/results", h.Results)
		r.Get("/multiqc_report", h.QualityReport)
		r.Get("/nextflow_report", h.ExecutionReport)
	}
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Start listens until Shutdown. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
