// Package api provides the HTTP server and routing.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vectos/avro-schema-registry/internal/api/handlers"
	"github.com/vectos/avro-schema-registry/internal/config"
	"github.com/vectos/avro-schema-registry/internal/metrics"
	"github.com/vectos/avro-schema-registry/internal/registry"
)

// Server represents the HTTP server.
type Server struct {
	config   *config.Config
	registry *registry.Registry
	router   chi.Router
	server   *http.Server
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewServer creates a new HTTP server. m is nil-safe, but a caller that also
// constructed reg via registry.New with a non-nil Metrics should pass that
// same instance here so the domain counters registry.Registry records show
// up on this server's /metrics endpoint.
func NewServer(cfg *config.Config, reg *registry.Registry, logger *slog.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	s := &Server{
		config:   cfg,
		registry: reg,
		logger:   logger,
		metrics:  m,
	}

	s.setupRouter()
	return s
}

// Metrics returns the metrics instance for recording custom metrics.
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

// setupRouter configures the HTTP router: a flat route table, no context
// scoping, no auth, no admin surface.
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(s.metrics.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	h := handlers.New(s.registry)

	r.Get("/health/live", h.LivenessCheck)
	r.Get("/health/ready", h.ReadinessCheck)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})

	s.mountRegistryRoutes(r, h)

	s.router = r
}

// mountRegistryRoutes mounts the schema registry's wire contract.
func (s *Server) mountRegistryRoutes(r chi.Router, h *handlers.Handler) {
	r.Get("/schemas/ids/{id}", h.GetSchemaByID)

	r.Get("/subjects", h.ListSubjects)
	r.Post("/subjects/{subject}", h.LookupSchema)
	r.Post("/subjects/{subject}/versions", h.RegisterSchema)
	r.Get("/subjects/{subject}/versions", h.GetVersions)
	r.Get("/subjects/{subject}/versions/{version}", h.GetVersion)
	r.Get("/subjects/{subject}/versions/{version}/schema", h.GetSchemaText)

	r.Post("/compatibility/subjects/{subject}/versions/{version}", h.CheckCompatibility)

	r.Get("/config", h.GetGlobalConfig)
	r.Put("/config", h.SetGlobalConfig)
	r.Get("/config/{subject}", h.GetSubjectConfig)
	r.Put("/config/{subject}", h.SetSubjectConfig)
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote", r.RemoteAddr),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := s.config.Address()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.Server.WriteTimeout) * time.Second,
	}

	s.logger.Info("starting server", slog.String("address", addr))
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the HTTP router for testing.
func (s *Server) Router() http.Handler {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Address returns the server address.
func (s *Server) Address() string {
	return fmt.Sprintf("http://%s", s.config.Address())
}
