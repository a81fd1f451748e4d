// Package server provides the HTTP API for mneme.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hyperjump/mneme/internal/config"
	"github.com/hyperjump/mneme/internal/memory"
	"github.com/hyperjump/mneme/internal/models"
)

// MemoryEngine is the part of memory.Engine the API uses.
type MemoryEngine interface {
	Add(ctx context.Context, text string) (int64, error)
	Search(ctx context.Context, query string, k int, threshold *float64) ([]models.SearchHit, error)
	Stats() memory.Stats
	Ready() bool
}

// RecordStats reports on the durable record store.
type RecordStats interface {
	Count(ctx context.Context) (int64, error)
	Driver() string
}

// Server is the HTTP server for the mneme API.
type Server struct {
	engine   MemoryEngine
	records  RecordStats
	config   *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *httpMetrics
	limiter  *rate.Limiter
	server   *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithRegistry serves /metrics from reg and registers the HTTP collectors on it.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		if reg != nil {
			s.registry = reg
		}
	}
}

// NewServer creates a server with the given dependencies.
func NewServer(engine MemoryEngine, records RecordStats, cfg *config.Config, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine:  engine,
		records: records,
		config:  cfg,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	s.metrics = newHTTPMetrics(s.registry)
	if cfg.Server.RateLimit > 0 {
		burst := cfg.Server.RateBurst
		if burst <= 0 {
			burst = int(cfg.Server.RateLimit) + 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.Server.RateLimit), burst)
	}
	s.server = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	if s.config.Server.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.config.Server.RequestTimeout))
	}

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Post("/add", s.handleAdd)
		r.Post("/search", s.handleSearch)
	})
	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return r
}

// Start starts the HTTP server and blocks until it stops.
// It returns http.ErrServerClosed after Stop.
func (s *Server) Start() error {
	s.logger.Info("Starting server", zap.String("addr", s.server.Addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
