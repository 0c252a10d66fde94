package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/raaihank/quackformers/internal/config"
	"github.com/raaihank/quackformers/internal/embeddings"
	"github.com/raaihank/quackformers/internal/logger"
	"github.com/raaihank/quackformers/internal/udf"
)

// Version is reported by /info.
const Version = "0.1.0"

// StatusReporter reports local model state for /health.
type StatusReporter interface {
	Statuses() []embeddings.Status
}

// Server serves the embedding functions over HTTP
type Server struct {
	config  config.ServerConfig
	logger  *logger.Logger
	catalog *udf.Catalog
	status  StatusReporter
	limiter *RateLimiter
	router  *mux.Router
	server  *http.Server
	started time.Time
}

// New creates a server for catalog. status may be nil when no local models are configured.
func New(cfg config.ServerConfig, catalog *udf.Catalog, status StatusReporter, log *logger.Logger) *Server {
	s := &Server{
		config:  cfg,
		logger:  log.WithComponent("server"),
		catalog: catalog,
		status:  status,
		router:  mux.NewRouter(),
		started: time.Now(),
	}
	if cfg.RateLimit.Enabled {
		s.limiter = NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/", s.handleRoot).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := s.router.NewRoute().Subrouter()
	api.Use(s.rateLimitMiddleware)
	for _, name := range []string{udf.FuncEmbed, udf.FuncEmbedJina, udf.FuncEmbedrock} {
		api.HandleFunc("/"+name, s.handleEmbed(name)).Methods("POST")
	}
	api.HandleFunc("/invoke", s.handleInvoke).Methods("POST")
}

// Handler returns the routed handler, for tests and embedding in other servers.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Stop is called
func (s *Server) Start() error {
	s.logger.Info("Starting quackformers server",
		zap.Int("port", s.config.Port),
		zap.Strings("functions", s.catalog.Names()),
		zap.Bool("rate_limit", s.limiter != nil),
	)

	if s.limiter != nil {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		s.limiter.StartCleanup(ctx, time.Minute, 10*time.Minute)
	}

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping quackformers server")
	return s.server.Shutdown(ctx)
}
