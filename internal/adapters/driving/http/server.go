package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/custodia-labs/docchat/internal/core/ports/driven"
	"github.com/custodia-labs/docchat/internal/core/ports/driving"
	"github.com/custodia-labs/docchat/internal/metrics"
)

// Pinger is a simple health check interface
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     chi.Router
	version    string
	logger     *zap.Logger

	// Services
	ingestion driving.IngestionService
	answers   driving.AnswerService
	documents driving.DocumentService
	auth      driven.AuthAdapter

	// Readiness checks by dependency name
	checks map[string]Pinger

	shutdownTimeout time.Duration
}

// Config holds server configuration
type Config struct {
	Host            string
	Port            int
	Version         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	Logger          *zap.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		Version:         "dev",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    5 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Services groups the driving ports served over HTTP
type Services struct {
	Ingestion driving.IngestionService
	Answers   driving.AnswerService
	Documents driving.DocumentService
}

// NewServer creates a new HTTP server
func NewServer(cfg Config, services Services, auth driven.AuthAdapter, checks map[string]Pinger) *Server {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if checks == nil {
		checks = map[string]Pinger{}
	}

	s := &Server{
		router:          chi.NewRouter(),
		version:         cfg.Version,
		logger:          log,
		ingestion:       services.Ingestion,
		answers:         services.Answers,
		documents:       services.Documents,
		auth:            auth,
		checks:          checks,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = 30 * time.Second
	}

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.setupRoutes(cfg.AllowedOrigins)
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(allowedOrigins []string) {
	r := s.router
	r.Use(recoverer(s.logger))
	r.Use(chimiddleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(metrics.Middleware())
	if len(allowedOrigins) > 0 {
		r.Use(NewCORSMiddleware(allowedOrigins).Handler)
	}

	// Health endpoints (no auth)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/version", s.handleVersion)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	authMiddleware := NewAuthMiddleware(s.auth)

	r.Route("/api/v1/documents", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)

		r.Post("/", s.handleCreateDocument)
		r.Get("/", s.handleListDocuments)
		r.Get("/{id}", s.handleGetDocument)
		r.Post("/{id}/reingest", s.handleReingest)
		r.Get("/{id}/messages", s.handleListMessages)
		r.Post("/{id}/messages", s.handleAsk)
	})
}

// Handler returns the routed handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the listen address
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Stop stops the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
