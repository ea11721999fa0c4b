package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mattjoyce/courier/internal/message"
	"github.com/mattjoyce/courier/internal/metrics"
	"github.com/mattjoyce/courier/internal/query"
	"github.com/mattjoyce/courier/internal/webhook"
)

// Ingester processes webhook deliveries.
type Ingester interface {
	Ingest(ctx context.Context, body []byte, signature string) (webhook.Result, error)
	Reject(outcome webhook.Outcome) webhook.Result
}

// Store is the read side of the message store plus readiness.
type Store interface {
	query.Reader
	Stats(ctx context.Context) (message.Stats, error)
	Ping(ctx context.Context) error
}

// Config holds API server configuration
type Config struct {
	Listen          string
	MaxBodySize     int64
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// ReadyTimeout bounds the store ping behind /health/ready.
	ReadyTimeout time.Duration
	// Version is reported in the OpenAPI document.
	Version string
}

const (
	defaultMaxBodySize  = 1 << 20
	defaultReadyTimeout = 2 * time.Second
)

// Server represents the HTTP API server
type Server struct {
	config   Config
	ingestor Ingester
	store    Store
	queries  *query.Service
	metrics  *metrics.Registry
	logger   *slog.Logger
	server   *http.Server
}

// New creates a new API server instance
func New(config Config, ingestor Ingester, store Store, registry *metrics.Registry, logger *slog.Logger) *Server {
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = defaultMaxBodySize
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 10 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 5 * time.Second
	}
	if config.ReadyTimeout <= 0 {
		config.ReadyTimeout = defaultReadyTimeout
	}
	if config.Version == "" {
		config.Version = "dev"
	}
	if registry == nil {
		registry = metrics.New(false)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		config:   config,
		ingestor: ingestor,
		store:    store,
		queries:  query.NewService(store),
		metrics:  registry,
		logger:   logger,
	}
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start listens on config.Listen and serves until ctx is cancelled (blocking).
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
// A clean shutdown returns nil.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:      s.setupRoutes(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", ln.Addr().String())

	// Run server in a goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for context cancellation or server error
	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, kindNotFound, "no such route", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, kindMethodNotAllowed, "method not allowed", nil)
	})

	// Routes
	r.Post("/webhook", s.handleWebhook)
	r.Get("/messages", s.handleListMessages)
	r.Get("/stats", s.handleStats)
	r.Get("/openapi.json", s.handleOpenAPI)

	// Unauthenticated ops endpoints.
	r.Get("/health/live", s.handleLive)
	r.Get("/health/ready", s.handleReady)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	return r
}
