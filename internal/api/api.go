// Package api provides the HTTP REST API server.
package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/good-yellow-bee/lynx/internal/aggregator"
	"github.com/good-yellow-bee/lynx/internal/api/alerts"
	"github.com/good-yellow-bee/lynx/internal/api/health"
	"github.com/good-yellow-bee/lynx/internal/api/middleware"
	"github.com/good-yellow-bee/lynx/internal/api/notifiers"
	"github.com/good-yellow-bee/lynx/internal/ingest"
	"github.com/good-yellow-bee/lynx/internal/storage"
)

// Config contains HTTP API server configuration.
type Config struct {
	Address         string
	JWTSecret       []byte
	HTTPTLSEnabled  bool
	HTTPTLSCertFile string
	HTTPTLSKeyFile  string
	// RateLimitPerUser bounds authenticated API requests per minute.
	RateLimitPerUser int
	// RateLimitIngest bounds HTTP telemetry requests per minute per agent IP.
	RateLimitIngest int
	MaxQueryRange   time.Duration
	QueryTimeout    time.Duration
	Verbose         bool
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.RateLimitPerUser == 0 {
		c.RateLimitPerUser = 300
	}
	if c.RateLimitIngest == 0 {
		c.RateLimitIngest = 600
	}
	if c.MaxQueryRange == 0 {
		c.MaxQueryRange = 30 * 24 * time.Hour
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = 10 * time.Second
	}
}

// Deps are the services the API exposes.
type Deps struct {
	Storage    storage.Storage
	Aggregator *aggregator.Aggregator
	// Ingest may be nil to disable HTTP ingestion.
	Ingest *ingest.Service
	// Rules is told about edited and deleted rules; may be nil.
	Rules alerts.RuleCache
	// Sender backs the notifier test endpoint; may be nil.
	Sender notifiers.Sender
}

// Server is the HTTP API server.
type Server struct {
	config        *Config
	deps          Deps
	server        *http.Server
	healthHandler *health.Handler
	userLimiter   *middleware.RateLimiter
	ingestLimiter *middleware.RateLimiter
}

// New creates a new API server.
func New(cfg *Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if deps.Aggregator == nil {
		return nil, fmt.Errorf("aggregator is required")
	}
	if len(cfg.JWTSecret) == 0 {
		return nil, fmt.Errorf("JWT secret is required")
	}

	cfg.SetDefaults()

	s := &Server{
		config:        cfg,
		deps:          deps,
		healthHandler: health.NewHandler(),
		userLimiter:   middleware.NewRateLimiter(cfg.RateLimitPerUser),
		ingestLimiter: middleware.NewRateLimiter(cfg.RateLimitIngest),
	}

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.setupRouter(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.QueryTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if cfg.HTTPTLSEnabled {
		s.server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
	}

	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run starts the HTTP server and blocks until context is canceled.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Address, err)
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener until context is canceled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	errChan := make(chan error, 1)

	go func() {
		log.Printf("HTTP API listening on %s", listener.Addr())
		var err error
		if s.config.HTTPTLSEnabled {
			err = s.server.ServeTLS(listener, s.config.HTTPTLSCertFile, s.config.HTTPTLSKeyFile)
		} else {
			err = s.server.Serve(listener)
		}
		if err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	defer s.userLimiter.Close()
	defer s.ingestLimiter.Close()

	select {
	case <-ctx.Done():
		log.Printf("shutting down HTTP API server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// RegisterHealthChecker adds a health checker to the server.
func (s *Server) RegisterHealthChecker(c health.Checker) {
	if s.healthHandler != nil {
		s.healthHandler.RegisterChecker(c)
	}
}
