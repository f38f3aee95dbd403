// Package server provides the agent-facing gRPC ingestion server.
package server

import (
	"context"
	"fmt"
	"log"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/good-yellow-bee/lynx/internal/ingest"
	"github.com/good-yellow-bee/lynx/internal/security"
)

// Config holds server configuration.
type Config struct {
	GRPCAddress string
	Verbose     bool
	// TLS enables mutual TLS when set. Without it agent keys travel in
	// plaintext, so only leave it unset behind a trusted network.
	TLS *security.ServerTLSConfig
}

// Server is the Lynx gRPC ingestion server.
type Server struct {
	config     *Config
	grpcServer *grpc.Server
	handler    *Handler
}

// New creates a new gRPC server serving svc.
func New(cfg *Config, svc *ingest.Service) (*Server, error) {
	handler := NewHandler(svc, cfg.Verbose)

	var creds credentials.TransportCredentials
	if cfg.TLS != nil {
		var err error
		creds, err = security.LoadServerTLS(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("load TLS credentials: %w", err)
		}
	} else {
		log.Printf("WARNING: gRPC server running without TLS, agent keys are sent in plaintext")
		creds = insecure.NewCredentials()
	}

	grpcServer := grpc.NewServer(grpc.Creds(creds))
	grpcServer.RegisterService(&serviceDesc, handler)

	return &Server{
		config:     cfg,
		grpcServer: grpcServer,
		handler:    handler,
	}, nil
}

// Run starts the server and blocks until context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.GRPCAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.GRPCAddress, err)
	}

	log.Printf("gRPC server listening on %s tls=%t", s.config.GRPCAddress, s.config.TLS != nil)
	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener until context is cancelled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		log.Printf("shutting down gRPC server...")
		s.grpcServer.GracefulStop()
	}()

	if err := s.grpcServer.Serve(listener); err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() {
	s.grpcServer.GracefulStop()
}
