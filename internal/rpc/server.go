package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
)

// ServerConfig holds the transport settings of a concord gRPC server.
type ServerConfig struct {
	// Address is the address to listen on.
	Address string

	// HeartbeatInterval is how often the server pings an idle client.
	HeartbeatInterval time.Duration

	// ConnectionTimeout is how long to wait for a ping ack before closing.
	ConnectionTimeout time.Duration
}

// DefaultServerConfig returns the settings used when none are given.
func DefaultServerConfig(addr string) ServerConfig {
	return ServerConfig{
		Address:           addr,
		HeartbeatInterval: 30 * time.Second,
		ConnectionTimeout: 10 * time.Second,
	}
}

// Server wraps a grpc.Server with a start/stop lifecycle.
type Server struct {
	cfg    ServerConfig
	logger *slog.Logger
	grpc   *grpc.Server

	mu       sync.Mutex
	listener net.Listener
	done     chan struct{}
}

// NewServer creates a gRPC server with keepalive and message size limits
// applied. Services are registered through Registrar before Start.
func NewServer(cfg ServerConfig, logger *slog.Logger) *Server {
	opts := append(ServerOptions(),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    cfg.HeartbeatInterval,
			Timeout: cfg.ConnectionTimeout,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	return &Server{
		cfg:    cfg,
		logger: logger,
		grpc:   grpc.NewServer(opts...),
	}
}

// Registrar returns the registrar services are attached to.
func (s *Server) Registrar() grpc.ServiceRegistrar {
	return s.grpc
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Address, err)
	}
	return s.Serve(lis)
}

// Serve serves on lis in the background.
func (s *Server) Serve(lis net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		return errors.New("grpc server already started")
	}
	s.listener = lis
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.logger.Error("grpc server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop drains in-flight RPCs gracefully and falls back to a hard stop when
// ctx ends first.
func (s *Server) Stop(ctx context.Context) error {
	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		s.logger.Info("grpc server stopped")
		return nil
	case <-ctx.Done():
		s.grpc.Stop()
		s.logger.Warn("grpc server forced to stop", "error", ctx.Err())
		return ctx.Err()
	}
}
