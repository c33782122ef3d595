// Package grpcapi is the exchange's gRPC surface: a thin lifecycle
// wrapper around grpc.Server, the same shape as the teacher's
// internal/grpc server, registering the standard health service so
// load balancers and admin tooling can probe liveness without a
// hand-rolled protocol.
package grpcapi

import (
	"context"
	"errors"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Config holds the gRPC listener configuration.
type Config struct {
	Address        string
	MaxRecvMsgSize int
	MaxSendMsgSize int
}

// DefaultConfig returns sane defaults for Config.
func DefaultConfig() Config {
	return Config{
		Address:        "127.0.0.1:50061",
		MaxRecvMsgSize: 4 * 1024 * 1024,
		MaxSendMsgSize: 4 * 1024 * 1024,
	}
}

// Server is the exchange's gRPC process boundary: health checking plus
// whatever admin/event services get registered onto it before Start.
type Server struct {
	mu sync.RWMutex

	grpcServer *grpc.Server
	health     *health.Server
	cfg        Config
	listener   net.Listener
	running    bool
}

// New builds a Server with the health service pre-registered.
func New(cfg Config) *Server {
	if cfg.MaxRecvMsgSize <= 0 {
		cfg.MaxRecvMsgSize = DefaultConfig().MaxRecvMsgSize
	}
	if cfg.MaxSendMsgSize <= 0 {
		cfg.MaxSendMsgSize = DefaultConfig().MaxSendMsgSize
	}

	grpcServer := grpc.NewServer(
		grpc.MaxRecvMsgSize(cfg.MaxRecvMsgSize),
		grpc.MaxSendMsgSize(cfg.MaxSendMsgSize),
	)

	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)

	return &Server{
		grpcServer: grpcServer,
		health:     healthSrv,
		cfg:        cfg,
	}
}

// GRPCServer exposes the underlying *grpc.Server so the composition
// root can register additional services before Start is called.
func (s *Server) GRPCServer() *grpc.Server {
	return s.grpcServer
}

// SetServing flips the health status for a named service ("" is the
// server-wide status every client checks by default).
func (s *Server) SetServing(service string, serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(service, status)
}

// Start begins accepting connections. It blocks until Stop is called
// or Serve returns an error.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("grpcapi: server already running")
	}
	listener, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.listener = listener
	s.running = true
	s.SetServing("", true)
	s.mu.Unlock()

	return s.grpcServer.Serve(listener)
}

// StartAsync runs Start in a goroutine, returning once the listener is bound.
func (s *Server) StartAsync(onError func(error)) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("grpcapi: server already running")
	}
	listener, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.listener = listener
	s.running = true
	s.SetServing("", true)
	s.mu.Unlock()

	go func() {
		if err := s.grpcServer.Serve(listener); err != nil && onError != nil {
			onError(err)
		}
	}()
	return nil
}

// Stop gracefully drains in-flight RPCs before shutting down.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.SetServing("", false)

	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}
	s.running = false
}

// Address returns the bound listener address, or "" if not started.
func (s *Server) Address() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
