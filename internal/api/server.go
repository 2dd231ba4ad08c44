package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/miradorstack/mirador-osint/internal/config"
)

const defaultGracefulTimeout = 10 * time.Second

// Server answers gRPC health checks for every tool and for overall readiness.
type Server struct {
	logger   *slog.Logger
	cfg      config.ServerConfig
	rpc      *grpc.Server
	health   *health.Server
	prober   *Prober
	listener net.Listener
}

// NewServer binds the configured address and registers the health, reflection
// and metrics services. Readiness is NOT_SERVING until the first probe.
func NewServer(logger *slog.Logger, cfg config.ServerConfig, doctor Doctor, mode string, opts ...grpc.ServerOption) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	lis, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Address, err)
	}

	grpc_prometheus.EnableHandlingTimeHistogram()
	rpc := grpc.NewServer(append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(grpc_prometheus.UnaryServerInterceptor),
		grpc.ChainStreamInterceptor(grpc_prometheus.StreamServerInterceptor),
	}, opts...)...)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(rpc, hs)
	reflection.Register(rpc)
	grpc_prometheus.Register(rpc)

	return &Server{
		logger:   logger,
		cfg:      cfg,
		rpc:      rpc,
		health:   hs,
		prober:   NewProber(logger, doctor, hs, mode),
		listener: lis,
	}, nil
}

// Health exposes the health server.
func (s *Server) Health() *health.Server {
	return s.health
}

// Address returns the bound listener address.
func (s *Server) Address() string {
	return s.listener.Addr().String()
}

// Serve probes availability every ProbeInterval and answers RPCs until ctx is
// done. Shutdown drains in-flight calls for at most GracefulTimeout.
func (s *Server) Serve(ctx context.Context) error {
	probeCtx, stopProbes := context.WithCancel(ctx)
	defer stopProbes()
	go s.prober.Run(probeCtx, s.cfg.ProbeInterval)

	served := make(chan error, 1)
	go func() { served <- s.rpc.Serve(s.listener) }()
	s.logger.Info("availability server listening", slog.String("address", s.Address()))

	select {
	case err := <-served:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serve gRPC: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	stopProbes()
	s.health.Shutdown()
	drained := make(chan struct{})
	go func() {
		s.rpc.GracefulStop()
		close(drained)
	}()
	timeout := s.cfg.GracefulTimeout
	if timeout <= 0 {
		timeout = defaultGracefulTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-drained:
	case <-timer.C:
		s.logger.Warn("graceful stop timed out, closing connections")
		s.rpc.Stop()
	}
	<-served
	return nil
}
