package grpc

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	middleware "github.com/autopeer-io/otabridge/internal/pkg/middleware/grpc"
	"github.com/autopeer-io/otabridge/pkg/log"
	"github.com/autopeer-io/otabridge/pkg/options"
)

// ServiceName is the health service name reported alongside the overall status.
const ServiceName = "otabridge"

const probeInterval = 5 * time.Second

// Server exposes the standard gRPC health service.
type Server struct {
	server  *grpc.Server
	health  *health.Server
	ready   func() bool
	options *options.GrpcOptions
}

func NewServer(opts *options.GrpcOptions, ready func() bool) *Server {
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(middleware.UnaryTimeout(middleware.DefaultRPCTimeout)))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	reflection.Register(s) // Enable grpc_cli support

	return &Server{
		server:  s,
		health:  hs,
		ready:   ready,
		options: opts,
	}
}

// Health returns the health service, for tests and in-process probes.
func (s *Server) Health() healthpb.HealthServer {
	return s.health
}

// refresh maps broker connectivity onto the serving status.
func (s *Server) refresh() {
	status := healthpb.HealthCheckResponse_SERVING
	if s.ready != nil && !s.ready() {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen(s.options.Network, s.options.Addr)
	if err != nil {
		return err
	}

	log.Info("Starting gRPC Server", "addr", s.options.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	s.refresh()
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-errCh:
			return err
		case <-ticker.C:
			s.refresh()
		case <-ctx.Done():
			s.health.Shutdown()
			s.stop()
			return nil
		}
	}
}

// stop drains in-flight calls, forcing the stop once the shutdown timeout passes.
func (s *Server) stop() {
	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	if s.options.Timeout <= 0 {
		<-done
		return
	}
	timer := time.NewTimer(s.options.Timeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		log.Warn("gRPC graceful stop timed out, forcing stop")
		s.server.Stop()
	}
}
