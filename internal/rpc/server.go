// Package rpc exposes the gRPC surface: the standard health service plus
// reflection for debugging.
package rpc

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"halolight.org/internal/obs"
)

const serviceName = "halolight.identity"

// Readiness is the probe consulted before reporting SERVING.
type Readiness interface {
	Check(ctx context.Context) error
}

// Server wraps the gRPC listener lifecycle.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	probe  Readiness
	done   chan struct{}
}

// NewServer builds the gRPC server with the health service registered.
func NewServer(probe Readiness) *Server {
	s := &Server{
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		probe:  probe,
		done:   make(chan struct{}),
	}
	grpc_health_v1.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)
	return s
}

// Serve listens on addr and keeps the health status in sync with the
// readiness probe until GracefulStop.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go s.watchReadiness()
	return s.grpc.Serve(lis)
}

// GracefulStop drains in-flight RPCs and stops the listener.
func (s *Server) GracefulStop() {
	close(s.done)
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

func (s *Server) watchReadiness() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	s.update()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.update()
		}
	}
}

func (s *Server) update() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	status := grpc_health_v1.HealthCheckResponse_SERVING
	if s.probe != nil {
		if err := s.probe.Check(ctx); err != nil {
			status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		}
	}
	obs.SetReady(status == grpc_health_v1.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(serviceName, status)
	s.health.SetServingStatus("", status)
}
