// Package grpcsrv exposes the standard gRPC health service, kept in step with
// the same readiness probe that backs /readyz.
package grpcsrv

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"pollhub.org/internal/obs"
)

// ServiceName is the health entry reported alongside the overall ("") status.
const ServiceName = "pollhub.v1.PollService"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Server wraps a grpc.Server with a health service driven by a readiness probe.
type Server struct {
	grpc      *grpc.Server
	health    *health.Server
	readiness readinessChecker
	interval  time.Duration
}

// New registers health and reflection on a fresh grpc.Server.
func New(r readinessChecker, interval time.Duration, opts ...grpc.ServerOption) *Server {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	s := &Server{
		grpc:      grpc.NewServer(opts...),
		health:    health.NewServer(),
		readiness: r,
		interval:  interval,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// GRPC exposes the underlying server for Serve and GracefulStop.
func (s *Server) GRPC() *grpc.Server { return s.grpc }

// Refresh runs the readiness probe once and publishes the result.
func (s *Server) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err := s.readiness.Check(ctx)
	if err != nil {
		s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
		obs.SetReady(false)
		return err
	}
	s.setStatus(healthpb.HealthCheckResponse_SERVING)
	obs.SetReady(true)
	return nil
}

// Watch refreshes the health status until ctx is cancelled, then marks the
// server as shutting down.
func (s *Server) Watch(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
			obs.Logger().WithError(err).Warn("readiness probe failed")
		}
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) setStatus(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}
