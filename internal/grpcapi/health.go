// Package grpcapi exposes the standard gRPC health service for orchestrators
// that probe over gRPC instead of HTTP.
package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"edudesk.io/internal/obs"
)

// ServiceName is the name reported for service-scoped health checks.
const ServiceName = "edudesk.identity"

// Readiness reports whether dependencies are reachable.
type Readiness interface {
	Check(ctx context.Context) error
}

// HealthServer answers grpc.health.v1.Health/Check from the readiness probe.
type HealthServer struct {
	healthpb.UnimplementedHealthServer

	readiness Readiness
}

// NewHealthServer creates the health service wrapper.
func NewHealthServer(r Readiness) *HealthServer {
	return &HealthServer{readiness: r}
}

// Check evaluates readiness. Unknown service names yield NotFound.
func (s *HealthServer) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if name := req.GetService(); name != "" && name != ServiceName {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", name)
	}
	if s.readiness != nil {
		if err := s.readiness.Check(ctx); err != nil {
			obs.SetReady(false)
			obs.Logger().Warn().Err(err).Msg("grpc_health_not_serving")
			return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
		}
	}
	obs.SetReady(true)
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}

// NewServer builds a gRPC server with the health service and reflection
// registered.
func NewServer(r Readiness, opts ...grpc.ServerOption) *grpc.Server {
	srv := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(srv, NewHealthServer(r))
	reflection.Register(srv)
	return srv
}
