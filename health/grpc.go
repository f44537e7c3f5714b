package health

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// GRPCServer adapts Probe's QuickCheck to the standard
// grpc.health.v1.Health service, so an operator can point a Kubernetes
// gRPC liveness probe (or `grpc_health_probe`) straight at this
// process instead of needing an HTTP surface this module otherwise
// doesn't expose.
type GRPCServer struct {
	grpc_health_v1.UnimplementedHealthServer
	probe *Probe
}

// NewGRPCServer returns a grpc_health_v1.HealthServer backed by probe.
func NewGRPCServer(probe *Probe) *GRPCServer {
	return &GRPCServer{probe: probe}
}

// Check implements grpc_health_v1.HealthServer. The service name is
// ignored — this module reports one overall status, not per-service
// health.
func (s *GRPCServer) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	if s.probe.QuickCheck() {
		return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_SERVING}, nil
	}
	return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_NOT_SERVING}, nil
}

// Watch implements grpc_health_v1.HealthServer. Streaming health
// watches are not supported; callers should poll Check instead.
func (s *GRPCServer) Watch(req *grpc_health_v1.HealthCheckRequest, stream grpc_health_v1.Health_WatchServer) error {
	return status.Error(codes.Unimplemented, "watch is not supported, use Check")
}
