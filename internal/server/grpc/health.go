package grpcserver

import (
	"context"
	"sync/atomic"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/golemcloud/golem-sub031/internal/runtime"
)

type healthSvc struct {
	healthpb.UnimplementedHealthServer
	rt       *runtime.Runtime
	draining atomic.Bool
}

// Check reports NOT_SERVING while the server drains or storage is broken.
func (h *healthSvc) Check(ctx context.Context, _ *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	st := healthpb.HealthCheckResponse_SERVING
	if h.draining.Load() || h.rt.CheckHealth(ctx) != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	return &healthpb.HealthCheckResponse{Status: st}, nil
}
