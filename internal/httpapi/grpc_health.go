package httpapi

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"bugtracker.org/internal/obs"
)

type readinessChecker interface {
	Check(ctx context.Context) error
}

// HealthService serves grpc.health.v1.Health from the same probe as /readyz.
// The overall status ("") and serviceName are kept in step.
type HealthService struct {
	server    *health.Server
	readiness readinessChecker
	log       *zap.Logger
}

func NewHealthService(r readinessChecker, log *zap.Logger) *HealthService {
	if log == nil {
		log = zap.NewNop()
	}
	return &HealthService{server: health.NewServer(), readiness: r, log: log}
}

// Register attaches the health service to s.
func (h *HealthService) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.server)
}

// Refresh runs the probe once and publishes the result. It reports whether the store is ready.
func (h *HealthService) Refresh(ctx context.Context) bool {
	status := healthpb.HealthCheckResponse_SERVING
	ok := true
	if err := h.readiness.Check(ctx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		ok = false
		h.log.Warn("readiness probe failed", zap.Error(err))
	}
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(serviceName, status)
	obs.SetReady(ok)
	return ok
}

// Run refreshes every interval until ctx ends, then marks everything NOT_SERVING.
func (h *HealthService) Run(ctx context.Context, interval time.Duration) {
	h.Refresh(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return
		case <-t.C:
			probeCtx, cancel := context.WithTimeout(ctx, interval)
			h.Refresh(probeCtx)
			cancel()
		}
	}
}
