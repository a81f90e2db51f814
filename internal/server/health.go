package server

import (
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Health serves the standard gRPC health checking protocol. The overall
// status ("") and one status per registered game type are reported.
type Health struct {
	addr   string
	logger *zap.Logger
	grpc   *grpc.Server
	status *health.Server
}

// NewHealth builds a health service listening on addr. Every name in
// services starts as NOT_SERVING.
//
// Precondition: logger must be non-nil.
func NewHealth(addr string, logger *zap.Logger, services ...string) *Health {
	h := &Health{
		addr:   addr,
		logger: logger,
		grpc:   grpc.NewServer(),
		status: health.NewServer(),
	}
	healthpb.RegisterHealthServer(h.grpc, h.status)
	h.status.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	for _, name := range services {
		h.status.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return h
}

// SetServing reports service (or the whole daemon when empty) as serving or not.
func (h *Health) SetServing(service string, serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	h.status.SetServingStatus(service, st)
}

// Serve blocks serving health checks on lis.
func (h *Health) Serve(lis net.Listener) error {
	h.logger.Info("health service listening", zap.String("addr", lis.Addr().String()))
	return h.grpc.Serve(lis)
}

// Start implements Service.
func (h *Health) Start() error {
	lis, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.addr, err)
	}
	return h.Serve(lis)
}

// Stop implements Service. Every status flips to NOT_SERVING before the
// server drains.
func (h *Health) Stop() {
	h.status.Shutdown()
	h.grpc.GracefulStop()
}
