package grpcserver

import (
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/and161185/appstore/internal/auth"
	"github.com/and161185/appstore/internal/limiter"
)

// NewGRPCServer builds a grpc.Server with the interceptor chain, the admin service and the
// health service. The admin service starts in SERVING state. lim may be nil.
func NewGRPCServer(srv AdminServer, v *auth.Verifier, lim limiter.Limiter, log *zap.Logger, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	opts = append(opts, grpc.ChainUnaryInterceptor(
		RecoverUnary(log),
		AuthUnary(v, lim, log),
		LoggingUnary(log),
	))
	gs := grpc.NewServer(opts...)
	RegisterAdminServer(gs, srv)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return gs, hs
}
