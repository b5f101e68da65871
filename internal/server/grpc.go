package server

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	accountdomain "jauth/internal/account/domain"
	"jauth/internal/authgate"
	healthhandler "jauth/internal/health/handler"
)

// PublicMethods are the gRPC methods served without account credentials.
var PublicMethods = map[string]bool{
	healthpb.Health_Check_FullMethodName: true,
	healthpb.Health_Watch_FullMethodName: true,
}

// GRPCDeps holds the dependencies of the gRPC server.
type GRPCDeps struct {
	// Health answers the standard health protocol.
	Health *healthhandler.Server
	// AccountGate authenticates every method not in PublicMethods.
	AccountGate *authgate.Gate[*accountdomain.Account]
	// Logger receives one line per RPC; nil means slog.Default().
	Logger *slog.Logger
}

// NewGRPCServer returns a gRPC server instrumented with otelgrpc whose non-public methods
// require an account session.
func NewGRPCServer(deps GRPCDeps, opts ...grpc.ServerOption) *grpc.Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts = append(opts,
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			LogUnary(logger.With("component", "grpc"), PublicMethods),
			deps.AccountGate.UnaryInterceptor(PublicMethods, nil),
		),
		grpc.ChainStreamInterceptor(deps.AccountGate.StreamInterceptor(PublicMethods, nil)),
	)
	s := grpc.NewServer(opts...)
	RegisterServices(s, deps)
	return s
}

// RegisterServices registers the health service and server reflection.
// Reflection is not public: only authenticated accounts can list services.
func RegisterServices(s grpc.ServiceRegistrar, deps GRPCDeps) {
	healthpb.RegisterHealthServer(s, deps.Health)
	if r, ok := s.(reflection.GRPCServer); ok {
		reflection.Register(r)
	}
}

// LogUnary logs each RPC after it completes. Methods in skipMethods (health checks) are not logged.
func LogUnary(logger *slog.Logger, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if skipMethods[info.FullMethod] {
			return resp, err
		}
		logger.InfoContext(ctx, "rpc",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", authgate.ClientIP(ctx))
		return resp, err
	}
}
