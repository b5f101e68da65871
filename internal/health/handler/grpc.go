package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// checkTimeout bounds each dependency check.
const checkTimeout = 2 * time.Second

// Pinger checks database connectivity. *sql.DB implements it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// KeyChecker reports whether the account-tier keypair is present and readable.
type KeyChecker interface {
	AccountKeyReady(ctx context.Context) (bool, error)
}

// Server implements the gRPC health protocol and the HTTP /status endpoint.
// It reports NOT_SERVING when the database is unreachable or the account keypair is missing,
// since no account can log in without it.
type Server struct {
	healthpb.UnimplementedHealthServer
	pinger Pinger
	keys   KeyChecker
	logger *slog.Logger
}

// NewServer returns a health Server. Either dependency may be nil to skip its check.
func NewServer(pinger Pinger, keys KeyChecker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{pinger: pinger, keys: keys, logger: logger.With("component", "health")}
}

// Check returns SERVING or NOT_SERVING. Probe failures never surface as gRPC errors.
func (s *Server) Check(ctx context.Context, _ *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	return &healthpb.HealthCheckResponse{Status: s.status(ctx)}, nil
}

func (s *Server) status(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	if s.pinger != nil {
		if err := s.pinger.PingContext(ctx); err != nil {
			s.logger.WarnContext(ctx, "database ping failed", "error", err)
			return healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	if s.keys != nil {
		ok, err := s.keys.AccountKeyReady(ctx)
		if err != nil || !ok {
			s.logger.WarnContext(ctx, "account keypair not ready", "error", err)
			return healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	return healthpb.HealthCheckResponse_SERVING
}

type statusBody struct {
	Status string `json:"status"`
}

// ServeHTTP answers GET /status with 200 when serving and 503 otherwise.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	st := s.status(r.Context())
	code := http.StatusOK
	if st != healthpb.HealthCheckResponse_SERVING {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(statusBody{Status: st.String()})
}
