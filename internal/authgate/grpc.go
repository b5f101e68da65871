package authgate

import (
	"context"
	"errors"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const (
	authorizationMD = "authorization"
	apiKeyMD        = "x-api-key"
)

// UnaryInterceptor authenticates unary calls the same way Middleware authenticates HTTP requests.
// publicMethods is the set of full method names that do not require credentials.
// projects, when non-nil, resolves the x-api-key metadata to a project before authentication.
// Rotated credentials are sent back in the authorization response header.
func (g *Gate[P]) UnaryInterceptor(publicMethods map[string]bool, projects ProjectResolver) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if publicMethods[info.FullMethod] {
			return handler(ctx, req)
		}
		ctx, err := g.authenticateRPC(ctx, projects)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamInterceptor is the streaming counterpart of UnaryInterceptor.
func (g *Gate[P]) StreamInterceptor(publicMethods map[string]bool, projects ProjectResolver) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if publicMethods[info.FullMethod] {
			return handler(srv, ss)
		}
		ctx, err := g.authenticateRPC(ss.Context(), projects)
		if err != nil {
			return err
		}
		return handler(srv, &authedStream{ServerStream: ss, ctx: ctx})
	}
}

func (g *Gate[P]) authenticateRPC(ctx context.Context, projects ProjectResolver) (context.Context, error) {
	if projects != nil {
		var err error
		ctx, err = resolveProject(ctx, projects, firstMD(ctx, apiKeyMD))
		switch {
		case errors.Is(err, ErrMissingAPIKey), errors.Is(err, ErrInvalidAPIKey):
			return ctx, status.Error(codes.Unauthenticated, "missing or invalid API key")
		case err != nil:
			g.logger.ErrorContext(ctx, "project lookup failed", "error", err)
			return ctx, status.Error(codes.Internal, "internal error")
		}
	}
	id, err := g.Authenticate(ctx, ParseAuthorization(firstMD(ctx, authorizationMD)))
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			return ctx, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}
		return ctx, status.Error(codes.Internal, "internal error")
	}
	if id.DidTokensRefresh {
		if err := grpc.SetHeader(ctx, metadata.Pairs(authorizationMD, FormatAuthorization(id.Credentials))); err != nil {
			g.logger.WarnContext(ctx, "sending rotated credentials failed", "error", err)
		}
	}
	return WithIdentity(ctx, id), nil
}

type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedStream) Context() context.Context { return s.ctx }

// firstMD returns the first value of key in the incoming metadata, or "".
func firstMD(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get(key)
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}

// ClientIP returns the client IP from gRPC metadata (x-forwarded-for, x-real-ip) or peer, or "unknown".
func ClientIP(ctx context.Context) string {
	if s := firstForwarded(firstMD(ctx, "x-forwarded-for")); s != "" {
		return s
	}
	if s := firstMD(ctx, "x-real-ip"); s != "" {
		return s
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
			return host
		}
		return p.Addr.String()
	}
	return "unknown"
}

func firstForwarded(v string) string {
	if i := strings.Index(v, ","); i > 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}
