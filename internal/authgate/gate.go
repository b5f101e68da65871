package authgate

import (
	"context"
	"errors"
	"log/slog"

	"jauth/internal/principal"
	projectdomain "jauth/internal/project/domain"
	"jauth/internal/token"
)

var (
	// ErrUnauthenticated means neither presented token was accepted.
	ErrUnauthenticated = errors.New("authgate: unauthenticated")
	// ErrMissingAPIKey means a user-tier request carried no API key.
	ErrMissingAPIKey = errors.New("authgate: API key is missing")
	// ErrInvalidAPIKey means the API key matches no project.
	ErrInvalidAPIKey = errors.New("authgate: invalid API key")
)

// Verifier is the part of a token.Service the gate drives.
type Verifier[P principal.Principal] interface {
	VerifyAccessToken(ctx context.Context, raw string) *token.Authenticated[P]
	ValidateAndRenewSession(ctx context.Context, raw string) (*token.Renewed[P], error)
}

// ProjectResolver looks a project up by API key. It returns nil, nil when no project matches.
type ProjectResolver interface {
	GetByAPIKey(ctx context.Context, apiKey string) (*projectdomain.Project, error)
}

// Gate authenticates callers of one tier.
type Gate[P principal.Principal] struct {
	tokens  Verifier[P]
	cookies CookieNames
	opts    CookieOptions
	logger  *slog.Logger
}

// New returns a Gate. logger may be nil.
func New[P principal.Principal](tokens Verifier[P], cookies CookieNames, opts CookieOptions, logger *slog.Logger) *Gate[P] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate[P]{tokens: tokens, cookies: cookies, opts: opts, logger: logger.With("component", "authgate")}
}

// Cookies returns the cookie names of the gate's tier.
func (g *Gate[P]) Cookies() CookieNames { return g.cookies }

// CookieOptions returns the cookie attributes the gate writes with.
func (g *Gate[P]) CookieOptions() CookieOptions { return g.opts }

// Authenticate tries the access token, then the session token. On renewal the returned identity
// carries the rotated credentials and DidTokensRefresh. It returns ErrUnauthenticated when both
// paths fail; any other error is a storage failure during renewal.
func (g *Gate[P]) Authenticate(ctx context.Context, creds Credentials) (Identity, error) {
	if creds.Access != "" {
		if auth := g.tokens.VerifyAccessToken(ctx, creds.Access); auth != nil {
			return Identity{
				Principal:   auth.Principal,
				SessionID:   auth.SessionID,
				TenantID:    auth.TenantID,
				Credentials: creds,
			}, nil
		}
	}
	if creds.Session == "" {
		return Identity{}, ErrUnauthenticated
	}
	renewed, err := g.tokens.ValidateAndRenewSession(ctx, creds.Session)
	if err != nil {
		g.logger.ErrorContext(ctx, "session renewal failed", "error", err)
		return Identity{}, err
	}
	if renewed == nil {
		return Identity{}, ErrUnauthenticated
	}
	return Identity{
		Principal:        renewed.Principal,
		SessionID:        renewed.SessionID,
		TenantID:         renewed.TenantID,
		Credentials:      Credentials{Access: renewed.AccessToken, Session: renewed.SessionToken},
		DidTokensRefresh: true,
	}, nil
}

// resolveProject looks up the project of apiKey and scopes ctx to it, so that token verification
// under the returned context only accepts that project's tokens.
func resolveProject(ctx context.Context, projects ProjectResolver, apiKey string) (context.Context, error) {
	if apiKey == "" {
		return ctx, ErrMissingAPIKey
	}
	p, err := projects.GetByAPIKey(ctx, apiKey)
	if err != nil {
		return ctx, err
	}
	if p == nil {
		return ctx, ErrInvalidAPIKey
	}
	ctx = WithProject(ctx, p)
	return token.WithTenant(ctx, p.ID), nil
}
