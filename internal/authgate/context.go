package authgate

import (
	"context"

	"jauth/internal/principal"
	projectdomain "jauth/internal/project/domain"
)

type contextKey struct{ name string }

var (
	identityKey = contextKey{"identity"}
	projectKey  = contextKey{"project"}
)

// Identity is what the gate learned about the caller of an authenticated request.
type Identity struct {
	Principal principal.Principal
	SessionID string
	TenantID  string
	// Credentials are the tokens now in force: the presented ones, or the rotated ones after a renewal.
	Credentials Credentials
	// DidTokensRefresh is true when the request was authenticated through session renewal.
	DidTokensRefresh bool
}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom returns the identity stored by the gate and true if set; otherwise a zero Identity, false.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(identityKey).(Identity)
	return v, ok
}

// PrincipalFrom returns the authenticated principal as P.
func PrincipalFrom[P principal.Principal](ctx context.Context) (P, bool) {
	var zero P
	id, ok := IdentityFrom(ctx)
	if !ok {
		return zero, false
	}
	p, ok := id.Principal.(P)
	return p, ok
}

// GetSessionID returns the session id of the caller and true if set; otherwise "", false.
func GetSessionID(ctx context.Context) (string, bool) {
	id, ok := IdentityFrom(ctx)
	if !ok || id.SessionID == "" {
		return "", false
	}
	return id.SessionID, true
}

// DidTokensRefresh reports whether the gate rotated the caller's tokens on this request.
func DidTokensRefresh(ctx context.Context) bool {
	id, _ := IdentityFrom(ctx)
	return id.DidTokensRefresh
}

// WithProject returns a context carrying the project resolved from the API key.
func WithProject(ctx context.Context, p *projectdomain.Project) context.Context {
	return context.WithValue(ctx, projectKey, p)
}

// ProjectFrom returns the project resolved for the request and true if set; otherwise nil, false.
func ProjectFrom(ctx context.Context) (*projectdomain.Project, bool) {
	p, ok := ctx.Value(projectKey).(*projectdomain.Project)
	return p, ok && p != nil
}
