package token

import "github.com/golang-jwt/jwt/v5"

// Token uses carried in the typ claim. A token is only accepted for the use it was minted for.
const (
	UseAccess  = "access"
	UseSession = "session"
)

// AccessClaims is the claim set of an access token. sub is the principal id.
type AccessClaims struct {
	Use       string `json:"typ"`
	SessionID string `json:"session_id"`
	TenantID  string `json:"tenant_id,omitempty"`
	jwt.RegisteredClaims
}

// SessionClaims is the claim set of a session token. sub is the principal id and jti the token id
// of the iteration the token was minted for.
type SessionClaims struct {
	Use       string `json:"typ"`
	SessionID string `json:"session_id"`
	TenantID  string `json:"tenant_id,omitempty"`
	jwt.RegisteredClaims
}

// tenantPeek reads only the tenant claim of an unverified token.
type tenantPeek struct {
	TenantID string `json:"tenant_id,omitempty"`
	jwt.RegisteredClaims
}
