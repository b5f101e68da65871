package domain

import "time"

// Session is a login of one principal. It outlives any single session token: each renewal
// adds a TokenIteration under the same session id.
type Session struct {
	ID          string
	PrincipalID string
	IPAddress   string
	UserAgent   string
	CreatedAt   time.Time
}

// TokenIteration is one generation of a session's session token. At most one iteration
// of a session is valid at a time.
type TokenIteration struct {
	ID        string // token id, carried as the jti claim
	SessionID string
	Iteration int
	Valid     bool
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the iteration is past its expiry at now.
func (t *TokenIteration) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// SessionIteration is a session joined with one of its iterations.
type SessionIteration struct {
	Session   Session
	Iteration TokenIteration
}
