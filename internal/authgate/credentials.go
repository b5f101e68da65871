// Package authgate authenticates inbound HTTP requests and gRPC calls with the token service of
// one tier and hands rotated credentials back to the caller.
package authgate

import (
	"net/http"
	"strings"
	"time"
)

const (
	bearerPrefix  = "bearer "
	sessionPrefix = "session "

	// AccessCookieMaxAge stays just inside the access-token lifetime.
	AccessCookieMaxAge = 15*time.Minute - time.Second
	// SessionCookieMaxAge stays just inside the session-token lifetime.
	SessionCookieMaxAge = 365*24*time.Hour - 10*time.Second
)

// CookieNames names the access and session cookies of one tier.
type CookieNames struct {
	Access  string
	Session string
}

var (
	UserCookies    = CookieNames{Access: "access_token", Session: "session_token"}
	AccountCookies = CookieNames{Access: "account_access_token", Session: "account_session_token"}
)

// Credentials is the pair of tokens a client presents.
type Credentials struct {
	Access  string
	Session string
}

// Empty reports whether neither token is present.
func (c Credentials) Empty() bool {
	return c.Access == "" && c.Session == ""
}

// FromRequest reads each token from its cookie, falling back to the Authorization header.
func FromRequest(r *http.Request, names CookieNames) Credentials {
	var c Credentials
	if ck, err := r.Cookie(names.Access); err == nil {
		c.Access = ck.Value
	}
	if ck, err := r.Cookie(names.Session); err == nil {
		c.Session = ck.Value
	}
	if c.Access != "" && c.Session != "" {
		return c
	}
	h := ParseAuthorization(r.Header.Get("Authorization"))
	if c.Access == "" {
		c.Access = h.Access
	}
	if c.Session == "" {
		c.Session = h.Session
	}
	return c
}

// ParseAuthorization parses "Bearer <access>, Session <session>". Either part may be absent and
// the schemes are case-insensitive.
func ParseAuthorization(v string) Credentials {
	var c Credentials
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		switch {
		case hasPrefixFold(part, bearerPrefix):
			c.Access = strings.TrimSpace(part[len(bearerPrefix):])
		case hasPrefixFold(part, sessionPrefix):
			c.Session = strings.TrimSpace(part[len(sessionPrefix):])
		}
	}
	return c
}

// FormatAuthorization renders c in the form ParseAuthorization reads.
func FormatAuthorization(c Credentials) string {
	var parts []string
	if c.Access != "" {
		parts = append(parts, "Bearer "+c.Access)
	}
	if c.Session != "" {
		parts = append(parts, "Session "+c.Session)
	}
	return strings.Join(parts, ", ")
}

// CookieOptions controls the attributes of credential cookies.
type CookieOptions struct {
	// Secure sets the Secure attribute. Only development setups should turn it off.
	Secure bool
}

// WriteCredentials sets both credential cookies and mirrors them into the Authorization response
// header, so cookie clients and header clients both see fresh tokens.
func WriteCredentials(w http.ResponseWriter, names CookieNames, opts CookieOptions, c Credentials) {
	http.SetCookie(w, credentialCookie(names.Access, c.Access, AccessCookieMaxAge, opts))
	http.SetCookie(w, credentialCookie(names.Session, c.Session, SessionCookieMaxAge, opts))
	w.Header().Set("Authorization", FormatAuthorization(c))
}

// ClearCredentials expires both credential cookies.
func ClearCredentials(w http.ResponseWriter, names CookieNames, opts CookieOptions) {
	for _, name := range []string{names.Access, names.Session} {
		ck := credentialCookie(name, "", 0, opts)
		ck.MaxAge = -1
		http.SetCookie(w, ck)
	}
}

func credentialCookie(name, value string, maxAge time.Duration, opts CookieOptions) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge / time.Second),
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
