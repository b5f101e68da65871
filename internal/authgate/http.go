package authgate

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// APIKeyQueryParam and APIKeyHeader carry the project API key on user-tier routes.
const (
	APIKeyQueryParam = "API_KEY"
	APIKeyHeader     = "X-API-Key"
)

// ErrorBody is the JSON body of every gate rejection.
type ErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// WriteError writes an ErrorBody with the given status.
func WriteError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorBody{Code: status, Message: message})
}

// Middleware authenticates the request and stores the Identity in its context.
// Rotated tokens are written to both cookies and the Authorization response header before next runs.
func (g *Gate[P]) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := g.Authenticate(r.Context(), FromRequest(r, g.cookies))
		if err != nil {
			if errors.Is(err, ErrUnauthenticated) {
				WriteError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			WriteError(w, http.StatusInternalServerError, "Internal Error")
			return
		}
		if id.DidTokensRefresh {
			WriteCredentials(w, g.cookies, g.opts, id.Credentials)
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// APIKeyFromRequest returns the API key from the API_KEY query parameter or the X-API-Key header.
func APIKeyFromRequest(r *http.Request) string {
	if k := r.URL.Query().Get(APIKeyQueryParam); k != "" {
		return k
	}
	return r.Header.Get(APIKeyHeader)
}

// RequireProject resolves the request's project from its API key before anything downstream runs.
// Wrap the user-tier gate with it: token verification needs the tenant first.
func RequireProject(projects ProjectResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, err := resolveProject(r.Context(), projects, APIKeyFromRequest(r))
			switch {
			case errors.Is(err, ErrMissingAPIKey):
				WriteError(w, http.StatusUnauthorized, "API key is missing")
				return
			case errors.Is(err, ErrInvalidAPIKey):
				WriteError(w, http.StatusUnauthorized, "Invalid API key")
				return
			case err != nil:
				logger.ErrorContext(r.Context(), "project lookup failed", "error", err)
				WriteError(w, http.StatusInternalServerError, "Internal Error")
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestClientIP returns the client IP of r from X-Forwarded-For, X-Real-IP or the remote address.
func RequestClientIP(r *http.Request) string {
	if s := firstForwarded(r.Header.Get("X-Forwarded-For")); s != "" {
		return s
	}
	if s := strings.TrimSpace(r.Header.Get("X-Real-IP")); s != "" {
		return s
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
