package token

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	keydomain "jauth/internal/keystore/domain"
	"jauth/internal/principal"
	"jauth/internal/security"
	"jauth/internal/session"
	sessiondomain "jauth/internal/session/domain"
)

var (
	// ErrKeyUnavailable is returned by the Sign methods when the tenant has no usable keypair.
	ErrKeyUnavailable = errors.New("token: signing key unavailable")
	// ErrTierMismatch is returned when a tenant id is supplied to the account tier or omitted on the user tier.
	ErrTierMismatch = errors.New("token: tenant does not match tier")
	// ErrStorage wraps persistence failures on required writes.
	ErrStorage = errors.New("token: storage failure")
)

// Keys is the read side of the keystore.
type Keys interface {
	Find(ctx context.Context, kind keydomain.KeyKind, tenantID string) ([]byte, error)
}

// Sessions is the session store of the service's tier.
type Sessions interface {
	StartNewSession(ctx context.Context, principalID string) (*session.NewSession, error)
	RenewSession(ctx context.Context, sessionID, fromTokenID string) (*session.Renewal, error)
	FindByID(ctx context.Context, sessionID, tokenID string) (*sessiondomain.SessionIteration, error)
	FindValidBySessionID(ctx context.Context, sessionID string) (bool, error)
	KillSession(ctx context.Context, sessionID string) error
	DeleteByUserID(ctx context.Context, principalID string) error
}

// Authenticated is a successfully verified access or session token.
type Authenticated[P principal.Principal] struct {
	Principal P
	SessionID string
	TenantID  string
}

// Renewed is the result of a successful session renewal: the caller is authenticated and holds
// fresh tokens that replace the ones it presented.
type Renewed[P principal.Principal] struct {
	Authenticated[P]
	AccessToken      string
	AccessExpiresAt  time.Time
	SessionToken     string
	SessionExpiresAt time.Time
}

// Issued is a session token minted for a new session.
type Issued struct {
	SessionID    string
	TokenID      string
	SessionToken string
	ExpiresAt    time.Time
}

// Options carries the optional collaborators of a Service. Nil fields use defaults.
type Options struct {
	Logger         *slog.Logger
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Service issues and verifies the tokens of one tier.
type Service[P principal.Principal] struct {
	cfg        Config
	keys       Keys
	sessions   Sessions
	principals principal.Repository[P]
	parser     *jwt.Parser
	now        func() time.Time
	logger     *slog.Logger
	inst       *instruments
}

// NewService returns the Service for cfg.Tier.
func NewService[P principal.Principal](cfg Config, keys Keys, sessions Sessions, principals principal.Repository[P], opts Options) (*Service[P], error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	inst, err := newInstruments(opts.TracerProvider, opts.MeterProvider)
	if err != nil {
		return nil, fmt.Errorf("token: instruments: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service[P]{
		cfg:        cfg,
		keys:       keys,
		sessions:   sessions,
		principals: principals,
		now:        time.Now,
		logger:     logger.With("component", "token", "tier", string(cfg.Tier)),
		inst:       inst,
	}
	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)
	return s, nil
}

// Config returns the service configuration.
func (s *Service[P]) Config() Config { return s.cfg }

// VerifyAccessToken verifies an access token and confirms its session is still live.
// It returns nil on any failure.
func (s *Service[P]) VerifyAccessToken(ctx context.Context, raw string) *Authenticated[P] {
	ctx, span := s.inst.tracer.Start(ctx, "token.VerifyAccessToken")
	defer span.End()
	auth, outcome := s.verifyAccess(ctx, raw)
	s.inst.record(ctx, span, string(s.cfg.Tier), "access", outcome)
	if outcome != OutcomeOK {
		s.logger.DebugContext(ctx, "access token rejected", "outcome", string(outcome))
	}
	return auth
}

func (s *Service[P]) verifyAccess(ctx context.Context, raw string) (*Authenticated[P], Outcome) {
	var claims AccessClaims
	tenantID, outcome := s.parse(ctx, raw, &claims, s.cfg.AccessTTL)
	if outcome != OutcomeOK {
		return nil, outcome
	}
	if claims.Use != UseAccess || claims.Subject == "" || claims.SessionID == "" {
		return nil, OutcomeCredentialInvalid
	}
	p, ok, err := s.principals.GetByID(ctx, claims.Subject)
	if err != nil {
		s.logger.ErrorContext(ctx, "principal lookup failed", "error", err)
		return nil, OutcomeStorageFailure
	}
	if !ok || !p.IsEnabled() {
		return nil, OutcomeSessionRevoked
	}
	live, err := s.sessions.FindValidBySessionID(ctx, claims.SessionID)
	if err != nil {
		s.logger.ErrorContext(ctx, "session lookup failed", "error", err)
		return nil, OutcomeStorageFailure
	}
	if !live {
		return nil, OutcomeSessionRevoked
	}
	return &Authenticated[P]{Principal: p, SessionID: claims.SessionID, TenantID: tenantID}, OutcomeOK
}

// ValidateAndRenewSession verifies a session token, advances its session to the next iteration
// and mints a fresh access and session token under the same tenant key.
// It returns nil, nil when the token is rejected; the error is non-nil only when the renewal
// write or the minting that follows it fails.
func (s *Service[P]) ValidateAndRenewSession(ctx context.Context, raw string) (*Renewed[P], error) {
	ctx, span := s.inst.tracer.Start(ctx, "token.ValidateAndRenewSession")
	defer span.End()
	renewed, outcome, err := s.renew(ctx, raw)
	s.inst.record(ctx, span, string(s.cfg.Tier), "session", outcome)
	if outcome == OutcomeOK {
		s.inst.renewals.Add(ctx, 1)
	} else if err == nil {
		s.logger.DebugContext(ctx, "session token rejected", "outcome", string(outcome))
	}
	return renewed, err
}

func (s *Service[P]) renew(ctx context.Context, raw string) (*Renewed[P], Outcome, error) {
	var claims SessionClaims
	tenantID, outcome := s.parse(ctx, raw, &claims, s.cfg.SessionTTL)
	if outcome != OutcomeOK {
		return nil, outcome, nil
	}
	if claims.Use != UseSession || claims.Subject == "" || claims.ID == "" || claims.SessionID == "" {
		return nil, OutcomeCredentialInvalid, nil
	}

	p, ok, err := s.principals.GetByID(ctx, claims.Subject)
	if err != nil {
		s.logger.ErrorContext(ctx, "principal lookup failed", "error", err)
		return nil, OutcomeStorageFailure, nil
	}
	if !ok || !p.IsEnabled() {
		if err := s.sessions.DeleteByUserID(ctx, claims.Subject); err != nil {
			s.logger.ErrorContext(ctx, "purging sessions of inactive principal failed", "error", err)
		}
		return nil, OutcomeSessionRevoked, nil
	}

	si, err := s.sessions.FindByID(ctx, claims.SessionID, claims.ID)
	if err != nil {
		s.logger.ErrorContext(ctx, "session lookup failed", "error", err)
		return nil, OutcomeStorageFailure, nil
	}
	if si == nil || si.Session.PrincipalID != claims.Subject {
		return nil, OutcomeSessionRevoked, nil
	}
	// A superseded iteration is a replayed refresh credential; the whole session goes.
	if !si.Iteration.Valid || si.Iteration.Expired(s.now()) {
		if err := s.sessions.KillSession(ctx, claims.SessionID); err != nil {
			s.logger.ErrorContext(ctx, "killing session failed", "error", err)
		}
		s.logger.WarnContext(ctx, "session killed on stale or expired iteration",
			"session_id", claims.SessionID, "expired", si.Iteration.Valid)
		return nil, OutcomeSessionRevoked, nil
	}

	// Load the signing key before advancing the session so a missing key cannot strand the client.
	key, err := s.privateKey(ctx, tenantID)
	if err != nil {
		if errors.Is(err, ErrKeyUnavailable) {
			return nil, OutcomeKeyUnavailable, nil
		}
		return nil, OutcomeStorageFailure, nil
	}

	renewal, err := s.sessions.RenewSession(ctx, claims.SessionID, claims.ID)
	if err != nil {
		return nil, OutcomeStorageFailure, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	if renewal == nil {
		return nil, OutcomeSessionRevoked, nil
	}

	now := s.now()
	access, accessExp, err := s.signAccess(key, claims.Subject, claims.SessionID, tenantID, now)
	if err != nil {
		return nil, OutcomeStorageFailure, fmt.Errorf("token: sign access: %w", err)
	}
	sessionToken, sessionExp, err := s.signSession(key, claims.Subject, claims.SessionID, renewal.TokenID, tenantID, now)
	if err != nil {
		return nil, OutcomeStorageFailure, fmt.Errorf("token: sign session: %w", err)
	}
	return &Renewed[P]{
		Authenticated:    Authenticated[P]{Principal: p, SessionID: claims.SessionID, TenantID: tenantID},
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		SessionToken:     sessionToken,
		SessionExpiresAt: sessionExp,
	}, OutcomeOK, nil
}

// SignAccessToken mints an access token for an existing session.
func (s *Service[P]) SignAccessToken(ctx context.Context, principalID, sessionID, tenantID string) (string, error) {
	if err := s.cfg.checkTenant(tenantID); err != nil {
		return "", err
	}
	key, err := s.privateKey(ctx, tenantID)
	if err != nil {
		return "", err
	}
	tok, _, err := s.signAccess(key, principalID, sessionID, tenantID, s.now())
	return tok, err
}

// SignNewSessionToken starts a new session for the principal and mints its first session token.
func (s *Service[P]) SignNewSessionToken(ctx context.Context, principalID, tenantID string) (*Issued, error) {
	if err := s.cfg.checkTenant(tenantID); err != nil {
		return nil, err
	}
	key, err := s.privateKey(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	ns, err := s.sessions.StartNewSession(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	tok, exp, err := s.signSession(key, principalID, ns.SessionID, ns.TokenID, tenantID, s.now())
	if err != nil {
		return nil, fmt.Errorf("token: sign session: %w", err)
	}
	return &Issued{SessionID: ns.SessionID, TokenID: ns.TokenID, SessionToken: tok, ExpiresAt: exp}, nil
}

// parse resolves the tenant key for raw, verifies it into claims and enforces maxAge on iat.
func (s *Service[P]) parse(ctx context.Context, raw string, claims jwt.Claims, maxAge time.Duration) (string, Outcome) {
	if raw == "" {
		return "", OutcomeCredentialInvalid
	}
	var peek tenantPeek
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &peek); err != nil {
		return "", OutcomeCredentialInvalid
	}
	tenantID := peek.TenantID
	if s.cfg.checkTenant(tenantID) != nil {
		return "", OutcomeCredentialInvalid
	}
	if want, ok := expectedTenant(ctx); ok && want != tenantID {
		return "", OutcomeCredentialInvalid
	}

	pub, outcome := s.publicKey(ctx, tenantID)
	if outcome != OutcomeOK {
		return "", outcome
	}
	if _, err := s.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return pub, nil }); err != nil {
		return "", OutcomeCredentialInvalid
	}
	iat, err := claims.GetIssuedAt()
	if err != nil || iat == nil || s.now().Sub(iat.Time) > maxAge {
		return "", OutcomeCredentialInvalid
	}
	return tenantID, OutcomeOK
}

func (s *Service[P]) publicKey(ctx context.Context, tenantID string) (*rsa.PublicKey, Outcome) {
	pemBytes, err := s.keys.Find(ctx, keydomain.KindPublic, tenantID)
	if err != nil {
		s.logger.ErrorContext(ctx, "public key lookup failed", "error", err)
		return nil, OutcomeStorageFailure
	}
	if pemBytes == nil {
		return nil, OutcomeKeyUnavailable
	}
	pub, err := security.ParseRSAPublicKey(pemBytes)
	if err != nil {
		return nil, OutcomeKeyUnavailable
	}
	return pub, OutcomeOK
}

func (s *Service[P]) privateKey(ctx context.Context, tenantID string) (*rsa.PrivateKey, error) {
	pemBytes, err := s.keys.Find(ctx, keydomain.KindPrivate, tenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	if pemBytes == nil {
		return nil, ErrKeyUnavailable
	}
	key, err := security.ParseRSAPrivateKey(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyUnavailable, err)
	}
	return key, nil
}

func (s *Service[P]) signAccess(key *rsa.PrivateKey, principalID, sessionID, tenantID string, now time.Time) (string, time.Time, error) {
	exp := now.Add(s.cfg.AccessTTL)
	claims := AccessClaims{
		Use:       UseAccess,
		SessionID: sessionID,
		TenantID:  tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principalID,
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	return tok, exp, err
}

func (s *Service[P]) signSession(key *rsa.PrivateKey, principalID, sessionID, tokenID, tenantID string, now time.Time) (string, time.Time, error) {
	exp := now.Add(s.cfg.SessionTTL)
	claims := SessionClaims{
		Use:       UseSession,
		SessionID: sessionID,
		TenantID:  tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principalID,
			ID:        tokenID,
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	return tok, exp, err
}
