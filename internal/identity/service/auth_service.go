package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	accountdomain "jauth/internal/account/domain"
	auditdomain "jauth/internal/audit/domain"
	"jauth/internal/principal"
	projectdomain "jauth/internal/project/domain"
	"jauth/internal/security"
	sessiondomain "jauth/internal/session/domain"
	"jauth/internal/token"
	userdomain "jauth/internal/user/domain"
)

// Sentinel errors for the auth service; the HTTP handler maps them to status codes.
var (
	ErrEmailAlreadyRegistered = errors.New("email already in use")
	ErrInvalidCredentials     = errors.New("email or password is incorrect")
	ErrSessionNotFound        = errors.New("session not found")
	ErrProjectNotFound        = errors.New("project not found")
	ErrUserNotFound           = errors.New("user not found")
	ErrAccountNotFound        = errors.New("account not found")
	// ErrKeygenUnavailable means a new project's keypair could not be scheduled; the project is not created.
	ErrKeygenUnavailable = errors.New("project keypair could not be scheduled")
)

// ValidationError is returned for malformed input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// AuthResult holds the tokens minted at registration or login.
type AuthResult struct {
	AccessToken      string
	SessionToken     string
	SessionID        string
	SessionExpiresAt time.Time
	PrincipalID      string
}

// ClientInfo describes where a login came from. It is stored on the session best-effort.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

// AccountRepo is the minimal account repository needed by the auth service.
type AccountRepo interface {
	GetByID(ctx context.Context, id string) (*accountdomain.Account, error)
	GetByEmail(ctx context.Context, email string) (*accountdomain.Account, error)
	Create(ctx context.Context, a *accountdomain.Account) error
	Update(ctx context.Context, a *accountdomain.Account) error
	Delete(ctx context.Context, id string) error
}

// UserRepo is the minimal user repository needed by the auth service.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	GetByEmail(ctx context.Context, projectID, email string) (*userdomain.User, error)
	ListByProject(ctx context.Context, projectID string) ([]*userdomain.User, error)
	Create(ctx context.Context, u *userdomain.User) error
	Update(ctx context.Context, u *userdomain.User) error
	SetEnabled(ctx context.Context, id string, enabled bool) error
	Delete(ctx context.Context, id string) error
}

// ProjectRepo is the minimal project repository needed by the auth service.
type ProjectRepo interface {
	GetByID(ctx context.Context, id string) (*projectdomain.Project, error)
	ListByAccount(ctx context.Context, accountID string) ([]*projectdomain.Project, error)
	Create(ctx context.Context, p *projectdomain.Project) error
	Update(ctx context.Context, p *projectdomain.Project) error
	Delete(ctx context.Context, id string) error
}

// KeyScheduler queues keypair generation for a new tenant.
type KeyScheduler interface {
	GenerateAsync(tenantID string) error
}

// KeyRemover deletes the keypair of a removed project.
type KeyRemover interface {
	Delete(ctx context.Context, tenantID string) error
}

// Issuer mints tokens for one tier.
type Issuer interface {
	SignNewSessionToken(ctx context.Context, principalID, tenantID string) (*token.Issued, error)
	SignAccessToken(ctx context.Context, principalID, sessionID, tenantID string) (string, error)
}

// SessionManager is the session store of one tier as used outside token verification.
type SessionManager interface {
	GetSession(ctx context.Context, sessionID string) (*sessiondomain.Session, error)
	ListByUserID(ctx context.Context, principalID string) ([]*sessiondomain.SessionIteration, error)
	UpdateClientInfo(ctx context.Context, sessionID, ipAddress, userAgent string) error
	KillSession(ctx context.Context, sessionID string) error
	DeleteByUserID(ctx context.Context, principalID string) error
}

// AuditLog records and lists authentication events.
type AuditLog interface {
	Record(ctx context.Context, e auditdomain.Event)
	List(ctx context.Context, tier principal.Tier, principalID string, limit int) ([]*auditdomain.Event, error)
}

type noAudit struct{}

func (noAudit) Record(context.Context, auditdomain.Event) {}

func (noAudit) List(context.Context, principal.Tier, string, int) ([]*auditdomain.Event, error) {
	return nil, nil
}

// Tier bundles the token issuer and session store of one principal tier.
type Tier struct {
	Tokens   Issuer
	Sessions SessionManager
}

// Deps holds the collaborators of AuthService.
type Deps struct {
	Accounts AccountRepo
	Users    UserRepo
	Projects ProjectRepo
	KeyGen   KeyScheduler
	Keys     KeyRemover
	Account  Tier
	User     Tier
	Hasher   *security.Hasher
	// Audit records authentication events; nil disables auditing.
	Audit  AuditLog
	Logger *slog.Logger
}

// AuthService implements registration, login, logout and session management for both tiers.
type AuthService struct {
	accounts AccountRepo
	users    UserRepo
	projects ProjectRepo
	keygen   KeyScheduler
	keys     KeyRemover
	account  Tier
	user     Tier
	hasher   *security.Hasher
	audit    AuditLog
	logger   *slog.Logger
	now      func() time.Time
}

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(d Deps) *AuthService {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var audit AuditLog = noAudit{}
	if d.Audit != nil {
		audit = d.Audit
	}
	return &AuthService{
		accounts: d.Accounts,
		users:    d.Users,
		projects: d.Projects,
		keygen:   d.KeyGen,
		keys:     d.Keys,
		account:  d.Account,
		user:     d.User,
		hasher:   d.Hasher,
		audit:    audit,
		logger:   logger.With("component", "identity"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RegisterAccount creates an account and logs it in.
func (s *AuthService) RegisterAccount(ctx context.Context, name, email, password string, client ClientInfo) (*AuthResult, error) {
	email, err := normalizeRegistration(name, email, password)
	if err != nil {
		return nil, err
	}
	existing, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailAlreadyRegistered
	}
	hashed, err := s.hasher.Hash([]byte(password))
	if err != nil {
		return nil, err
	}
	now := s.now()
	a := &accountdomain.Account{
		ID:           uuid.New().String(),
		Name:         strings.TrimSpace(name),
		Email:        email,
		PasswordHash: hashed,
		Enabled:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if err := s.accounts.Create(ctx, a); err != nil {
		return nil, emailTaken(err)
	}
	s.record(ctx, principal.TierAccount, "", a.ID, auditdomain.ActionRegistered, client.IPAddress, "")
	return s.login(ctx, principal.TierAccount, a.ID, "", client)
}

// LoginAccount checks the account's password and starts a session.
func (s *AuthService) LoginAccount(ctx context.Context, email, password string, client ClientInfo) (*AuthResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	a, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if a == nil {
		s.hasher.CompareMissing([]byte(password))
		s.record(ctx, principal.TierAccount, "", "", auditdomain.ActionLoginFailure, client.IPAddress, "unknown email")
		return nil, ErrInvalidCredentials
	}
	if err := s.hasher.Compare(a.PasswordHash, []byte(password)); err != nil || !a.Enabled {
		s.record(ctx, principal.TierAccount, "", a.ID, auditdomain.ActionLoginFailure, client.IPAddress, failureReason(a.Enabled))
		return nil, ErrInvalidCredentials
	}
	return s.login(ctx, principal.TierAccount, a.ID, "", client)
}

// RegisterUser creates a user in project and logs it in.
func (s *AuthService) RegisterUser(ctx context.Context, project *projectdomain.Project, name, email, password string, client ClientInfo) (*AuthResult, error) {
	email, err := normalizeRegistration(name, email, password)
	if err != nil {
		return nil, err
	}
	existing, err := s.users.GetByEmail(ctx, project.ID, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailAlreadyRegistered
	}
	hashed, err := s.hasher.Hash([]byte(password))
	if err != nil {
		return nil, err
	}
	now := s.now()
	u := &userdomain.User{
		ID:           uuid.New().String(),
		ProjectID:    project.ID,
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: hashed,
		Enabled:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, emailTaken(err)
	}
	s.record(ctx, principal.TierUser, project.ID, u.ID, auditdomain.ActionRegistered, client.IPAddress, "")
	return s.login(ctx, principal.TierUser, u.ID, project.ID, client)
}

// LoginUser checks the password of a user of project and starts a session. Disabled users cannot log in.
func (s *AuthService) LoginUser(ctx context.Context, project *projectdomain.Project, email, password string, client ClientInfo) (*AuthResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	u, err := s.users.GetByEmail(ctx, project.ID, email)
	if err != nil {
		return nil, err
	}
	if u == nil {
		s.hasher.CompareMissing([]byte(password))
		s.record(ctx, principal.TierUser, project.ID, "", auditdomain.ActionLoginFailure, client.IPAddress, "unknown email")
		return nil, ErrInvalidCredentials
	}
	if err := s.hasher.Compare(u.PasswordHash, []byte(password)); err != nil || !u.Enabled {
		s.record(ctx, principal.TierUser, project.ID, u.ID, auditdomain.ActionLoginFailure, client.IPAddress, failureReason(u.Enabled))
		return nil, ErrInvalidCredentials
	}
	return s.login(ctx, principal.TierUser, u.ID, project.ID, client)
}

func (s *AuthService) login(ctx context.Context, tier principal.Tier, principalID, tenantID string, client ClientInfo) (*AuthResult, error) {
	t := s.tier(tier)
	issued, err := t.Tokens.SignNewSessionToken(ctx, principalID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	access, err := t.Tokens.SignAccessToken(ctx, principalID, issued.SessionID, tenantID)
	if err != nil {
		if kerr := t.Sessions.KillSession(ctx, issued.SessionID); kerr != nil {
			s.logger.WarnContext(ctx, "removing half-started session failed", "session_id", issued.SessionID, "error", kerr)
		}
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	if client != (ClientInfo{}) {
		if err := t.Sessions.UpdateClientInfo(ctx, issued.SessionID, client.IPAddress, client.UserAgent); err != nil {
			s.logger.WarnContext(ctx, "saving client info failed", "session_id", issued.SessionID, "error", err)
		}
	}
	s.record(ctx, tier, tenantID, principalID, auditdomain.ActionLoginSuccess, client.IPAddress, "session "+issued.SessionID)
	return &AuthResult{
		AccessToken:      access,
		SessionToken:     issued.SessionToken,
		SessionID:        issued.SessionID,
		SessionExpiresAt: issued.ExpiresAt,
		PrincipalID:      principalID,
	}, nil
}

// LogoutAccount ends the caller's account session.
func (s *AuthService) LogoutAccount(ctx context.Context, accountID, sessionID string) error {
	if err := s.account.Sessions.KillSession(ctx, sessionID); err != nil {
		return err
	}
	s.record(ctx, principal.TierAccount, "", accountID, auditdomain.ActionLogout, "", "session "+sessionID)
	return nil
}

// LogoutUser ends the caller's user session.
func (s *AuthService) LogoutUser(ctx context.Context, projectID, userID, sessionID string) error {
	if err := s.user.Sessions.KillSession(ctx, sessionID); err != nil {
		return err
	}
	s.record(ctx, principal.TierUser, projectID, userID, auditdomain.ActionLogout, "", "session "+sessionID)
	return nil
}

// ListAccountSessions returns the account's live sessions.
func (s *AuthService) ListAccountSessions(ctx context.Context, accountID string) ([]*sessiondomain.SessionIteration, error) {
	return s.account.Sessions.ListByUserID(ctx, accountID)
}

// KillAccountSession ends one of the account's own sessions. Sessions of other accounts are
// reported as not found.
func (s *AuthService) KillAccountSession(ctx context.Context, accountID, sessionID string) error {
	sess, err := s.account.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil || sess.PrincipalID != accountID {
		return ErrSessionNotFound
	}
	if err := s.account.Sessions.KillSession(ctx, sessionID); err != nil {
		return err
	}
	s.record(ctx, principal.TierAccount, "", accountID, auditdomain.ActionSessionKilled, "", "session "+sessionID)
	return nil
}

// ListAccountEvents returns the account's most recent authentication events.
func (s *AuthService) ListAccountEvents(ctx context.Context, accountID string, limit int) ([]*auditdomain.Event, error) {
	return s.audit.List(ctx, principal.TierAccount, accountID, limit)
}

// CreateProject creates a project owned by accountID and queues its keypair generation.
// Users of the project cannot log in until the keypair exists. When generation cannot be queued
// the project is removed again and ErrKeygenUnavailable is returned.
func (s *AuthService) CreateProject(ctx context.Context, accountID, name string) (*projectdomain.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &ValidationError{Message: "name is required"}
	}
	apiKey, err := projectdomain.NewAPIKey()
	if err != nil {
		return nil, err
	}
	p := &projectdomain.Project{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Name:      name,
		APIKey:    apiKey,
		CreatedAt: s.now(),
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := s.projects.Create(ctx, p); err != nil {
		return nil, err
	}
	if err := s.keygen.GenerateAsync(p.ID); err != nil {
		s.logger.ErrorContext(ctx, "queueing project keypair failed", "project_id", p.ID, "error", err)
		if derr := s.projects.Delete(ctx, p.ID); derr != nil {
			return nil, fmt.Errorf("%w: rollback: %w", ErrKeygenUnavailable, derr)
		}
		return nil, fmt.Errorf("%w: %w", ErrKeygenUnavailable, err)
	}
	s.record(ctx, principal.TierAccount, p.ID, accountID, auditdomain.ActionProjectCreated, "", "")
	return p, nil
}

// ListProjects returns the account's projects.
func (s *AuthService) ListProjects(ctx context.Context, accountID string) ([]*projectdomain.Project, error) {
	return s.projects.ListByAccount(ctx, accountID)
}

// DisableUser disables a user of one of the account's projects and ends all of its sessions.
func (s *AuthService) DisableUser(ctx context.Context, accountID, projectID, userID string) error {
	if _, err := s.ownedUser(ctx, accountID, projectID, userID); err != nil {
		return err
	}
	if err := s.users.SetEnabled(ctx, userID, false); err != nil {
		return err
	}
	if err := s.user.Sessions.DeleteByUserID(ctx, userID); err != nil {
		return err
	}
	s.record(ctx, principal.TierUser, projectID, userID, auditdomain.ActionUserDisabled, "", "by account "+accountID)
	return nil
}

// DeleteUser ends all sessions of a user of one of the account's projects and deletes it.
func (s *AuthService) DeleteUser(ctx context.Context, accountID, projectID, userID string) error {
	if _, err := s.ownedUser(ctx, accountID, projectID, userID); err != nil {
		return err
	}
	if err := s.user.Sessions.DeleteByUserID(ctx, userID); err != nil {
		return err
	}
	if err := s.users.Delete(ctx, userID); err != nil {
		return err
	}
	s.record(ctx, principal.TierUser, projectID, userID, auditdomain.ActionUserDeleted, "", "by account "+accountID)
	return nil
}

func (s *AuthService) tier(t principal.Tier) Tier {
	if t == principal.TierUser {
		return s.user
	}
	return s.account
}

func (s *AuthService) record(ctx context.Context, tier principal.Tier, projectID, principalID string, action auditdomain.Action, ip, metadata string) {
	s.audit.Record(ctx, auditdomain.Event{
		Tier:        tier,
		ProjectID:   projectID,
		PrincipalID: principalID,
		Action:      action,
		IP:          ip,
		Metadata:    metadata,
	})
}

func failureReason(enabled bool) string {
	if !enabled {
		return "disabled"
	}
	return "bad password"
}

func (s *AuthService) ownedProject(ctx context.Context, accountID, projectID string) (*projectdomain.Project, error) {
	p, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if p == nil || p.AccountID != accountID {
		return nil, ErrProjectNotFound
	}
	return p, nil
}

func (s *AuthService) ownedUser(ctx context.Context, accountID, projectID, userID string) (*userdomain.User, error) {
	if _, err := s.ownedProject(ctx, accountID, projectID); err != nil {
		return nil, err
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil || u.ProjectID != projectID {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

func normalizeRegistration(name, email, password string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", &ValidationError{Message: "name is required"}
	}
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return "", err
	}
	if err := validatePassword(password); err != nil {
		return "", err
	}
	return email, nil
}

var simpleEmail = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func validateEmail(email string) error {
	if email == "" {
		return &ValidationError{Message: "email is required"}
	}
	if !simpleEmail.MatchString(email) {
		return &ValidationError{Message: "invalid email address"}
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 12 {
		return &ValidationError{Message: "password must be at least 12 characters"}
	}
	var hasUpper, hasLower, hasNumber, hasSymbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasNumber = true
		default:
			hasSymbol = true
		}
	}
	switch {
	case !hasUpper:
		return &ValidationError{Message: "password must contain at least one uppercase letter"}
	case !hasLower:
		return &ValidationError{Message: "password must contain at least one lowercase letter"}
	case !hasNumber:
		return &ValidationError{Message: "password must contain at least one number"}
	case !hasSymbol:
		return &ValidationError{Message: "password must contain at least one symbol"}
	}
	return nil
}
