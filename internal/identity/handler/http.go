package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	accountdomain "jauth/internal/account/domain"
	auditdomain "jauth/internal/audit/domain"
	"jauth/internal/authgate"
	"jauth/internal/identity/service"
	keydomain "jauth/internal/keystore/domain"
	projectdomain "jauth/internal/project/domain"
	sessiondomain "jauth/internal/session/domain"
	userdomain "jauth/internal/user/domain"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 16

// AuthService is the part of service.AuthService the HTTP surface calls.
type AuthService interface {
	RegisterAccount(ctx context.Context, name, email, password string, client service.ClientInfo) (*service.AuthResult, error)
	LoginAccount(ctx context.Context, email, password string, client service.ClientInfo) (*service.AuthResult, error)
	RegisterUser(ctx context.Context, project *projectdomain.Project, name, email, password string, client service.ClientInfo) (*service.AuthResult, error)
	LoginUser(ctx context.Context, project *projectdomain.Project, email, password string, client service.ClientInfo) (*service.AuthResult, error)
	LogoutAccount(ctx context.Context, accountID, sessionID string) error
	LogoutUser(ctx context.Context, projectID, userID, sessionID string) error
	ListAccountEvents(ctx context.Context, accountID string, limit int) ([]*auditdomain.Event, error)
	ListAccountSessions(ctx context.Context, accountID string) ([]*sessiondomain.SessionIteration, error)
	KillAccountSession(ctx context.Context, accountID, sessionID string) error
	CreateProject(ctx context.Context, accountID, name string) (*projectdomain.Project, error)
	ListProjects(ctx context.Context, accountID string) ([]*projectdomain.Project, error)
	DisableUser(ctx context.Context, accountID, projectID, userID string) error
	DeleteUser(ctx context.Context, accountID, projectID, userID string) error
	UpdateAccount(ctx context.Context, accountID string, upd service.ProfileUpdate) (*accountdomain.Account, error)
	UpdateUser(ctx context.Context, projectID, userID string, upd service.ProfileUpdate) (*userdomain.User, error)
	DeleteAccount(ctx context.Context, accountID string) error
	GetProject(ctx context.Context, accountID, projectID string) (*projectdomain.Project, error)
	RenameProject(ctx context.Context, accountID, projectID, name string) (*projectdomain.Project, error)
	DeleteProject(ctx context.Context, accountID, projectID string) error
	ListProjectUsers(ctx context.Context, accountID, projectID string) ([]*userdomain.User, error)
	GetProjectUser(ctx context.Context, accountID, projectID, userID string) (*userdomain.User, error)
	ListUserSessions(ctx context.Context, accountID, userID string) ([]*sessiondomain.SessionIteration, error)
	KillUserSession(ctx context.Context, accountID, sessionID string) error
}

// KeyFinder reads the public half of a tenant keypair.
type KeyFinder interface {
	Find(ctx context.Context, kind keydomain.KeyKind, tenantID string) ([]byte, error)
}

// Handler serves the account, user, project and session routes.
type Handler struct {
	auth        AuthService
	accountGate *authgate.Gate[*accountdomain.Account]
	userGate    *authgate.Gate[*userdomain.User]
	projects    authgate.ProjectResolver
	keys        KeyFinder
	logger      *slog.Logger
}

// New returns a Handler. logger may be nil.
func New(auth AuthService, accountGate *authgate.Gate[*accountdomain.Account], userGate *authgate.Gate[*userdomain.User], projects authgate.ProjectResolver, keys KeyFinder, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		auth:        auth,
		accountGate: accountGate,
		userGate:    userGate,
		projects:    projects,
		keys:        keys,
		logger:      logger.With("component", "http"),
	}
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	account := h.accountGate.Middleware
	project := authgate.RequireProject(h.projects, h.logger)
	user := func(next http.Handler) http.Handler { return project(h.userGate.Middleware(next)) }

	mux.HandleFunc("GET /v1/keys/access", h.accessKey)

	mux.HandleFunc("POST /v1/account/create", h.createAccount)
	mux.HandleFunc("POST /v1/account/login", h.loginAccount)
	mux.Handle("GET /v1/account", account(http.HandlerFunc(h.getAccount)))
	mux.Handle("PUT /v1/account/update", account(http.HandlerFunc(h.updateAccount)))
	mux.Handle("DELETE /v1/account", account(http.HandlerFunc(h.deleteAccount)))
	mux.Handle("POST /v1/account/logout", account(http.HandlerFunc(h.logoutAccount)))
	mux.Handle("GET /v1/account/events", account(http.HandlerFunc(h.listAccountEvents)))
	mux.Handle("GET /v1/session/account", account(http.HandlerFunc(h.listAccountSessions)))
	mux.Handle("DELETE /v1/session/account/{session_id}", account(http.HandlerFunc(h.killAccountSession)))
	mux.Handle("GET /v1/session/account/user/{user_id}", account(http.HandlerFunc(h.listUserSessions)))
	mux.Handle("DELETE /v1/session/account/user/{session_id}", account(http.HandlerFunc(h.killUserSession)))

	mux.Handle("POST /v1/project", account(http.HandlerFunc(h.createProject)))
	mux.Handle("GET /v1/project", account(http.HandlerFunc(h.listProjects)))
	mux.Handle("GET /v1/project/{project_id}", account(http.HandlerFunc(h.getProject)))
	mux.Handle("PUT /v1/project/{project_id}", account(http.HandlerFunc(h.renameProject)))
	mux.Handle("DELETE /v1/project/{project_id}", account(http.HandlerFunc(h.deleteProject)))
	mux.Handle("GET /v1/project/{project_id}/user", account(http.HandlerFunc(h.listProjectUsers)))
	mux.Handle("GET /v1/project/{project_id}/user/{user_id}", account(http.HandlerFunc(h.getProjectUser)))
	mux.Handle("POST /v1/project/{project_id}/user/{user_id}/disable", account(http.HandlerFunc(h.disableUser)))
	mux.Handle("DELETE /v1/project/{project_id}/user/{user_id}", account(http.HandlerFunc(h.deleteUser)))

	mux.Handle("POST /v1/user", project(http.HandlerFunc(h.createUser)))
	mux.Handle("POST /v1/user/login", project(http.HandlerFunc(h.loginUser)))
	mux.Handle("GET /v1/user", user(http.HandlerFunc(h.getUser)))
	mux.Handle("PUT /v1/user", user(http.HandlerFunc(h.updateUser)))
	mux.Handle("POST /v1/user/logout", user(http.HandlerFunc(h.logoutUser)))
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type profileRequest struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

func (p profileRequest) update() service.ProfileUpdate {
	return service.ProfileUpdate{Name: p.Name, Email: p.Email, OldPassword: p.OldPassword, NewPassword: p.NewPassword}
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	SessionToken string `json:"sessionToken"`
}

type projectRequest struct {
	Name string `json:"name"`
}

type projectResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	APIKey    string    `json:"apiKey"`
	CreatedAt time.Time `json:"createdAt"`
}

// userResponse is a user as its project's account sees it.
type userResponse struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Enabled   bool      `json:"enabled"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"createdAt"`
}

type sessionResponse struct {
	ID        string    `json:"id"`
	IPAddress string    `json:"ipAddress,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Current   bool      `json:"current"`
}

type eventResponse struct {
	Action    string    `json:"action"`
	ProjectID string    `json:"projectId,omitempty"`
	IP        string    `json:"ip,omitempty"`
	Metadata  string    `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func (h *Handler) accessKey(w http.ResponseWriter, r *http.Request) {
	pem, err := h.keys.Find(r.Context(), keydomain.KindPublic, keydomain.AccountTier)
	if err != nil {
		h.internal(w, r, "reading account public key", err)
		return
	}
	if pem == nil {
		authgate.WriteError(w, http.StatusServiceUnavailable, "Access key unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	_, _ = w.Write(pem)
}

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.auth.RegisterAccount(r.Context(), req.Name, req.Email, req.Password, clientInfo(r))
	if err != nil {
		h.authError(w, r, err)
		return
	}
	h.issue(w, h.accountGate.Cookies(), h.accountGate.CookieOptions(), http.StatusCreated, res)
}

func (h *Handler) loginAccount(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.auth.LoginAccount(r.Context(), req.Email, req.Password, clientInfo(r))
	if err != nil {
		h.authError(w, r, err)
		return
	}
	h.issue(w, h.accountGate.Cookies(), h.accountGate.CookieOptions(), http.StatusOK, res)
}

func (h *Handler) getAccount(w http.ResponseWriter, r *http.Request) {
	writeProfile(w, r)
}

func (h *Handler) updateAccount(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if !decode(w, r, &req) {
		return
	}
	acct, _ := authgate.PrincipalFrom[*accountdomain.Account](r.Context())
	a, err := h.auth.UpdateAccount(r.Context(), acct.ID, req.update())
	if err != nil {
		h.authError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.Profile())
}

func (h *Handler) deleteAccount(w http.ResponseWriter, r *http.Request) {
	acct, _ := authgate.PrincipalFrom[*accountdomain.Account](r.Context())
	if err := h.auth.DeleteAccount(r.Context(), acct.ID); err != nil {
		h.internal(w, r, "deleting account", err)
		return
	}
	authgate.ClearCredentials(w, h.accountGate.Cookies(), h.accountGate.CookieOptions())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) logoutAccount(w http.ResponseWriter, r *http.Request) {
	acct, _ := authgate.PrincipalFrom[*accountdomain.Account](r.Context())
	sessionID, _ := authgate.GetSessionID(r.Context())
	if err := h.auth.LogoutAccount(r.Context(), acct.ID, sessionID); err != nil {
		h.internal(w, r, "account logout", err)
		return
	}
	authgate.ClearCredentials(w, h.accountGate.Cookies(), h.accountGate.CookieOptions())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listAccountSessions(w http.ResponseWriter, r *http.Request) {
	acct, _ := authgate.PrincipalFrom[*accountdomain.Account](r.Context())
	current, _ := authgate.GetSessionID(r.Context())
	list, err := h.auth.ListAccountSessions(r.Context(), acct.ID)
	if err != nil {
		h.internal(w, r, "listing sessions", err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponses(list, current))
}

func (h *Handler) listUserSessions(w http.ResponseWriter, r *http.Request) {
	acct, _ := authgate.PrincipalFrom[*accountdomain.Account](r.Context())
	list, err := h.auth.ListUserSessions(r.Context(), acct.ID, r.PathValue("user_id"))
	if err != nil {
		h.authError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponses(list, ""))
}

func (h *Handler) killUserSession(w http.ResponseWriter, r *http.Request) {
	acct, _ := authgate.PrincipalFrom[*accountdomain.Account](r.Context())
	if err := h.auth.KillUserSession(r.Context(), acct.ID, r.PathValue("session_id")); err != nil {
		h.authError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listAccountEvents(w http.ResponseWriter, r *http.Request) {
	acct, _ := authgate.PrincipalFrom[*accountdomain.Account](r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := h.auth.ListAccountEvents(r.Context(), acct.ID, limit)
	if err != nil {
		h.internal(w, r, "listing events", err)
		return
	}
	out := make([]eventResponse, 0, len(list))
	for _, e := range list {
		out = append(out, eventResponse{
			Action:    string(e.Action),
			ProjectID: e.ProjectID,
			IP:        e.IP,
			Metadata:  e.Metadata,
			CreatedAt: e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) killAccountSession(w http.ResponseWriter, r *http.Request) {
	acct, _ := authgate.PrincipalFrom[*accountdomain.Account](r.Context())
	err := h.auth.KillAccountSession(r.Context(), acct.ID, r.PathValue("session_id"))
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		authgate.WriteError(w, http.StatusNotFound, "Session not found")
	case err != nil:
		h.internal(w, r, "killing session", err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) createProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if !decode(w, r, &req) {
		return
	}
	acct, _ := authgate.PrincipalFrom[*accountdomain.Account](r.Context())
	p, err := h.auth.CreateProject(r.Context(), acct.ID, req.Name)
	if err != nil {
		h.authError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProjectResponse(p))
}

func (h *Handler) listProjects(w http.ResponseWriter, r *http.Request) {
	acct, _ := authgate.PrincipalFrom[*accountdomain.Account](r.Context())
	list, err := h.auth.ListProjects(r.Context(), acct.ID)
	if err != nil {
		h.internal(w, r, "listing projects", err)
		return
	}
	out := make([]projectResponse, 0, len(list))
	for _, p := range list {
		out = append(out, toProjectResponse(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getProject(w http.ResponseWriter, r *http.Request) {
	acct, _ := authgate.PrincipalFrom[*accountdomain.Account](r.Context())
	p, err := h.auth.GetProject(r.Context(), acct.ID, r.PathValue("project_id"))
	if err != nil {
		h.authError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectResponse(p))
}

func (h *Handler) renameProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if !decode(w, r, &req) {
		return
	}
	acct, _ := authgate.PrincipalFrom[*accountdomain.Account](r.Context())
	p, err := h.auth.RenameProject(r.Context(), acct.ID, r.PathValue("project_id"), req.Name)
	if err != nil {
		h.authError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectResponse(p))
}

func (h *Handler) deleteProject(w http.ResponseWriter, r *http.Request) {
	acct, _ := authgate.PrincipalFrom[*accountdomain.Account](r.Context())
	err := h.auth.DeleteProject(r.Context(), acct.ID, r.PathValue("project_id"))
	h.userAdminResult(w, r, err)
}

func (h *Handler) listProjectUsers(w http.ResponseWriter, r *http.Request) {
	acct, _ := authgate.PrincipalFrom[*accountdomain.Account](r.Context())
	list, err := h.auth.ListProjectUsers(r.Context(), acct.ID, r.PathValue("project_id"))
	if err != nil {
		h.authError(w, r, err)
		return
	}
	out := make([]userResponse, 0, len(list))
	for _, u := range list {
		out = append(out, toUserResponse(u))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getProjectUser(w http.ResponseWriter, r *http.Request) {
	acct, _ := authgate.PrincipalFrom[*accountdomain.Account](r.Context())
	u, err := h.auth.GetProjectUser(r.Context(), acct.ID, r.PathValue("project_id"), r.PathValue("user_id"))
	if err != nil {
		h.authError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func (h *Handler) disableUser(w http.ResponseWriter, r *http.Request) {
	acct, _ := authgate.PrincipalFrom[*accountdomain.Account](r.Context())
	err := h.auth.DisableUser(r.Context(), acct.ID, r.PathValue("project_id"), r.PathValue("user_id"))
	h.userAdminResult(w, r, err)
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	acct, _ := authgate.PrincipalFrom[*accountdomain.Account](r.Context())
	err := h.auth.DeleteUser(r.Context(), acct.ID, r.PathValue("project_id"), r.PathValue("user_id"))
	h.userAdminResult(w, r, err)
}

func (h *Handler) userAdminResult(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrProjectNotFound):
		authgate.WriteError(w, http.StatusNotFound, "Project not found")
	case errors.Is(err, service.ErrUserNotFound):
		authgate.WriteError(w, http.StatusNotFound, "User not found")
	case err != nil:
		h.internal(w, r, "user admin", err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}
	p, _ := authgate.ProjectFrom(r.Context())
	res, err := h.auth.RegisterUser(r.Context(), p, req.Name, req.Email, req.Password, clientInfo(r))
	if err != nil {
		h.authError(w, r, err)
		return
	}
	h.issue(w, h.userGate.Cookies(), h.userGate.CookieOptions(), http.StatusCreated, res)
}

func (h *Handler) loginUser(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}
	p, _ := authgate.ProjectFrom(r.Context())
	res, err := h.auth.LoginUser(r.Context(), p, req.Email, req.Password, clientInfo(r))
	if err != nil {
		h.authError(w, r, err)
		return
	}
	h.issue(w, h.userGate.Cookies(), h.userGate.CookieOptions(), http.StatusOK, res)
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	writeProfile(w, r)
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if !decode(w, r, &req) {
		return
	}
	cur, _ := authgate.PrincipalFrom[*userdomain.User](r.Context())
	u, err := h.auth.UpdateUser(r.Context(), cur.ProjectID, cur.ID, req.update())
	if err != nil {
		h.authError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u.Profile())
}

func (h *Handler) logoutUser(w http.ResponseWriter, r *http.Request) {
	u, _ := authgate.PrincipalFrom[*userdomain.User](r.Context())
	sessionID, _ := authgate.GetSessionID(r.Context())
	if err := h.auth.LogoutUser(r.Context(), u.ProjectID, u.ID, sessionID); err != nil {
		h.internal(w, r, "user logout", err)
		return
	}
	authgate.ClearCredentials(w, h.userGate.Cookies(), h.userGate.CookieOptions())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) issue(w http.ResponseWriter, names authgate.CookieNames, opts authgate.CookieOptions, status int, res *service.AuthResult) {
	authgate.WriteCredentials(w, names, opts, authgate.Credentials{Access: res.AccessToken, Session: res.SessionToken})
	writeJSON(w, status, tokenResponse{AccessToken: res.AccessToken, SessionToken: res.SessionToken})
}

// authError maps service errors to status codes. Unknown errors are logged and reported as 500.
func (h *Handler) authError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		authgate.WriteError(w, http.StatusBadRequest, verr.Message)
	case errors.Is(err, service.ErrEmailAlreadyRegistered):
		authgate.WriteError(w, http.StatusConflict, "Email already in use")
	case errors.Is(err, service.ErrInvalidCredentials):
		authgate.WriteError(w, http.StatusUnauthorized, "Email or password is incorrect")
	case errors.Is(err, service.ErrAccountNotFound):
		authgate.WriteError(w, http.StatusNotFound, "Account not found")
	case errors.Is(err, service.ErrProjectNotFound):
		authgate.WriteError(w, http.StatusNotFound, "Project not found")
	case errors.Is(err, service.ErrUserNotFound):
		authgate.WriteError(w, http.StatusNotFound, "User not found")
	case errors.Is(err, service.ErrSessionNotFound):
		authgate.WriteError(w, http.StatusNotFound, "Session not found")
	case errors.Is(err, service.ErrKeygenUnavailable):
		authgate.WriteError(w, http.StatusServiceUnavailable, "Key generation unavailable, try again later")
	default:
		h.internal(w, r, "auth request", err)
	}
}

func (h *Handler) internal(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.ErrorContext(r.Context(), op+" failed", "path", r.URL.Path, "error", err)
	authgate.WriteError(w, http.StatusInternalServerError, "Internal Error")
}

func writeProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := authgate.IdentityFrom(r.Context())
	if !ok || id.Principal == nil {
		authgate.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, id.Principal.Profile())
}

func toProjectResponse(p *projectdomain.Project) projectResponse {
	return projectResponse{ID: p.ID, Name: p.Name, APIKey: p.APIKey, CreatedAt: p.CreatedAt}
}

func toUserResponse(u *userdomain.User) userResponse {
	return userResponse{ID: u.ID, ProjectID: u.ProjectID, Name: u.Name, Email: u.Email, Enabled: u.Enabled, Verified: u.Verified, CreatedAt: u.CreatedAt}
}

func toSessionResponses(list []*sessiondomain.SessionIteration, current string) []sessionResponse {
	out := make([]sessionResponse, 0, len(list))
	for _, si := range list {
		out = append(out, sessionResponse{
			ID:        si.Session.ID,
			IPAddress: si.Session.IPAddress,
			UserAgent: si.Session.UserAgent,
			CreatedAt: si.Session.CreatedAt,
			ExpiresAt: si.Iteration.ExpiresAt,
			Current:   current != "" && si.Session.ID == current,
		})
	}
	return out
}

func clientInfo(r *http.Request) service.ClientInfo {
	return service.ClientInfo{IPAddress: authgate.RequestClientIP(r), UserAgent: r.UserAgent()}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		authgate.WriteError(w, http.StatusBadRequest, "Bad Request")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
