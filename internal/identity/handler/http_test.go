package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	accountdomain "jauth/internal/account/domain"
	auditdomain "jauth/internal/audit/domain"
	"jauth/internal/authgate"
	"jauth/internal/identity/service"
	keydomain "jauth/internal/keystore/domain"
	"jauth/internal/principal"
	projectdomain "jauth/internal/project/domain"
	sessiondomain "jauth/internal/session/domain"
	"jauth/internal/token"
	userdomain "jauth/internal/user/domain"
)

type fakeVerifier[P principal.Principal] struct {
	mu     sync.Mutex
	access map[string]*token.Authenticated[P]
}

func (f *fakeVerifier[P]) VerifyAccessToken(_ context.Context, raw string) *token.Authenticated[P] {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.access[raw]
}

func (f *fakeVerifier[P]) ValidateAndRenewSession(context.Context, string) (*token.Renewed[P], error) {
	return nil, nil
}

type fakeProjects struct{ p *projectdomain.Project }

func (f fakeProjects) GetByAPIKey(_ context.Context, key string) (*projectdomain.Project, error) {
	if f.p != nil && f.p.APIKey == key {
		return f.p, nil
	}
	return nil, nil
}

type fakeKeys struct {
	pem []byte
	err error
}

func (f fakeKeys) Find(context.Context, keydomain.KeyKind, string) ([]byte, error) {
	return f.pem, f.err
}

// fakeAuth records the arguments it receives and returns canned results.
type fakeAuth struct {
	mu          sync.Mutex
	err         error
	lastProject *projectdomain.Project
	lastClient  service.ClientInfo
	killed      []string
	sessions    []*sessiondomain.SessionIteration
	lastLimit   int
	lastUpdate  service.ProfileUpdate
	deleted     []string
}

func (f *fakeAuth) result(principalID string, client service.ClientInfo) (*service.AuthResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastClient = client
	if f.err != nil {
		return nil, f.err
	}
	return &service.AuthResult{AccessToken: "acc-" + principalID, SessionToken: "ses-" + principalID, SessionID: "s-new", PrincipalID: principalID}, nil
}

func (f *fakeAuth) RegisterAccount(_ context.Context, _, _, _ string, c service.ClientInfo) (*service.AuthResult, error) {
	return f.result("acct", c)
}

func (f *fakeAuth) LoginAccount(_ context.Context, _, _ string, c service.ClientInfo) (*service.AuthResult, error) {
	return f.result("acct", c)
}

func (f *fakeAuth) RegisterUser(_ context.Context, p *projectdomain.Project, _, _, _ string, c service.ClientInfo) (*service.AuthResult, error) {
	f.mu.Lock()
	f.lastProject = p
	f.mu.Unlock()
	return f.result("user", c)
}

func (f *fakeAuth) LoginUser(_ context.Context, p *projectdomain.Project, _, _ string, c service.ClientInfo) (*service.AuthResult, error) {
	f.mu.Lock()
	f.lastProject = p
	f.mu.Unlock()
	return f.result("user", c)
}

func (f *fakeAuth) LogoutAccount(_ context.Context, _, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, sessionID)
	return f.err
}

func (f *fakeAuth) LogoutUser(ctx context.Context, _, userID, sessionID string) error {
	return f.LogoutAccount(ctx, userID, sessionID)
}

func (f *fakeAuth) ListAccountEvents(_ context.Context, accountID string, limit int) ([]*auditdomain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = limit
	return []*auditdomain.Event{{PrincipalID: accountID, Action: auditdomain.ActionLoginSuccess, IP: "10.0.0.1"}}, nil
}

func (f *fakeAuth) ListAccountSessions(context.Context, string) ([]*sessiondomain.SessionIteration, error) {
	return f.sessions, f.err
}

func (f *fakeAuth) KillAccountSession(_ context.Context, _, sessionID string) error {
	if sessionID != "s-1" {
		return service.ErrSessionNotFound
	}
	return f.LogoutAccount(context.Background(), "", sessionID)
}

func (f *fakeAuth) CreateProject(_ context.Context, accountID, name string) (*projectdomain.Project, error) {
	if name == "" {
		return nil, &service.ValidationError{Message: "name is required"}
	}
	return &projectdomain.Project{ID: "p-new", AccountID: accountID, Name: name, APIKey: "k-new"}, nil
}

func (f *fakeAuth) ListProjects(context.Context, string) ([]*projectdomain.Project, error) {
	return []*projectdomain.Project{testProject}, nil
}

func (f *fakeAuth) DisableUser(_ context.Context, _, projectID, _ string) error {
	if projectID != testProject.ID {
		return service.ErrProjectNotFound
	}
	return nil
}

func (f *fakeAuth) DeleteUser(_ context.Context, _, projectID, userID string) error {
	if userID != "u-1" {
		return service.ErrUserNotFound
	}
	return nil
}

func (f *fakeAuth) UpdateAccount(_ context.Context, accountID string, upd service.ProfileUpdate) (*accountdomain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastUpdate = upd
	if f.err != nil {
		return nil, f.err
	}
	return &accountdomain.Account{ID: accountID, Name: upd.Name, Email: upd.Email}, nil
}

func (f *fakeAuth) UpdateUser(_ context.Context, projectID, userID string, upd service.ProfileUpdate) (*userdomain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastUpdate = upd
	if f.err != nil {
		return nil, f.err
	}
	return &userdomain.User{ID: userID, ProjectID: projectID, Name: upd.Name, Email: upd.Email}, nil
}

func (f *fakeAuth) DeleteAccount(_ context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, accountID)
	return nil
}

func (f *fakeAuth) GetProject(_ context.Context, _, projectID string) (*projectdomain.Project, error) {
	if projectID != testProject.ID {
		return nil, service.ErrProjectNotFound
	}
	return testProject, nil
}

func (f *fakeAuth) RenameProject(ctx context.Context, accountID, projectID, name string) (*projectdomain.Project, error) {
	if name == "" {
		return nil, &service.ValidationError{Message: "name is required"}
	}
	p, err := f.GetProject(ctx, accountID, projectID)
	if err != nil {
		return nil, err
	}
	renamed := *p
	renamed.Name = name
	return &renamed, nil
}

func (f *fakeAuth) DeleteProject(ctx context.Context, accountID, projectID string) error {
	if _, err := f.GetProject(ctx, accountID, projectID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, projectID)
	return nil
}

func (f *fakeAuth) ListProjectUsers(ctx context.Context, accountID, projectID string) ([]*userdomain.User, error) {
	if _, err := f.GetProject(ctx, accountID, projectID); err != nil {
		return nil, err
	}
	return []*userdomain.User{testUser}, nil
}

func (f *fakeAuth) GetProjectUser(ctx context.Context, accountID, projectID, userID string) (*userdomain.User, error) {
	if _, err := f.GetProject(ctx, accountID, projectID); err != nil {
		return nil, err
	}
	if userID != testUser.ID {
		return nil, service.ErrUserNotFound
	}
	return testUser, nil
}

func (f *fakeAuth) ListUserSessions(_ context.Context, _, userID string) ([]*sessiondomain.SessionIteration, error) {
	if userID != testUser.ID {
		return nil, service.ErrUserNotFound
	}
	return f.sessions, nil
}

func (f *fakeAuth) KillUserSession(_ context.Context, _, sessionID string) error {
	if sessionID != "us-1" {
		return service.ErrSessionNotFound
	}
	return f.LogoutAccount(context.Background(), "", sessionID)
}

var (
	testAccount = &accountdomain.Account{ID: "acct-1", Name: "Ada", Email: "ada@example.com", Enabled: true}
	testUser    = &userdomain.User{ID: "u-1", ProjectID: "proj-1", Name: "Bob", Email: "bob@example.com", Enabled: true}
	testProject = &projectdomain.Project{ID: "proj-1", AccountID: "acct-1", Name: "demo", APIKey: "key-1"}
)

func newTestServer(t *testing.T, auth *fakeAuth, keys KeyFinder) *httptest.Server {
	t.Helper()
	accounts := &fakeVerifier[*accountdomain.Account]{access: map[string]*token.Authenticated[*accountdomain.Account]{
		"good-account": {Principal: testAccount, SessionID: "s-1"},
	}}
	users := &fakeVerifier[*userdomain.User]{access: map[string]*token.Authenticated[*userdomain.User]{
		"good-user": {Principal: testUser, SessionID: "us-1", TenantID: "proj-1"},
	}}
	h := New(auth,
		authgate.New[*accountdomain.Account](accounts, authgate.AccountCookies, authgate.CookieOptions{}, nil),
		authgate.New[*userdomain.User](users, authgate.UserCookies, authgate.CookieOptions{}, nil),
		fakeProjects{p: testProject}, keys, nil)
	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func errorBody(t *testing.T, resp *http.Response) authgate.ErrorBody {
	t.Helper()
	var b authgate.ErrorBody
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return b
}

func cookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestCreateAccount_SetsCredentials(t *testing.T) {
	auth := &fakeAuth{}
	srv := newTestServer(t, auth, fakeKeys{})
	resp := do(t, http.MethodPost, srv.URL+"/v1/account/create", `{"name":"Ada","email":"ada@example.com","password":"x"}`,
		map[string]string{"User-Agent": "curl/8.5.0", "X-Forwarded-For": "203.0.113.9, 10.0.0.1"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.AccessToken != "acc-acct" || body.SessionToken != "ses-acct" {
		t.Errorf("body = %+v", body)
	}
	c := cookie(resp, authgate.AccountCookies.Access)
	if c == nil || c.Value != "acc-acct" || !c.HttpOnly {
		t.Errorf("access cookie = %+v", c)
	}
	if got := resp.Header.Get("Authorization"); got != "Bearer acc-acct, Session ses-acct" {
		t.Errorf("Authorization = %q", got)
	}
	if auth.lastClient.IPAddress != "203.0.113.9" || auth.lastClient.UserAgent != "curl/8.5.0" {
		t.Errorf("client info = %+v", auth.lastClient)
	}
}

func TestCreateAccount_ErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		msg    string
	}{
		{&service.ValidationError{Message: "invalid email address"}, http.StatusBadRequest, "invalid email address"},
		{service.ErrEmailAlreadyRegistered, http.StatusConflict, "Email already in use"},
		{service.ErrInvalidCredentials, http.StatusUnauthorized, "Email or password is incorrect"},
		{service.ErrKeygenUnavailable, http.StatusServiceUnavailable, "Key generation unavailable, try again later"},
		{errors.New("db down"), http.StatusInternalServerError, "Internal Error"},
	}
	for _, c := range cases {
		srv := newTestServer(t, &fakeAuth{err: c.err}, fakeKeys{})
		resp := do(t, http.MethodPost, srv.URL+"/v1/account/create", `{}`, nil)
		if resp.StatusCode != c.status {
			t.Errorf("%v: status = %d, want %d", c.err, resp.StatusCode, c.status)
			continue
		}
		if b := errorBody(t, resp); b.Message != c.msg || b.Code != c.status {
			t.Errorf("%v: body = %+v", c.err, b)
		}
	}
}

func TestMalformedBody(t *testing.T) {
	srv := newTestServer(t, &fakeAuth{}, fakeKeys{})
	resp := do(t, http.MethodPost, srv.URL+"/v1/account/login", `{not json`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestGetAccount(t *testing.T) {
	srv := newTestServer(t, &fakeAuth{}, fakeKeys{})
	if resp := do(t, http.MethodGet, srv.URL+"/v1/account", "", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d", resp.StatusCode)
	}
	resp := do(t, http.MethodGet, srv.URL+"/v1/account", "", map[string]string{"Authorization": "Bearer good-account"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var p principal.Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		t.Fatal(err)
	}
	if p.ID != testAccount.ID || p.Email != testAccount.Email {
		t.Errorf("profile = %+v", p)
	}
}

func TestAccountTokenRejectedOnUserRoutes(t *testing.T) {
	srv := newTestServer(t, &fakeAuth{}, fakeKeys{})
	resp := do(t, http.MethodGet, srv.URL+"/v1/user?API_KEY=key-1", "", map[string]string{"Authorization": "Bearer good-account"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestLogoutAccount_ClearsCookies(t *testing.T) {
	auth := &fakeAuth{}
	srv := newTestServer(t, auth, fakeKeys{})
	resp := do(t, http.MethodPost, srv.URL+"/v1/account/logout", "", map[string]string{"Authorization": "Bearer good-account"})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(auth.killed) != 1 || auth.killed[0] != "s-1" {
		t.Errorf("killed = %v", auth.killed)
	}
	if c := cookie(resp, authgate.AccountCookies.Session); c == nil || c.MaxAge >= 0 {
		t.Errorf("session cookie not expired: %+v", c)
	}
}

func TestAccountSessions(t *testing.T) {
	now := time.Now().UTC()
	auth := &fakeAuth{sessions: []*sessiondomain.SessionIteration{
		{Session: sessiondomain.Session{ID: "s-1", IPAddress: "10.0.0.1", CreatedAt: now}, Iteration: sessiondomain.TokenIteration{ExpiresAt: now.Add(time.Hour)}},
		{Session: sessiondomain.Session{ID: "s-2", CreatedAt: now}, Iteration: sessiondomain.TokenIteration{ExpiresAt: now.Add(time.Hour)}},
	}}
	srv := newTestServer(t, auth, fakeKeys{})
	hdr := map[string]string{"Authorization": "Bearer good-account"}

	resp := do(t, http.MethodGet, srv.URL+"/v1/session/account", "", hdr)
	var list []sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || !list[0].Current || list[1].Current {
		t.Errorf("sessions = %+v", list)
	}

	if resp := do(t, http.MethodDelete, srv.URL+"/v1/session/account/s-9", "", hdr); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session status = %d", resp.StatusCode)
	}
	if resp := do(t, http.MethodDelete, srv.URL+"/v1/session/account/s-1", "", hdr); resp.StatusCode != http.StatusNoContent {
		t.Errorf("own session status = %d", resp.StatusCode)
	}
}

func TestUserRoutes_RequireAPIKey(t *testing.T) {
	auth := &fakeAuth{}
	srv := newTestServer(t, auth, fakeKeys{})
	body := `{"name":"Bob","email":"bob@example.com","password":"x"}`

	resp := do(t, http.MethodPost, srv.URL+"/v1/user", body, nil)
	if b := errorBody(t, resp); resp.StatusCode != http.StatusUnauthorized || b.Message != "API key is missing" {
		t.Errorf("missing key: %d %+v", resp.StatusCode, b)
	}
	resp = do(t, http.MethodPost, srv.URL+"/v1/user", body, map[string]string{authgate.APIKeyHeader: "nope"})
	if b := errorBody(t, resp); resp.StatusCode != http.StatusUnauthorized || b.Message != "Invalid API key" {
		t.Errorf("bad key: %d %+v", resp.StatusCode, b)
	}
	resp = do(t, http.MethodPost, srv.URL+"/v1/user?API_KEY=key-1", body, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if auth.lastProject == nil || auth.lastProject.ID != testProject.ID {
		t.Errorf("project = %+v", auth.lastProject)
	}
	if c := cookie(resp, authgate.UserCookies.Access); c == nil || c.Value != "acc-user" {
		t.Errorf("user access cookie = %+v", c)
	}
}

func TestGetUser(t *testing.T) {
	srv := newTestServer(t, &fakeAuth{}, fakeKeys{})
	resp := do(t, http.MethodGet, srv.URL+"/v1/user", "", map[string]string{authgate.APIKeyHeader: "key-1", "Authorization": "Bearer good-user"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var p principal.Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		t.Fatal(err)
	}
	if p.ID != testUser.ID || p.ProjectID != testUser.ProjectID {
		t.Errorf("profile = %+v", p)
	}
}

func TestProjects(t *testing.T) {
	srv := newTestServer(t, &fakeAuth{}, fakeKeys{})
	hdr := map[string]string{"Authorization": "Bearer good-account"}

	resp := do(t, http.MethodPost, srv.URL+"/v1/project", `{"name":"shop"}`, hdr)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var p projectResponse
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		t.Fatal(err)
	}
	if p.APIKey != "k-new" || p.Name != "shop" {
		t.Errorf("project = %+v", p)
	}
	if resp := do(t, http.MethodPost, srv.URL+"/v1/project", `{"name":""}`, hdr); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("blank name status = %d", resp.StatusCode)
	}
	resp = do(t, http.MethodGet, srv.URL+"/v1/project", "", hdr)
	var list []projectResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != testProject.ID {
		t.Errorf("list = %+v", list)
	}
}

func TestUserAdmin(t *testing.T) {
	srv := newTestServer(t, &fakeAuth{}, fakeKeys{})
	hdr := map[string]string{"Authorization": "Bearer good-account"}
	cases := []struct {
		method, path string
		status       int
	}{
		{http.MethodPost, "/v1/project/proj-1/user/u-1/disable", http.StatusNoContent},
		{http.MethodPost, "/v1/project/other/user/u-1/disable", http.StatusNotFound},
		{http.MethodDelete, "/v1/project/proj-1/user/u-1", http.StatusNoContent},
		{http.MethodDelete, "/v1/project/proj-1/user/u-2", http.StatusNotFound},
	}
	for _, c := range cases {
		if resp := do(t, c.method, srv.URL+c.path, "", hdr); resp.StatusCode != c.status {
			t.Errorf("%s %s: status = %d, want %d", c.method, c.path, resp.StatusCode, c.status)
		}
	}
}

func TestAccessKey(t *testing.T) {
	pem := []byte("-----BEGIN PUBLIC KEY-----\nabc\n-----END PUBLIC KEY-----\n")
	srv := newTestServer(t, &fakeAuth{}, fakeKeys{pem: pem})
	resp := do(t, http.MethodGet, srv.URL+"/v1/keys/access", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	srv = newTestServer(t, &fakeAuth{}, fakeKeys{})
	if resp := do(t, http.MethodGet, srv.URL+"/v1/keys/access", "", nil); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("missing key status = %d", resp.StatusCode)
	}
	srv = newTestServer(t, &fakeAuth{}, fakeKeys{err: errors.New("db down")})
	if resp := do(t, http.MethodGet, srv.URL+"/v1/keys/access", "", nil); resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("storage failure status = %d", resp.StatusCode)
	}
}

func TestAccountEvents(t *testing.T) {
	auth := &fakeAuth{}
	srv := newTestServer(t, auth, fakeKeys{})
	resp := do(t, http.MethodGet, srv.URL+"/v1/account/events?limit=5", "", map[string]string{"Authorization": "Bearer good-account"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var list []eventResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Action != "login_success" || auth.lastLimit != 5 {
		t.Errorf("events = %+v, limit = %d", list, auth.lastLimit)
	}
}

func TestLogoutUser(t *testing.T) {
	auth := &fakeAuth{}
	srv := newTestServer(t, auth, fakeKeys{})
	resp := do(t, http.MethodPost, srv.URL+"/v1/user/logout", "", map[string]string{authgate.APIKeyHeader: "key-1", "Authorization": "Bearer good-user"})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(auth.killed) != 1 || auth.killed[0] != "us-1" {
		t.Errorf("killed = %v", auth.killed)
	}
	if c := cookie(resp, authgate.UserCookies.Access); c == nil || c.MaxAge >= 0 {
		t.Errorf("user access cookie not expired: %+v", c)
	}
}

func TestUpdateAccount(t *testing.T) {
	auth := &fakeAuth{}
	srv := newTestServer(t, auth, fakeKeys{})
	body := `{"name":"Ada L","email":"ada.l@example.com","oldPassword":"old","newPassword":"new"}`
	if resp := do(t, http.MethodPut, srv.URL+"/v1/account/update", body, nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d", resp.StatusCode)
	}
	resp := do(t, http.MethodPut, srv.URL+"/v1/account/update", body, map[string]string{"Authorization": "Bearer good-account"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var p principal.Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		t.Fatal(err)
	}
	if p.ID != testAccount.ID || p.Email != "ada.l@example.com" {
		t.Errorf("profile = %+v", p)
	}
	want := service.ProfileUpdate{Name: "Ada L", Email: "ada.l@example.com", OldPassword: "old", NewPassword: "new"}
	if auth.lastUpdate != want {
		t.Errorf("update = %+v", auth.lastUpdate)
	}

	srv = newTestServer(t, &fakeAuth{err: service.ErrEmailAlreadyRegistered}, fakeKeys{})
	resp = do(t, http.MethodPut, srv.URL+"/v1/account/update", body, map[string]string{"Authorization": "Bearer good-account"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("taken email status = %d", resp.StatusCode)
	}
}

func TestDeleteAccount_ClearsCookies(t *testing.T) {
	auth := &fakeAuth{}
	srv := newTestServer(t, auth, fakeKeys{})
	if resp := do(t, http.MethodDelete, srv.URL+"/v1/account", "", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d", resp.StatusCode)
	}
	resp := do(t, http.MethodDelete, srv.URL+"/v1/account", "", map[string]string{"Authorization": "Bearer good-account"})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(auth.deleted) != 1 || auth.deleted[0] != testAccount.ID {
		t.Errorf("deleted = %v", auth.deleted)
	}
	if c := cookie(resp, authgate.AccountCookies.Access); c == nil || c.MaxAge >= 0 {
		t.Errorf("access cookie not expired: %+v", c)
	}

	srv = newTestServer(t, &fakeAuth{err: errors.New("db down")}, fakeKeys{})
	resp = do(t, http.MethodDelete, srv.URL+"/v1/account", "", map[string]string{"Authorization": "Bearer good-account"})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("storage failure status = %d", resp.StatusCode)
	}
}

func TestUpdateUser(t *testing.T) {
	auth := &fakeAuth{}
	srv := newTestServer(t, auth, fakeKeys{})
	body := `{"name":"Robert"}`
	if resp := do(t, http.MethodPut, srv.URL+"/v1/user", body, map[string]string{authgate.APIKeyHeader: "key-1"}); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d", resp.StatusCode)
	}
	resp := do(t, http.MethodPut, srv.URL+"/v1/user", body, map[string]string{authgate.APIKeyHeader: "key-1", "Authorization": "Bearer good-user"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var p principal.Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		t.Fatal(err)
	}
	if p.ID != testUser.ID || p.ProjectID != testUser.ProjectID || p.Name != "Robert" {
		t.Errorf("profile = %+v", p)
	}
}

func TestProjectAdmin(t *testing.T) {
	auth := &fakeAuth{}
	srv := newTestServer(t, auth, fakeKeys{})
	hdr := map[string]string{"Authorization": "Bearer good-account"}

	resp := do(t, http.MethodGet, srv.URL+"/v1/project/proj-1", "", hdr)
	var p projectResponse
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		t.Fatal(err)
	}
	if p.ID != testProject.ID {
		t.Errorf("project = %+v", p)
	}
	resp = do(t, http.MethodPut, srv.URL+"/v1/project/proj-1", `{"name":"store"}`, hdr)
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || p.Name != "store" {
		t.Errorf("rename = %d %+v", resp.StatusCode, p)
	}

	resp = do(t, http.MethodGet, srv.URL+"/v1/project/proj-1/user", "", hdr)
	var users []userResponse
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 || users[0].ID != testUser.ID || !users[0].Enabled {
		t.Errorf("users = %+v", users)
	}

	cases := []struct {
		method, path, body string
		status             int
	}{
		{http.MethodGet, "/v1/project/other", "", http.StatusNotFound},
		{http.MethodPut, "/v1/project/other", `{"name":"x"}`, http.StatusNotFound},
		{http.MethodPut, "/v1/project/proj-1", `{"name":""}`, http.StatusBadRequest},
		{http.MethodGet, "/v1/project/other/user", "", http.StatusNotFound},
		{http.MethodGet, "/v1/project/proj-1/user/u-1", "", http.StatusOK},
		{http.MethodGet, "/v1/project/proj-1/user/u-2", "", http.StatusNotFound},
		{http.MethodDelete, "/v1/project/other", "", http.StatusNotFound},
		{http.MethodDelete, "/v1/project/proj-1", "", http.StatusNoContent},
	}
	for _, c := range cases {
		if resp := do(t, c.method, srv.URL+c.path, c.body, hdr); resp.StatusCode != c.status {
			t.Errorf("%s %s: status = %d, want %d", c.method, c.path, resp.StatusCode, c.status)
		}
	}
	if len(auth.deleted) != 1 || auth.deleted[0] != testProject.ID {
		t.Errorf("deleted = %v", auth.deleted)
	}
}

func TestAccountManagesUserSessions(t *testing.T) {
	now := time.Now().UTC()
	auth := &fakeAuth{sessions: []*sessiondomain.SessionIteration{
		{Session: sessiondomain.Session{ID: "us-1", CreatedAt: now}, Iteration: sessiondomain.TokenIteration{ExpiresAt: now.Add(time.Hour)}},
	}}
	srv := newTestServer(t, auth, fakeKeys{})
	hdr := map[string]string{"Authorization": "Bearer good-account"}

	resp := do(t, http.MethodGet, srv.URL+"/v1/session/account/user/u-1", "", hdr)
	var list []sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != "us-1" || list[0].Current {
		t.Errorf("sessions = %+v", list)
	}
	if resp := do(t, http.MethodGet, srv.URL+"/v1/session/account/user/u-2", "", hdr); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown user status = %d", resp.StatusCode)
	}
	if resp := do(t, http.MethodDelete, srv.URL+"/v1/session/account/user/us-9", "", hdr); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session status = %d", resp.StatusCode)
	}
	if resp := do(t, http.MethodDelete, srv.URL+"/v1/session/account/user/us-1", "", hdr); resp.StatusCode != http.StatusNoContent {
		t.Errorf("kill status = %d", resp.StatusCode)
	}
	if len(auth.killed) != 1 || auth.killed[0] != "us-1" {
		t.Errorf("killed = %v", auth.killed)
	}
	// A user token cannot reach the account-tier session routes.
	if resp := do(t, http.MethodGet, srv.URL+"/v1/session/account/user/u-1", "", map[string]string{"Authorization": "Bearer good-user"}); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("user token status = %d", resp.StatusCode)
	}
}
