package authgate

import (
	"context"
	"sync"

	accountdomain "jauth/internal/account/domain"
	projectdomain "jauth/internal/project/domain"
	"jauth/internal/token"
)

// fakeVerifier accepts the access and session tokens it has been told about.
type fakeVerifier struct {
	mu         sync.Mutex
	access     map[string]*token.Authenticated[*accountdomain.Account]
	sessions   map[string]*token.Renewed[*accountdomain.Account]
	renewErr   error
	renewCalls int
}

func newFakeVerifier() *fakeVerifier {
	return &fakeVerifier{
		access:   make(map[string]*token.Authenticated[*accountdomain.Account]),
		sessions: make(map[string]*token.Renewed[*accountdomain.Account]),
	}
}

func (f *fakeVerifier) VerifyAccessToken(_ context.Context, raw string) *token.Authenticated[*accountdomain.Account] {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.access[raw]
}

func (f *fakeVerifier) ValidateAndRenewSession(_ context.Context, raw string) (*token.Renewed[*accountdomain.Account], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renewCalls++
	if f.renewErr != nil {
		return nil, f.renewErr
	}
	r, ok := f.sessions[raw]
	if !ok {
		return nil, nil
	}
	delete(f.sessions, raw)
	return r, nil
}

var testAccount = &accountdomain.Account{ID: "acct-1", Name: "Ada", Email: "ada@example.com", Enabled: true}

func (f *fakeVerifier) allowAccess(raw, sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.access[raw] = &token.Authenticated[*accountdomain.Account]{Principal: testAccount, SessionID: sessionID}
}

func (f *fakeVerifier) allowSession(raw, sessionID, newAccess, newSession string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[raw] = &token.Renewed[*accountdomain.Account]{
		Authenticated: token.Authenticated[*accountdomain.Account]{Principal: testAccount, SessionID: sessionID},
		AccessToken:   newAccess,
		SessionToken:  newSession,
	}
}

// fakeProjects resolves a fixed set of API keys.
type fakeProjects struct {
	mu    sync.Mutex
	byKey map[string]*projectdomain.Project
	err   error
}

func (f *fakeProjects) GetByAPIKey(_ context.Context, apiKey string) (*projectdomain.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.byKey[apiKey], nil
}

func newFakeProjects() *fakeProjects {
	return &fakeProjects{byKey: map[string]*projectdomain.Project{
		"key-1": {ID: "proj-1", AccountID: "acct-1", Name: "demo", APIKey: "key-1"},
	}}
}
