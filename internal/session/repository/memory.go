package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"jauth/internal/session/domain"
)

// MemoryRepository is an in-process Repository used by tests and local tooling.
// A single mutex makes every method atomic, which stands in for the row lock Rotate takes in Postgres.
type MemoryRepository struct {
	mu         sync.Mutex
	sessions   map[string]*domain.Session
	iterations map[string][]*domain.TokenIteration
	// Err, when set, is returned from every call.
	Err error
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		sessions:   make(map[string]*domain.Session),
		iterations: make(map[string][]*domain.TokenIteration),
	}
}

func (m *MemoryRepository) Create(_ context.Context, s *domain.Session, first *domain.TokenIteration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	sc, ic := *s, *first
	ic.SessionID = s.ID
	m.sessions[s.ID] = &sc
	m.iterations[s.ID] = []*domain.TokenIteration{&ic}
	return nil
}

func (m *MemoryRepository) Rotate(_ context.Context, sessionID, fromTokenID string, next *domain.TokenIteration) (RotateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	if _, ok := m.sessions[sessionID]; !ok {
		return SessionGone, nil
	}
	current := m.validLocked(sessionID)
	if current == nil {
		m.deleteLocked(sessionID)
		return SessionGone, nil
	}
	if current.ID != fromTokenID {
		return StaleIteration, nil
	}
	current.Valid = false
	next.SessionID = sessionID
	next.Iteration = current.Iteration + 1
	next.Valid = true
	cp := *next
	m.iterations[sessionID] = append(m.iterations[sessionID], &cp)
	return Rotated, nil
}

func (m *MemoryRepository) GetIteration(_ context.Context, sessionID, tokenID string) (*domain.SessionIteration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	for _, it := range m.iterations[sessionID] {
		if it.ID == tokenID {
			return &domain.SessionIteration{Session: *s, Iteration: *it}, nil
		}
	}
	return nil, nil
}

func (m *MemoryRepository) GetSession(_ context.Context, sessionID string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryRepository) HasValidIteration(_ context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	return m.validLocked(sessionID) != nil, nil
}

func (m *MemoryRepository) ListByPrincipal(_ context.Context, principalID string) ([]*domain.SessionIteration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []*domain.SessionIteration
	for id, s := range m.sessions {
		if s.PrincipalID != principalID {
			continue
		}
		if it := m.validLocked(id); it != nil {
			out = append(out, &domain.SessionIteration{Session: *s, Iteration: *it})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Session.CreatedAt.After(out[j].Session.CreatedAt)
	})
	return out, nil
}

func (m *MemoryRepository) UpdateClientInfo(_ context.Context, sessionID, ipAddress, userAgent string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if s, ok := m.sessions[sessionID]; ok {
		s.IPAddress = ipAddress
		s.UserAgent = userAgent
	}
	return nil
}

func (m *MemoryRepository) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.deleteLocked(sessionID)
	return nil
}

func (m *MemoryRepository) DeleteByPrincipal(_ context.Context, principalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	for id, s := range m.sessions {
		if s.PrincipalID == principalID {
			m.deleteLocked(id)
		}
	}
	return nil
}

// ValidCount returns how many iterations of the session are marked valid.
func (m *MemoryRepository) ValidCount(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, it := range m.iterations[sessionID] {
		if it.Valid {
			n++
		}
	}
	return n
}

// ExpireIteration moves the iteration's expiry into the past.
func (m *MemoryRepository) ExpireIteration(sessionID, tokenID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.iterations[sessionID] {
		if it.ID == tokenID {
			it.ExpiresAt = time.Time{}
		}
	}
}

func (m *MemoryRepository) validLocked(sessionID string) *domain.TokenIteration {
	for _, it := range m.iterations[sessionID] {
		if it.Valid {
			return it
		}
	}
	return nil
}

func (m *MemoryRepository) deleteLocked(sessionID string) {
	delete(m.sessions, sessionID)
	delete(m.iterations, sessionID)
}
