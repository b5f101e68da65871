package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"jauth/internal/keystore/domain"
)

// MemoryRepository is an in-process Repository used by tests and local tooling.
type MemoryRepository struct {
	mu      sync.Mutex
	nextID  int64
	entries map[string]*domain.Entry
	// Err, when set, is returned from every call.
	Err error
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{entries: make(map[string]*domain.Entry)}
}

func (m *MemoryRepository) Get(_ context.Context, projectID string) (*domain.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	e, ok := m.entries[projectID]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryRepository) Upsert(_ context.Context, e *domain.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	now := time.Now().UTC()
	cp := *e
	if existing, ok := m.entries[e.ProjectID]; ok {
		cp.ID = existing.ID
		cp.CreatedAt = existing.CreatedAt
	} else {
		m.nextID++
		cp.ID = m.nextID
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.entries[e.ProjectID] = &cp
	return nil
}

func (m *MemoryRepository) Delete(_ context.Context, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	delete(m.entries, projectID)
	return nil
}

func (m *MemoryRepository) ListProjectIDs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var ids []string
	for id := range m.entries {
		if id != domain.AccountTier {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
