package repository

import (
	"context"

	"jauth/internal/keystore/domain"
)

// Repository defines persistence for keystore entries. The empty project id addresses the account tier.
type Repository interface {
	// Get returns the tenant's entry, or nil if none exists.
	Get(ctx context.Context, projectID string) (*domain.Entry, error)
	// Upsert creates or replaces the tenant's entry.
	Upsert(ctx context.Context, e *domain.Entry) error
	// Delete removes the tenant's entry. Missing entries are a no-op.
	Delete(ctx context.Context, projectID string) error
	// ListProjectIDs returns the tenants of every project-tier entry.
	ListProjectIDs(ctx context.Context) ([]string, error)
}
