package repository

import (
	"context"

	"jauth/internal/audit/domain"
	"jauth/internal/principal"
)

// Repository defines persistence for authentication events.
type Repository interface {
	Create(ctx context.Context, e *domain.Event) error
	// ListByPrincipal returns the principal's events, newest first.
	ListByPrincipal(ctx context.Context, tier principal.Tier, principalID string, limit, offset int) ([]*domain.Event, error)
}
