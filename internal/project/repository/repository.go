package repository

import (
	"context"

	"jauth/internal/project/domain"
)

// Repository defines persistence for projects.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Project, error)
	GetByAPIKey(ctx context.Context, apiKey string) (*domain.Project, error)
	ListByAccount(ctx context.Context, accountID string) ([]*domain.Project, error)
	ListIDs(ctx context.Context) ([]string, error)
	Create(ctx context.Context, p *domain.Project) error
	Update(ctx context.Context, p *domain.Project) error
	Delete(ctx context.Context, id string) error
}
