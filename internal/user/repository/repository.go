package repository

import (
	"context"

	"jauth/internal/principal"
	"jauth/internal/user/domain"
)

// Repository defines persistence for users.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	// GetByEmail looks up a user within one project; emails are unique per project only.
	GetByEmail(ctx context.Context, projectID, email string) (*domain.User, error)
	ListByProject(ctx context.Context, projectID string) ([]*domain.User, error)
	// Create and Update return principal.ErrEmailTaken when the email is used in the project.
	Create(ctx context.Context, u *domain.User) error
	Update(ctx context.Context, u *domain.User) error
	SetEnabled(ctx context.Context, id string, enabled bool) error
	Delete(ctx context.Context, id string) error
}

// Principals exposes repo as the user-tier principal repository.
func Principals(repo Repository) principal.Repository[*domain.User] {
	return principal.Lookup[*domain.User](func(ctx context.Context, id string) (*domain.User, bool, error) {
		u, err := repo.GetByID(ctx, id)
		if err != nil {
			return nil, false, err
		}
		return u, u != nil, nil
	})
}
