package repository

import (
	"context"

	"jauth/internal/account/domain"
	"jauth/internal/principal"
)

// Repository defines persistence for accounts.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	// Create and Update return principal.ErrEmailTaken when the email belongs to another account.
	Create(ctx context.Context, a *domain.Account) error
	Update(ctx context.Context, a *domain.Account) error
	SetEnabled(ctx context.Context, id string, enabled bool) error
	Delete(ctx context.Context, id string) error
}

// Principals exposes repo as the account-tier principal repository.
func Principals(repo Repository) principal.Repository[*domain.Account] {
	return principal.Lookup[*domain.Account](func(ctx context.Context, id string) (*domain.Account, bool, error) {
		a, err := repo.GetByID(ctx, id)
		if err != nil {
			return nil, false, err
		}
		return a, a != nil, nil
	})
}
