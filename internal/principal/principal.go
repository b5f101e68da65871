// Package principal defines the subject of a token: an account or a project user.
package principal

import (
	"context"
	"errors"
)

// ErrEmailTaken is returned by repositories when an email is already registered in its scope.
var ErrEmailTaken = errors.New("email already in use")

// Tier distinguishes the two kinds of principal that tokens are issued for.
type Tier string

const (
	TierAccount Tier = "account"
	TierUser    Tier = "user"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t == TierAccount || t == TierUser
}

// Profile is the public view of a principal returned to callers after authentication.
type Profile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	ProjectID string `json:"project_id,omitempty"`
}

// Principal is implemented by every entity a token can be issued for.
type Principal interface {
	PrincipalID() string
	IsEnabled() bool
	Profile() Profile
}

// Repository loads principals of one tier by id.
// GetByID returns the zero P and false when no principal exists; err is non-nil only for storage failures.
type Repository[P Principal] interface {
	GetByID(ctx context.Context, id string) (P, bool, error)
}

// Lookup adapts a plain function to Repository.
type Lookup[P Principal] func(ctx context.Context, id string) (P, bool, error)

// GetByID calls f.
func (f Lookup[P]) GetByID(ctx context.Context, id string) (P, bool, error) {
	return f(ctx, id)
}
