package domain

import (
	"errors"
	"time"

	"jauth/internal/principal"
)

// Account is a platform account. Accounts own projects and authenticate against the account tier.
type Account struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Enabled      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Validate validates the account for persistence. Returns an error describing the first validation failure.
func (a *Account) Validate() error {
	if a.ID == "" {
		return errors.New("id is required")
	}
	if a.Email == "" {
		return errors.New("email is required")
	}
	if a.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	return nil
}

func (a *Account) PrincipalID() string { return a.ID }

func (a *Account) IsEnabled() bool { return a.Enabled }

func (a *Account) Profile() principal.Profile {
	return principal.Profile{ID: a.ID, Name: a.Name, Email: a.Email}
}
