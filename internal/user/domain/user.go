package domain

import (
	"errors"
	"time"

	"jauth/internal/principal"
)

// User is a project-scoped end user. Users authenticate against the user tier of their project.
type User struct {
	ID           string
	ProjectID    string
	Email        string
	Name         string
	PasswordHash string
	Enabled      bool
	Verified     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.ID == "" {
		return errors.New("id is required")
	}
	if u.ProjectID == "" {
		return errors.New("project id is required")
	}
	if u.Email == "" {
		return errors.New("email is required")
	}
	if u.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	return nil
}

func (u *User) PrincipalID() string { return u.ID }

// IsEnabled reports whether the user may hold sessions.
func (u *User) IsEnabled() bool { return u.Enabled }

func (u *User) Profile() principal.Profile {
	return principal.Profile{ID: u.ID, Name: u.Name, Email: u.Email, ProjectID: u.ProjectID}
}
