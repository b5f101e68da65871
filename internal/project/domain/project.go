package domain

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"
)

// APIKeyBytes is the amount of randomness in a project API key before hex encoding.
const APIKeyBytes = 32

// Project is a tenant of the user tier. Each project owns one keystore entry and its users.
type Project struct {
	ID        string
	AccountID string
	Name      string
	APIKey    string
	CreatedAt time.Time
}

// Validate validates the project for persistence. Returns an error describing the first validation failure.
func (p *Project) Validate() error {
	if p.ID == "" {
		return errors.New("id is required")
	}
	if p.AccountID == "" {
		return errors.New("account id is required")
	}
	if p.Name == "" {
		return errors.New("name is required")
	}
	if p.APIKey == "" {
		return errors.New("api key is required")
	}
	return nil
}

// NewAPIKey returns a fresh hex-encoded API key.
func NewAPIKey() (string, error) {
	b := make([]byte, APIKeyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
