package domain

import (
	"testing"

	"jauth/internal/principal"
)

var _ principal.Principal = (*Account)(nil)

func TestAccount_Validate(t *testing.T) {
	tests := []struct {
		name    string
		account Account
		wantErr bool
	}{
		{"valid", Account{ID: "a1", Email: "a@example.com", PasswordHash: "h"}, false},
		{"missing id", Account{Email: "a@example.com", PasswordHash: "h"}, true},
		{"missing email", Account{ID: "a1", PasswordHash: "h"}, true},
		{"missing hash", Account{ID: "a1", Email: "a@example.com"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.account.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAccount_Profile(t *testing.T) {
	a := &Account{ID: "a1", Name: "Ada", Email: "ada@example.com", PasswordHash: "secret", Enabled: true}
	p := a.Profile()
	if p.ID != "a1" || p.Name != "Ada" || p.Email != "ada@example.com" || p.ProjectID != "" {
		t.Errorf("Profile() = %+v", p)
	}
	if a.PrincipalID() != "a1" || !a.IsEnabled() {
		t.Error("PrincipalID/IsEnabled mismatch")
	}
}
