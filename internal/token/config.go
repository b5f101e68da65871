// Package token signs and verifies the access and session tokens of one principal tier and
// drives session renewal.
package token

import (
	"errors"
	"fmt"
	"time"

	"jauth/internal/principal"
)

const (
	// DefaultIssuer is the iss claim when Config.Issuer is empty.
	DefaultIssuer = "jAuth"
	// DefaultAccessTTL is the access-token lifetime and the maximum accepted access-token age.
	DefaultAccessTTL = 15 * time.Minute
	// DefaultSessionTTL is the session-token lifetime.
	DefaultSessionTTL = 365 * 24 * time.Hour
)

// Config is the immutable configuration of one tier's Service.
type Config struct {
	Tier       principal.Tier
	Issuer     string
	AccessTTL  time.Duration
	SessionTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.Issuer == "" {
		c.Issuer = DefaultIssuer
	}
	if c.AccessTTL == 0 {
		c.AccessTTL = DefaultAccessTTL
	}
	if c.SessionTTL == 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	return c
}

func (c Config) validate() error {
	if !c.Tier.Valid() {
		return fmt.Errorf("token: unknown tier %q", c.Tier)
	}
	if c.AccessTTL < 0 || c.SessionTTL < 0 {
		return errors.New("token: TTLs must not be negative")
	}
	if c.AccessTTL >= c.SessionTTL {
		return errors.New("token: access TTL must be shorter than session TTL")
	}
	return nil
}

// checkTenant enforces the tier/tenant pairing: account tokens carry no tenant, user tokens always do.
func (c Config) checkTenant(tenantID string) error {
	switch {
	case c.Tier == principal.TierAccount && tenantID != "":
		return ErrTierMismatch
	case c.Tier == principal.TierUser && tenantID == "":
		return ErrTierMismatch
	}
	return nil
}
