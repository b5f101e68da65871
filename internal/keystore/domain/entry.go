package domain

import "time"

// AccountTier is the tenant id of the account-tier keypair. It is stored as NULL.
const AccountTier = ""

// KeyKind selects which half of a keypair to read.
type KeyKind string

const (
	KindPrivate KeyKind = "private"
	KindPublic  KeyKind = "public"
)

// Entry is one tenant's keypair as persisted: both PEM halves sealed under the master secret.
type Entry struct {
	ID                  int64
	ProjectID           string
	IV                  []byte
	EncryptedPrivateKey []byte
	EncryptedPublicKey  []byte
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsAccountTier reports whether the entry belongs to the account tier.
func (e *Entry) IsAccountTier() bool {
	return e.ProjectID == AccountTier
}
