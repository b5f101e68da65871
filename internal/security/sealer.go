package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Purpose selects the derived key a value is sealed under. Private and public key material
// share one stored IV, so each purpose gets its own AES key and the nonce never repeats under a key.
type Purpose string

const (
	PurposePrivateKey Purpose = "jauth/keystore/private"
	PurposePublicKey  Purpose = "jauth/keystore/public"
)

// IVSize is the length of the random IV (GCM nonce) stored with each sealed entry.
const IVSize = 12

var (
	// ErrMasterSecretTooShort is returned by NewSealer for secrets under 32 bytes.
	ErrMasterSecretTooShort = errors.New("security: master secret too short")
	// ErrOpenFailed is returned when a sealed value does not authenticate under the current master
	// secret (wrong secret, tampered row, or a row moved to another tenant).
	ErrOpenFailed = errors.New("security: sealed value could not be opened")
	// ErrUnknownPurpose is returned for a Purpose without a derived key.
	ErrUnknownPurpose = errors.New("security: unknown seal purpose")
)

// Sealer encrypts keystore material at rest with AES-256-GCM under keys derived from the
// process-wide master secret with HKDF-SHA256. It is immutable and safe for concurrent use.
type Sealer struct {
	aeads map[Purpose]cipher.AEAD
}

// NewSealer derives one AES-256 key per Purpose from master.
func NewSealer(master []byte) (*Sealer, error) {
	if len(master) < 32 {
		return nil, ErrMasterSecretTooShort
	}
	s := &Sealer{aeads: make(map[Purpose]cipher.AEAD, 2)}
	for _, p := range []Purpose{PurposePrivateKey, PurposePublicKey} {
		key := make([]byte, 32)
		if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(p)), key); err != nil {
			return nil, fmt.Errorf("security: derive %s key: %w", p, err)
		}
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, err
		}
		s.aeads[p] = aead
	}
	return s, nil
}

// NewIV returns a fresh random IV.
func NewIV() ([]byte, error) {
	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}
	return iv, nil
}

// Seal encrypts plaintext for purpose. aad binds the ciphertext to its owner (the tenant id).
func (s *Sealer) Seal(purpose Purpose, iv, plaintext, aad []byte) ([]byte, error) {
	aead, ok := s.aeads[purpose]
	if !ok {
		return nil, ErrUnknownPurpose
	}
	if len(iv) != aead.NonceSize() {
		return nil, fmt.Errorf("security: iv must be %d bytes", aead.NonceSize())
	}
	return aead.Seal(nil, iv, plaintext, aad), nil
}

// Open decrypts a value produced by Seal. Any authentication failure is reported as ErrOpenFailed.
func (s *Sealer) Open(purpose Purpose, iv, ciphertext, aad []byte) ([]byte, error) {
	aead, ok := s.aeads[purpose]
	if !ok {
		return nil, ErrUnknownPurpose
	}
	if len(iv) != aead.NonceSize() {
		return nil, ErrOpenFailed
	}
	out, err := aead.Open(nil, iv, ciphertext, aad)
	if err != nil {
		return nil, ErrOpenFailed
	}
	return out, nil
}
