package security

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestSealer_SealOpen(t *testing.T) {
	s := newTestSealer(t)
	iv, err := NewIV()
	if err != nil {
		t.Fatalf("NewIV: %v", err)
	}
	plain := []byte(testPrivateKeyPEM)
	aad := []byte("project-1")

	sealed, err := s.Seal(PurposePrivateKey, iv, plain, aad)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Contains(sealed, []byte("PRIVATE KEY")) {
		t.Fatal("sealed value leaks plaintext")
	}
	got, err := s.Open(PurposePrivateKey, iv, sealed, aad)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Error("Open returned different plaintext")
	}
}

func TestSealer_PurposesUseDistinctKeys(t *testing.T) {
	s := newTestSealer(t)
	iv, _ := NewIV()
	plain := []byte("same plaintext")

	priv, _ := s.Seal(PurposePrivateKey, iv, plain, nil)
	pub, _ := s.Seal(PurposePublicKey, iv, plain, nil)
	if bytes.Equal(priv, pub) {
		t.Fatal("same IV and plaintext produced identical ciphertext across purposes")
	}
	if _, err := s.Open(PurposePublicKey, iv, priv, nil); !errors.Is(err, ErrOpenFailed) {
		t.Errorf("Open with wrong purpose: want ErrOpenFailed, got %v", err)
	}
}

func TestSealer_WrongMasterSecret(t *testing.T) {
	s := newTestSealer(t)
	other, err := NewSealer([]byte(strings.Repeat("x", 32)))
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	iv, _ := NewIV()
	sealed, _ := s.Seal(PurposePublicKey, iv, []byte("key"), nil)

	if _, err := other.Open(PurposePublicKey, iv, sealed, nil); !errors.Is(err, ErrOpenFailed) {
		t.Errorf("Open under other secret: want ErrOpenFailed, got %v", err)
	}
}

func TestSealer_AADMismatch(t *testing.T) {
	s := newTestSealer(t)
	iv, _ := NewIV()
	sealed, _ := s.Seal(PurposePublicKey, iv, []byte("key"), []byte("tenant-a"))

	if _, err := s.Open(PurposePublicKey, iv, sealed, []byte("tenant-b")); !errors.Is(err, ErrOpenFailed) {
		t.Errorf("Open with other tenant: want ErrOpenFailed, got %v", err)
	}
}

func TestSealer_BadInputs(t *testing.T) {
	if _, err := NewSealer([]byte("short")); !errors.Is(err, ErrMasterSecretTooShort) {
		t.Errorf("NewSealer short: want ErrMasterSecretTooShort, got %v", err)
	}
	s := newTestSealer(t)
	if _, err := s.Seal(PurposePublicKey, []byte("bad"), []byte("x"), nil); err == nil {
		t.Error("Seal with short iv: want error")
	}
	if _, err := s.Open(PurposePublicKey, []byte("bad"), []byte("x"), nil); !errors.Is(err, ErrOpenFailed) {
		t.Errorf("Open with short iv: want ErrOpenFailed, got %v", err)
	}
	iv, _ := NewIV()
	if _, err := s.Seal(Purpose("other"), iv, []byte("x"), nil); !errors.Is(err, ErrUnknownPurpose) {
		t.Errorf("Seal unknown purpose: want ErrUnknownPurpose, got %v", err)
	}
}
