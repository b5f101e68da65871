// Package keystore owns the per-tenant RSA keypairs used to sign tokens.
// Both halves of every keypair are sealed under the process master secret; the
// private half never leaves this package except as the result of Find.
package keystore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"jauth/internal/keystore/domain"
	"jauth/internal/keystore/repository"
	"jauth/internal/security"
)

var (
	// ErrUnknownKind is returned by Find for a kind other than private or public.
	ErrUnknownKind = errors.New("keystore: unknown key kind")
	// ErrAccountTier is returned by Delete for the account-tier keypair.
	ErrAccountTier = errors.New("keystore: the account keypair cannot be deleted")
)

// DefaultKeyBits is the RSA modulus size used when Options.KeyBits is zero.
const DefaultKeyBits = 2048

// Options tunes key generation.
type Options struct {
	// KeyBits is the RSA modulus size. Zero means DefaultKeyBits.
	KeyBits int
	// Workers bounds concurrent key generation in RegenerateAll. Values below 1 mean 1.
	Workers int
}

// KeyStore generates, seals and reads tenant keypairs.
type KeyStore struct {
	repo    repository.Repository
	sealer  *security.Sealer
	bits    int
	workers int
	logger  *slog.Logger
}

// New returns a KeyStore backed by repo. logger may be nil.
func New(repo repository.Repository, sealer *security.Sealer, opts Options, logger *slog.Logger) *KeyStore {
	if opts.KeyBits == 0 {
		opts.KeyBits = DefaultKeyBits
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyStore{
		repo:    repo,
		sealer:  sealer,
		bits:    opts.KeyBits,
		workers: opts.Workers,
		logger:  logger.With("component", "keystore"),
	}
}

// Generate creates a fresh keypair for tenantID ("" for the account tier) and stores it,
// replacing any previous keypair. CPU-bound: call from a background worker, not a request.
func (k *KeyStore) Generate(ctx context.Context, tenantID string) error {
	privPEM, pubPEM, err := security.GenerateRSAKeyPair(k.bits)
	if err != nil {
		return fmt.Errorf("keystore: generate %s: %w", tenantLabel(tenantID), err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	iv, err := security.NewIV()
	if err != nil {
		return fmt.Errorf("keystore: iv: %w", err)
	}
	aad := tenantAAD(tenantID)
	encPriv, err := k.sealer.Seal(security.PurposePrivateKey, iv, privPEM, aad)
	if err != nil {
		return fmt.Errorf("keystore: seal private: %w", err)
	}
	encPub, err := k.sealer.Seal(security.PurposePublicKey, iv, pubPEM, aad)
	if err != nil {
		return fmt.Errorf("keystore: seal public: %w", err)
	}
	entry := &domain.Entry{
		ProjectID:           tenantID,
		IV:                  iv,
		EncryptedPrivateKey: encPriv,
		EncryptedPublicKey:  encPub,
	}
	if err := k.repo.Upsert(ctx, entry); err != nil {
		return fmt.Errorf("keystore: store %s: %w", tenantLabel(tenantID), err)
	}
	k.logger.Info("keypair generated", "tenant", tenantLabel(tenantID))
	return nil
}

// Find returns the PEM bytes of one half of the tenant's keypair.
// It returns nil, nil both when the tenant has no entry and when the entry cannot be
// opened under the current master secret; use Exists to tell the two apart.
// A non-nil error means the storage read failed.
func (k *KeyStore) Find(ctx context.Context, kind domain.KeyKind, tenantID string) ([]byte, error) {
	var purpose security.Purpose
	switch kind {
	case domain.KindPrivate:
		purpose = security.PurposePrivateKey
	case domain.KindPublic:
		purpose = security.PurposePublicKey
	default:
		return nil, ErrUnknownKind
	}
	e, err := k.repo.Get(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("keystore: get %s: %w", tenantLabel(tenantID), err)
	}
	if e == nil {
		return nil, nil
	}
	sealed := e.EncryptedPublicKey
	if kind == domain.KindPrivate {
		sealed = e.EncryptedPrivateKey
	}
	pemBytes, err := k.sealer.Open(purpose, e.IV, sealed, tenantAAD(tenantID))
	if err != nil {
		k.logger.Warn("keystore entry does not open under current master secret",
			"tenant", tenantLabel(tenantID), "kind", string(kind))
		return nil, nil
	}
	return pemBytes, nil
}

// Exists reports whether the tenant has an entry, regardless of whether it opens.
func (k *KeyStore) Exists(ctx context.Context, tenantID string) (bool, error) {
	e, err := k.repo.Get(ctx, tenantID)
	if err != nil {
		return false, fmt.Errorf("keystore: get %s: %w", tenantLabel(tenantID), err)
	}
	return e != nil, nil
}

// AccountKeyReady reports whether the account-tier private key exists and opens.
func (k *KeyStore) AccountKeyReady(ctx context.Context) (bool, error) {
	priv, err := k.Find(ctx, domain.KindPrivate, domain.AccountTier)
	if err != nil {
		return false, err
	}
	return priv != nil, nil
}

// RegenerateAll replaces the keypair of every project. The account-tier keypair is left alone.
// Tokens signed under the old keys stop verifying; their session rows are not touched.
func (k *KeyStore) RegenerateAll(ctx context.Context) error {
	ids, err := k.repo.ListProjectIDs(ctx)
	if err != nil {
		return fmt.Errorf("keystore: list tenants: %w", err)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(k.workers)
	for _, id := range ids {
		g.Go(func() error {
			return k.Generate(gctx, id)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	k.logger.Info("project keypairs regenerated", "count", len(ids))
	return nil
}

// Delete removes a project's keypair. Tokens signed under it stop verifying.
func (k *KeyStore) Delete(ctx context.Context, tenantID string) error {
	if tenantID == domain.AccountTier {
		return ErrAccountTier
	}
	if err := k.repo.Delete(ctx, tenantID); err != nil {
		return fmt.Errorf("keystore: delete %s: %w", tenantLabel(tenantID), err)
	}
	k.logger.Info("keypair deleted", "tenant", tenantLabel(tenantID))
	return nil
}

// Backfill generates a keypair for each of projectIDs that has no entry and returns how many
// it generated. Entries that exist but do not open are left to EnsureAccountKey.
func (k *KeyStore) Backfill(ctx context.Context, projectIDs []string) (int, error) {
	var missing []string
	for _, id := range projectIDs {
		if id == domain.AccountTier {
			continue
		}
		ok, err := k.Exists(ctx, id)
		if err != nil {
			return 0, err
		}
		if !ok {
			missing = append(missing, id)
		}
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(k.workers)
	for _, id := range missing {
		g.Go(func() error {
			return k.Generate(gctx, id)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	if len(missing) > 0 {
		k.logger.Info("missing project keypairs generated", "count", len(missing))
	}
	return len(missing), nil
}

// EnsureOutcome reports what EnsureAccountKey had to do.
type EnsureOutcome string

const (
	EnsurePresent   EnsureOutcome = "present"
	EnsureGenerated EnsureOutcome = "generated"
	EnsureHealed    EnsureOutcome = "healed"
)

// EnsureAccountKey makes sure the account-tier keypair exists and opens under the current
// master secret. A missing keypair is generated. A keypair that no longer opens means the master
// secret changed, so every project keypair is unreadable too: the account key is regenerated and
// then RegenerateAll runs.
func (k *KeyStore) EnsureAccountKey(ctx context.Context) (EnsureOutcome, error) {
	exists, err := k.Exists(ctx, domain.AccountTier)
	if err != nil {
		return "", err
	}
	if !exists {
		if err := k.Generate(ctx, domain.AccountTier); err != nil {
			return "", err
		}
		return EnsureGenerated, nil
	}
	priv, err := k.Find(ctx, domain.KindPrivate, domain.AccountTier)
	if err != nil {
		return "", err
	}
	if priv != nil {
		return EnsurePresent, nil
	}
	k.logger.Warn("account keypair unreadable, regenerating all keypairs")
	if err := k.Generate(ctx, domain.AccountTier); err != nil {
		return "", err
	}
	if err := k.RegenerateAll(ctx); err != nil {
		return "", err
	}
	return EnsureHealed, nil
}

func tenantAAD(tenantID string) []byte {
	return []byte("jauth/tenant/" + tenantID)
}

func tenantLabel(tenantID string) string {
	if tenantID == domain.AccountTier {
		return "account"
	}
	return "project:" + tenantID
}
