// Package session owns sessions and their token iterations: creation at login, renewal with
// iteration-based invalidation, and revocation.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"jauth/internal/session/domain"
	"jauth/internal/session/repository"
)

// ClockSkew is subtracted from every iteration expiry so the row expires before the token does.
const ClockSkew = time.Minute

// DefaultTTL is the session-token lifetime used when NewStore is given zero.
const DefaultTTL = 365 * 24 * time.Hour

// NewSession is the result of StartNewSession.
type NewSession struct {
	SessionID string
	TokenID   string
	ExpiresAt time.Time
}

// Renewal is the iteration created by RenewSession.
type Renewal struct {
	TokenID   string
	Iteration int
	ExpiresAt time.Time
}

// Store is the session store of one tier.
type Store struct {
	repo   repository.Repository
	ttl    time.Duration
	locks  *keyedMutex
	now    func() time.Time
	logger *slog.Logger
}

// NewStore returns a Store over repo. ttl is the session-token lifetime; logger may be nil.
func NewStore(repo repository.Repository, ttl time.Duration, logger *slog.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		repo:   repo,
		ttl:    ttl,
		locks:  newKeyedMutex(),
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With("component", "session"),
	}
}

// StartNewSession creates a session for principalID together with iteration 0.
func (s *Store) StartNewSession(ctx context.Context, principalID string) (*NewSession, error) {
	now := s.now()
	sess := &domain.Session{
		ID:          uuid.New().String(),
		PrincipalID: principalID,
		CreatedAt:   now,
	}
	first := &domain.TokenIteration{
		ID:        uuid.New().String(),
		SessionID: sess.ID,
		Iteration: 0,
		Valid:     true,
		ExpiresAt: s.expiry(now),
		CreatedAt: now,
	}
	if err := s.repo.Create(ctx, sess, first); err != nil {
		return nil, fmt.Errorf("session: start: %w", err)
	}
	return &NewSession{SessionID: sess.ID, TokenID: first.ID, ExpiresAt: first.ExpiresAt}, nil
}

// RenewSession replaces the session's valid iteration, which must be fromTokenID, with the next one.
// It returns nil when the session has no valid iteration (the session is deleted) or when
// fromTokenID has already been superseded, so of two concurrent renewals from the same token
// exactly one succeeds. The error is non-nil only for storage failures.
func (s *Store) RenewSession(ctx context.Context, sessionID, fromTokenID string) (*Renewal, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	now := s.now()
	next := &domain.TokenIteration{
		ID:        uuid.New().String(),
		ExpiresAt: s.expiry(now),
		CreatedAt: now,
	}
	result, err := s.repo.Rotate(ctx, sessionID, fromTokenID, next)
	if err != nil {
		return nil, fmt.Errorf("session: renew: %w", err)
	}
	switch result {
	case repository.Rotated:
		return &Renewal{TokenID: next.ID, Iteration: next.Iteration, ExpiresAt: next.ExpiresAt}, nil
	case repository.SessionGone:
		s.logger.Info("renewal of dead session", "session_id", sessionID)
	case repository.StaleIteration:
		s.logger.Warn("renewal from superseded iteration", "session_id", sessionID)
	}
	return nil, nil
}

// FindByID returns the session joined with iteration tokenID, whether or not it is still valid.
func (s *Store) FindByID(ctx context.Context, sessionID, tokenID string) (*domain.SessionIteration, error) {
	si, err := s.repo.GetIteration(ctx, sessionID, tokenID)
	if err != nil {
		return nil, fmt.Errorf("session: find: %w", err)
	}
	return si, nil
}

// FindValidBySessionID reports whether the session still has a valid iteration.
func (s *Store) FindValidBySessionID(ctx context.Context, sessionID string) (bool, error) {
	ok, err := s.repo.HasValidIteration(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("session: find valid: %w", err)
	}
	return ok, nil
}

// GetSession returns the session without its iterations, or nil if not found.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session: get: %w", err)
	}
	return sess, nil
}

// ListByUserID returns the principal's live sessions with their current iteration.
func (s *Store) ListByUserID(ctx context.Context, principalID string) ([]*domain.SessionIteration, error) {
	list, err := s.repo.ListByPrincipal(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	return list, nil
}

// UpdateClientInfo records the address and user agent the session was last used from.
func (s *Store) UpdateClientInfo(ctx context.Context, sessionID, ipAddress, userAgent string) error {
	if err := s.repo.UpdateClientInfo(ctx, sessionID, ipAddress, userAgent); err != nil {
		return fmt.Errorf("session: update client info: %w", err)
	}
	return nil
}

// KillSession deletes the session and all of its iterations.
func (s *Store) KillSession(ctx context.Context, sessionID string) error {
	if err := s.repo.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("session: kill: %w", err)
	}
	return nil
}

// DeleteByUserID deletes every session of the principal.
func (s *Store) DeleteByUserID(ctx context.Context, principalID string) error {
	if err := s.repo.DeleteByPrincipal(ctx, principalID); err != nil {
		return fmt.Errorf("session: delete by principal: %w", err)
	}
	return nil
}

func (s *Store) expiry(now time.Time) time.Time {
	return now.Add(s.ttl - ClockSkew)
}
