package repository

import (
	"context"

	"jauth/internal/session/domain"
)

// RotateResult is the outcome of Repository.Rotate.
type RotateResult int

const (
	// Rotated means the source iteration was invalidated and the next one inserted.
	Rotated RotateResult = iota
	// SessionGone means the session does not exist or had no valid iteration; it has been deleted.
	SessionGone
	// StaleIteration means the session's valid iteration is not the one the caller renewed from.
	StaleIteration
)

// Repository defines persistence for the sessions and token iterations of one tier.
type Repository interface {
	// Create inserts the session and its first iteration atomically.
	Create(ctx context.Context, s *domain.Session, first *domain.TokenIteration) error
	// Rotate locks the session, checks that fromTokenID is its valid iteration, invalidates it and
	// inserts next with the following iteration number, all in one transaction. next.Iteration and
	// next.SessionID are assigned by Rotate.
	Rotate(ctx context.Context, sessionID, fromTokenID string, next *domain.TokenIteration) (RotateResult, error)
	// GetIteration returns the session joined with iteration tokenID, or nil if either is missing.
	GetIteration(ctx context.Context, sessionID, tokenID string) (*domain.SessionIteration, error)
	// GetSession returns the session, or nil if not found.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	HasValidIteration(ctx context.Context, sessionID string) (bool, error)
	// ListByPrincipal returns the principal's sessions that have a valid iteration, newest first.
	ListByPrincipal(ctx context.Context, principalID string) ([]*domain.SessionIteration, error)
	UpdateClientInfo(ctx context.Context, sessionID, ipAddress, userAgent string) error
	Delete(ctx context.Context, sessionID string) error
	DeleteByPrincipal(ctx context.Context, principalID string) error
}
