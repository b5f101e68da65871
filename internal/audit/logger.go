// Package audit records authentication events: registrations, logins, logouts, session kills
// and user administration.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"jauth/internal/audit/domain"
	auditrepo "jauth/internal/audit/repository"
	"jauth/internal/principal"
)

// DefaultListLimit caps List when the caller asks for zero or too many events.
const DefaultListLimit = 100

// Logger records authentication events. Record is best-effort: failures are logged and never
// affect the caller.
type Logger struct {
	repo   auditrepo.Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewLogger returns a Logger that persists to repo. logger may be nil.
func NewLogger(repo auditrepo.Repository, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{repo: repo, logger: logger.With("component", "audit"), now: func() time.Time { return time.Now().UTC() }}
}

// Record assigns an id and timestamp to e and persists it.
func (l *Logger) Record(ctx context.Context, e domain.Event) {
	if l == nil || l.repo == nil {
		return
	}
	e.ID = uuid.New().String()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now()
	}
	if err := l.repo.Create(ctx, &e); err != nil {
		l.logger.WarnContext(ctx, "recording auth event failed", "action", string(e.Action), "tier", string(e.Tier), "error", err)
	}
}

// List returns the principal's most recent events.
func (l *Logger) List(ctx context.Context, tier principal.Tier, principalID string, limit int) ([]*domain.Event, error) {
	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}
	return l.repo.ListByPrincipal(ctx, tier, principalID, limit, 0)
}
