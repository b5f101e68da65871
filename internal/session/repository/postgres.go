package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"jauth/internal/db"
	"jauth/internal/session/domain"
)

// Tables names the session tables of one tier.
type Tables struct {
	Sessions        string
	Iterations      string
	PrincipalColumn string
}

var (
	AccountTables = Tables{Sessions: "account_sessions", Iterations: "account_token_iterations", PrincipalColumn: "account_id"}
	UserTables    = Tables{Sessions: "user_sessions", Iterations: "user_token_iterations", PrincipalColumn: "user_id"}
)

type queries struct {
	insertSession   string
	insertIteration string
	lockSession     string
	validIteration  string
	invalidate      string
	getIteration    string
	getSession      string
	hasValid        string
	listByPrincipal string
	updateClient    string
	deleteSession   string
	deletePrincipal string
}

func buildQueries(t Tables) queries {
	joined := fmt.Sprintf(`SELECT s.id, s.%[3]s, COALESCE(s.ip_address, ''), COALESCE(s.user_agent, ''), s.created_at,
		i.id, i.session_id, i.iteration, i.valid, i.expires_at, i.created_at
		FROM %[1]s s JOIN %[2]s i ON i.session_id = s.id`, t.Sessions, t.Iterations, t.PrincipalColumn)
	return queries{
		insertSession: fmt.Sprintf(`INSERT INTO %s (id, %s, ip_address, user_agent, created_at)
			VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5)`, t.Sessions, t.PrincipalColumn),
		insertIteration: fmt.Sprintf(`INSERT INTO %s (id, session_id, iteration, valid, expires_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`, t.Iterations),
		lockSession:     fmt.Sprintf(`SELECT id FROM %s WHERE id = $1 FOR UPDATE`, t.Sessions),
		validIteration:  fmt.Sprintf(`SELECT id, iteration FROM %s WHERE session_id = $1 AND valid`, t.Iterations),
		invalidate:      fmt.Sprintf(`UPDATE %s SET valid = FALSE WHERE id = $1`, t.Iterations),
		getIteration:    joined + ` WHERE s.id = $1 AND i.id = $2`,
		getSession:      fmt.Sprintf(`SELECT id, %s, COALESCE(ip_address, ''), COALESCE(user_agent, ''), created_at FROM %s WHERE id = $1`, t.PrincipalColumn, t.Sessions),
		hasValid:        fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE session_id = $1 AND valid)`, t.Iterations),
		listByPrincipal: joined + fmt.Sprintf(` WHERE s.%s = $1 AND i.valid ORDER BY s.created_at DESC`, t.PrincipalColumn),
		updateClient:    fmt.Sprintf(`UPDATE %s SET ip_address = NULLIF($2, ''), user_agent = NULLIF($3, '') WHERE id = $1`, t.Sessions),
		deleteSession:   fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, t.Sessions),
		deletePrincipal: fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, t.Sessions, t.PrincipalColumn),
	}
}

type PostgresRepository struct {
	db *sql.DB
	q  queries
}

// NewPostgresRepository returns a session repository over the given tier's tables.
func NewPostgresRepository(conn *sql.DB, tables Tables) *PostgresRepository {
	return &PostgresRepository{db: conn, q: buildQueries(tables)}
}

// Create inserts the session and its first iteration in one transaction.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session, first *domain.TokenIteration) error {
	return db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, r.q.insertSession, s.ID, s.PrincipalID, s.IPAddress, s.UserAgent, s.CreatedAt); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, r.q.insertIteration,
			first.ID, s.ID, first.Iteration, first.Valid, first.ExpiresAt, first.CreatedAt)
		return err
	})
}

// Rotate holds the session row lock for the whole check-invalidate-insert sequence, so concurrent
// rotations of one session serialize across processes.
func (r *PostgresRepository) Rotate(ctx context.Context, sessionID, fromTokenID string, next *domain.TokenIteration) (RotateResult, error) {
	result := Rotated
	err := db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var locked string
		if err := tx.QueryRowContext(ctx, r.q.lockSession, sessionID).Scan(&locked); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				result = SessionGone
				return nil
			}
			return err
		}
		var (
			currentID string
			iteration int
		)
		if err := tx.QueryRowContext(ctx, r.q.validIteration, sessionID).Scan(&currentID, &iteration); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				result = SessionGone
				_, err = tx.ExecContext(ctx, r.q.deleteSession, sessionID)
			}
			return err
		}
		if currentID != fromTokenID {
			result = StaleIteration
			return nil
		}
		if _, err := tx.ExecContext(ctx, r.q.invalidate, currentID); err != nil {
			return err
		}
		next.SessionID = sessionID
		next.Iteration = iteration + 1
		next.Valid = true
		_, err := tx.ExecContext(ctx, r.q.insertIteration,
			next.ID, sessionID, next.Iteration, true, next.ExpiresAt, next.CreatedAt)
		return err
	})
	return result, err
}

// GetIteration returns the session joined with the given iteration, valid or not, or nil if not found.
func (r *PostgresRepository) GetIteration(ctx context.Context, sessionID, tokenID string) (*domain.SessionIteration, error) {
	si, err := scanSessionIteration(r.db.QueryRowContext(ctx, r.q.getIteration, sessionID, tokenID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return si, err
}

// GetSession returns the session for id, or nil if not found.
func (r *PostgresRepository) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	var s domain.Session
	err := r.db.QueryRowContext(ctx, r.q.getSession, sessionID).Scan(&s.ID, &s.PrincipalID, &s.IPAddress, &s.UserAgent, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *PostgresRepository) HasValidIteration(ctx context.Context, sessionID string) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx, r.q.hasValid, sessionID).Scan(&ok)
	return ok, err
}

// ListByPrincipal returns live sessions with their current iteration. Returns (nil, error) only on database errors.
func (r *PostgresRepository) ListByPrincipal(ctx context.Context, principalID string) ([]*domain.SessionIteration, error) {
	rows, err := r.db.QueryContext(ctx, r.q.listByPrincipal, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.SessionIteration
	for rows.Next() {
		si, err := scanSessionIteration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, si)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) UpdateClientInfo(ctx context.Context, sessionID, ipAddress, userAgent string) error {
	_, err := r.db.ExecContext(ctx, r.q.updateClient, sessionID, ipAddress, userAgent)
	return err
}

// Delete removes the session; its iterations cascade.
func (r *PostgresRepository) Delete(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx, r.q.deleteSession, sessionID)
	return err
}

func (r *PostgresRepository) DeleteByPrincipal(ctx context.Context, principalID string) error {
	_, err := r.db.ExecContext(ctx, r.q.deletePrincipal, principalID)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSessionIteration(row scanner) (*domain.SessionIteration, error) {
	var si domain.SessionIteration
	err := row.Scan(&si.Session.ID, &si.Session.PrincipalID, &si.Session.IPAddress, &si.Session.UserAgent, &si.Session.CreatedAt,
		&si.Iteration.ID, &si.Iteration.SessionID, &si.Iteration.Iteration, &si.Iteration.Valid, &si.Iteration.ExpiresAt, &si.Iteration.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &si, nil
}
