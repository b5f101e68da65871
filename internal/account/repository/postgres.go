package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"jauth/internal/account/domain"
	"jauth/internal/db"
	"jauth/internal/principal"
)

const accountColumns = `id, name, email, password_hash, enabled, created_at, updated_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an account repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the account for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

// GetByEmail returns the account with the given email, or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
	return scanAccount(row)
}

// Create persists the account. The account must have ID set; it is not assigned by this method.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.Account) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.Name, a.Email, a.PasswordHash, a.Enabled, a.CreatedAt, a.UpdatedAt)
	return translate(err)
}

// Update saves the account's name, email and password hash.
func (r *PostgresRepository) Update(ctx context.Context, a *domain.Account) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET name = $2, email = $3, password_hash = $4, updated_at = $5 WHERE id = $1`,
		a.ID, a.Name, a.Email, a.PasswordHash, a.UpdatedAt)
	return translate(err)
}

// SetEnabled toggles the enabled flag. Missing accounts are a no-op.
func (r *PostgresRepository) SetEnabled(ctx context.Context, id string, enabled bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET enabled = $2, updated_at = $3 WHERE id = $1`, id, enabled, time.Now().UTC())
	return err
}

// Delete removes the account; projects, users and sessions cascade.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	return err
}

func translate(err error) error {
	if db.IsUniqueViolation(err) {
		return principal.ErrEmailTaken
	}
	return err
}

func scanAccount(row *sql.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.Name, &a.Email, &a.PasswordHash, &a.Enabled, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}
