package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"jauth/internal/db"
	"jauth/internal/principal"
	"jauth/internal/user/domain"
)

const userColumns = `id, project_id, email, name, password_hash, enabled, verified, created_at, updated_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a user repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetByEmail returns the user with the given email in projectID, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByEmail(ctx context.Context, projectID, email string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE project_id = $1 AND email = $2`, projectID, email)
	return scanUser(row)
}

// Create persists the user to the database. The user must have ID set; it is not assigned by this method.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.ID, u.ProjectID, u.Email, u.Name, u.PasswordHash, u.Enabled, u.Verified, u.CreatedAt, u.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return principal.ErrEmailTaken
	}
	return err
}

// Update saves the user's profile and password hash.
func (r *PostgresRepository) Update(ctx context.Context, u *domain.User) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET name = $2, email = $3, password_hash = $4, updated_at = $5 WHERE id = $1`,
		u.ID, u.Name, u.Email, u.PasswordHash, u.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return principal.ErrEmailTaken
	}
	return err
}

// ListByProject returns the project's users, oldest first.
func (r *PostgresRepository) ListByProject(ctx context.Context, projectID string) ([]*domain.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE project_id = $1 ORDER BY created_at`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.ProjectID, &u.Email, &u.Name, &u.PasswordHash, &u.Enabled, &u.Verified, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}

// SetEnabled updates the enabled flag. Returns nil if no row was updated.
func (r *PostgresRepository) SetEnabled(ctx context.Context, id string, enabled bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET enabled = $2, updated_at = $3 WHERE id = $1`, id, enabled, time.Now().UTC())
	return err
}

// Delete removes the user; its sessions cascade.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	return err
}

func scanUser(row *sql.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.ProjectID, &u.Email, &u.Name, &u.PasswordHash, &u.Enabled, &u.Verified, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}
