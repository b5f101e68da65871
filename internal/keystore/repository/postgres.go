package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"jauth/internal/keystore/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a keystore repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Get returns the entry for projectID ("" for the account tier), or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) Get(ctx context.Context, projectID string) (*domain.Entry, error) {
	const cols = `SELECT id, project_id, iv, private_key, public_key, created_at, updated_at FROM keystore`
	var row *sql.Row
	if projectID == domain.AccountTier {
		row = r.db.QueryRowContext(ctx, cols+` WHERE project_id IS NULL`)
	} else {
		row = r.db.QueryRowContext(ctx, cols+` WHERE project_id = $1`, projectID)
	}
	var (
		e   domain.Entry
		pid sql.NullString
	)
	err := row.Scan(&e.ID, &pid, &e.IV, &e.EncryptedPrivateKey, &e.EncryptedPublicKey, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	e.ProjectID = pid.String
	return &e, nil
}

// Upsert inserts the entry or replaces the keypair of the tenant's existing one.
func (r *PostgresRepository) Upsert(ctx context.Context, e *domain.Entry) error {
	now := time.Now().UTC()
	if e.IsAccountTier() {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO keystore (project_id, iv, private_key, public_key, created_at, updated_at)
			VALUES (NULL, $1, $2, $3, $4, $4)
			ON CONFLICT ((project_id IS NULL)) WHERE project_id IS NULL
			DO UPDATE SET iv = EXCLUDED.iv, private_key = EXCLUDED.private_key,
				public_key = EXCLUDED.public_key, updated_at = EXCLUDED.updated_at`,
			e.IV, e.EncryptedPrivateKey, e.EncryptedPublicKey, now)
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO keystore (project_id, iv, private_key, public_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (project_id)
		DO UPDATE SET iv = EXCLUDED.iv, private_key = EXCLUDED.private_key,
			public_key = EXCLUDED.public_key, updated_at = EXCLUDED.updated_at`,
		e.ProjectID, e.IV, e.EncryptedPrivateKey, e.EncryptedPublicKey, now)
	return err
}

// Delete removes the entry of projectID ("" for the account tier).
func (r *PostgresRepository) Delete(ctx context.Context, projectID string) error {
	if projectID == domain.AccountTier {
		_, err := r.db.ExecContext(ctx, `DELETE FROM keystore WHERE project_id IS NULL`)
		return err
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM keystore WHERE project_id = $1`, projectID)
	return err
}

// ListProjectIDs returns the project ids that currently have an entry.
func (r *PostgresRepository) ListProjectIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT project_id FROM keystore WHERE project_id IS NOT NULL ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
