package repository

import (
	"context"
	"database/sql"

	"jauth/internal/audit/domain"
	"jauth/internal/principal"
)

const eventColumns = `id, tier, project_id, principal_id, action, ip, metadata, created_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an event repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the event. The event must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, e *domain.Event) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO auth_events (`+eventColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, string(e.Tier), nullable(e.ProjectID), nullable(e.PrincipalID), string(e.Action), e.IP, nullable(e.Metadata), e.CreatedAt)
	return err
}

// ListByPrincipal returns events for the principal, newest first, paginated by limit and offset.
func (r *PostgresRepository) ListByPrincipal(ctx context.Context, tier principal.Tier, principalID string, limit, offset int) ([]*domain.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM auth_events WHERE tier = $1 AND principal_id = $2
		 ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
		string(tier), principalID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Event
	for rows.Next() {
		var (
			e                           domain.Event
			tierCol, action             string
			project, principalCol, meta sql.NullString
		)
		if err := rows.Scan(&e.ID, &tierCol, &project, &principalCol, &action, &e.IP, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Tier = principal.Tier(tierCol)
		e.Action = domain.Action(action)
		e.ProjectID = project.String
		e.PrincipalID = principalCol.String
		e.Metadata = meta.String
		out = append(out, &e)
	}
	return out, rows.Err()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
