package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"devicetrust/internal/policy/domain"
)

const activeRules = `
SELECT id, rules, enabled, created_at
FROM token_policy_rules
WHERE enabled = TRUE
ORDER BY created_at DESC
LIMIT 1
`

const createRules = `
INSERT INTO token_policy_rules (id, rules, enabled, created_at)
VALUES ($1, $2, $3, $4)
`

const setEnabled = `
UPDATE token_policy_rules
SET enabled = $1
WHERE id = $2
`

type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository returns a policy rules repository that uses the given db for persistence.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// ActiveRules returns the newest enabled rules, or nil if none.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) ActiveRules(ctx context.Context) (*domain.Rules, error) {
	var out domain.Rules
	if err := r.db.GetContext(ctx, &out, activeRules); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

// Create persists rules. ID and CreatedAt are assigned when empty.
func (r *PostgresRepository) Create(ctx context.Context, p *domain.Rules) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, createRules, p.ID, p.Rules, p.Enabled, p.CreatedAt)
	return err
}

// SetEnabled toggles a stored rule set.
func (r *PostgresRepository) SetEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := r.db.ExecContext(ctx, setEnabled, enabled, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
