package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"devicetrust/internal/audit/domain"
)

const (
	insertEvent = `INSERT INTO security_events (id, user_id, event_type, description, metadata, risk_level, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	listEventsByUser = `SELECT id, user_id, event_type, description, metadata, risk_level, created_at
FROM security_events WHERE user_id = $1 ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`
)

// row is the security_events column set; metadata is stored as JSONB.
type row struct {
	ID          string    `db:"id"`
	UserID      string    `db:"user_id"`
	EventType   string    `db:"event_type"`
	Description string    `db:"description"`
	Metadata    []byte    `db:"metadata"`
	RiskLevel   string    `db:"risk_level"`
	CreatedAt   time.Time `db:"created_at"`
}

type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository returns a security event repository that uses db for persistence.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create appends e.
func (r *PostgresRepository) Create(ctx context.Context, e *domain.SecurityEvent) error {
	meta := []byte("{}")
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return err
		}
		meta = b
	}
	_, err := r.db.ExecContext(ctx, insertEvent,
		e.ID, e.UserID, string(e.EventType), e.Description, meta, string(e.RiskLevel), e.CreatedAt)
	return err
}

// ListByUser returns the user's events, newest first.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit, offset int32) ([]*domain.SecurityEvent, error) {
	var rows []row
	if err := r.db.SelectContext(ctx, &rows, listEventsByUser, userID, limit, offset); err != nil {
		return nil, err
	}
	out := make([]*domain.SecurityEvent, 0, len(rows))
	for _, rw := range rows {
		e := &domain.SecurityEvent{
			ID:          rw.ID,
			UserID:      rw.UserID,
			EventType:   domain.EventType(rw.EventType),
			Description: rw.Description,
			RiskLevel:   domain.RiskLevel(rw.RiskLevel),
			CreatedAt:   rw.CreatedAt,
		}
		if len(rw.Metadata) > 0 {
			if err := json.Unmarshal(rw.Metadata, &e.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, nil
}
