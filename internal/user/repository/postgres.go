package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"devicetrust/internal/user/domain"
)

const (
	userColumns = `id, email, name, password_hash, role, status, created_at, updated_at`
	getUser     = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	getByEmail  = `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	insertUser  = `INSERT INTO users (` + userColumns + `)
VALUES (:id, :email, :name, :password_hash, :role, :status, :created_at, :updated_at)
ON CONFLICT (email) DO NOTHING`
)

type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository returns a user repository that uses the given db for persistence.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.get(ctx, getUser, id)
}

// GetByEmail returns the user with the given email, or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.get(ctx, getByEmail, email)
}

// Create persists u. The user must have ID set. An existing email is left untouched.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	_, err := r.db.NamedExecContext(ctx, insertUser, u)
	return err
}

func (r *PostgresRepository) get(ctx context.Context, q string, arg string) (*domain.User, error) {
	var u domain.User
	if err := r.db.GetContext(ctx, &u, q, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}
