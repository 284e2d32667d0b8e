package auth

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/athenaeum-lms/athenaeum/internal/shared"
)

// Repository persists staff users in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByUsername fetches an account by username.
func (r *Repository) GetByUsername(ctx context.Context, username string) (*StaffUser, error) {
	var u StaffUser
	err := r.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, is_admin, created_at FROM staff_users WHERE username = $1`,
		username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// Insert stores a new account.
func (r *Repository) Insert(ctx context.Context, user StaffUser) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO staff_users (username, password_hash, is_admin)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (username) DO UPDATE SET username = EXCLUDED.username
		 RETURNING id`,
		user.Username, user.PasswordHash, user.IsAdmin,
	).Scan(&id)
	return id, err
}
