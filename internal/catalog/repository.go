package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists catalogue data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	GetTitleForUpdate(ctx context.Context, titleID int64) (Title, error)
	SetCopyCounts(ctx context.Context, titleID, total, available int64) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps the callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &txRepo{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CreateTitle inserts a new title with all copies available.
func (r *Repository) CreateTitle(ctx context.Context, input CreateTitleInput) (*Title, error) {
	var t Title
	err := r.pool.QueryRow(ctx,
		`INSERT INTO titles (isbn, title, author, genre, total_copies, available_copies)
		 VALUES (NULLIF($1, ''), $2, $3, $4, $5, $5)
		 RETURNING id, COALESCE(isbn, ''), title, author, genre, total_copies, available_copies, created_at, updated_at`,
		input.ISBN, input.Title, input.Author, input.Genre, input.Copies,
	).Scan(&t.ID, &t.ISBN, &t.Title, &t.Author, &t.Genre, &t.Total, &t.Available, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, ErrDuplicateISBN
		}
		return nil, err
	}
	return &t, nil
}

// GetTitle fetches a single title.
func (r *Repository) GetTitle(ctx context.Context, titleID int64) (*Title, error) {
	var t Title
	err := r.pool.QueryRow(ctx,
		`SELECT id, COALESCE(isbn, ''), title, author, genre, total_copies, available_copies, created_at, updated_at
		 FROM titles WHERE id = $1`, titleID,
	).Scan(&t.ID, &t.ISBN, &t.Title, &t.Author, &t.Genre, &t.Total, &t.Available, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTitleNotFound
		}
		return nil, err
	}
	return &t, nil
}

// ListTitles returns catalogue entries matching the filter.
func (r *Repository) ListTitles(ctx context.Context, filter ListFilter) ([]Title, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, COALESCE(isbn, ''), title, author, genre, total_copies, available_copies, created_at, updated_at
		 FROM titles
		 WHERE ($1 = '' OR genre = $1) AND ($2 = '' OR author = $2)
		 ORDER BY title
		 LIMIT $3`,
		filter.Genre, filter.Author, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var titles []Title
	for rows.Next() {
		var t Title
		if err := rows.Scan(&t.ID, &t.ISBN, &t.Title, &t.Author, &t.Genre, &t.Total, &t.Available, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		titles = append(titles, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return titles, nil
}

func (r *txRepo) GetTitleForUpdate(ctx context.Context, titleID int64) (Title, error) {
	var t Title
	err := r.tx.QueryRow(ctx,
		`SELECT id, COALESCE(isbn, ''), title, author, genre, total_copies, available_copies, created_at, updated_at
		 FROM titles WHERE id = $1 FOR UPDATE`, titleID,
	).Scan(&t.ID, &t.ISBN, &t.Title, &t.Author, &t.Genre, &t.Total, &t.Available, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Title{}, ErrTitleNotFound
		}
		return Title{}, err
	}
	return t, nil
}

func (r *txRepo) SetCopyCounts(ctx context.Context, titleID, total, available int64) error {
	_, err := r.tx.Exec(ctx,
		`UPDATE titles SET total_copies = $2, available_copies = $3, updated_at = NOW() WHERE id = $1`,
		titleID, total, available,
	)
	return err
}
