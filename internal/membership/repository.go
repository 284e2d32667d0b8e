package membership

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists membership data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const memberWithPlanQuery = `
SELECT m.id, m.patron_code, m.name, m.email, m.plan_code, m.standing, m.created_at, m.updated_at,
       p.code, p.name, p.loan_duration_days, p.borrow_limit, p.daily_fine_rate, p.max_fine
FROM members m
JOIN membership_plans p ON p.code = m.plan_code
`

func scanMemberWithPlan(row pgx.Row) (*MemberWithPlan, error) {
	var m MemberWithPlan
	err := row.Scan(
		&m.ID, &m.PatronCode, &m.Name, &m.Email, &m.PlanCode, &m.Standing, &m.CreatedAt, &m.UpdatedAt,
		&m.Plan.Code, &m.Plan.Name, &m.Plan.LoanDurationDays, &m.Plan.BorrowLimit, &m.Plan.DailyFineRate, &m.Plan.MaxFine,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	return &m, nil
}

// CreateMember registers a new patron.
func (r *Repository) CreateMember(ctx context.Context, input CreateMemberInput) (*Member, error) {
	var m Member
	err := r.pool.QueryRow(ctx,
		`INSERT INTO members (patron_code, name, email, plan_code)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, patron_code, name, email, plan_code, standing, created_at, updated_at`,
		input.PatronCode, input.Name, input.Email, input.PlanCode,
	).Scan(&m.ID, &m.PatronCode, &m.Name, &m.Email, &m.PlanCode, &m.Standing, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgerrcode.UniqueViolation:
				return nil, ErrDuplicatePatronCode
			case pgerrcode.ForeignKeyViolation:
				return nil, ErrPlanNotFound
			}
		}
		return nil, err
	}
	return &m, nil
}

// GetMember fetches a member joined with their plan.
func (r *Repository) GetMember(ctx context.Context, memberID int64) (*MemberWithPlan, error) {
	return scanMemberWithPlan(r.pool.QueryRow(ctx, memberWithPlanQuery+`WHERE m.id = $1`, memberID))
}

// SetStanding updates a member's standing.
func (r *Repository) SetStanding(ctx context.Context, memberID int64, standing Standing) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE members SET standing = $2, updated_at = NOW() WHERE id = $1`,
		memberID, string(standing),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMemberNotFound
	}
	return nil
}

// CountOpenLoans returns the number of loans the member currently has out.
func (r *Repository) CountOpenLoans(ctx context.Context, memberID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM loans WHERE member_id = $1 AND status = 'OPEN'`,
		memberID,
	).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ListPlans returns every membership plan.
func (r *Repository) ListPlans(ctx context.Context) ([]Plan, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT code, name, loan_duration_days, borrow_limit, daily_fine_rate, max_fine
		 FROM membership_plans ORDER BY code`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []Plan
	for rows.Next() {
		var p Plan
		if err := rows.Scan(&p.Code, &p.Name, &p.LoanDurationDays, &p.BorrowLimit, &p.DailyFineRate, &p.MaxFine); err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return plans, nil
}
