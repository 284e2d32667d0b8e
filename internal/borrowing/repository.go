package borrowing

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/athenaeum-lms/athenaeum/internal/catalog"
	"github.com/athenaeum-lms/athenaeum/internal/membership"
)

// Repository persists the loan ledger in PostgreSQL. Checkout, return and
// settlement each run in a single repeatable-read transaction; the title row
// lock serializes concurrent operations on the same title.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations of one engine step.
type TxRepository interface {
	GetTitleForUpdate(ctx context.Context, titleID int64) (TitleCounts, error)
	SetAvailable(ctx context.Context, titleID, available int64) error
	GetMember(ctx context.Context, memberID int64) (MemberSnapshot, error)
	CountOpenLoans(ctx context.Context, memberID int64) (int, error)
	InsertLoan(ctx context.Context, loan Loan) (int64, error)
	GetLoanForUpdate(ctx context.Context, loanID int64) (Loan, error)
	CloseLoan(ctx context.Context, loanID int64, returnedAt time.Time, status LoanStatus) error
	ListOverdueForUpdate(ctx context.Context, now time.Time) ([]OverdueLoan, error)
	GetUnsettledFine(ctx context.Context, loanID int64) (*Fine, error)
	InsertFine(ctx context.Context, fine Fine) (int64, error)
	SetFineAmount(ctx context.Context, fineID, amount int64, accruedAt time.Time) error
	GetFineForUpdate(ctx context.Context, fineID int64) (Fine, error)
	MarkFineSettled(ctx context.Context, fineID int64, settledAt time.Time, settledBy int64) error
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

const loanColumns = `id, code, title_id, member_id, issued_at, due_at, returned_at, status, issued_by, created_at`

func scanLoan(row pgx.Row) (Loan, error) {
	var l Loan
	err := row.Scan(&l.ID, &l.Code, &l.TitleID, &l.MemberID, &l.IssuedAt, &l.DueAt, &l.ReturnedAt, &l.Status, &l.IssuedBy, &l.CreatedAt)
	return l, err
}

// GetLoan fetches a single ledger entry.
func (r *Repository) GetLoan(ctx context.Context, loanID int64) (*Loan, error) {
	l, err := scanLoan(r.pool.QueryRow(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE id = $1`, loanID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLoanNotFound
		}
		return nil, err
	}
	return &l, nil
}

// ListLoans returns ledger entries matching the filter, newest first.
func (r *Repository) ListLoans(ctx context.Context, filter ListLoansFilter) ([]Loan, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+loanColumns+` FROM loans
		 WHERE ($1 = 0 OR member_id = $1)
		   AND ($2 = 0 OR title_id = $2)
		   AND (NOT $3 OR status = 'OPEN')
		 ORDER BY issued_at DESC, id DESC
		 LIMIT $4`,
		filter.MemberID, filter.TitleID, filter.OpenOnly, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var loans []Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		loans = append(loans, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return loans, nil
}

// GetFine fetches a single fine.
func (r *Repository) GetFine(ctx context.Context, fineID int64) (*Fine, error) {
	var f Fine
	err := r.pool.QueryRow(ctx,
		`SELECT id, code, loan_id, amount, accrued_at, settled, settled_at, COALESCE(settled_by, 0)
		 FROM fines WHERE id = $1`, fineID,
	).Scan(&f.ID, &f.Code, &f.LoanID, &f.Amount, &f.AccruedAt, &f.Settled, &f.SettledAt, &f.SettledBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFineNotFound
		}
		return nil, err
	}
	return &f, nil
}

// ListFinesByMember returns all fines for a member's loans, newest first.
func (r *Repository) ListFinesByMember(ctx context.Context, memberID int64) ([]Fine, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT f.id, f.code, f.loan_id, f.amount, f.accrued_at, f.settled, f.settled_at, COALESCE(f.settled_by, 0)
		 FROM fines f
		 JOIN loans l ON l.id = f.loan_id
		 WHERE l.member_id = $1
		 ORDER BY f.accrued_at DESC, f.id DESC`,
		memberID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fines []Fine
	for rows.Next() {
		var f Fine
		if err := rows.Scan(&f.ID, &f.Code, &f.LoanID, &f.Amount, &f.AccruedAt, &f.Settled, &f.SettledAt, &f.SettledBy); err != nil {
			return nil, err
		}
		fines = append(fines, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return fines, nil
}

func (r *txRepo) GetTitleForUpdate(ctx context.Context, titleID int64) (TitleCounts, error) {
	var t TitleCounts
	err := r.tx.QueryRow(ctx,
		`SELECT id, total_copies, available_copies FROM titles WHERE id = $1 FOR UPDATE`, titleID,
	).Scan(&t.TitleID, &t.Total, &t.Available)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TitleCounts{}, catalog.ErrTitleNotFound
		}
		return TitleCounts{}, err
	}
	return t, nil
}

func (r *txRepo) SetAvailable(ctx context.Context, titleID, available int64) error {
	_, err := r.tx.Exec(ctx,
		`UPDATE titles SET available_copies = $2, updated_at = NOW() WHERE id = $1`,
		titleID, available,
	)
	return err
}

func (r *txRepo) GetMember(ctx context.Context, memberID int64) (MemberSnapshot, error) {
	var m MemberSnapshot
	err := r.tx.QueryRow(ctx,
		`SELECT m.id, m.standing, p.code, p.name, p.loan_duration_days, p.borrow_limit, p.daily_fine_rate, p.max_fine
		 FROM members m
		 JOIN membership_plans p ON p.code = m.plan_code
		 WHERE m.id = $1`, memberID,
	).Scan(&m.MemberID, &m.Standing, &m.Plan.Code, &m.Plan.Name, &m.Plan.LoanDurationDays, &m.Plan.BorrowLimit, &m.Plan.DailyFineRate, &m.Plan.MaxFine)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return MemberSnapshot{}, membership.ErrMemberNotFound
		}
		return MemberSnapshot{}, err
	}
	return m, nil
}

func (r *txRepo) CountOpenLoans(ctx context.Context, memberID int64) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM loans WHERE member_id = $1 AND status = 'OPEN'`, memberID,
	).Scan(&n)
	return n, err
}

func (r *txRepo) InsertLoan(ctx context.Context, loan Loan) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx,
		`INSERT INTO loans (code, title_id, member_id, issued_at, due_at, status, issued_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		loan.Code, loan.TitleID, loan.MemberID, loan.IssuedAt, loan.DueAt, loan.Status, loan.IssuedBy,
	).Scan(&id)
	return id, err
}

func (r *txRepo) GetLoanForUpdate(ctx context.Context, loanID int64) (Loan, error) {
	l, err := scanLoan(r.tx.QueryRow(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE id = $1 FOR UPDATE`, loanID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Loan{}, ErrLoanNotFound
		}
		return Loan{}, err
	}
	return l, nil
}

func (r *txRepo) CloseLoan(ctx context.Context, loanID int64, returnedAt time.Time, status LoanStatus) error {
	tag, err := r.tx.Exec(ctx,
		`UPDATE loans SET returned_at = $2, status = $3 WHERE id = $1 AND status = 'OPEN'`,
		loanID, returnedAt, status,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLoanAlreadyClosed
	}
	return nil
}

func (r *txRepo) ListOverdueForUpdate(ctx context.Context, now time.Time) ([]OverdueLoan, error) {
	rows, err := r.tx.Query(ctx,
		`SELECT l.id, l.code, l.title_id, l.member_id, l.issued_at, l.due_at, l.returned_at, l.status, l.issued_by, l.created_at,
		        p.daily_fine_rate
		 FROM loans l
		 JOIN members m ON m.id = l.member_id
		 JOIN membership_plans p ON p.code = m.plan_code
		 WHERE l.status = 'OPEN' AND l.due_at < $1
		 ORDER BY l.due_at, l.id
		 FOR UPDATE OF l`,
		now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var loans []OverdueLoan
	for rows.Next() {
		var o OverdueLoan
		if err := rows.Scan(&o.ID, &o.Code, &o.TitleID, &o.MemberID, &o.IssuedAt, &o.DueAt, &o.ReturnedAt, &o.Status, &o.IssuedBy, &o.CreatedAt, &o.DailyFineRate); err != nil {
			return nil, err
		}
		loans = append(loans, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return loans, nil
}

func (r *txRepo) GetUnsettledFine(ctx context.Context, loanID int64) (*Fine, error) {
	var f Fine
	err := r.tx.QueryRow(ctx,
		`SELECT id, code, loan_id, amount, accrued_at, settled, settled_at, COALESCE(settled_by, 0)
		 FROM fines WHERE loan_id = $1 AND NOT settled`, loanID,
	).Scan(&f.ID, &f.Code, &f.LoanID, &f.Amount, &f.AccruedAt, &f.Settled, &f.SettledAt, &f.SettledBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &f, nil
}

func (r *txRepo) InsertFine(ctx context.Context, fine Fine) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx,
		`INSERT INTO fines (code, loan_id, amount, accrued_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		fine.Code, fine.LoanID, fine.Amount, fine.AccruedAt,
	).Scan(&id)
	return id, err
}

func (r *txRepo) SetFineAmount(ctx context.Context, fineID, amount int64, accruedAt time.Time) error {
	_, err := r.tx.Exec(ctx,
		`UPDATE fines SET amount = $2, accrued_at = $3 WHERE id = $1 AND NOT settled`,
		fineID, amount, accruedAt,
	)
	return err
}

func (r *txRepo) GetFineForUpdate(ctx context.Context, fineID int64) (Fine, error) {
	var f Fine
	err := r.tx.QueryRow(ctx,
		`SELECT id, code, loan_id, amount, accrued_at, settled, settled_at, COALESCE(settled_by, 0)
		 FROM fines WHERE id = $1 FOR UPDATE`, fineID,
	).Scan(&f.ID, &f.Code, &f.LoanID, &f.Amount, &f.AccruedAt, &f.Settled, &f.SettledAt, &f.SettledBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Fine{}, ErrFineNotFound
		}
		return Fine{}, err
	}
	return f, nil
}

func (r *txRepo) MarkFineSettled(ctx context.Context, fineID int64, settledAt time.Time, settledBy int64) error {
	tag, err := r.tx.Exec(ctx,
		`UPDATE fines SET settled = TRUE, settled_at = $2, settled_by = $3 WHERE id = $1 AND NOT settled`,
		fineID, settledAt, settledBy,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrFineAlreadySettled
	}
	return nil
}
