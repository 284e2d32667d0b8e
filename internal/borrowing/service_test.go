package borrowing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/athenaeum-lms/athenaeum/internal/catalog"
	"github.com/athenaeum-lms/athenaeum/internal/membership"
)

var testPlan = membership.Plan{
	Code:             "standard",
	Name:             "Standard",
	LoanDurationDays: 14,
	BorrowLimit:      3,
	DailyFineRate:    10,
	MaxFine:          200,
}

type memoryLedgerRepo struct {
	mu         sync.Mutex
	titles     map[int64]*TitleCounts
	members    map[int64]*MemberSnapshot
	loans      map[int64]*Loan
	fines      map[int64]*Fine
	nextLoanID int64
	nextFineID int64
}

type memoryLedgerTx struct {
	repo *memoryLedgerRepo
}

func newMemoryLedgerRepo() *memoryLedgerRepo {
	return &memoryLedgerRepo{
		titles:  make(map[int64]*TitleCounts),
		members: make(map[int64]*MemberSnapshot),
		loans:   make(map[int64]*Loan),
		fines:   make(map[int64]*Fine),
	}
}

// WithTx holds the lock for the whole callback, standing in for the row locks
// that serialise concurrent transactions in PostgreSQL.
func (r *memoryLedgerRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(ctx, &memoryLedgerTx{repo: r})
}

func (r *memoryLedgerRepo) GetLoan(ctx context.Context, loanID int64) (*Loan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.loans[loanID]
	if !ok {
		return nil, ErrLoanNotFound
	}
	copied := *l
	return &copied, nil
}

func (r *memoryLedgerRepo) ListLoans(ctx context.Context, filter ListLoansFilter) ([]Loan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Loan
	for _, l := range r.loans {
		if filter.MemberID != 0 && l.MemberID != filter.MemberID {
			continue
		}
		if filter.OpenOnly && l.Status != LoanStatusOpen {
			continue
		}
		out = append(out, *l)
	}
	return out, nil
}

func (r *memoryLedgerRepo) GetFine(ctx context.Context, fineID int64) (*Fine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.fines[fineID]
	if !ok {
		return nil, ErrFineNotFound
	}
	copied := *f
	return &copied, nil
}

func (r *memoryLedgerRepo) ListFinesByMember(ctx context.Context, memberID int64) ([]Fine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Fine
	for _, f := range r.fines {
		if loan, ok := r.loans[f.LoanID]; ok && loan.MemberID == memberID {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (tx *memoryLedgerTx) GetTitleForUpdate(ctx context.Context, titleID int64) (TitleCounts, error) {
	t, ok := tx.repo.titles[titleID]
	if !ok {
		return TitleCounts{}, catalog.ErrTitleNotFound
	}
	return *t, nil
}

func (tx *memoryLedgerTx) SetAvailable(ctx context.Context, titleID, available int64) error {
	tx.repo.titles[titleID].Available = available
	return nil
}

func (tx *memoryLedgerTx) GetMember(ctx context.Context, memberID int64) (MemberSnapshot, error) {
	m, ok := tx.repo.members[memberID]
	if !ok {
		return MemberSnapshot{}, membership.ErrMemberNotFound
	}
	return *m, nil
}

func (tx *memoryLedgerTx) CountOpenLoans(ctx context.Context, memberID int64) (int, error) {
	n := 0
	for _, l := range tx.repo.loans {
		if l.MemberID == memberID && l.Status == LoanStatusOpen {
			n++
		}
	}
	return n, nil
}

func (tx *memoryLedgerTx) InsertLoan(ctx context.Context, loan Loan) (int64, error) {
	tx.repo.nextLoanID++
	loan.ID = tx.repo.nextLoanID
	tx.repo.loans[loan.ID] = &loan
	return loan.ID, nil
}

func (tx *memoryLedgerTx) GetLoanForUpdate(ctx context.Context, loanID int64) (Loan, error) {
	l, ok := tx.repo.loans[loanID]
	if !ok {
		return Loan{}, ErrLoanNotFound
	}
	return *l, nil
}

func (tx *memoryLedgerTx) CloseLoan(ctx context.Context, loanID int64, returnedAt time.Time, status LoanStatus) error {
	l := tx.repo.loans[loanID]
	if l.Status != LoanStatusOpen {
		return ErrLoanAlreadyClosed
	}
	at := returnedAt
	l.ReturnedAt = &at
	l.Status = status
	return nil
}

func (tx *memoryLedgerTx) ListOverdueForUpdate(ctx context.Context, now time.Time) ([]OverdueLoan, error) {
	var out []OverdueLoan
	for _, l := range tx.repo.loans {
		if l.Status == LoanStatusOpen && now.After(l.DueAt) {
			rate := tx.repo.members[l.MemberID].Plan.DailyFineRate
			out = append(out, OverdueLoan{Loan: *l, DailyFineRate: rate})
		}
	}
	return out, nil
}

func (tx *memoryLedgerTx) GetUnsettledFine(ctx context.Context, loanID int64) (*Fine, error) {
	for _, f := range tx.repo.fines {
		if f.LoanID == loanID && !f.Settled {
			copied := *f
			return &copied, nil
		}
	}
	return nil, nil
}

func (tx *memoryLedgerTx) InsertFine(ctx context.Context, fine Fine) (int64, error) {
	tx.repo.nextFineID++
	fine.ID = tx.repo.nextFineID
	tx.repo.fines[fine.ID] = &fine
	return fine.ID, nil
}

func (tx *memoryLedgerTx) SetFineAmount(ctx context.Context, fineID, amount int64, accruedAt time.Time) error {
	f := tx.repo.fines[fineID]
	if f.Settled {
		return nil
	}
	f.Amount = amount
	f.AccruedAt = accruedAt
	return nil
}

func (tx *memoryLedgerTx) GetFineForUpdate(ctx context.Context, fineID int64) (Fine, error) {
	f, ok := tx.repo.fines[fineID]
	if !ok {
		return Fine{}, ErrFineNotFound
	}
	return *f, nil
}

func (tx *memoryLedgerTx) MarkFineSettled(ctx context.Context, fineID int64, settledAt time.Time, settledBy int64) error {
	f := tx.repo.fines[fineID]
	if f.Settled {
		return ErrFineAlreadySettled
	}
	at := settledAt
	f.Settled = true
	f.SettledAt = &at
	f.SettledBy = settledBy
	return nil
}

var day0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func day(n int) time.Time { return day0.AddDate(0, 0, n) }

func newTestEngine(t *testing.T) (*Service, *memoryLedgerRepo) {
	t.Helper()
	repo := newMemoryLedgerRepo()
	repo.titles[1] = &TitleCounts{TitleID: 1, Total: 2, Available: 2}
	repo.members[1] = &MemberSnapshot{MemberID: 1, Standing: membership.StandingActive, Plan: testPlan}
	return NewService(repo, nil, nil, nil), repo
}

func TestIssueLoan(t *testing.T) {
	svc, repo := newTestEngine(t)
	ctx := context.Background()

	loan, err := svc.IssueLoan(ctx, IssueLoanInput{TitleID: 1, MemberID: 1, ActorID: 7, Now: day(0)})
	require.NoError(t, err)
	require.Equal(t, LoanStatusOpen, loan.Status)
	require.Equal(t, day(14), loan.DueAt)
	require.NotEmpty(t, loan.Code)
	require.EqualValues(t, 1, repo.titles[1].Available)

	require.False(t, loan.Overdue(day(14)))
	require.True(t, loan.Overdue(day(14).Add(time.Second)))
}

func TestIssueLoanPolicyChecks(t *testing.T) {
	svc, repo := newTestEngine(t)
	ctx := context.Background()

	_, err := svc.IssueLoan(ctx, IssueLoanInput{TitleID: 99, MemberID: 1, Now: day(0)})
	require.ErrorIs(t, err, catalog.ErrTitleNotFound)

	_, err = svc.IssueLoan(ctx, IssueLoanInput{TitleID: 1, MemberID: 99, Now: day(0)})
	require.ErrorIs(t, err, membership.ErrMemberNotFound)

	repo.members[1].Standing = membership.StandingSuspended
	_, err = svc.IssueLoan(ctx, IssueLoanInput{TitleID: 1, MemberID: 1, Now: day(0)})
	require.ErrorIs(t, err, ErrMemberSuspended)

	repo.members[1].Standing = membership.StandingExpired
	_, err = svc.IssueLoan(ctx, IssueLoanInput{TitleID: 1, MemberID: 1, Now: day(0)})
	require.ErrorIs(t, err, ErrMemberSuspended)

	repo.members[1].Standing = membership.StandingActive
	repo.titles[1].Available = 0
	_, err = svc.IssueLoan(ctx, IssueLoanInput{TitleID: 1, MemberID: 1, Now: day(0)})
	require.ErrorIs(t, err, ErrNoCopyAvailable)

	// A failed issue must not leak a ledger entry.
	loans, err := svc.ListLoans(ctx, ListLoansFilter{MemberID: 1})
	require.NoError(t, err)
	require.Empty(t, loans)
}

func TestIssueLoanBorrowLimit(t *testing.T) {
	svc, repo := newTestEngine(t)
	ctx := context.Background()
	repo.titles[1].Total = 5
	repo.titles[1].Available = 5

	for i := 0; i < testPlan.BorrowLimit; i++ {
		_, err := svc.IssueLoan(ctx, IssueLoanInput{TitleID: 1, MemberID: 1, Now: day(0)})
		require.NoError(t, err)
	}

	_, err := svc.IssueLoan(ctx, IssueLoanInput{TitleID: 1, MemberID: 1, Now: day(0)})
	require.ErrorIs(t, err, ErrBorrowLimitExceeded)

	// Returning one frees a slot.
	_, err = svc.ReturnLoan(ctx, ReturnLoanInput{LoanID: 1, Now: day(1)})
	require.NoError(t, err)
	_, err = svc.IssueLoan(ctx, IssueLoanInput{TitleID: 1, MemberID: 1, Now: day(1)})
	require.NoError(t, err)
}

func TestReturnLoanOnTime(t *testing.T) {
	svc, repo := newTestEngine(t)
	ctx := context.Background()

	loan, err := svc.IssueLoan(ctx, IssueLoanInput{TitleID: 1, MemberID: 1, Now: day(0)})
	require.NoError(t, err)

	// Return at the due instant exactly stays clean.
	result, err := svc.ReturnLoan(ctx, ReturnLoanInput{LoanID: loan.ID, Now: loan.DueAt})
	require.NoError(t, err)
	require.Equal(t, LoanStatusReturned, result.Loan.Status)
	require.Nil(t, result.Fine)
	require.EqualValues(t, 2, repo.titles[1].Available)

	_, err = svc.ReturnLoan(ctx, ReturnLoanInput{LoanID: loan.ID, Now: day(15)})
	require.ErrorIs(t, err, ErrLoanAlreadyClosed)
}

func TestReturnLoanLateFinesCapped(t *testing.T) {
	svc, _ := newTestEngine(t)
	ctx := context.Background()

	loan, err := svc.IssueLoan(ctx, IssueLoanInput{TitleID: 1, MemberID: 1, Now: day(0)})
	require.NoError(t, err)

	// Six days past due at the daily rate of 10.
	result, err := svc.ReturnLoan(ctx, ReturnLoanInput{LoanID: loan.ID, Now: day(20)})
	require.NoError(t, err)
	require.Equal(t, LoanStatusClosedFined, result.Loan.Status)
	require.NotNil(t, result.Fine)
	require.EqualValues(t, 60, result.Fine.Amount)
	require.False(t, result.Fine.Settled)

	// A very late return hits the plan maximum.
	late, err := svc.IssueLoan(ctx, IssueLoanInput{TitleID: 1, MemberID: 1, Now: day(0)})
	require.NoError(t, err)
	result, err = svc.ReturnLoan(ctx, ReturnLoanInput{LoanID: late.ID, Now: day(120)})
	require.NoError(t, err)
	require.EqualValues(t, testPlan.MaxFine, result.Fine.Amount)
}

func TestReturnLoanPartialDayRoundsUp(t *testing.T) {
	svc, _ := newTestEngine(t)
	ctx := context.Background()

	loan, err := svc.IssueLoan(ctx, IssueLoanInput{TitleID: 1, MemberID: 1, Now: day(0)})
	require.NoError(t, err)

	// One hour past due counts as a full day.
	result, err := svc.ReturnLoan(ctx, ReturnLoanInput{LoanID: loan.ID, Now: loan.DueAt.Add(time.Hour)})
	require.NoError(t, err)
	require.EqualValues(t, 10, result.Fine.Amount)
}

func TestAssessOverdueAccruesUncapped(t *testing.T) {
	svc, repo := newTestEngine(t)
	ctx := context.Background()

	loan, err := svc.IssueLoan(ctx, IssueLoanInput{TitleID: 1, MemberID: 1, Now: day(0)})
	require.NoError(t, err)

	// Nothing due yet.
	found, err := svc.AssessOverdue(ctx, day(10))
	require.NoError(t, err)
	require.Empty(t, found)

	// Sixteen days past due on day 30.
	found, err = svc.AssessOverdue(ctx, day(30))
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, loan.ID, found[0].LoanID)
	require.Equal(t, 16, found[0].DaysOverdue)
	require.EqualValues(t, 160, found[0].FineAmount)
	require.True(t, found[0].FineUpdated)

	// Re-running at the same instant changes nothing and flags nothing.
	again, err := svc.AssessOverdue(ctx, day(30))
	require.NoError(t, err)
	require.Len(t, again, 1)
	require.EqualValues(t, 160, again[0].FineAmount)
	require.False(t, again[0].FineUpdated)
	require.Len(t, repo.fines, 1)

	// Accrual keeps climbing past the plan maximum while the loan stays open.
	found, err = svc.AssessOverdue(ctx, day(40))
	require.NoError(t, err)
	require.EqualValues(t, 260, found[0].FineAmount)
	require.True(t, found[0].FineUpdated)
	require.Len(t, repo.fines, 1)
}

func TestReturnReusesAccruedFine(t *testing.T) {
	svc, repo := newTestEngine(t)
	ctx := context.Background()

	loan, err := svc.IssueLoan(ctx, IssueLoanInput{TitleID: 1, MemberID: 1, Now: day(0)})
	require.NoError(t, err)

	_, err = svc.AssessOverdue(ctx, day(40))
	require.NoError(t, err)
	require.Len(t, repo.fines, 1)

	// The close caps the accrued amount instead of opening a second fine.
	result, err := svc.ReturnLoan(ctx, ReturnLoanInput{LoanID: loan.ID, Now: day(40)})
	require.NoError(t, err)
	require.Len(t, repo.fines, 1)
	require.EqualValues(t, testPlan.MaxFine, result.Fine.Amount)
}

func TestSettleFine(t *testing.T) {
	svc, _ := newTestEngine(t)
	ctx := context.Background()

	loan, err := svc.IssueLoan(ctx, IssueLoanInput{TitleID: 1, MemberID: 1, Now: day(0)})
	require.NoError(t, err)
	result, err := svc.ReturnLoan(ctx, ReturnLoanInput{LoanID: loan.ID, Now: day(20)})
	require.NoError(t, err)
	fine := result.Fine

	_, err = svc.SettleFine(ctx, SettleFineInput{FineID: 999, Amount: 60, Now: day(21)})
	require.ErrorIs(t, err, ErrFineNotFound)

	_, err = svc.SettleFine(ctx, SettleFineInput{FineID: fine.ID, Amount: 50, Now: day(21)})
	require.ErrorIs(t, err, ErrAmountMismatch)

	settled, err := svc.SettleFine(ctx, SettleFineInput{FineID: fine.ID, Amount: 60, ActorID: 7, Now: day(21)})
	require.NoError(t, err)
	require.True(t, settled.Settled)
	require.EqualValues(t, 7, settled.SettledBy)

	_, err = svc.SettleFine(ctx, SettleFineInput{FineID: fine.ID, Amount: 60, Now: day(22)})
	require.ErrorIs(t, err, ErrFineAlreadySettled)
}

func TestConcurrentIssueLastCopy(t *testing.T) {
	svc, repo := newTestEngine(t)
	repo.titles[1].Total = 1
	repo.titles[1].Available = 1
	repo.members[2] = &MemberSnapshot{MemberID: 2, Standing: membership.StandingActive, Plan: testPlan}

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for _, memberID := range []int64{1, 2} {
		wg.Add(1)
		go func(memberID int64) {
			defer wg.Done()
			_, err := svc.IssueLoan(context.Background(), IssueLoanInput{TitleID: 1, MemberID: memberID, Now: day(0)})
			errs <- err
		}(memberID)
	}
	wg.Wait()
	close(errs)

	var won, lost int
	for err := range errs {
		if err == nil {
			won++
		} else {
			require.ErrorIs(t, err, ErrNoCopyAvailable)
			lost++
		}
	}
	require.Equal(t, 1, won)
	require.Equal(t, 1, lost)
	require.EqualValues(t, 0, repo.titles[1].Available)
}
