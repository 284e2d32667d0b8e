package borrowing

import (
	"errors"
	"time"

	"github.com/athenaeum-lms/athenaeum/internal/membership"
)

// LoanStatus enumerates the stored states of a loan. Overdue is a derived
// view (open and past due), never persisted, so the due-timestamp comparison
// cannot drift from a stored flag.
type LoanStatus string

const (
	// LoanStatusOpen marks a copy currently out with a member.
	LoanStatusOpen LoanStatus = "OPEN"
	// LoanStatusReturned marks an on-time return. Terminal.
	LoanStatusReturned LoanStatus = "RETURNED"
	// LoanStatusClosedFined marks a return after the due date. Terminal.
	LoanStatusClosedFined LoanStatus = "CLOSED_FINED"
)

// Loan is one borrowing transaction in the ledger. Created on issue,
// transitioned exactly once on return, immutable afterwards.
type Loan struct {
	ID         int64
	Code       string
	TitleID    int64
	MemberID   int64
	IssuedAt   time.Time
	DueAt      time.Time
	ReturnedAt *time.Time
	Status     LoanStatus
	IssuedBy   int64
	CreatedAt  time.Time
}

// Overdue reports whether the loan is open and past due at the given instant.
// A loan returned exactly at its due time is not overdue.
func (l Loan) Overdue(now time.Time) bool {
	return l.Status == LoanStatusOpen && now.After(l.DueAt)
}

// Fine is a monetary penalty against a loan, in minor currency units.
// While the loan stays open the scanner re-accrues the amount uncapped; the
// plan's maximum applies once when the loan closes.
type Fine struct {
	ID        int64
	Code      string
	LoanID    int64
	Amount    int64
	AccruedAt time.Time
	Settled   bool
	SettledAt *time.Time
	SettledBy int64
}

// TitleCounts is the copy-count snapshot the engine locks per operation.
type TitleCounts struct {
	TitleID   int64
	Total     int64
	Available int64
}

// MemberSnapshot is the membership view consumed at issue/return time.
type MemberSnapshot struct {
	MemberID int64
	Standing membership.Standing
	Plan     membership.Plan
}

// OverdueLoan pairs an open past-due loan with its plan's fine policy.
type OverdueLoan struct {
	Loan
	DailyFineRate int64
}

// IssueLoanInput describes a checkout request.
type IssueLoanInput struct {
	TitleID  int64
	MemberID int64
	ActorID  int64
	Now      time.Time
}

// ReturnLoanInput describes a return request.
type ReturnLoanInput struct {
	LoanID  int64
	ActorID int64
	Now     time.Time
}

// SettleFineInput describes a fine settlement. Amount must match the fine
// exactly; partial payment is not supported.
type SettleFineInput struct {
	FineID  int64
	Amount  int64
	ActorID int64
	Now     time.Time
}

// ReturnResult carries the closed loan and the fine, when one applies.
type ReturnResult struct {
	Loan Loan
	Fine *Fine
}

// OverdueAssessment is one scanner finding: an open loan past due with its
// current accrued fine. FineUpdated reports whether this sweep created the
// fine or moved its amount; a re-run at the same instant leaves it false.
type OverdueAssessment struct {
	LoanID      int64
	LoanCode    string
	MemberID    int64
	TitleID     int64
	DaysOverdue int
	FineAmount  int64
	FineUpdated bool
}

// ListLoansFilter filters ledger listings.
type ListLoansFilter struct {
	MemberID int64
	TitleID  int64
	OpenOnly bool
	Limit    int
}

// Policy violations. Expected, surfaced to the operator verbatim, never
// retried.
var (
	ErrMemberSuspended     = errors.New("borrowing: member is not in active standing")
	ErrBorrowLimitExceeded = errors.New("borrowing: member reached the plan borrow limit")
	ErrNoCopyAvailable     = errors.New("borrowing: no copy available")
	ErrLoanAlreadyClosed   = errors.New("borrowing: loan already closed")
	ErrFineAlreadySettled  = errors.New("borrowing: fine already settled")
	ErrAmountMismatch      = errors.New("borrowing: settlement amount does not match fine")
)

// Not-found errors. Caller-input mistakes, same handling as policy violations.
var (
	ErrLoanNotFound = errors.New("borrowing: loan not found")
	ErrFineNotFound = errors.New("borrowing: fine not found")
)

// daysLate counts started 24h periods past due. now must be strictly after
// due.
func daysLate(due, now time.Time) int {
	late := now.Sub(due)
	days := int(late / (24 * time.Hour))
	if late%(24*time.Hour) > 0 {
		days++
	}
	return days
}

// accruedFine is the uncapped accrual amount for an overdue loan.
func accruedFine(rate int64, due, now time.Time) int64 {
	return rate * int64(daysLate(due, now))
}

// cappedFine applies the plan maximum at close time.
func cappedFine(rate, maxFine int64, due, now time.Time) int64 {
	amount := accruedFine(rate, due, now)
	if amount > maxFine {
		return maxFine
	}
	return amount
}
