package borrowing

import (
	"context"
	"time"
)

// LoanIssuedEvent represents a committed checkout.
type LoanIssuedEvent struct {
	LoanID   int64
	LoanCode string
	TitleID  int64
	MemberID int64
	DueAt    time.Time
	IssuedAt time.Time
}

// LoanClosedEvent represents a committed return, with the fine when the
// return was late.
type LoanClosedEvent struct {
	LoanID     int64
	LoanCode   string
	TitleID    int64
	MemberID   int64
	Status     LoanStatus
	FineAmount int64
	ReturnedAt time.Time
}

// IntegrationHandler receives engine events after commit. Availability cache
// invalidation hangs off these.
type IntegrationHandler interface {
	HandleLoanIssued(ctx context.Context, evt LoanIssuedEvent) error
	HandleLoanClosed(ctx context.Context, evt LoanClosedEvent) error
}
