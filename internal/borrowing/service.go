package borrowing

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/athenaeum-lms/athenaeum/internal/membership"
	"github.com/athenaeum-lms/athenaeum/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetLoan(ctx context.Context, loanID int64) (*Loan, error)
	ListLoans(ctx context.Context, filter ListLoansFilter) ([]Loan, error)
	GetFine(ctx context.Context, fineID int64) (*Fine, error)
	ListFinesByMember(ctx context.Context, memberID int64) ([]Fine, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service is the circulation engine. Each mutating operation runs as one
// transaction; the title row lock makes concurrent checkouts of the last copy
// resolve to exactly one winner.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	integration IntegrationHandler
	logger      *slog.Logger
	now         func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, integration IntegrationHandler, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, integration: integration, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// IssueLoan checks a copy of a title out to a member. The member must be in
// active standing and under the plan borrow limit, and a copy must be on the
// shelf. Due date is the issue instant plus the plan loan duration.
func (s *Service) IssueLoan(ctx context.Context, input IssueLoanInput) (*Loan, error) {
	now := input.Now
	if now.IsZero() {
		now = s.now()
	}
	var loan Loan
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		title, err := tx.GetTitleForUpdate(ctx, input.TitleID)
		if err != nil {
			return err
		}
		member, err := tx.GetMember(ctx, input.MemberID)
		if err != nil {
			return err
		}
		if member.Standing != membership.StandingActive {
			return fmt.Errorf("%w: standing %s", ErrMemberSuspended, member.Standing)
		}
		open, err := tx.CountOpenLoans(ctx, input.MemberID)
		if err != nil {
			return err
		}
		if open >= member.Plan.BorrowLimit {
			return fmt.Errorf("%w: %d open of %d allowed", ErrBorrowLimitExceeded, open, member.Plan.BorrowLimit)
		}
		if title.Available < 1 {
			return ErrNoCopyAvailable
		}
		if err := tx.SetAvailable(ctx, title.TitleID, title.Available-1); err != nil {
			return err
		}
		loan = Loan{
			Code:     fmt.Sprintf("LN-%s", uuid.NewString()),
			TitleID:  input.TitleID,
			MemberID: input.MemberID,
			IssuedAt: now,
			DueAt:    now.Add(time.Duration(member.Plan.LoanDurationDays) * 24 * time.Hour),
			Status:   LoanStatusOpen,
			IssuedBy: input.ActorID,
		}
		loan.ID, err = tx.InsertLoan(ctx, loan)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, input.ActorID, "borrowing:issue", "loan", loan.ID, map[string]any{
		"loan_code": loan.Code,
		"title_id":  loan.TitleID,
		"member_id": loan.MemberID,
		"due_at":    loan.DueAt,
	})
	if s.integration != nil {
		evt := LoanIssuedEvent{
			LoanID:   loan.ID,
			LoanCode: loan.Code,
			TitleID:  loan.TitleID,
			MemberID: loan.MemberID,
			DueAt:    loan.DueAt,
			IssuedAt: loan.IssuedAt,
		}
		if err := s.integration.HandleLoanIssued(ctx, evt); err != nil {
			return nil, err
		}
	}
	return &loan, nil
}

// ReturnLoan closes an open loan and puts the copy back on the shelf. A
// return strictly after the due instant closes the loan fined, with the
// amount capped at the plan maximum; a return at or before the due instant
// closes it clean. The unsettled fine accrued by the scanner, when present,
// is reused rather than duplicated.
func (s *Service) ReturnLoan(ctx context.Context, input ReturnLoanInput) (*ReturnResult, error) {
	now := input.Now
	if now.IsZero() {
		now = s.now()
	}
	var result ReturnResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		loan, err := tx.GetLoanForUpdate(ctx, input.LoanID)
		if err != nil {
			return err
		}
		if loan.Status != LoanStatusOpen {
			return fmt.Errorf("%w: status %s", ErrLoanAlreadyClosed, loan.Status)
		}
		title, err := tx.GetTitleForUpdate(ctx, loan.TitleID)
		if err != nil {
			return err
		}
		status := LoanStatusReturned
		var fine *Fine
		if now.After(loan.DueAt) {
			member, err := tx.GetMember(ctx, loan.MemberID)
			if err != nil {
				return err
			}
			amount := cappedFine(member.Plan.DailyFineRate, member.Plan.MaxFine, loan.DueAt, now)
			fine, _, err = s.upsertFine(ctx, tx, loan.ID, amount, now)
			if err != nil {
				return err
			}
			status = LoanStatusClosedFined
		}
		if err := tx.CloseLoan(ctx, loan.ID, now, status); err != nil {
			return err
		}
		if title.Available+1 > title.Total {
			return fmt.Errorf("borrowing: return would leave %d of %d copies available", title.Available+1, title.Total)
		}
		if err := tx.SetAvailable(ctx, title.TitleID, title.Available+1); err != nil {
			return err
		}
		returnedAt := now
		loan.ReturnedAt = &returnedAt
		loan.Status = status
		result = ReturnResult{Loan: loan, Fine: fine}
		return nil
	})
	if err != nil {
		return nil, err
	}
	meta := map[string]any{
		"loan_code": result.Loan.Code,
		"status":    result.Loan.Status,
	}
	if result.Fine != nil {
		meta["fine_id"] = result.Fine.ID
		meta["fine_amount"] = result.Fine.Amount
	}
	s.recordAudit(ctx, input.ActorID, "borrowing:return", "loan", result.Loan.ID, meta)
	if s.integration != nil {
		evt := LoanClosedEvent{
			LoanID:     result.Loan.ID,
			LoanCode:   result.Loan.Code,
			TitleID:    result.Loan.TitleID,
			MemberID:   result.Loan.MemberID,
			Status:     result.Loan.Status,
			ReturnedAt: now,
		}
		if result.Fine != nil {
			evt.FineAmount = result.Fine.Amount
		}
		if err := s.integration.HandleLoanClosed(ctx, evt); err != nil {
			return nil, err
		}
	}
	return &result, nil
}

// SettleFine marks a fine paid. The payment must match the fine amount
// exactly.
func (s *Service) SettleFine(ctx context.Context, input SettleFineInput) (*Fine, error) {
	now := input.Now
	if now.IsZero() {
		now = s.now()
	}
	var settled Fine
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		fine, err := tx.GetFineForUpdate(ctx, input.FineID)
		if err != nil {
			return err
		}
		if fine.Settled {
			return ErrFineAlreadySettled
		}
		if input.Amount != fine.Amount {
			return fmt.Errorf("%w: got %d, fine is %d", ErrAmountMismatch, input.Amount, fine.Amount)
		}
		if err := tx.MarkFineSettled(ctx, fine.ID, now, input.ActorID); err != nil {
			return err
		}
		settledAt := now
		fine.Settled = true
		fine.SettledAt = &settledAt
		fine.SettledBy = input.ActorID
		settled = fine
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, input.ActorID, "borrowing:settle", "fine", settled.ID, map[string]any{
		"fine_code": settled.Code,
		"loan_id":   settled.LoanID,
		"amount":    settled.Amount,
	})
	return &settled, nil
}

// AssessOverdue re-accrues fines for every open loan past due at the given
// instant and reports each finding. Amounts are uncapped while the loan is
// open. Running it twice at the same instant changes nothing the second time.
func (s *Service) AssessOverdue(ctx context.Context, now time.Time) ([]OverdueAssessment, error) {
	if now.IsZero() {
		now = s.now()
	}
	var assessments []OverdueAssessment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		loans, err := tx.ListOverdueForUpdate(ctx, now)
		if err != nil {
			return err
		}
		for _, overdue := range loans {
			amount := accruedFine(overdue.DailyFineRate, overdue.DueAt, now)
			_, updated, err := s.upsertFine(ctx, tx, overdue.ID, amount, now)
			if err != nil {
				return err
			}
			assessments = append(assessments, OverdueAssessment{
				LoanID:      overdue.ID,
				LoanCode:    overdue.Code,
				MemberID:    overdue.MemberID,
				TitleID:     overdue.TitleID,
				DaysOverdue: daysLate(overdue.DueAt, now),
				FineAmount:  amount,
				FineUpdated: updated,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return assessments, nil
}

// GetLoan fetches a ledger entry.
func (s *Service) GetLoan(ctx context.Context, loanID int64) (*Loan, error) {
	return s.repo.GetLoan(ctx, loanID)
}

// ListLoans lists ledger entries.
func (s *Service) ListLoans(ctx context.Context, filter ListLoansFilter) ([]Loan, error) {
	return s.repo.ListLoans(ctx, filter)
}

// GetFine fetches a fine.
func (s *Service) GetFine(ctx context.Context, fineID int64) (*Fine, error) {
	return s.repo.GetFine(ctx, fineID)
}

// ListFinesByMember lists a member's fines across all their loans.
func (s *Service) ListFinesByMember(ctx context.Context, memberID int64) ([]Fine, error) {
	return s.repo.ListFinesByMember(ctx, memberID)
}

// upsertFine updates the loan's unsettled fine to the given amount, creating
// it on first accrual. The partial unique index on fines backs the
// one-unsettled-fine rule. The second return reports whether anything moved.
func (s *Service) upsertFine(ctx context.Context, tx TxRepository, loanID, amount int64, now time.Time) (*Fine, bool, error) {
	existing, err := tx.GetUnsettledFine(ctx, loanID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		if existing.Amount == amount {
			return existing, false, nil
		}
		if err := tx.SetFineAmount(ctx, existing.ID, amount, now); err != nil {
			return nil, false, err
		}
		existing.Amount = amount
		existing.AccruedAt = now
		return existing, true, nil
	}
	fine := Fine{
		Code:      fmt.Sprintf("FN-%s", uuid.NewString()),
		LoanID:    loanID,
		Amount:    amount,
		AccruedAt: now,
	}
	fine.ID, err = tx.InsertFine(ctx, fine)
	if err != nil {
		return nil, false, err
	}
	return &fine, true, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entity string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
	})
}
