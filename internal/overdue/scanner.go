package overdue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/athenaeum-lms/athenaeum/internal/borrowing"
	"github.com/athenaeum-lms/athenaeum/internal/notify"
)

// ErrScanInProgress is returned when a trigger arrives while a scan is still
// running. The caller drops its trigger; the running scan covers it.
var ErrScanInProgress = errors.New("overdue: scan already in progress")

// EnginePort is the slice of the circulation engine the scanner drives.
type EnginePort interface {
	AssessOverdue(ctx context.Context, now time.Time) ([]borrowing.OverdueAssessment, error)
}

// Scanner sweeps the open ledger for past-due loans, re-accrues their fines
// and fans reminders out to the notifier. Triggers come from the in-process
// timer loop and from the queue scheduler; the mutex coalesces overlaps.
type Scanner struct {
	engine   EnginePort
	notifier notify.Dispatcher
	logger   *slog.Logger
	interval time.Duration
	mu       sync.Mutex
	now      func() time.Time
}

// NewScanner builds Scanner. A zero interval disables the timer loop.
func NewScanner(engine EnginePort, notifier notify.Dispatcher, interval time.Duration, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		engine:   engine,
		notifier: notifier,
		logger:   logger,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Scan runs one sweep at the given instant. Fine accrual commits before any
// reminder goes out; only loans whose fine actually moved in this sweep get
// a reminder, and a notifier failure is logged and never fails the sweep.
func (s *Scanner) Scan(ctx context.Context, now time.Time) ([]borrowing.OverdueAssessment, error) {
	if !s.mu.TryLock() {
		return nil, ErrScanInProgress
	}
	defer s.mu.Unlock()

	if now.IsZero() {
		now = s.now()
	}
	started := time.Now()
	assessments, err := s.engine.AssessOverdue(ctx, now)
	if err != nil {
		return nil, err
	}

	notified := 0
	for _, a := range assessments {
		if s.notifier == nil || !a.FineUpdated {
			continue
		}
		notice := notify.OverdueNotice{
			LoanID:      a.LoanID,
			LoanCode:    a.LoanCode,
			MemberID:    a.MemberID,
			TitleID:     a.TitleID,
			DaysOverdue: a.DaysOverdue,
			FineAmount:  a.FineAmount,
		}
		if err := s.notifier.DispatchOverdue(ctx, notice); err != nil {
			s.logger.Warn("dispatch overdue notice",
				slog.Int64("loan_id", a.LoanID),
				slog.Any("error", err),
			)
			continue
		}
		notified++
	}

	s.logger.Info("overdue scan completed",
		slog.Int("overdue", len(assessments)),
		slog.Int("notified", notified),
		slog.Duration("duration", time.Since(started)),
	)
	return assessments, nil
}

// RunPeriodic sweeps on the configured interval until the context ends.
func (s *Scanner) RunPeriodic(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Scan(ctx, time.Time{}); err != nil && !errors.Is(err, ErrScanInProgress) {
				s.logger.Error("periodic overdue scan", slog.Any("error", err))
			}
		}
	}
}
