package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/athenaeum-lms/athenaeum/internal/notify"
)

// NotifyOverdueJob turns a scanner finding into a reminder email. Member and
// title details are resolved at delivery time so a reminder sitting in the
// queue never carries stale contact data.
type NotifyOverdueJob struct {
	Pool   *pgxpool.Pool
	Client *Client
	Logger *slog.Logger
}

// NewNotifyOverdueJob initialises the reminder handler.
func NewNotifyOverdueJob(pool *pgxpool.Pool, client *Client, logger *slog.Logger) *NotifyOverdueJob {
	return &NotifyOverdueJob{Pool: pool, Client: client, Logger: logger}
}

// Handle resolves the notice and hands the formatted reminder to the mail
// task. Members without an email address are skipped.
func (j *NotifyOverdueJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pool == nil || j.Client == nil {
		return errors.New("notify overdue: handler not configured")
	}
	var notice notify.OverdueNotice
	if err := json.Unmarshal(t.Payload(), &notice); err != nil {
		return asynq.SkipRetry
	}

	var memberName, memberEmail, titleName string
	err := j.Pool.QueryRow(ctx,
		`SELECT m.name, m.email, t.title
		 FROM loans l
		 JOIN members m ON m.id = l.member_id
		 JOIN titles t ON t.id = l.title_id
		 WHERE l.id = $1`, notice.LoanID,
	).Scan(&memberName, &memberEmail, &titleName)
	if err != nil {
		return err
	}
	if memberEmail == "" {
		j.logger().Info("member has no email, reminder skipped",
			slog.Int64("member_id", notice.MemberID),
		)
		return nil
	}

	payload := SendEmailPayload{
		To:      memberEmail,
		Subject: fmt.Sprintf("Overdue reminder: %s", titleName),
		Body:    overdueReminderBody(memberName, titleName, notice),
	}
	if _, err := j.Client.EnqueueSendEmail(ctx, payload); err != nil {
		return err
	}
	j.logger().Info("overdue reminder enqueued",
		slog.Int64("loan_id", notice.LoanID),
		slog.Int64("member_id", notice.MemberID),
	)
	return nil
}

func (j *NotifyOverdueJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", notify.TaskOverdueNotice))
	}
	return slog.Default().With(slog.String("job", notify.TaskOverdueNotice))
}

var reminderPrinter = message.NewPrinter(language.English)

func overdueReminderBody(memberName, titleName string, notice notify.OverdueNotice) string {
	return reminderPrinter.Sprintf(
		"Dear %s,\n\n%q is %d day(s) overdue (loan %s). The accrued fine is currently %.2f. Please return the copy at your earliest convenience.\n",
		memberName, titleName, notice.DaysOverdue, notice.LoanCode, float64(notice.FineAmount)/100,
	)
}
