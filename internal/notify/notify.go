package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// TaskOverdueNotice is the queue task carrying one overdue reminder.
const TaskOverdueNotice = "notify:overdue"

// OverdueNotice is the payload of one reminder.
type OverdueNotice struct {
	LoanID      int64  `json:"loan_id"`
	LoanCode    string `json:"loan_code"`
	MemberID    int64  `json:"member_id"`
	TitleID     int64  `json:"title_id"`
	DaysOverdue int    `json:"days_overdue"`
	FineAmount  int64  `json:"fine_amount"`
}

// Dispatcher hands reminders off for delivery.
type Dispatcher interface {
	DispatchOverdue(ctx context.Context, notice OverdueNotice) error
}

// AsynqDispatcher enqueues reminders onto the task queue for the worker to
// deliver.
type AsynqDispatcher struct {
	client *asynq.Client
	logger *slog.Logger
}

// NewAsynqDispatcher builds AsynqDispatcher.
func NewAsynqDispatcher(client *asynq.Client, logger *slog.Logger) *AsynqDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &AsynqDispatcher{client: client, logger: logger}
}

// DispatchOverdue enqueues one reminder task.
func (d *AsynqDispatcher) DispatchOverdue(ctx context.Context, notice OverdueNotice) error {
	payload, err := json.Marshal(notice)
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskOverdueNotice, payload)
	_, err = d.client.EnqueueContext(ctx, task,
		asynq.MaxRetry(5),
		asynq.Timeout(30*time.Second),
		asynq.Unique(time.Hour),
	)
	if err != nil {
		return err
	}
	d.logger.Debug("overdue notice enqueued",
		slog.Int64("loan_id", notice.LoanID),
		slog.Int64("member_id", notice.MemberID),
	)
	return nil
}
