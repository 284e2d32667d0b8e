package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/athenaeum-lms/athenaeum/internal/borrowing"
	jobmetrics "github.com/athenaeum-lms/athenaeum/internal/jobs"
	"github.com/athenaeum-lms/athenaeum/internal/overdue"
)

// OverdueScanJob runs the ledger sweep when the scheduler fires.
type OverdueScanJob struct {
	Scanner *overdue.Scanner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewOverdueScanJob initialises the sweep handler.
func NewOverdueScanJob(scanner *overdue.Scanner, logger *slog.Logger, metrics *jobmetrics.Metrics) *OverdueScanJob {
	return &OverdueScanJob{
		Scanner: scanner,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one sweep. A trigger arriving while another sweep runs is
// dropped, not retried.
func (j *OverdueScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Scanner == nil {
		return errors.New("overdue scan: handler not configured")
	}

	tracker := j.metrics().Track(TaskOverdueScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	logger.Info("starting overdue scan")

	var assessments []borrowing.OverdueAssessment
	assessments, resultErr = j.Scanner.Scan(ctx, j.now())
	if resultErr != nil {
		if errors.Is(resultErr, overdue.ErrScanInProgress) {
			logger.Info("overdue scan already running, trigger dropped")
			resultErr = nil
			return nil
		}
		logger.Error("overdue scan failed", slog.Any("error", resultErr))
		return resultErr
	}

	j.metrics().AddOverdue(len(assessments))
	logger.Info("completed overdue scan", slog.Int("overdue", len(assessments)))
	return nil
}

func (j *OverdueScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskOverdueScan))
	}
	return slog.Default().With(slog.String("job", TaskOverdueScan))
}

func (j *OverdueScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return jobmetrics.NewMetrics(nil)
}

func (j *OverdueScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
