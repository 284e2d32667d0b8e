package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/athenaeum-lms/athenaeum/internal/app"
	"github.com/athenaeum-lms/athenaeum/internal/borrowing"
	"github.com/athenaeum-lms/athenaeum/internal/notify"
	"github.com/athenaeum-lms/athenaeum/internal/overdue"
	"github.com/athenaeum-lms/athenaeum/internal/platform/db"
	"github.com/athenaeum-lms/athenaeum/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	queueClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()

	borrowingService := borrowing.NewService(borrowing.NewRepository(pool), nil, nil, logger)
	dispatcher := notify.NewAsynqDispatcher(queueClient.Raw(), logger)

	// The worker runs sweeps only on the cron trigger; the periodic loop
	// lives in the API process.
	scanner := overdue.NewScanner(borrowingService, dispatcher, 0, logger)
	scanJob := jobs.NewOverdueScanJob(scanner, logger, nil)
	notifyJob := jobs.NewNotifyOverdueJob(pool, queueClient, logger)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskOverdueScan, Handler: scanJob.Handle},
			{Type: notify.TaskOverdueNotice, Handler: notifyJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 * * * *", Task: jobs.NewOverdueScanTask(), Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
