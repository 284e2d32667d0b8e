package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/athenaeum-lms/athenaeum/internal/app"
	"github.com/athenaeum-lms/athenaeum/internal/auth"
	"github.com/athenaeum-lms/athenaeum/internal/borrowing"
	"github.com/athenaeum-lms/athenaeum/internal/catalog"
	"github.com/athenaeum-lms/athenaeum/internal/membership"
	"github.com/athenaeum-lms/athenaeum/internal/notify"
	"github.com/athenaeum-lms/athenaeum/internal/observability"
	"github.com/athenaeum-lms/athenaeum/internal/overdue"
	"github.com/athenaeum-lms/athenaeum/internal/platform/cache"
	"github.com/athenaeum-lms/athenaeum/internal/platform/db"
	"github.com/athenaeum-lms/athenaeum/internal/reporting"
	"github.com/athenaeum-lms/athenaeum/internal/shared"
	"github.com/athenaeum-lms/athenaeum/jobs"
)

// cacheInvalidator drops cached reads after every committed circulation
// mutation.
type cacheInvalidator struct {
	catalog   *catalog.Service
	reporting *reporting.Service
}

func (c *cacheInvalidator) HandleLoanIssued(ctx context.Context, evt borrowing.LoanIssuedEvent) error {
	c.catalog.InvalidateAvailability(ctx, evt.TitleID)
	c.reporting.Invalidate(ctx)
	return nil
}

func (c *cacheInvalidator) HandleLoanClosed(ctx context.Context, evt borrowing.LoanClosedEvent) error {
	c.catalog.InvalidateAvailability(ctx, evt.TitleID)
	c.reporting.Invalidate(ctx)
	return nil
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		logger.Error("apply migrations", slog.Any("error", err))
		os.Exit(1)
	}

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	authService := auth.NewService(auth.NewRepository(pool), logger)
	if err := authService.EnsureAdmin(ctx, cfg.AdminBootstrapPassword); err != nil {
		logger.Error("provision admin", slog.Any("error", err))
		os.Exit(1)
	}

	auditLogger := shared.NewAuditLogger(pool)

	availabilityCache := catalog.NewAvailabilityCache(redisClient, cfg.AvailabilityCacheTTL)
	catalogService := catalog.NewService(catalog.NewRepository(pool), auditLogger, availabilityCache, logger)
	catalogHandler := catalog.NewHandler(logger, catalogService)

	membershipService := membership.NewService(membership.NewRepository(pool), auditLogger)
	membershipHandler := membership.NewHandler(logger, membershipService)

	reportingService := reporting.NewService(pool, redisClient, cfg.SummaryCacheTTL, logger)
	reportingHandler := reporting.NewHandler(logger, reportingService)

	invalidator := &cacheInvalidator{catalog: catalogService, reporting: reportingService}
	borrowingService := borrowing.NewService(borrowing.NewRepository(pool), auditLogger, invalidator, logger)
	borrowingHandler := borrowing.NewHandler(logger, borrowingService)

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

	dispatcher := notify.NewAsynqDispatcher(queueClient.Raw(), logger)
	scanner := overdue.NewScanner(borrowingService, dispatcher, cfg.OverdueScanInterval, logger)
	go scanner.RunPeriodic(ctx)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	jobHandler := jobs.NewHandler(inspector, logger)

	metrics := observability.NewMetrics()

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		CatalogHandler:    catalogHandler,
		MembershipHandler: membershipHandler,
		BorrowingHandler:  borrowingHandler,
		ReportingHandler:  reportingHandler,
		JobHandler:        jobHandler,
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
