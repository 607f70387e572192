package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/stockledger/backoffice/internal/app"
	"github.com/stockledger/backoffice/internal/inventory"
	jobmetrics "github.com/stockledger/backoffice/internal/jobs"
	"github.com/stockledger/backoffice/internal/notify"
	"github.com/stockledger/backoffice/internal/observability"
	"github.com/stockledger/backoffice/internal/platform/cache"
	"github.com/stockledger/backoffice/internal/platform/db"
	"github.com/stockledger/backoffice/internal/shared"
	"github.com/stockledger/backoffice/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 4})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

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

	baselineAt, err := cfg.BaselineAt()
	if err != nil {
		logger.Error("baseline instant", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	inventoryService := inventory.NewService(
		inventory.NewRepository(pool),
		shared.NewAuditLogger(pool),
		notify.NewRedisPublisher(redisClient, cfg.NotifyChannel, logger),
		logger,
		inventory.ServiceConfig{BaselineAt: baselineAt, SeedLockTTL: cfg.InventorySeedLockTTL},
	)
	inventoryService.SetLocker(cache.NewLocker(redisClient))

	stockJobs := jobs.NewStockJobs(inventoryService, metrics, logger, jobMetrics)
	cleanupJob := &jobs.IdempotencyCleanupJob{Cleaner: shared.NewIdempotencyStore(pool), Logger: logger, Metrics: jobMetrics}

	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskInventoryBaselineSeed, Handler: stockJobs.HandleBaselineSeed},
			{Type: jobs.TaskInventoryDriftScan, Handler: stockJobs.HandleDriftScan},
			{Type: jobs.TaskInventoryLowStockScan, Handler: stockJobs.HandleLowStockScan},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.InventoryDriftCron, Task: jobs.NewDriftScanTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.InventoryLowStockCron, Task: jobs.NewLowStockScanTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	enqueueBaselineSeed(ctx, cfg, logger)

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

// enqueueBaselineSeed schedules one seeding pass per worker start. The task is
// unique per queue, so restarts within the window collapse into one run.
func enqueueBaselineSeed(ctx context.Context, cfg *app.Config, logger *slog.Logger) {
	client, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Warn("baseline seed client", slog.Any("error", err))
		return
	}
	defer func() { _ = client.Close() }()

	task, err := jobs.NewBaselineSeedTask(jobs.BaselineSeedPayload{})
	if err != nil {
		logger.Warn("baseline seed task", slog.Any("error", err))
		return
	}
	if _, err := client.Enqueue(ctx, task); err != nil && !errors.Is(err, asynq.ErrDuplicateTask) {
		logger.Warn("enqueue baseline seed", slog.Any("error", err))
	}
}
