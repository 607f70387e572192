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

	"github.com/stockledger/backoffice/cmd/backoffice/cli"
	"github.com/stockledger/backoffice/internal/app"
	"github.com/stockledger/backoffice/internal/catalog"
	"github.com/stockledger/backoffice/internal/dispatch"
	"github.com/stockledger/backoffice/internal/inventory"
	"github.com/stockledger/backoffice/internal/notify"
	"github.com/stockledger/backoffice/internal/observability"
	"github.com/stockledger/backoffice/internal/platform/cache"
	"github.com/stockledger/backoffice/internal/platform/db"
	"github.com/stockledger/backoffice/internal/receiving"
	"github.com/stockledger/backoffice/internal/shared"
	"github.com/stockledger/backoffice/jobs"
)

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

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		os.Exit(runJobs(ctx, cfg, os.Args[2:]))
	}

	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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
	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	publisher := notify.NewRedisPublisher(redisClient, cfg.NotifyChannel, logger)

	catalogRepo := catalog.NewRepository(dbpool)
	catalogService := catalog.NewService(catalogRepo)

	receivingService := receiving.NewService(receiving.NewRepository(dbpool), catalogRepo, auditLogger, publisher, logger)
	receivingService.SetMetrics(metrics)

	dispatchRepo := dispatch.NewRepository(dbpool)
	dispatchService := dispatch.NewService(dispatchRepo, catalogRepo, dispatch.Directories{
		Customers: dispatchRepo,
		Projects:  dispatchRepo,
	}, auditLogger, publisher, logger)
	dispatchService.SetMetrics(metrics)
	dispatchService.SetIdempotency(idempotencyStore)

	inventoryService := inventory.NewService(inventory.NewRepository(dbpool), auditLogger, publisher, logger, inventory.ServiceConfig{
		BaselineAt:  baselineAt,
		SeedLockTTL: cfg.InventorySeedLockTTL,
	})
	inventoryService.SetLocker(cache.NewLocker(redisClient))

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		CatalogHandler:   catalog.NewHandler(catalogService),
		ReceivingHandler: receiving.NewHandler(receivingService),
		DispatchHandler:  dispatch.NewHandler(dispatchService),
		InventoryHandler: inventory.NewHandler(inventoryService),
		JobHandler:       jobs.NewHandler(inspector, logger),
		Metrics:          metrics,
		AccessLog:        !cfg.IsProduction(),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) int {
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		slog.Default().Error("jobs cli", slog.Any("error", err))
		return 1
	}
	defer func() { _ = jobsCLI.Close() }()
	return jobsCLI.Command(ctx, args, os.Stdout, os.Stderr)
}
