package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/stockledger/backoffice/internal/inventory"
	jobmetrics "github.com/stockledger/backoffice/internal/jobs"
)

// ErrUnknownTask is returned for task names the worker does not handle.
var ErrUnknownTask = errors.New("jobs: unknown task")

// StockService is the subset of inventory.Service the stock jobs drive.
type StockService interface {
	SeedBaseline(ctx context.Context, at *time.Time, actor int64) (int, error)
	Drift(ctx context.Context) ([]inventory.DriftRow, error)
	NotifyLowStock(ctx context.Context) (int, error)
}

// StockGauges receives the result of each scan.
type StockGauges interface {
	SetDriftProducts(n int)
	SetLowStockProducts(n int)
}

// StockJobs runs the scheduled inventory tasks.
type StockJobs struct {
	Service StockService
	Gauge   StockGauges
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewStockJobs initialises the handlers.
func NewStockJobs(service StockService, gauge StockGauges, logger *slog.Logger, metrics *jobmetrics.Metrics) *StockJobs {
	return &StockJobs{Service: service, Gauge: gauge, Logger: logger, Metrics: metrics}
}

func (j *StockJobs) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}

// HandleBaselineSeed seeds baseline snapshots. A held seed lock counts as
// success with nothing inserted.
func (j *StockJobs) HandleBaselineSeed(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Service == nil {
		return errors.New("baseline seed: handler not configured")
	}
	var payload BaselineSeedPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	tracker := j.Metrics.Track(TaskInventoryBaselineSeed)
	defer func() { err = tracker.End(err) }()

	inserted, err := j.Service.SeedBaseline(ctx, payload.At, payload.Actor)
	if err != nil {
		j.logger().Error("baseline seed failed", slog.Any("error", err))
		return err
	}
	j.logger().Info("baseline seed completed", slog.Int("inserted", inserted))
	return nil
}

// HandleDriftScan reports products whose cache disagrees with the ledger. It
// never repairs the cache.
func (j *StockJobs) HandleDriftScan(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Service == nil {
		return errors.New("drift scan: handler not configured")
	}
	tracker := j.Metrics.Track(TaskInventoryDriftScan)
	defer func() { err = tracker.End(err) }()

	start := time.Now()
	rows, err := j.Service.Drift(ctx)
	if err != nil {
		j.logger().Error("drift scan failed", slog.Any("error", err))
		return err
	}
	for _, row := range rows {
		j.logger().Warn("on-hand drift",
			slog.Int64("product_id", row.ProductID),
			slog.String("product_name", row.ProductName),
			slog.String("cached", row.Cached.String()),
			slog.String("ledger", row.Ledger.String()),
			slog.String("difference", row.Difference.String()),
		)
	}
	if j.Gauge != nil {
		j.Gauge.SetDriftProducts(len(rows))
	}
	j.Metrics.AddFlagged(TaskInventoryDriftScan, len(rows))
	j.logger().Info("completed drift scan", slog.Int("drifted", len(rows)), slog.Duration("duration", time.Since(start)))
	return nil
}

// HandleLowStockScan publishes a low-stock event per alert or critical product.
func (j *StockJobs) HandleLowStockScan(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Service == nil {
		return errors.New("low stock scan: handler not configured")
	}
	tracker := j.Metrics.Track(TaskInventoryLowStockScan)
	defer func() { err = tracker.End(err) }()

	n, err := j.Service.NotifyLowStock(ctx)
	if err != nil {
		j.logger().Error("low stock scan failed", slog.Any("error", err))
		return err
	}
	if j.Gauge != nil {
		j.Gauge.SetLowStockProducts(n)
	}
	j.Metrics.AddFlagged(TaskInventoryLowStockScan, n)
	j.logger().Info("completed low stock scan", slog.Int("notified", n))
	return nil
}

// KeyCleaner prunes idempotency keys.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// IdempotencyCleanupJob removes keys past retention.
type IdempotencyCleanupJob struct {
	Cleaner KeyCleaner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle executes the cleanup.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Cleaner == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.Retention <= 0 {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskIdempotencyCleanup)
	defer func() { err = tracker.End(err) }()
	return j.Cleaner.Cleanup(ctx, payload.Retention)
}
