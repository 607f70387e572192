package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskInventoryBaselineSeed seeds one snapshot per product at the baseline instant.
	TaskInventoryBaselineSeed = "inventory:baseline_seed"
	// TaskInventoryDriftScan compares cached on-hand with the confirmed ledger.
	TaskInventoryDriftScan = "inventory:drift_scan"
	// TaskInventoryLowStockScan publishes alerts for products below minimum stock.
	TaskInventoryLowStockScan = "inventory:low_stock_scan"
	// TaskIdempotencyCleanup prunes old idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// BaselineSeedPayload overrides the configured baseline instant when At is set.
type BaselineSeedPayload struct {
	At    *time.Time `json:"at,omitempty"`
	Actor int64      `json:"actor"`
}

// NewBaselineSeedTask constructs the seeding task. Seeding is unique per
// queue for ten minutes so repeated triggers collapse.
func NewBaselineSeedTask(payload BaselineSeedPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInventoryBaselineSeed, body, asynq.Queue(QueueDefault), asynq.Unique(10*time.Minute)), nil
}

// NewDriftScanTask constructs the drift scan task.
func NewDriftScanTask() *asynq.Task {
	return asynq.NewTask(TaskInventoryDriftScan, nil, asynq.Queue(QueueDefault))
}

// NewLowStockScanTask constructs the low-stock scan task.
func NewLowStockScanTask() *asynq.Task {
	return asynq.NewTask(TaskInventoryLowStockScan, nil, asynq.Queue(QueueDefault))
}

// IdempotencyCleanupPayload carries the key retention.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}

// TaskByName builds a task for manual triggering.
func TaskByName(name string) (*asynq.Task, error) {
	switch name {
	case TaskInventoryBaselineSeed:
		return NewBaselineSeedTask(BaselineSeedPayload{})
	case TaskInventoryDriftScan:
		return NewDriftScanTask(), nil
	case TaskInventoryLowStockScan:
		return NewLowStockScanTask(), nil
	}
	return nil, ErrUnknownTask
}
