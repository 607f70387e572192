package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/stockledger/backoffice/internal/notify"
	"github.com/stockledger/backoffice/internal/platform/cache"
	"github.com/stockledger/backoffice/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	ProductName(ctx context.Context, id int64) (string, error)
	ListStock(ctx context.Context, search string) ([]StockRow, error)
	MovementTotals(ctx context.Context, productIDs []int64, from, to time.Time) (map[int64]Totals, error)
	TraceSource(ctx context.Context, src SlipType, productID int64) ([]TraceEntry, error)
	UpsertThreshold(ctx context.Context, t Threshold) error
	SnapshotExists(ctx context.Context, refType string, refID int64) (bool, error)
	SeedSnapshots(ctx context.Context, at time.Time, actor int64) (int, error)
	InsertSnapshot(ctx context.Context, s Snapshot) (bool, error)
	LedgerBalances(ctx context.Context) ([]DriftRow, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Locker guards work that must run on a single worker at a time.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// BaselineAt is the default seed snapshot timestamp. Zero means the Unix epoch.
	BaselineAt  time.Time
	SeedLockTTL time.Duration
}

// Service answers stock views and maintains thresholds and snapshots.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	events notify.Publisher
	locker Locker
	logger *slog.Logger
	cfg    ServiceConfig
	now    func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, events notify.Publisher, logger *slog.Logger, cfg ServiceConfig) *Service {
	if events == nil {
		events = notify.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaselineAt.IsZero() {
		cfg.BaselineAt = time.Unix(0, 0).UTC()
	}
	if cfg.SeedLockTTL <= 0 {
		cfg.SeedLockTTL = 5 * time.Minute
	}
	return &Service{repo: repo, audit: audit, events: events, logger: logger, cfg: cfg, now: time.Now}
}

// SetLocker enables distributed locking around baseline seeding.
func (s *Service) SetLocker(l Locker) {
	s.locker = l
}

func (s *Service) bucketed(ctx context.Context, filter StockFilter) ([]StockItem, error) {
	rows, err := s.repo.ListStock(ctx, filter.Search)
	if err != nil {
		return nil, err
	}
	items := make([]StockItem, 0, len(rows))
	for _, r := range rows {
		item := StockItem{
			ProductID:   r.ProductID,
			ProductCode: r.ProductCode,
			ProductName: r.ProductName,
			Uom:         r.Uom,
			OnHand:      r.OnHand,
			MinStock:    r.MinStock,
			Bucket:      Classify(r.OnHand, r.MinStock),
		}
		if filter.Bucket != "" && item.Bucket != filter.Bucket {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// ListInventory returns the bucketed on-hand view. Pagination applies after
// the bucket filter.
func (s *Service) ListInventory(ctx context.Context, filter StockFilter) ([]StockItem, shared.Pagination, error) {
	items, err := s.bucketed(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	page, p := shared.PageSlice(items, filter.Page, filter.PerPage)
	return page, p, nil
}

// Report reconciles opening, inbound, outbound and closing balances over the
// inclusive day range [from, to] purely from confirmed slip lines. An inverted
// range yields an empty report.
func (s *Service) Report(ctx context.Context, filter StockFilter, from, to time.Time) ([]ReportRow, shared.Pagination, error) {
	rng, ok := shared.NewDateRange(from, to, s.now())
	if !ok {
		return []ReportRow{}, shared.NewPagination(filter.Page, filter.PerPage, 0), nil
	}
	items, err := s.bucketed(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	page, p := shared.PageSlice(items, filter.Page, filter.PerPage)

	ids := make([]int64, len(page))
	for i, item := range page {
		ids[i] = item.ProductID
	}
	totals, err := s.repo.MovementTotals(ctx, ids, rng.From, rng.To)
	if err != nil {
		return nil, shared.Pagination{}, err
	}

	out := make([]ReportRow, len(page))
	for i, item := range page {
		out[i] = NewReportRow(item, totals[item.ProductID])
	}
	return out, p, nil
}

var traceSources = []SlipType{SlipTypeInbound, SlipTypeRetail, SlipTypeProject}

var traceRank = map[SlipType]int{SlipTypeInbound: 0, SlipTypeRetail: 1, SlipTypeProject: 2}

// Trace merges confirmed movements of a product across receiving and both
// dispatch kinds. It returns nil when the product does not exist.
func (s *Service) Trace(ctx context.Context, productID int64) (*Trace, error) {
	name, err := s.repo.ProductName(ctx, productID)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	results := make([][]TraceEntry, len(traceSources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range traceSources {
		g.Go(func() error {
			entries, err := s.repo.TraceSource(gctx, src, productID)
			if err != nil {
				return fmt.Errorf("trace %s: %w", src, err)
			}
			results[i] = entries
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	entries := make([]TraceEntry, 0)
	for _, r := range results {
		entries = append(entries, r...)
	}
	SortTrace(entries)
	return &Trace{ProductID: productID, ProductName: name, Entries: entries}, nil
}

// SortTrace orders entries by date, then source, slip id and line id.
func SortTrace(entries []TraceEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if traceRank[a.SlipType] != traceRank[b.SlipType] {
			return traceRank[a.SlipType] < traceRank[b.SlipType]
		}
		if a.SlipID != b.SlipID {
			return a.SlipID < b.SlipID
		}
		return a.LineID < b.LineID
	})
}

// UpdateMinStock sets the product threshold and publishes a notification.
func (s *Service) UpdateMinStock(ctx context.Context, productID int64, minStock decimal.Decimal, actor int64) (Threshold, error) {
	if minStock.IsNegative() {
		return Threshold{}, shared.Invalid("min_stock", "must not be negative")
	}
	name, err := s.repo.ProductName(ctx, productID)
	if err != nil {
		return Threshold{}, err
	}
	t := Threshold{ProductID: productID, MinStock: minStock, UpdatedBy: actor, UpdatedAt: s.now().UTC()}
	if err := s.repo.UpsertThreshold(ctx, t); err != nil {
		return Threshold{}, err
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   "inventory:threshold_updated",
		Entity:   "product",
		EntityID: fmt.Sprintf("%d", productID),
		Meta:     map[string]any{"min_stock": minStock.String()},
	})
	s.events.Publish(ctx, notify.EventThresholdUpdated, map[string]any{
		"product_id":   productID,
		"product_name": name,
		"min_stock":    minStock.String(),
	})
	return t, nil
}

// SeedBaseline records the zero-point snapshot once. It returns 0 when a seed
// already exists or another worker holds the seed lock.
func (s *Service) SeedBaseline(ctx context.Context, at *time.Time, actor int64) (int, error) {
	if s.locker != nil {
		release, err := s.locker.Obtain(ctx, shared.SnapshotSeedLockKey(RefTypeSeed, 0), s.cfg.SeedLockTTL)
		if errors.Is(err, cache.ErrLockNotObtained) {
			s.logger.Info("baseline seed already running elsewhere")
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("obtain seed lock: %w", err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("release seed lock", slog.Any("error", err))
			}
		}()
	}

	exists, err := s.repo.SnapshotExists(ctx, RefTypeSeed, 0)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, nil
	}
	snapshotAt := s.cfg.BaselineAt
	if at != nil && !at.IsZero() {
		snapshotAt = at.UTC()
	}
	n, err := s.repo.SeedSnapshots(ctx, snapshotAt, actor)
	if err != nil {
		return 0, err
	}
	s.logger.Info("baseline snapshot seeded", slog.Int("products", n), slog.Time("snapshot_at", snapshotAt))
	return n, nil
}

// AddSnapshotIfNotExists inserts a single snapshot keyed by (refType, refID,
// productID). It reports whether a row was written.
func (s *Service) AddSnapshotIfNotExists(ctx context.Context, productID int64, snapshotAt time.Time, onHand decimal.Decimal, refType string, refID, actor int64) (bool, error) {
	if refType == "" {
		return false, shared.Invalid("ref_type", "required")
	}
	if _, err := s.repo.ProductName(ctx, productID); err != nil {
		return false, err
	}
	return s.repo.InsertSnapshot(ctx, Snapshot{
		ProductID:  productID,
		SnapshotAt: snapshotAt.UTC(),
		OnHand:     onHand,
		RefType:    refType,
		RefID:      refID,
		CreatedBy:  actor,
		CreatedAt:  s.now().UTC(),
	})
}

// Drift lists products whose on-hand cache differs from the ledger balance.
// Both values are reported; nothing is repaired.
func (s *Service) Drift(ctx context.Context) ([]DriftRow, error) {
	rows, err := s.repo.LedgerBalances(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]DriftRow, 0)
	for _, r := range rows {
		if !r.Cached.Equal(r.Ledger) {
			r.Difference = r.Cached.Sub(r.Ledger)
			out = append(out, r)
		}
	}
	return out, nil
}

// LowStock returns every product in the alert or critical bucket.
func (s *Service) LowStock(ctx context.Context) ([]StockItem, error) {
	items, err := s.bucketed(ctx, StockFilter{})
	if err != nil {
		return nil, err
	}
	out := make([]StockItem, 0)
	for _, item := range items {
		if item.Bucket != BucketStock {
			out = append(out, item)
		}
	}
	return out, nil
}

// NotifyLowStock publishes one low-stock event per product and returns the count.
func (s *Service) NotifyLowStock(ctx context.Context) (int, error) {
	items, err := s.LowStock(ctx)
	if err != nil {
		return 0, err
	}
	for _, item := range items {
		s.events.Publish(ctx, notify.EventLowStock, map[string]any{
			"product_id":   item.ProductID,
			"product_name": item.ProductName,
			"on_hand":      item.OnHand.String(),
			"bucket":       item.Bucket,
		})
	}
	return len(items), nil
}

func (s *Service) record(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", log.Action), slog.Any("error", err))
	}
}
