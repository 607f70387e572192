package receiving

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/stockledger/backoffice/internal/catalog"
	"github.com/stockledger/backoffice/internal/inventory"
	"github.com/stockledger/backoffice/internal/notify"
	"github.com/stockledger/backoffice/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Slip, error)
	List(ctx context.Context, filter ListFilter) ([]Slip, int, error)
	Report(ctx context.Context, filter ReportFilter) ([]ReportRow, int, ReportTotals, error)
	CountConfirmed(ctx context.Context, from, to time.Time) (int, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	// LockSlip loads a non-deleted slip with its lines and holds its row lock
	// until the transaction ends.
	LockSlip(ctx context.Context, id int64) (Slip, error)
	InsertSlip(ctx context.Context, slip Slip) (int64, error)
	SetReference(ctx context.Context, id int64, ref string) error
	InsertLine(ctx context.Context, line Line) (int64, error)
	UpdateLine(ctx context.Context, line Line) error
	DeleteLine(ctx context.Context, slipID, lineID int64) error
	MarkConfirmed(ctx context.Context, id, actor int64, at time.Time) error
	SoftDelete(ctx context.Context, id, actor int64, at time.Time) error
	Catalog() catalog.TxStore
	Stock() inventory.StockTx
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates inbound slips.
type Service struct {
	repo    RepositoryPort
	units   catalog.UnitLookup
	audit   AuditPort
	events  notify.Publisher
	metrics inventory.ConfirmObserver
	logger  *slog.Logger
	now     func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, units catalog.UnitLookup, audit AuditPort, events notify.Publisher, logger *slog.Logger) *Service {
	if events == nil {
		events = notify.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, units: units, audit: audit, events: events, logger: logger, now: time.Now}
}

// SetMetrics attaches a confirmation observer.
func (s *Service) SetMetrics(m inventory.ConfirmObserver) {
	s.metrics = m
}

func (s *Service) validateLine(ctx context.Context, in LineInput) error {
	if err := shared.ValidateStruct(in); err != nil {
		return err
	}
	if in.ProductID == nil && strings.TrimSpace(in.ProductName) == "" {
		return shared.Invalid("product_name", "required")
	}
	if !in.Quantity.IsPositive() {
		return shared.Invalid("quantity", "must be greater than zero")
	}
	if in.UnitPrice.IsNegative() {
		return shared.Invalid("unit_price", "must not be negative")
	}
	if err := shared.CheckPlaces("quantity", in.Quantity, shared.QuantityPlaces); err != nil {
		return err
	}
	if err := shared.CheckPlaces("unit_price", in.UnitPrice, shared.PricePlaces); err != nil {
		return err
	}
	return catalog.ValidateUnit(ctx, s.units, in.Uom)
}

// resolveLine turns input into a line, provisioning the product by name when
// no id is given.
func (s *Service) resolveLine(ctx context.Context, tx TxRepository, slipID int64, in LineInput, actor int64) (Line, error) {
	var (
		product catalog.Product
		err     error
	)
	if in.ProductID != nil {
		product, err = tx.Catalog().GetProduct(ctx, *in.ProductID)
	} else {
		var created bool
		product, created, err = catalog.EnsureProduct(ctx, tx.Catalog(), in.ProductName, strings.TrimSpace(in.Uom), actor, s.now().UTC())
		if created {
			s.logger.Info("product provisioned", slog.Int64("product_id", product.ID), slog.String("code", product.Code))
		}
	}
	if err != nil {
		return Line{}, err
	}
	id := product.ID
	return Line{
		SlipID:      slipID,
		ProductID:   &id,
		ProductName: product.Name,
		ProductCode: product.Code,
		Uom:         strings.TrimSpace(in.Uom),
		Quantity:    in.Quantity,
		UnitPrice:   in.UnitPrice,
	}, nil
}

func lockDraft(ctx context.Context, tx TxRepository, id int64) (Slip, error) {
	slip, err := tx.LockSlip(ctx, id)
	if err != nil {
		return Slip{}, err
	}
	if !slip.Status.Editable() {
		return Slip{}, fmt.Errorf("slip %s is %s: %w", slip.ReferenceNo, slip.Status, shared.ErrInvalidState)
	}
	return slip, nil
}

// CreateDraft inserts a draft slip with its lines and assigns the reference
// number from the generated id.
func (s *Service) CreateDraft(ctx context.Context, input CreateInput, actor int64) (Slip, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return Slip{}, err
	}
	for i, line := range input.Lines {
		if err := s.validateLine(ctx, line); err != nil {
			return Slip{}, fmt.Errorf("line %d: %w", i+1, err)
		}
	}
	now := s.now().UTC()
	var id int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		id, err = tx.InsertSlip(ctx, Slip{
			Supplier:  strings.TrimSpace(input.Supplier),
			Status:    inventory.StatusDraft,
			Date:      input.Date.UTC(),
			Note:      input.Note,
			CreatedBy: actor,
			CreatedAt: now,
		})
		if err != nil {
			return err
		}
		if err := tx.SetReference(ctx, id, ReferenceNo(id)); err != nil {
			return err
		}
		for _, in := range input.Lines {
			line, err := s.resolveLine(ctx, tx, id, in, actor)
			if err != nil {
				return err
			}
			if _, err := tx.InsertLine(ctx, line); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Slip{}, err
	}
	s.record(ctx, actor, "receiving:create", id, map[string]any{"reference_no": ReferenceNo(id)})
	return s.repo.Get(ctx, id)
}

// Get returns a slip with lines.
func (s *Service) Get(ctx context.Context, id int64) (Slip, error) {
	return s.repo.Get(ctx, id)
}

// List returns slips matching filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Slip, shared.Pagination, error) {
	filter.Page, filter.PerPage = shared.NormalizePage(filter.Page, filter.PerPage)
	slips, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return slips, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// AddLine appends a line to a draft slip.
func (s *Service) AddLine(ctx context.Context, slipID int64, in LineInput, actor int64) (Line, error) {
	if err := s.validateLine(ctx, in); err != nil {
		return Line{}, err
	}
	var line Line
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := lockDraft(ctx, tx, slipID); err != nil {
			return err
		}
		var err error
		line, err = s.resolveLine(ctx, tx, slipID, in, actor)
		if err != nil {
			return err
		}
		line.ID, err = tx.InsertLine(ctx, line)
		return err
	})
	if err != nil {
		return Line{}, err
	}
	return line, nil
}

// UpdateLine replaces a line of a draft slip.
func (s *Service) UpdateLine(ctx context.Context, slipID, lineID int64, in LineInput, actor int64) (Line, error) {
	if err := s.validateLine(ctx, in); err != nil {
		return Line{}, err
	}
	var line Line
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		slip, err := lockDraft(ctx, tx, slipID)
		if err != nil {
			return err
		}
		if _, ok := slip.Line(lineID); !ok {
			return fmt.Errorf("line %d: %w", lineID, shared.ErrNotFound)
		}
		line, err = s.resolveLine(ctx, tx, slipID, in, actor)
		if err != nil {
			return err
		}
		line.ID = lineID
		return tx.UpdateLine(ctx, line)
	})
	if err != nil {
		return Line{}, err
	}
	return line, nil
}

// DeleteLine removes a line from a draft slip.
func (s *Service) DeleteLine(ctx context.Context, slipID, lineID int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		slip, err := lockDraft(ctx, tx, slipID)
		if err != nil {
			return err
		}
		if _, ok := slip.Line(lineID); !ok {
			return fmt.Errorf("line %d: %w", lineID, shared.ErrNotFound)
		}
		return tx.DeleteLine(ctx, slipID, lineID)
	})
}

// Confirm applies the slip to the on-hand cache and marks it confirmed. The
// status check, stock increments and status flip share one transaction, so a
// concurrent or repeated confirm fails with ErrInvalidState.
func (s *Service) Confirm(ctx context.Context, id, actor int64) (ConfirmResult, error) {
	var result ConfirmResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		slip, err := lockDraft(ctx, tx, id)
		if err != nil {
			return err
		}
		if len(slip.Lines) == 0 {
			return shared.ErrEmptySlip
		}
		moves := make([]inventory.Movement, 0, len(slip.Lines))
		for _, l := range slip.Lines {
			if l.ProductID == nil {
				return fmt.Errorf("line %d: %w", l.ID, shared.ErrMissingProduct)
			}
			moves = append(moves, inventory.Movement{ProductID: *l.ProductID, ProductName: l.ProductName, Quantity: l.Quantity})
		}
		now := s.now().UTC()
		applied, err := inventory.ApplyInbound(ctx, tx.Stock(), moves, actor, now)
		if err != nil {
			return err
		}
		if err := tx.MarkConfirmed(ctx, id, actor, now); err != nil {
			return err
		}
		result = ConfirmResult{SlipID: id, ReferenceNo: slip.ReferenceNo, ConfirmedAt: now, Products: applied}
		return nil
	})
	s.observe(err)
	if err != nil {
		s.logger.Warn("inbound confirm failed", slog.Int64("slip_id", id), slog.Any("error", err))
		return ConfirmResult{}, err
	}
	s.logger.Info("inbound slip confirmed", slog.Int64("slip_id", id), slog.String("reference_no", result.ReferenceNo), slog.Int("products", len(result.Products)))
	s.record(ctx, actor, "receiving:confirm", id, map[string]any{"reference_no": result.ReferenceNo, "products": len(result.Products)})
	s.events.Publish(ctx, notify.EventSlipConfirmed, inventory.SlipConfirmedEvent{
		SlipType:    inventory.SlipTypeInbound,
		SlipID:      id,
		ReferenceNo: result.ReferenceNo,
		ConfirmedAt: result.ConfirmedAt,
		Products:    result.Products,
	})
	return result, nil
}

// Delete soft-deletes a draft slip. Confirmed slips cannot be deleted.
func (s *Service) Delete(ctx context.Context, id, actor int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := lockDraft(ctx, tx, id); err != nil {
			return err
		}
		return tx.SoftDelete(ctx, id, actor, s.now().UTC())
	})
	if err != nil {
		return err
	}
	s.record(ctx, actor, "receiving:delete", id, nil)
	return nil
}

// Report lists confirmed inbound lines within the inclusive day range.
func (s *Service) Report(ctx context.Context, filter ReportFilter) ([]ReportRow, ReportTotals, shared.Pagination, error) {
	rng, ok := shared.NewDateRange(filter.From, filter.To, s.now())
	if !ok {
		return []ReportRow{}, ReportTotals{}, shared.NewPagination(filter.Page, filter.PerPage, 0), nil
	}
	filter.From, filter.To = rng.From, rng.To
	filter.Page, filter.PerPage = shared.NormalizePage(filter.Page, filter.PerPage)
	rows, total, totals, err := s.repo.Report(ctx, filter)
	if err != nil {
		return nil, ReportTotals{}, shared.Pagination{}, err
	}
	return rows, totals, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// WeeklySummary compares confirmed inbound slips this ISO week with last week.
func (s *Service) WeeklySummary(ctx context.Context) (shared.WeeklyCount, error) {
	cur, prev := shared.CurrentAndPreviousWeek(s.now())
	current, err := s.repo.CountConfirmed(ctx, cur.Start, cur.End)
	if err != nil {
		return shared.WeeklyCount{}, err
	}
	previous, err := s.repo.CountConfirmed(ctx, prev.Start, prev.End)
	if err != nil {
		return shared.WeeklyCount{}, err
	}
	return shared.NewWeeklyCount(current, previous), nil
}

func (s *Service) observe(err error) {
	if s.metrics != nil {
		s.metrics.ObserveConfirmation("inbound", inventory.ConfirmResultLabel(err))
	}
}

func (s *Service) record(ctx context.Context, actor int64, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   "inbound_slip",
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
	}); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
