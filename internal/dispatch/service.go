package dispatch

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
	GetByOrder(ctx context.Context, orderID int64) (Slip, error)
	List(ctx context.Context, filter ListFilter) ([]Slip, int, error)
	Report(ctx context.Context, filter ReportFilter) ([]ReportRow, int, ReportTotals, error)
	CountConfirmed(ctx context.Context, kind Kind, from, to time.Time) (int, error)
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

// CustomerDirectory resolves customer display names.
type CustomerDirectory interface {
	CustomerName(ctx context.Context, id int64) (string, error)
}

// ProjectDirectory resolves project display names.
type ProjectDirectory interface {
	ProjectName(ctx context.Context, id int64) (string, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards externally triggered creates.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service coordinates outbound slips.
type Service struct {
	repo        RepositoryPort
	units       catalog.UnitLookup
	customers   CustomerDirectory
	projects    ProjectDirectory
	audit       AuditPort
	events      notify.Publisher
	idempotency IdempotencyPort
	metrics     inventory.ConfirmObserver
	logger      *slog.Logger
	now         func() time.Time
}

// Directories groups the party lookups.
type Directories struct {
	Customers CustomerDirectory
	Projects  ProjectDirectory
}

// NewService builds Service.
func NewService(repo RepositoryPort, units catalog.UnitLookup, dirs Directories, audit AuditPort, events notify.Publisher, logger *slog.Logger) *Service {
	if events == nil {
		events = notify.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		units:     units,
		customers: dirs.Customers,
		projects:  dirs.Projects,
		audit:     audit,
		events:    events,
		logger:    logger,
		now:       time.Now,
	}
}

// SetIdempotency enables duplicate protection for CreateFromOrder.
func (s *Service) SetIdempotency(store IdempotencyPort) {
	s.idempotency = store
}

// SetMetrics attaches a confirmation observer.
func (s *Service) SetMetrics(m inventory.ConfirmObserver) {
	s.metrics = m
}

func (s *Service) validateLine(ctx context.Context, in LineInput) error {
	if err := shared.ValidateStruct(in); err != nil {
		return err
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

func resolveLine(ctx context.Context, tx TxRepository, slipID int64, in LineInput) (Line, error) {
	product, err := tx.Catalog().GetProduct(ctx, *in.ProductID)
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

func (s *Service) partyFor(ctx context.Context, kind Kind, id int64) (Party, error) {
	switch kind {
	case KindRetail:
		if s.customers == nil {
			return nil, errors.New("dispatch: customer directory not configured")
		}
		name, err := s.customers.CustomerName(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("customer %d: %w", id, err)
		}
		return Retail{CustomerID: id, CustomerName: name}, nil
	case KindProject:
		if s.projects == nil {
			return nil, errors.New("dispatch: project directory not configured")
		}
		name, err := s.projects.ProjectName(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("project %d: %w", id, err)
		}
		return Project{ProjectID: id, ProjectName: name}, nil
	}
	return nil, shared.Invalid("kind", fmt.Sprintf("unknown kind %q", kind))
}

// CreateRetailDraft inserts a draft retail dispatch.
func (s *Service) CreateRetailDraft(ctx context.Context, input RetailInput, actor int64) (Slip, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return Slip{}, err
	}
	party, err := s.partyFor(ctx, KindRetail, input.CustomerID)
	if err != nil {
		return Slip{}, err
	}
	return s.createDraft(ctx, party, input.Date, input.Note, input.Lines, actor)
}

// CreateProjectDraft inserts a draft project dispatch.
func (s *Service) CreateProjectDraft(ctx context.Context, input ProjectInput, actor int64) (Slip, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return Slip{}, err
	}
	party, err := s.partyFor(ctx, KindProject, input.ProjectID)
	if err != nil {
		return Slip{}, err
	}
	return s.createDraft(ctx, party, input.Date, input.Note, input.Lines, actor)
}

func (s *Service) createDraft(ctx context.Context, party Party, date time.Time, note string, lines []LineInput, actor int64) (Slip, error) {
	for i, line := range lines {
		if err := s.validateLine(ctx, line); err != nil {
			return Slip{}, fmt.Errorf("line %d: %w", i+1, err)
		}
	}
	id, err := s.insert(ctx, Slip{Party: party, Date: date, Note: note}, actor, func(ctx context.Context, tx TxRepository, id int64) error {
		for _, in := range lines {
			line, err := resolveLine(ctx, tx, id, in)
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
	return s.repo.Get(ctx, id)
}

// insert writes the header, assigns the reference from the new id, then lets
// addLines populate the slip inside the same transaction.
func (s *Service) insert(ctx context.Context, header Slip, actor int64, addLines func(context.Context, TxRepository, int64) error) (int64, error) {
	header.Status = inventory.StatusDraft
	header.Date = header.Date.UTC()
	header.CreatedBy = actor
	header.CreatedAt = s.now().UTC()

	var id int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		id, err = tx.InsertSlip(ctx, header)
		if err != nil {
			return err
		}
		if err := tx.SetReference(ctx, id, ReferenceNo(header.Kind(), id)); err != nil {
			return err
		}
		return addLines(ctx, tx, id)
	})
	if err != nil {
		return 0, err
	}
	s.record(ctx, actor, "dispatch:create", id, map[string]any{"reference_no": ReferenceNo(header.Kind(), id), "kind": header.Kind()})
	return id, nil
}

// CreateFromOrder creates the draft retail dispatch for a checkout order. A
// repeated call for the same order returns the slip created first. Lines
// whose product cannot be matched are stored without a product and block
// confirmation until fixed.
func (s *Service) CreateFromOrder(ctx context.Context, input OrderInput, actor int64) (Slip, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return Slip{}, err
	}
	for i, l := range input.Lines {
		if !l.Quantity.IsPositive() {
			return Slip{}, fmt.Errorf("line %d: %w", i+1, shared.Invalid("quantity", "must be greater than zero"))
		}
		if l.UnitPrice.IsNegative() {
			return Slip{}, fmt.Errorf("line %d: %w", i+1, shared.Invalid("unit_price", "must not be negative"))
		}
		if err := shared.CheckPlaces("quantity", l.Quantity, shared.QuantityPlaces); err != nil {
			return Slip{}, fmt.Errorf("line %d: %w", i+1, err)
		}
		if err := shared.CheckPlaces("unit_price", l.UnitPrice, shared.PricePlaces); err != nil {
			return Slip{}, fmt.Errorf("line %d: %w", i+1, err)
		}
		if err := catalog.ValidateUnit(ctx, s.units, l.Uom); err != nil {
			return Slip{}, fmt.Errorf("line %d: %w", i+1, err)
		}
	}

	key := fmt.Sprintf("order:%d", input.OrderID)
	if s.idempotency != nil {
		err := s.idempotency.CheckAndInsert(ctx, key, "dispatch.order")
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			return s.existingOrderSlip(ctx, input.OrderID)
		}
		if err != nil {
			return Slip{}, err
		}
	}

	slip, err := s.createFromOrder(ctx, input, actor)
	if err != nil {
		if s.idempotency != nil {
			if delErr := s.idempotency.Delete(context.WithoutCancel(ctx), key); delErr != nil {
				s.logger.Error("release order key", slog.String("key", key), slog.Any("error", delErr))
			}
		}
		if errors.Is(err, shared.ErrConflict) {
			return s.existingOrderSlip(ctx, input.OrderID)
		}
		return Slip{}, err
	}
	return slip, nil
}

// existingOrderSlip loads the slip of an order already claimed. A claim
// without a visible slip belongs to a checkout still in flight, which the
// caller may retry.
func (s *Service) existingOrderSlip(ctx context.Context, orderID int64) (Slip, error) {
	slip, err := s.repo.GetByOrder(ctx, orderID)
	if errors.Is(err, shared.ErrNotFound) {
		return Slip{}, fmt.Errorf("order %d checkout in progress: %w", orderID, shared.ErrConflict)
	}
	return slip, err
}

func (s *Service) createFromOrder(ctx context.Context, input OrderInput, actor int64) (Slip, error) {
	party, err := s.partyFor(ctx, KindRetail, input.CustomerID)
	if err != nil {
		return Slip{}, err
	}
	orderID := input.OrderID
	header := Slip{Party: party, Date: input.Date, Note: input.Note, OrderID: &orderID}
	id, err := s.insert(ctx, header, actor, func(ctx context.Context, tx TxRepository, id int64) error {
		for _, in := range input.Lines {
			line := Line{
				SlipID:      id,
				ProductName: strings.TrimSpace(in.ProductName),
				Uom:         strings.TrimSpace(in.Uom),
				Quantity:    in.Quantity,
				UnitPrice:   in.UnitPrice,
			}
			var (
				product catalog.Product
				err     error
			)
			if in.ProductID != nil {
				product, err = tx.Catalog().GetProduct(ctx, *in.ProductID)
			} else {
				product, err = tx.Catalog().FindProductByName(ctx, line.ProductName)
			}
			switch {
			case err == nil:
				pid := product.ID
				line.ProductID = &pid
				line.ProductName = product.Name
				line.ProductCode = product.Code
			case errors.Is(err, shared.ErrNotFound):
				s.logger.Warn("order line without catalog product", slog.Int64("order_id", orderID), slog.String("product_name", line.ProductName))
			default:
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
	return s.repo.Get(ctx, id)
}

// Get returns a slip with lines.
func (s *Service) Get(ctx context.Context, id int64) (Slip, error) {
	return s.repo.Get(ctx, id)
}

// List returns slips matching filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Slip, shared.Pagination, error) {
	if filter.Kind != "" && !filter.Kind.Valid() {
		return nil, shared.Pagination{}, shared.Invalid("kind", fmt.Sprintf("unknown kind %q", filter.Kind))
	}
	filter.Page, filter.PerPage = shared.NormalizePage(filter.Page, filter.PerPage)
	slips, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return slips, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// AddLine appends a line to a draft slip.
func (s *Service) AddLine(ctx context.Context, slipID int64, in LineInput) (Line, error) {
	if err := s.validateLine(ctx, in); err != nil {
		return Line{}, err
	}
	var line Line
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := lockDraft(ctx, tx, slipID); err != nil {
			return err
		}
		var err error
		line, err = resolveLine(ctx, tx, slipID, in)
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
func (s *Service) UpdateLine(ctx context.Context, slipID, lineID int64, in LineInput) (Line, error) {
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
		line, err = resolveLine(ctx, tx, slipID, in)
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

// Confirm checks every product on the slip against its on-hand quantity and,
// only when all are covered, decrements them and marks the slip confirmed in
// the same transaction. Any shortage leaves the slip draft and stock untouched.
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
		applied, err := inventory.ApplyOutbound(ctx, tx.Stock(), moves, actor, now)
		if err != nil {
			return err
		}
		if err := tx.MarkConfirmed(ctx, id, actor, now); err != nil {
			return err
		}
		result = ConfirmResult{SlipID: id, ReferenceNo: slip.ReferenceNo, Kind: slip.Kind(), ConfirmedAt: now, Products: applied}
		return nil
	})
	s.observe(err)
	if err != nil {
		s.logger.Warn("outbound confirm failed", slog.Int64("slip_id", id), slog.Any("error", err))
		return ConfirmResult{}, err
	}
	s.logger.Info("outbound slip confirmed", slog.Int64("slip_id", id), slog.String("reference_no", result.ReferenceNo), slog.String("kind", string(result.Kind)))
	s.record(ctx, actor, "dispatch:confirm", id, map[string]any{"reference_no": result.ReferenceNo, "products": len(result.Products)})
	s.events.Publish(ctx, notify.EventSlipConfirmed, inventory.SlipConfirmedEvent{
		SlipType:    result.Kind.SlipType(),
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
	s.record(ctx, actor, "dispatch:delete", id, nil)
	return nil
}

// Report lists confirmed outbound lines within the inclusive day range.
func (s *Service) Report(ctx context.Context, filter ReportFilter) ([]ReportRow, ReportTotals, shared.Pagination, error) {
	if filter.Kind != "" && !filter.Kind.Valid() {
		return nil, ReportTotals{}, shared.Pagination{}, shared.Invalid("kind", fmt.Sprintf("unknown kind %q", filter.Kind))
	}
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

// WeeklySummary compares confirmed outbound slips this ISO week with last
// week. An empty kind counts both families.
func (s *Service) WeeklySummary(ctx context.Context, kind Kind) (shared.WeeklyCount, error) {
	cur, prev := shared.CurrentAndPreviousWeek(s.now())
	current, err := s.repo.CountConfirmed(ctx, kind, cur.Start, cur.End)
	if err != nil {
		return shared.WeeklyCount{}, err
	}
	previous, err := s.repo.CountConfirmed(ctx, kind, prev.Start, prev.End)
	if err != nil {
		return shared.WeeklyCount{}, err
	}
	return shared.NewWeeklyCount(current, previous), nil
}

func (s *Service) observe(err error) {
	if s.metrics != nil {
		s.metrics.ObserveConfirmation("outbound", inventory.ConfirmResultLabel(err))
	}
}

func (s *Service) record(ctx context.Context, actor int64, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   "outbound_slip",
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
	}); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
