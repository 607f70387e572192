package catalog

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockledger/backoffice/internal/shared"
)

// RepositoryPort is the read surface the catalog service depends on.
type RepositoryPort interface {
	UnitLookup
	GetProduct(ctx context.Context, id int64) (Product, error)
	ListUnits(ctx context.Context) ([]Unit, error)
}

// Service exposes catalog lookups.
type Service struct {
	repo RepositoryPort
}

// NewService constructs the catalog service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Get returns a product by id.
func (s *Service) Get(ctx context.Context, id int64) (Product, error) {
	return s.repo.GetProduct(ctx, id)
}

// ListUnits returns the configured units of measure.
func (s *Service) ListUnits(ctx context.Context) ([]Unit, error) {
	return s.repo.ListUnits(ctx)
}

// UnitExists satisfies UnitLookup so the service can be handed to slip services.
func (s *Service) UnitExists(ctx context.Context, code string) (bool, error) {
	return s.repo.UnitExists(ctx, code)
}

// ValidateUnit rejects blank or unknown unit codes.
func ValidateUnit(ctx context.Context, units UnitLookup, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return shared.Invalid("uom", "required")
	}
	ok, err := units.UnitExists(ctx, code)
	if err != nil {
		return err
	}
	if !ok {
		return shared.Invalid("uom", "unknown unit "+code)
	}
	return nil
}

// EnsureProduct resolves a product by name, creating it with an empty active
// detail row when it does not exist. The code depends on the generated id so
// the product is inserted first and its code assigned afterwards. The bool
// result reports whether a product was created.
func EnsureProduct(ctx context.Context, tx TxStore, name, uom string, actor int64, now time.Time) (Product, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Product{}, false, shared.Invalid("product_name", "required")
	}

	existing, err := tx.FindProductByName(ctx, name)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return Product{}, false, err
	}

	p := Product{Name: name, Uom: uom, CreatedAt: now}
	id, err := tx.InsertProduct(ctx, p)
	if err != nil {
		return Product{}, false, err
	}
	p.ID = id
	p.Code = GenerateCode(name, id)
	if err := tx.SetProductCode(ctx, id, p.Code); err != nil {
		return Product{}, false, err
	}

	if _, err := tx.InsertDetail(ctx, Detail{
		ProductID: id,
		Quantity:  decimal.Zero,
		Status:    DetailActive,
		UpdatedBy: actor,
		UpdatedAt: now,
		CreatedAt: now,
	}); err != nil {
		return Product{}, false, err
	}
	return p, true, nil
}
