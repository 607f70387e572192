package catalog

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// DetailStatus marks whether a product detail row participates in stock views.
type DetailStatus string

const (
	DetailActive   DetailStatus = "ACTIVE"
	DetailInactive DetailStatus = "INACTIVE"
)

// Product is the catalog identity of a stocked item.
type Product struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Uom       string    `json:"uom"`
	CreatedAt time.Time `json:"created_at"`
}

// Detail holds the on-hand cache for a product. Only the most recently
// created row per product is current.
type Detail struct {
	ID        int64           `json:"id"`
	ProductID int64           `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	Status    DetailStatus    `json:"status"`
	UpdatedBy int64           `json:"updated_by"`
	UpdatedAt time.Time       `json:"updated_at"`
	CreatedAt time.Time       `json:"created_at"`
}

// Unit is a unit of measure accepted on slip lines.
type Unit struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// UnitLookup validates units of measure.
type UnitLookup interface {
	UnitExists(ctx context.Context, code string) (bool, error)
}

// TxStore exposes the catalog writes that must share a slip transaction.
type TxStore interface {
	GetProduct(ctx context.Context, id int64) (Product, error)
	FindProductByName(ctx context.Context, name string) (Product, error)
	InsertProduct(ctx context.Context, p Product) (int64, error)
	SetProductCode(ctx context.Context, id int64, code string) error
	InsertDetail(ctx context.Context, d Detail) (int64, error)
}
