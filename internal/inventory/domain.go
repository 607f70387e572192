package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// SlipStatus is the lifecycle state shared by receiving and dispatch slips.
type SlipStatus string

const (
	// StatusDraft slips accept line edits and can be confirmed or deleted.
	StatusDraft SlipStatus = "DRAFT"
	// StatusConfirmed is terminal; the slip is read-only.
	StatusConfirmed SlipStatus = "CONFIRMED"
)

// Editable reports whether lines may still change.
func (s SlipStatus) Editable() bool {
	return s == StatusDraft
}

// Direction of a stock movement.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// SlipType identifies the source of a trace entry.
type SlipType string

const (
	SlipTypeInbound SlipType = "INBOUND"
	SlipTypeRetail  SlipType = "RETAIL"
	SlipTypeProject SlipType = "PROJECT"
)

// Bucket classifies on-hand quantity against the product threshold.
type Bucket string

const (
	BucketCritical Bucket = "critical"
	BucketAlert    Bucket = "alert"
	BucketStock    Bucket = "stock"
)

// ParseBucket accepts the wire names; unknown values yield "" (no filter).
func ParseBucket(v string) Bucket {
	switch Bucket(v) {
	case BucketCritical, BucketAlert, BucketStock:
		return Bucket(v)
	}
	return ""
}

// Classify derives the bucket for an on-hand quantity. A nil or non-positive
// minimum disables alerting.
func Classify(onHand decimal.Decimal, minStock *decimal.Decimal) Bucket {
	if !onHand.IsPositive() {
		return BucketCritical
	}
	if minStock != nil && minStock.IsPositive() && onHand.LessThan(*minStock) {
		return BucketAlert
	}
	return BucketStock
}

// Movement is one slip line handed to the guarded update path.
type Movement struct {
	ProductID   int64
	ProductName string
	Quantity    decimal.Decimal
}

// Applied reports the net change made to one product's on-hand cache.
type Applied struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    decimal.Decimal `json:"quantity"`
	Before      decimal.Decimal `json:"before"`
	After       decimal.Decimal `json:"after"`
}

// OnHand is the locked view of a product's current detail row.
type OnHand struct {
	ProductID   int64
	ProductName string
	Quantity    decimal.Decimal
	HasDetail   bool
}

// StockFilter narrows the product universe for list and report views.
type StockFilter struct {
	Search  string
	Bucket  Bucket
	Page    int
	PerPage int
}

// StockRow is one product in the stock universe before bucketing.
type StockRow struct {
	ProductID   int64
	ProductCode string
	ProductName string
	Uom         string
	OnHand      decimal.Decimal
	MinStock    *decimal.Decimal
}

// StockItem is a bucketed row of the inventory list.
type StockItem struct {
	ProductID   int64            `json:"product_id"`
	ProductCode string           `json:"product_code"`
	ProductName string           `json:"product_name"`
	Uom         string           `json:"uom"`
	OnHand      decimal.Decimal  `json:"on_hand"`
	MinStock    *decimal.Decimal `json:"min_stock,omitempty"`
	Bucket      Bucket           `json:"bucket"`
}

// Totals are the per-product ledger sums around a reporting period.
type Totals struct {
	InboundBefore  decimal.Decimal
	OutboundBefore decimal.Decimal
	InboundPeriod  decimal.Decimal
	OutboundPeriod decimal.Decimal
}

// ReportRow is one product of the period reconciliation report. OnHand is
// the live cache value and is exposed next to Closing without reconciliation.
type ReportRow struct {
	StockItem
	Opening        decimal.Decimal `json:"opening"`
	InboundBefore  decimal.Decimal `json:"inbound_before"`
	OutboundBefore decimal.Decimal `json:"outbound_before"`
	InboundPeriod  decimal.Decimal `json:"inbound_period"`
	OutboundPeriod decimal.Decimal `json:"outbound_period"`
	Closing        decimal.Decimal `json:"closing"`
}

// NewReportRow applies the reconciliation identity to totals.
func NewReportRow(item StockItem, t Totals) ReportRow {
	opening := t.InboundBefore.Sub(t.OutboundBefore)
	return ReportRow{
		StockItem:      item,
		Opening:        opening,
		InboundBefore:  t.InboundBefore,
		OutboundBefore: t.OutboundBefore,
		InboundPeriod:  t.InboundPeriod,
		OutboundPeriod: t.OutboundPeriod,
		Closing:        opening.Add(t.InboundPeriod).Sub(t.OutboundPeriod),
	}
}

// TraceEntry is one confirmed movement of a product.
type TraceEntry struct {
	Direction Direction       `json:"direction"`
	SlipType  SlipType        `json:"slip_type"`
	SlipID    int64           `json:"slip_id"`
	LineID    int64           `json:"line_id"`
	RefNo     string          `json:"ref_no"`
	Partner   string          `json:"partner"`
	Date      time.Time       `json:"date"`
	Quantity  decimal.Decimal `json:"quantity"`
	Uom       string          `json:"uom"`
	Note      string          `json:"note"`
}

// Trace is the merged movement feed of one product.
type Trace struct {
	ProductID   int64        `json:"product_id"`
	ProductName string       `json:"product_name"`
	Entries     []TraceEntry `json:"entries"`
}

// Threshold is the min-stock watermark for a product.
type Threshold struct {
	ProductID int64           `json:"product_id"`
	MinStock  decimal.Decimal `json:"min_stock"`
	UpdatedBy int64           `json:"updated_by"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Snapshot reference types.
const (
	RefTypeSeed = "seed"
)

// Snapshot is an append-only on-hand anchor keyed by (RefType, RefID, ProductID).
type Snapshot struct {
	ProductID  int64           `json:"product_id"`
	SnapshotAt time.Time       `json:"snapshot_at"`
	OnHand     decimal.Decimal `json:"on_hand"`
	RefType    string          `json:"ref_type"`
	RefID      int64           `json:"ref_id"`
	CreatedBy  int64           `json:"created_by"`
	CreatedAt  time.Time       `json:"created_at"`
}

// DriftRow compares the on-hand cache with the all-time ledger balance.
type DriftRow struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Cached      decimal.Decimal `json:"cached"`
	Ledger      decimal.Decimal `json:"ledger"`
	Difference  decimal.Decimal `json:"difference"`
}
