package receiving

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockledger/backoffice/internal/inventory"
)

// ReferencePrefix prefixes inbound slip reference numbers.
const ReferencePrefix = "RCV"

// ReferenceNo formats the reference of an inbound slip from its id.
func ReferenceNo(id int64) string {
	return fmt.Sprintf("%s-%03d", ReferencePrefix, id)
}

// Slip is an inbound (receiving) document.
type Slip struct {
	ID          int64                `json:"id"`
	ReferenceNo string               `json:"reference_no"`
	Supplier    string               `json:"supplier"`
	Status      inventory.SlipStatus `json:"status"`
	Date        time.Time            `json:"date"`
	Note        string               `json:"note"`
	CreatedBy   int64                `json:"created_by"`
	CreatedAt   time.Time            `json:"created_at"`
	ConfirmedBy *int64               `json:"confirmed_by,omitempty"`
	ConfirmedAt *time.Time           `json:"confirmed_at,omitempty"`
	Lines       []Line               `json:"lines"`
}

// Total sums the line totals.
func (s Slip) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range s.Lines {
		total = total.Add(l.Total())
	}
	return total
}

// Line returns the line with id.
func (s Slip) Line(id int64) (Line, bool) {
	for _, l := range s.Lines {
		if l.ID == id {
			return l, true
		}
	}
	return Line{}, false
}

// Line is one product row of an inbound slip. Product name and code are
// copied at write time.
type Line struct {
	ID          int64           `json:"id"`
	SlipID      int64           `json:"slip_id"`
	ProductID   *int64          `json:"product_id"`
	ProductName string          `json:"product_name"`
	ProductCode string          `json:"product_code"`
	Uom         string          `json:"uom"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// Total is Quantity x UnitPrice.
func (l Line) Total() decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice)
}

// LineInput describes a line to add or replace. ProductName is used to find
// or create the product when ProductID is empty.
type LineInput struct {
	ProductID   *int64          `json:"product_id"`
	ProductName string          `json:"product_name" validate:"required_without=ProductID,max=255"`
	Uom         string          `json:"uom" validate:"required,max=32"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// CreateInput is the payload of a new draft slip.
type CreateInput struct {
	Supplier string      `json:"supplier" validate:"required,max=255"`
	Date     time.Time   `json:"date" validate:"required"`
	Note     string      `json:"note" validate:"max=1000"`
	Lines    []LineInput `json:"lines" validate:"dive"`
}

// ListFilter narrows slip listings.
type ListFilter struct {
	Search  string
	Status  inventory.SlipStatus
	From    time.Time
	To      time.Time
	Page    int
	PerPage int
}

// ReportFilter narrows the inbound report over confirmed lines.
type ReportFilter struct {
	Search    string
	ProductID int64
	From      time.Time
	To        time.Time
	Page      int
	PerPage   int
}

// ReportRow is one confirmed inbound line.
type ReportRow struct {
	SlipID      int64           `json:"slip_id"`
	ReferenceNo string          `json:"reference_no"`
	Date        time.Time       `json:"date"`
	Supplier    string          `json:"supplier"`
	ProductID   int64           `json:"product_id"`
	ProductCode string          `json:"product_code"`
	ProductName string          `json:"product_name"`
	Uom         string          `json:"uom"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Total       decimal.Decimal `json:"total"`
}

// ReportTotals aggregates the whole filtered report, not just one page.
type ReportTotals struct {
	Quantity decimal.Decimal `json:"quantity"`
	Value    decimal.Decimal `json:"value"`
}

// ConfirmResult lists the stock changes made by a confirmation.
type ConfirmResult struct {
	SlipID      int64               `json:"slip_id"`
	ReferenceNo string              `json:"reference_no"`
	ConfirmedAt time.Time           `json:"confirmed_at"`
	Products    []inventory.Applied `json:"products"`
}
