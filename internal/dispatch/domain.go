package dispatch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockledger/backoffice/internal/inventory"
)

// Kind distinguishes the two outbound slip families.
type Kind string

const (
	KindRetail  Kind = "RETAIL"
	KindProject Kind = "PROJECT"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindRetail || k == KindProject
}

// SlipType maps the kind to its trace source.
func (k Kind) SlipType() inventory.SlipType {
	if k == KindProject {
		return inventory.SlipTypeProject
	}
	return inventory.SlipTypeRetail
}

// ReferenceNo formats the reference of an outbound slip from its id.
func ReferenceNo(kind Kind, id int64) string {
	prefix := "DSP-SLS"
	if kind == KindProject {
		prefix = "DSP-PRJ"
	}
	return fmt.Sprintf("%s-%05d", prefix, id)
}

// Party is the counterpart of an outbound slip: Retail or Project.
type Party interface {
	Kind() Kind
	DisplayName() string
	party()
}

// Retail is a dispatch to a customer.
type Retail struct {
	CustomerID   int64
	CustomerName string
}

func (Retail) Kind() Kind            { return KindRetail }
func (r Retail) DisplayName() string { return r.CustomerName }
func (Retail) party()                {}

// Project is a dispatch to a project site.
type Project struct {
	ProjectID   int64
	ProjectName string
}

func (Project) Kind() Kind            { return KindProject }
func (p Project) DisplayName() string { return p.ProjectName }
func (Project) party()                {}

// Slip is an outbound (dispatch) document.
type Slip struct {
	ID          int64
	ReferenceNo string
	Party       Party
	Status      inventory.SlipStatus
	Date        time.Time
	Note        string
	OrderID     *int64
	CreatedBy   int64
	CreatedAt   time.Time
	ConfirmedBy *int64
	ConfirmedAt *time.Time
	Lines       []Line
}

// Kind returns the kind of the slip's party.
func (s Slip) Kind() Kind {
	if s.Party == nil {
		return ""
	}
	return s.Party.Kind()
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

type slipJSON struct {
	ID           int64                `json:"id"`
	ReferenceNo  string               `json:"reference_no"`
	Kind         Kind                 `json:"kind"`
	CustomerID   *int64               `json:"customer_id,omitempty"`
	CustomerName string               `json:"customer_name,omitempty"`
	ProjectID    *int64               `json:"project_id,omitempty"`
	ProjectName  string               `json:"project_name,omitempty"`
	Status       inventory.SlipStatus `json:"status"`
	Date         time.Time            `json:"date"`
	Note         string               `json:"note"`
	OrderID      *int64               `json:"order_id,omitempty"`
	CreatedBy    int64                `json:"created_by"`
	CreatedAt    time.Time            `json:"created_at"`
	ConfirmedBy  *int64               `json:"confirmed_by,omitempty"`
	ConfirmedAt  *time.Time           `json:"confirmed_at,omitempty"`
	Total        decimal.Decimal      `json:"total"`
	Lines        []Line               `json:"lines"`
}

// MarshalJSON flattens the party into kind-specific fields.
func (s Slip) MarshalJSON() ([]byte, error) {
	out := slipJSON{
		ID:          s.ID,
		ReferenceNo: s.ReferenceNo,
		Kind:        s.Kind(),
		Status:      s.Status,
		Date:        s.Date,
		Note:        s.Note,
		OrderID:     s.OrderID,
		CreatedBy:   s.CreatedBy,
		CreatedAt:   s.CreatedAt,
		ConfirmedBy: s.ConfirmedBy,
		ConfirmedAt: s.ConfirmedAt,
		Total:       s.Total(),
		Lines:       s.Lines,
	}
	switch p := s.Party.(type) {
	case Retail:
		out.CustomerID = &p.CustomerID
		out.CustomerName = p.CustomerName
	case Project:
		out.ProjectID = &p.ProjectID
		out.ProjectName = p.ProjectName
	}
	if out.Lines == nil {
		out.Lines = []Line{}
	}
	return json.Marshal(out)
}

// Line is one product row of an outbound slip. ProductID stays nil only for
// lines created from orders whose product could not be matched.
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

// LineInput describes a line to add or replace. Outbound lines always
// reference an existing product.
type LineInput struct {
	ProductID *int64          `json:"product_id" validate:"required"`
	Uom       string          `json:"uom" validate:"required,max=32"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// RetailInput is the payload of a new retail draft.
type RetailInput struct {
	CustomerID int64       `json:"customer_id" validate:"required"`
	Date       time.Time   `json:"date" validate:"required"`
	Note       string      `json:"note" validate:"max=1000"`
	Lines      []LineInput `json:"lines" validate:"dive"`
}

// ProjectInput is the payload of a new project draft.
type ProjectInput struct {
	ProjectID int64       `json:"project_id" validate:"required"`
	Date      time.Time   `json:"date" validate:"required"`
	Note      string      `json:"note" validate:"max=1000"`
	Lines     []LineInput `json:"lines" validate:"dive"`
}

// OrderLine is a checkout line. ProductName is matched against the catalog
// when ProductID is nil.
type OrderLine struct {
	ProductID   *int64          `json:"product_id"`
	ProductName string          `json:"product_name" validate:"required_without=ProductID,max=255"`
	Uom         string          `json:"uom" validate:"required,max=32"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// OrderInput is sent by the checkout workflow.
type OrderInput struct {
	OrderID    int64       `json:"order_id" validate:"required"`
	CustomerID int64       `json:"customer_id" validate:"required"`
	Date       time.Time   `json:"date" validate:"required"`
	Note       string      `json:"note" validate:"max=1000"`
	Lines      []OrderLine `json:"lines" validate:"required,min=1,dive"`
}

// ListFilter narrows slip listings.
type ListFilter struct {
	Kind    Kind
	Search  string
	Status  inventory.SlipStatus
	From    time.Time
	To      time.Time
	Page    int
	PerPage int
}

// ReportFilter narrows the outbound report over confirmed lines.
type ReportFilter struct {
	Kind      Kind
	Search    string
	ProductID int64
	From      time.Time
	To        time.Time
	Page      int
	PerPage   int
}

// ReportRow is one confirmed outbound line.
type ReportRow struct {
	SlipID      int64           `json:"slip_id"`
	ReferenceNo string          `json:"reference_no"`
	Kind        Kind            `json:"kind"`
	Partner     string          `json:"partner"`
	Date        time.Time       `json:"date"`
	ProductID   int64           `json:"product_id"`
	ProductCode string          `json:"product_code"`
	ProductName string          `json:"product_name"`
	Uom         string          `json:"uom"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Total       decimal.Decimal `json:"total"`
}

// ReportTotals aggregates the whole filtered report.
type ReportTotals struct {
	Quantity decimal.Decimal `json:"quantity"`
	Value    decimal.Decimal `json:"value"`
}

// ConfirmResult lists the stock changes made by a confirmation.
type ConfirmResult struct {
	SlipID      int64               `json:"slip_id"`
	ReferenceNo string              `json:"reference_no"`
	Kind        Kind                `json:"kind"`
	ConfirmedAt time.Time           `json:"confirmed_at"`
	Products    []inventory.Applied `json:"products"`
}
