package shared

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState indicates the operation is not allowed in the current status.
	ErrInvalidState = errors.New("invalid state")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("validation failed")
	// ErrInsufficientStock indicates an outbound movement exceeds on-hand.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrConflict indicates a uniqueness violation.
	ErrConflict = errors.New("conflict")
)

// Shortage describes a single product that cannot cover an outbound request.
type Shortage struct {
	ProductID   int64
	ProductName string
	OnHand      decimal.Decimal
	Requested   decimal.Decimal
}

// InsufficientStockError lists every product that failed the sufficiency check.
type InsufficientStockError struct {
	Shortages []Shortage
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		label := s.ProductName
		if label == "" {
			label = fmt.Sprintf("#%d", s.ProductID)
		}
		parts = append(parts, fmt.Sprintf("%s (on hand %s, requested %s)", label, s.OnHand.String(), s.Requested.String()))
	}
	return "insufficient stock: " + strings.Join(parts, ", ")
}

// Is makes errors.Is(err, ErrInsufficientStock) hold.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// ValidationError wraps a validation failure with a field-level message.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// Is makes errors.Is(err, ErrValidation) hold.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a ValidationError.
func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

var (
	// ErrEmptySlip indicates a confirm on a slip without lines.
	ErrEmptySlip = fmt.Errorf("%w: slip has no lines", ErrValidation)
	// ErrMissingProduct indicates a line without a resolved product.
	ErrMissingProduct = fmt.Errorf("%w: line has no product", ErrValidation)
)
