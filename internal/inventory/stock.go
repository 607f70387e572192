package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockledger/backoffice/internal/shared"
)

// StockTx is the transaction-bound access to the on-hand cache. It must share
// the transaction that flips the slip status.
type StockTx interface {
	// LockOnHand locks the given products in ascending id order and returns
	// their current detail quantity. Products that do not exist are absent.
	LockOnHand(ctx context.Context, productIDs []int64) (map[int64]OnHand, error)
	// EnsureDetail creates an active zero-quantity detail row.
	EnsureDetail(ctx context.Context, productID, actor int64, at time.Time) error
	// SetOnHand writes the quantity of the product's current detail row.
	SetOnHand(ctx context.Context, productID int64, qty decimal.Decimal, actor int64, at time.Time) error
}

// ApplyInbound increments the cache for every distinct product in lines.
// Missing detail rows are created at zero first.
func ApplyInbound(ctx context.Context, tx StockTx, lines []Movement, actor int64, at time.Time) ([]Applied, error) {
	return apply(ctx, tx, DirectionIn, lines, actor, at)
}

// ApplyOutbound decrements the cache for every distinct product in lines. All
// products are checked before any is written; any shortage aborts the whole set.
func ApplyOutbound(ctx context.Context, tx StockTx, lines []Movement, actor int64, at time.Time) ([]Applied, error) {
	return apply(ctx, tx, DirectionOut, lines, actor, at)
}

// Group sums quantities per product, ordered by product id.
func Group(lines []Movement) []Movement {
	byID := make(map[int64]*Movement, len(lines))
	out := make([]Movement, 0, len(lines))
	for _, l := range lines {
		if m, ok := byID[l.ProductID]; ok {
			m.Quantity = m.Quantity.Add(l.Quantity)
			continue
		}
		out = append(out, l)
		byID[l.ProductID] = &out[len(out)-1]
	}
	// pointers into out stay valid: capacity was reserved up front
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

func apply(ctx context.Context, tx StockTx, dir Direction, lines []Movement, actor int64, at time.Time) ([]Applied, error) {
	grouped := Group(lines)
	if len(grouped) == 0 {
		return nil, shared.ErrEmptySlip
	}
	ids := make([]int64, len(grouped))
	for i, m := range grouped {
		if !m.Quantity.IsPositive() {
			return nil, shared.Invalid("quantity", fmt.Sprintf("product %d: must be greater than zero", m.ProductID))
		}
		ids[i] = m.ProductID
	}

	current, err := tx.LockOnHand(ctx, ids)
	if err != nil {
		return nil, err
	}

	var shortages []shared.Shortage
	for _, m := range grouped {
		row, ok := current[m.ProductID]
		if !ok {
			return nil, fmt.Errorf("product %d: %w", m.ProductID, shared.ErrNotFound)
		}
		if dir == DirectionOut && row.Quantity.LessThan(m.Quantity) {
			name := row.ProductName
			if name == "" {
				name = m.ProductName
			}
			shortages = append(shortages, shared.Shortage{
				ProductID:   m.ProductID,
				ProductName: name,
				OnHand:      row.Quantity,
				Requested:   m.Quantity,
			})
		}
	}
	if len(shortages) > 0 {
		return nil, &shared.InsufficientStockError{Shortages: shortages}
	}

	applied := make([]Applied, 0, len(grouped))
	for _, m := range grouped {
		row := current[m.ProductID]
		if dir == DirectionIn && !row.HasDetail {
			if err := tx.EnsureDetail(ctx, m.ProductID, actor, at); err != nil {
				return nil, err
			}
			row.Quantity = decimal.Zero
		}
		after := row.Quantity.Add(m.Quantity)
		if dir == DirectionOut {
			after = row.Quantity.Sub(m.Quantity)
		}
		if err := tx.SetOnHand(ctx, m.ProductID, after, actor, at); err != nil {
			return nil, err
		}
		name := row.ProductName
		if name == "" {
			name = m.ProductName
		}
		applied = append(applied, Applied{
			ProductID:   m.ProductID,
			ProductName: name,
			Quantity:    m.Quantity,
			Before:      row.Quantity,
			After:       after,
		})
	}
	return applied, nil
}

// ConfirmResultLabel maps a confirmation error to its metric label.
func ConfirmResultLabel(err error) string {
	switch {
	case err == nil:
		return ResultConfirmed
	case errors.Is(err, shared.ErrInvalidState):
		return ResultInvalidState
	case errors.Is(err, shared.ErrInsufficientStock):
		return ResultInsufficient
	case errors.Is(err, shared.ErrValidation), errors.Is(err, shared.ErrNotFound):
		return ResultRejected
	default:
		return ResultError
	}
}
