package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/stockledger/backoffice/internal/platform/db"
	"github.com/stockledger/backoffice/internal/shared"
)

// Repository reads the stock universe and the implicit ledger from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// currentDetail selects the most recently created detail row of p.
const currentDetail = `LEFT JOIN LATERAL (
	SELECT pd.id, pd.quantity, pd.status
	FROM product_details pd
	WHERE pd.product_id = p.id
	ORDER BY pd.created_at DESC, pd.id DESC
	LIMIT 1
) d ON TRUE`

// ProductName returns the product name or ErrNotFound.
func (r *Repository) ProductName(ctx context.Context, id int64) (string, error) {
	var name string
	err := r.pool.QueryRow(ctx, `SELECT name FROM products WHERE id = $1`, id).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", shared.ErrNotFound
	}
	return name, err
}

// ListStock returns active or detail-less products matching search.
func (r *Repository) ListStock(ctx context.Context, search string) ([]StockRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT p.id, p.code, p.name, p.uom, COALESCE(d.quantity, 0), t.min_stock
FROM products p
`+currentDetail+`
LEFT JOIN inventory_thresholds t ON t.product_id = p.id
WHERE (d.status IS NULL OR d.status = 'ACTIVE')
  AND ($1 = '' OR p.name ILIKE '%' || $1 || '%' OR p.code ILIKE '%' || $1 || '%')
ORDER BY p.name, p.id`, search)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StockRow
	for rows.Next() {
		var (
			row      StockRow
			minStock decimal.NullDecimal
		)
		if err := rows.Scan(&row.ProductID, &row.ProductCode, &row.ProductName, &row.Uom, &row.OnHand, &minStock); err != nil {
			return nil, err
		}
		if minStock.Valid {
			v := minStock.Decimal
			row.MinStock = &v
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// confirmedMoves projects every confirmed, non-deleted slip line as a signed
// movement. It is the ledger the reconciliation queries replay.
const confirmedMoves = `SELECT l.product_id, s.slip_date AS moved_on, l.quantity AS qty_in, 0::numeric AS qty_out
	FROM inbound_slip_lines l
	JOIN inbound_slips s ON s.id = l.slip_id
	WHERE s.status = 'CONFIRMED' AND s.deleted_at IS NULL AND l.product_id IS NOT NULL
	UNION ALL
	SELECT l.product_id, s.slip_date, 0::numeric, l.quantity
	FROM outbound_slip_lines l
	JOIN outbound_slips s ON s.id = l.slip_id
	WHERE s.status = 'CONFIRMED' AND s.deleted_at IS NULL AND l.product_id IS NOT NULL`

// MovementTotals sums confirmed movements before from and within [from, to).
func (r *Repository) MovementTotals(ctx context.Context, productIDs []int64, from, to time.Time) (map[int64]Totals, error) {
	out := make(map[int64]Totals, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `WITH moves AS (`+confirmedMoves+`)
SELECT product_id,
	COALESCE(SUM(qty_in) FILTER (WHERE moved_on < $2), 0),
	COALESCE(SUM(qty_out) FILTER (WHERE moved_on < $2), 0),
	COALESCE(SUM(qty_in) FILTER (WHERE moved_on >= $2 AND moved_on < $3), 0),
	COALESCE(SUM(qty_out) FILTER (WHERE moved_on >= $2 AND moved_on < $3), 0)
FROM moves
WHERE product_id = ANY($1)
GROUP BY product_id`, productIDs, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id int64
			t  Totals
		)
		if err := rows.Scan(&id, &t.InboundBefore, &t.OutboundBefore, &t.InboundPeriod, &t.OutboundPeriod); err != nil {
			return nil, err
		}
		out[id] = t
	}
	return out, rows.Err()
}

var traceQueries = map[SlipType]string{
	SlipTypeInbound: `SELECT s.id, l.id, COALESCE(s.reference_no, ''), s.supplier, s.slip_date, l.quantity, l.uom, s.note
FROM inbound_slip_lines l
JOIN inbound_slips s ON s.id = l.slip_id
WHERE l.product_id = $1 AND s.status = 'CONFIRMED' AND s.deleted_at IS NULL`,
	SlipTypeRetail: `SELECT s.id, l.id, COALESCE(s.reference_no, ''), COALESCE(s.customer_name, ''), s.slip_date, l.quantity, l.uom, s.note
FROM outbound_slip_lines l
JOIN outbound_slips s ON s.id = l.slip_id
WHERE l.product_id = $1 AND s.kind = 'RETAIL' AND s.status = 'CONFIRMED' AND s.deleted_at IS NULL`,
	SlipTypeProject: `SELECT s.id, l.id, COALESCE(s.reference_no, ''), COALESCE(s.project_name, ''), s.slip_date, l.quantity, l.uom, s.note
FROM outbound_slip_lines l
JOIN outbound_slips s ON s.id = l.slip_id
WHERE l.product_id = $1 AND s.kind = 'PROJECT' AND s.status = 'CONFIRMED' AND s.deleted_at IS NULL`,
}

// TraceSource lists confirmed movements of product from one slip source.
func (r *Repository) TraceSource(ctx context.Context, src SlipType, productID int64) ([]TraceEntry, error) {
	query, ok := traceQueries[src]
	if !ok {
		return nil, fmt.Errorf("inventory: unknown trace source %q", src)
	}
	dir := DirectionOut
	if src == SlipTypeInbound {
		dir = DirectionIn
	}
	rows, err := r.pool.Query(ctx, query, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TraceEntry
	for rows.Next() {
		e := TraceEntry{Direction: dir, SlipType: src}
		if err := rows.Scan(&e.SlipID, &e.LineID, &e.RefNo, &e.Partner, &e.Date, &e.Quantity, &e.Uom, &e.Note); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertThreshold writes the min-stock watermark.
func (r *Repository) UpsertThreshold(ctx context.Context, t Threshold) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO inventory_thresholds (product_id, min_stock, updated_by, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (product_id) DO UPDATE
SET min_stock = EXCLUDED.min_stock, updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at`,
		t.ProductID, t.MinStock, t.UpdatedBy, t.UpdatedAt)
	return err
}

// SnapshotExists reports whether any snapshot carries the reference.
func (r *Repository) SnapshotExists(ctx context.Context, refType string, refID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (
	SELECT 1 FROM inventory_stock_snapshots WHERE ref_type = $1 AND ref_id = $2
)`, refType, refID).Scan(&exists)
	return exists, err
}

// SeedSnapshots records the cache quantity of every active or detail-less
// product as a seed snapshot and returns the number of rows inserted.
func (r *Repository) SeedSnapshots(ctx context.Context, at time.Time, actor int64) (int, error) {
	tag, err := r.pool.Exec(ctx, `INSERT INTO inventory_stock_snapshots
	(product_id, snapshot_at, on_hand, ref_type, ref_id, created_by, created_at)
SELECT p.id, $1, COALESCE(d.quantity, 0), $2, 0, $3, NOW()
FROM products p
`+currentDetail+`
WHERE d.status IS NULL OR d.status = 'ACTIVE'
ON CONFLICT (ref_type, ref_id, product_id) DO NOTHING`, at, RefTypeSeed, actor)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// InsertSnapshot inserts s unless its key exists. It reports whether a row was written.
func (r *Repository) InsertSnapshot(ctx context.Context, s Snapshot) (bool, error) {
	tag, err := r.pool.Exec(ctx, `INSERT INTO inventory_stock_snapshots
	(product_id, snapshot_at, on_hand, ref_type, ref_id, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (ref_type, ref_id, product_id) DO NOTHING`,
		s.ProductID, s.SnapshotAt, s.OnHand, s.RefType, s.RefID, s.CreatedBy, s.CreatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// LedgerBalances returns the cache and all-time ledger balance of every product.
func (r *Repository) LedgerBalances(ctx context.Context) ([]DriftRow, error) {
	rows, err := r.pool.Query(ctx, `WITH moves AS (`+confirmedMoves+`),
ledger AS (
	SELECT product_id, SUM(qty_in) - SUM(qty_out) AS qty FROM moves GROUP BY product_id
)
SELECT p.id, p.name, COALESCE(d.quantity, 0), COALESCE(ledger.qty, 0)
FROM products p
`+currentDetail+`
LEFT JOIN ledger ON ledger.product_id = p.id
ORDER BY p.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DriftRow
	for rows.Next() {
		var d DriftRow
		if err := rows.Scan(&d.ProductID, &d.ProductName, &d.Cached, &d.Ledger); err != nil {
			return nil, err
		}
		d.Difference = d.Cached.Sub(d.Ledger)
		out = append(out, d)
	}
	return out, rows.Err()
}

type stockTx struct {
	q db.Querier
}

// NewStockTx binds the guarded on-hand updates to q, normally the slip transaction.
func NewStockTx(q db.Querier) StockTx {
	return &stockTx{q: q}
}

func (s *stockTx) LockOnHand(ctx context.Context, productIDs []int64) (map[int64]OnHand, error) {
	out := make(map[int64]OnHand, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}
	// Product rows serialise every writer of the product's detail cache.
	rows, err := s.q.Query(ctx, `SELECT id, name FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE`, productIDs)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var oh OnHand
		if err := rows.Scan(&oh.ProductID, &oh.ProductName); err != nil {
			rows.Close()
			return nil, err
		}
		out[oh.ProductID] = oh
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.q.Query(ctx, `SELECT DISTINCT ON (product_id) product_id, quantity
FROM product_details
WHERE product_id = ANY($1)
ORDER BY product_id, created_at DESC, id DESC`, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id  int64
			qty decimal.Decimal
		)
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, err
		}
		if oh, ok := out[id]; ok {
			oh.Quantity = qty
			oh.HasDetail = true
			out[id] = oh
		}
	}
	return out, rows.Err()
}

func (s *stockTx) EnsureDetail(ctx context.Context, productID, actor int64, at time.Time) error {
	_, err := s.q.Exec(ctx, `INSERT INTO product_details (product_id, quantity, status, updated_by, updated_at, created_at)
VALUES ($1, 0, 'ACTIVE', $2, $3, $3)`, productID, actor, at)
	return err
}

func (s *stockTx) SetOnHand(ctx context.Context, productID int64, qty decimal.Decimal, actor int64, at time.Time) error {
	tag, err := s.q.Exec(ctx, `UPDATE product_details
SET quantity = $2, updated_by = $3, updated_at = $4
WHERE id = (
	SELECT id FROM product_details
	WHERE product_id = $1
	ORDER BY created_at DESC, id DESC
	LIMIT 1
)`, productID, qty, actor, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("product %d detail: %w", productID, shared.ErrNotFound)
	}
	return nil
}
