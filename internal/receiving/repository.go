package receiving

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockledger/backoffice/internal/catalog"
	"github.com/stockledger/backoffice/internal/inventory"
	"github.com/stockledger/backoffice/internal/platform/db"
	"github.com/stockledger/backoffice/internal/shared"
)

// Repository persists inbound slips in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx      pgx.Tx
	catalog catalog.TxStore
	stock   inventory.StockTx
}

// WithTx executes the callback inside a read-committed transaction. Slip and
// product rows are locked explicitly.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, catalog: catalog.NewTxStore(tx), stock: inventory.NewStockTx(tx)})
	})
}

const slipColumns = `s.id, COALESCE(s.reference_no, ''), s.supplier, s.status, s.slip_date, s.note,
	s.created_by, s.created_at, s.confirmed_by, s.confirmed_at`

func scanSlip(row pgx.Row) (Slip, error) {
	var s Slip
	err := row.Scan(&s.ID, &s.ReferenceNo, &s.Supplier, &s.Status, &s.Date, &s.Note,
		&s.CreatedBy, &s.CreatedAt, &s.ConfirmedBy, &s.ConfirmedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Slip{}, shared.ErrNotFound
	}
	return s, err
}

func loadLines(ctx context.Context, q db.Querier, slipID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, slip_id, product_id, product_name, product_code, uom, quantity, unit_price
FROM inbound_slip_lines WHERE slip_id = $1 ORDER BY id`, slipID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]Line, 0)
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.SlipID, &l.ProductID, &l.ProductName, &l.ProductCode, &l.Uom, &l.Quantity, &l.UnitPrice); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func getSlip(ctx context.Context, q db.Querier, id int64, lock bool) (Slip, error) {
	query := `SELECT ` + slipColumns + ` FROM inbound_slips s WHERE s.id = $1 AND s.deleted_at IS NULL`
	if lock {
		query += ` FOR UPDATE`
	}
	slip, err := scanSlip(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Slip{}, fmt.Errorf("inbound slip %d: %w", id, shared.ErrNotFound)
		}
		return Slip{}, err
	}
	slip.Lines, err = loadLines(ctx, q, id)
	return slip, err
}

// Get loads a slip with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (Slip, error) {
	return getSlip(ctx, r.pool, id, false)
}

// List returns slip headers matching filter and the unpaged total.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Slip, int, error) {
	where := []string{"s.deleted_at IS NULL"}
	args := []any{}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		where = append(where, fmt.Sprintf("(s.reference_no ILIKE $%d OR s.supplier ILIKE $%d)", len(args), len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("s.status = $%d", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		where = append(where, fmt.Sprintf("s.slip_date >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To.AddDate(0, 0, 1))
		where = append(where, fmt.Sprintf("s.slip_date < $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM inbound_slips s WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	p := shared.NewPagination(filter.Page, filter.PerPage, total)
	args = append(args, p.PerPage, p.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM inbound_slips s WHERE %s
ORDER BY s.slip_date DESC, s.id DESC LIMIT $%d OFFSET $%d`, slipColumns, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	slips := make([]Slip, 0)
	for rows.Next() {
		s, err := scanSlip(rows)
		if err != nil {
			return nil, 0, err
		}
		slips = append(slips, s)
	}
	return slips, total, rows.Err()
}

// Report lists confirmed lines in [filter.From, filter.To) with whole-report totals.
func (r *Repository) Report(ctx context.Context, filter ReportFilter) ([]ReportRow, int, ReportTotals, error) {
	where := []string{"s.status = 'CONFIRMED'", "s.deleted_at IS NULL", "l.product_id IS NOT NULL", "s.slip_date >= $1", "s.slip_date < $2"}
	args := []any{filter.From, filter.To}
	if filter.ProductID != 0 {
		args = append(args, filter.ProductID)
		where = append(where, fmt.Sprintf("l.product_id = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		where = append(where, fmt.Sprintf("(s.reference_no ILIKE $%d OR s.supplier ILIKE $%d OR l.product_name ILIKE $%d)", len(args), len(args), len(args)))
	}
	from := ` FROM inbound_slip_lines l JOIN inbound_slips s ON s.id = l.slip_id WHERE ` + strings.Join(where, " AND ")

	var (
		total  int
		totals ReportTotals
	)
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(l.quantity), 0), COALESCE(SUM(l.quantity * l.unit_price), 0)`+from, args...).
		Scan(&total, &totals.Quantity, &totals.Value); err != nil {
		return nil, 0, ReportTotals{}, err
	}

	p := shared.NewPagination(filter.Page, filter.PerPage, total)
	args = append(args, p.PerPage, p.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT s.id, COALESCE(s.reference_no, ''), s.slip_date, s.supplier,
	l.product_id, l.product_code, l.product_name, l.uom, l.quantity, l.unit_price%s
ORDER BY s.slip_date, s.id, l.id LIMIT $%d OFFSET $%d`, from, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, ReportTotals{}, err
	}
	defer rows.Close()

	out := make([]ReportRow, 0)
	for rows.Next() {
		var row ReportRow
		if err := rows.Scan(&row.SlipID, &row.ReferenceNo, &row.Date, &row.Supplier,
			&row.ProductID, &row.ProductCode, &row.ProductName, &row.Uom, &row.Quantity, &row.UnitPrice); err != nil {
			return nil, 0, ReportTotals{}, err
		}
		row.Total = row.Quantity.Mul(row.UnitPrice)
		out = append(out, row)
	}
	return out, total, totals, rows.Err()
}

// CountConfirmed counts confirmed slips dated in [from, to).
func (r *Repository) CountConfirmed(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM inbound_slips
WHERE status = 'CONFIRMED' AND deleted_at IS NULL AND slip_date >= $1 AND slip_date < $2`, from, to).Scan(&n)
	return n, err
}

func (t *txRepo) Catalog() catalog.TxStore { return t.catalog }
func (t *txRepo) Stock() inventory.StockTx { return t.stock }

func (t *txRepo) LockSlip(ctx context.Context, id int64) (Slip, error) {
	return getSlip(ctx, t.tx, id, true)
}

func (t *txRepo) InsertSlip(ctx context.Context, s Slip) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO inbound_slips (supplier, status, slip_date, note, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`, s.Supplier, s.Status, s.Date, s.Note, s.CreatedBy, s.CreatedAt).Scan(&id)
	return id, err
}

func (t *txRepo) SetReference(ctx context.Context, id int64, ref string) error {
	_, err := t.tx.Exec(ctx, `UPDATE inbound_slips SET reference_no = $2 WHERE id = $1`, id, ref)
	if shared.IsUniqueViolation(err) {
		return fmt.Errorf("reference %s: %w", ref, shared.ErrConflict)
	}
	return err
}

func (t *txRepo) InsertLine(ctx context.Context, l Line) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO inbound_slip_lines (slip_id, product_id, product_name, product_code, uom, quantity, unit_price)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		l.SlipID, l.ProductID, l.ProductName, l.ProductCode, l.Uom, l.Quantity, l.UnitPrice).Scan(&id)
	return id, err
}

func (t *txRepo) UpdateLine(ctx context.Context, l Line) error {
	tag, err := t.tx.Exec(ctx, `UPDATE inbound_slip_lines
SET product_id = $3, product_name = $4, product_code = $5, uom = $6, quantity = $7, unit_price = $8
WHERE id = $1 AND slip_id = $2`,
		l.ID, l.SlipID, l.ProductID, l.ProductName, l.ProductCode, l.Uom, l.Quantity, l.UnitPrice)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepo) DeleteLine(ctx context.Context, slipID, lineID int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM inbound_slip_lines WHERE id = $1 AND slip_id = $2`, lineID, slipID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepo) MarkConfirmed(ctx context.Context, id, actor int64, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE inbound_slips SET status = 'CONFIRMED', confirmed_by = $2, confirmed_at = $3
WHERE id = $1 AND status = 'DRAFT'`, id, actor, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrInvalidState
	}
	return nil
}

func (t *txRepo) SoftDelete(ctx context.Context, id, actor int64, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE inbound_slips SET deleted_at = $2, deleted_by = $3
WHERE id = $1 AND status = 'DRAFT' AND deleted_at IS NULL`, id, at, actor)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrInvalidState
	}
	return nil
}
