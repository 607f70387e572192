package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockledger/backoffice/internal/platform/db"
	"github.com/stockledger/backoffice/internal/shared"
)

// Repository reads catalog data outside slip transactions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetProduct loads a product by id.
func (r *Repository) GetProduct(ctx context.Context, id int64) (Product, error) {
	return NewTxStore(r.pool).GetProduct(ctx, id)
}

// UnitExists reports whether code names a configured unit of measure.
func (r *Repository) UnitExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM units WHERE code = $1)`, code).Scan(&exists)
	return exists, err
}

// ListUnits returns every unit ordered by code.
func (r *Repository) ListUnits(ctx context.Context) ([]Unit, error) {
	rows, err := r.pool.Query(ctx, `SELECT code, name FROM units ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []Unit
	for rows.Next() {
		var u Unit
		if err := rows.Scan(&u.Code, &u.Name); err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

type txStore struct {
	q db.Querier
}

// NewTxStore binds catalog writes to q, which is usually the slip's pgx.Tx.
func NewTxStore(q db.Querier) TxStore {
	return &txStore{q: q}
}

const productColumns = `id, code, name, uom, created_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	if err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Uom, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, shared.ErrNotFound
		}
		return Product{}, err
	}
	return p, nil
}

func (s *txStore) GetProduct(ctx context.Context, id int64) (Product, error) {
	p, err := scanProduct(s.q.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if errors.Is(err, shared.ErrNotFound) {
		return Product{}, fmt.Errorf("product %d: %w", id, shared.ErrNotFound)
	}
	return p, err
}

func (s *txStore) FindProductByName(ctx context.Context, name string) (Product, error) {
	return scanProduct(s.q.QueryRow(ctx, `SELECT `+productColumns+` FROM products
WHERE lower(name) = lower($1)
ORDER BY id
LIMIT 1`, name))
}

func (s *txStore) InsertProduct(ctx context.Context, p Product) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `INSERT INTO products (code, name, uom, created_at)
VALUES ($1, $2, $3, $4) RETURNING id`, p.Code, p.Name, p.Uom, p.CreatedAt).Scan(&id)
	return id, err
}

func (s *txStore) SetProductCode(ctx context.Context, id int64, code string) error {
	tag, err := s.q.Exec(ctx, `UPDATE products SET code = $2 WHERE id = $1`, id, code)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (s *txStore) InsertDetail(ctx context.Context, d Detail) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `INSERT INTO product_details (product_id, quantity, status, updated_by, updated_at, created_at)
VALUES ($1, $2, $3, $4, $5, $5) RETURNING id`, d.ProductID, d.Quantity, d.Status, d.UpdatedBy, d.CreatedAt).Scan(&id)
	return id, err
}
