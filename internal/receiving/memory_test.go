package receiving

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockledger/backoffice/internal/catalog"
	"github.com/stockledger/backoffice/internal/inventory"
	"github.com/stockledger/backoffice/internal/inventory/inventorytest"
	"github.com/stockledger/backoffice/internal/shared"
)

type memoryRepo struct {
	mu       sync.Mutex
	store    *inventorytest.Store
	nextSlip int64
	nextLine int64
	slips    map[int64]Slip
	deleted  map[int64]bool
}

func newMemoryRepo(store *inventorytest.Store) *memoryRepo {
	return &memoryRepo{store: store, slips: make(map[int64]Slip), deleted: make(map[int64]bool)}
}

func cloneSlip(s Slip) Slip {
	s.Lines = append([]Line(nil), s.Lines...)
	return s
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	slips := make(map[int64]Slip, len(m.slips))
	for k, v := range m.slips {
		slips[k] = cloneSlip(v)
	}
	deleted := make(map[int64]bool, len(m.deleted))
	for k, v := range m.deleted {
		deleted[k] = v
	}
	nextSlip, nextLine := m.nextSlip, m.nextLine
	restore := m.store.Checkpoint()

	if err := fn(ctx, &memoryTx{repo: m}); err != nil {
		m.slips, m.deleted, m.nextSlip, m.nextLine = slips, deleted, nextSlip, nextLine
		restore()
		return err
	}
	return nil
}

func (m *memoryRepo) Get(_ context.Context, id int64) (Slip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slips[id]
	if !ok || m.deleted[id] {
		return Slip{}, shared.ErrNotFound
	}
	return cloneSlip(s), nil
}

func (m *memoryRepo) List(_ context.Context, filter ListFilter) ([]Slip, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Slip
	for id, s := range m.slips {
		if m.deleted[id] || (filter.Status != "" && s.Status != filter.Status) {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(s.Supplier+" "+s.ReferenceNo), strings.ToLower(filter.Search)) {
			continue
		}
		out = append(out, cloneSlip(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	page, p := shared.PageSlice(out, filter.Page, filter.PerPage)
	return page, p.Total, nil
}

func (m *memoryRepo) Report(_ context.Context, filter ReportFilter) ([]ReportRow, int, ReportTotals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []ReportRow
	totals := ReportTotals{Quantity: decimal.Zero, Value: decimal.Zero}
	ids := make([]int64, 0, len(m.slips))
	for id := range m.slips {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		s := m.slips[id]
		if m.deleted[id] || s.Status != inventory.StatusConfirmed || s.Date.Before(filter.From) || !s.Date.Before(filter.To) {
			continue
		}
		for _, l := range s.Lines {
			if filter.ProductID != 0 && *l.ProductID != filter.ProductID {
				continue
			}
			row := ReportRow{SlipID: s.ID, ReferenceNo: s.ReferenceNo, Date: s.Date, Supplier: s.Supplier,
				ProductID: *l.ProductID, ProductCode: l.ProductCode, ProductName: l.ProductName, Uom: l.Uom,
				Quantity: l.Quantity, UnitPrice: l.UnitPrice, Total: l.Total()}
			totals.Quantity = totals.Quantity.Add(row.Quantity)
			totals.Value = totals.Value.Add(row.Total)
			rows = append(rows, row)
		}
	}
	page, p := shared.PageSlice(rows, filter.Page, filter.PerPage)
	return page, p.Total, totals, nil
}

func (m *memoryRepo) CountConfirmed(_ context.Context, from, to time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.slips {
		if !m.deleted[id] && s.Status == inventory.StatusConfirmed && !s.Date.Before(from) && s.Date.Before(to) {
			n++
		}
	}
	return n, nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) Catalog() catalog.TxStore { return t.repo.store }
func (t *memoryTx) Stock() inventory.StockTx { return t.repo.store }

func (t *memoryTx) LockSlip(_ context.Context, id int64) (Slip, error) {
	s, ok := t.repo.slips[id]
	if !ok || t.repo.deleted[id] {
		return Slip{}, shared.ErrNotFound
	}
	return cloneSlip(s), nil
}

func (t *memoryTx) InsertSlip(_ context.Context, s Slip) (int64, error) {
	t.repo.nextSlip++
	s.ID = t.repo.nextSlip
	t.repo.slips[s.ID] = s
	return s.ID, nil
}

func (t *memoryTx) SetReference(_ context.Context, id int64, ref string) error {
	s := t.repo.slips[id]
	s.ReferenceNo = ref
	t.repo.slips[id] = s
	return nil
}

func (t *memoryTx) InsertLine(_ context.Context, l Line) (int64, error) {
	t.repo.nextLine++
	l.ID = t.repo.nextLine
	s := t.repo.slips[l.SlipID]
	s.Lines = append(s.Lines, l)
	t.repo.slips[l.SlipID] = s
	return l.ID, nil
}

func (t *memoryTx) UpdateLine(_ context.Context, l Line) error {
	s := t.repo.slips[l.SlipID]
	for i := range s.Lines {
		if s.Lines[i].ID == l.ID {
			s.Lines[i] = l
			return nil
		}
	}
	return shared.ErrNotFound
}

func (t *memoryTx) DeleteLine(_ context.Context, slipID, lineID int64) error {
	s := t.repo.slips[slipID]
	for i := range s.Lines {
		if s.Lines[i].ID == lineID {
			s.Lines = append(s.Lines[:i], s.Lines[i+1:]...)
			t.repo.slips[slipID] = s
			return nil
		}
	}
	return shared.ErrNotFound
}

func (t *memoryTx) MarkConfirmed(_ context.Context, id, actor int64, at time.Time) error {
	s := t.repo.slips[id]
	if s.Status != inventory.StatusDraft {
		return shared.ErrInvalidState
	}
	s.Status = inventory.StatusConfirmed
	s.ConfirmedBy = &actor
	s.ConfirmedAt = &at
	t.repo.slips[id] = s
	for _, l := range s.Lines {
		t.repo.store.RecordMove(*l.ProductID, inventory.TraceEntry{
			Direction: inventory.DirectionIn,
			SlipType:  inventory.SlipTypeInbound,
			SlipID:    s.ID,
			LineID:    l.ID,
			RefNo:     s.ReferenceNo,
			Partner:   s.Supplier,
			Date:      s.Date,
			Quantity:  l.Quantity,
			Uom:       l.Uom,
			Note:      s.Note,
		})
	}
	return nil
}

func (t *memoryTx) SoftDelete(_ context.Context, id, _ int64, _ time.Time) error {
	if t.repo.slips[id].Status != inventory.StatusDraft {
		return shared.ErrInvalidState
	}
	t.repo.deleted[id] = true
	return nil
}
