// Package inventorytest provides an in-memory stock store for tests of
// packages that confirm slips or read the ledger.
package inventorytest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockledger/backoffice/internal/catalog"
	"github.com/stockledger/backoffice/internal/inventory"
	"github.com/stockledger/backoffice/internal/shared"
)

// Move is one confirmed slip line in the in-memory ledger.
type Move struct {
	ProductID int64
	Entry     inventory.TraceEntry
}

// Store implements catalog.TxStore, catalog.UnitLookup, inventory.StockTx and
// inventory.RepositoryPort over maps.
type Store struct {
	mu            sync.Mutex
	nextProductID int64
	products      map[int64]catalog.Product
	details       []catalog.Detail
	thresholds    map[int64]inventory.Threshold
	snapshots     []inventory.Snapshot
	moves         []Move
	units         map[string]bool
	Clock         func() time.Time
}

// NewStore returns an empty store that knows the given units.
func NewStore(units ...string) *Store {
	s := &Store{
		products:   make(map[int64]catalog.Product),
		thresholds: make(map[int64]inventory.Threshold),
		units:      make(map[string]bool),
		Clock:      time.Now,
	}
	for _, u := range units {
		s.units[u] = true
	}
	return s
}

// Checkpoint captures the store state; calling the result restores it.
func (s *Store) Checkpoint() (restore func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.nextProductID
	products := make(map[int64]catalog.Product, len(s.products))
	for k, v := range s.products {
		products[k] = v
	}
	details := append([]catalog.Detail(nil), s.details...)
	thresholds := make(map[int64]inventory.Threshold, len(s.thresholds))
	for k, v := range s.thresholds {
		thresholds[k] = v
	}
	snapshots := append([]inventory.Snapshot(nil), s.snapshots...)
	moves := append([]Move(nil), s.moves...)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.nextProductID = next
		s.products = products
		s.details = details
		s.thresholds = thresholds
		s.snapshots = snapshots
		s.moves = moves
	}
}

// AddProduct creates a product with an active detail row holding qty.
func (s *Store) AddProduct(name, uom string, qty int64) catalog.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextProductID++
	p := catalog.Product{ID: s.nextProductID, Name: name, Uom: uom, CreatedAt: s.Clock()}
	p.Code = catalog.GenerateCode(name, p.ID)
	s.products[p.ID] = p
	s.details = append(s.details, catalog.Detail{
		ID:        int64(len(s.details) + 1),
		ProductID: p.ID,
		Quantity:  decimal.NewFromInt(qty),
		Status:    catalog.DetailActive,
		CreatedAt: s.Clock(),
	})
	return p
}

// AddBareProduct creates a product without a detail row.
func (s *Store) AddBareProduct(name string) catalog.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextProductID++
	p := catalog.Product{ID: s.nextProductID, Name: name, Code: catalog.GenerateCode(name, s.nextProductID)}
	s.products[p.ID] = p
	return p
}

// Deactivate appends an inactive detail row for productID.
func (s *Store) Deactivate(productID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, _ := s.current(productID)
	s.details = append(s.details, catalog.Detail{
		ID:        int64(len(s.details) + 1),
		ProductID: productID,
		Quantity:  cur.Quantity,
		Status:    catalog.DetailInactive,
	})
}

// SetCache overwrites the on-hand cache without touching the ledger.
func (s *Store) SetCache(productID int64, qty int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.currentIndex(productID); i >= 0 {
		s.details[i].Quantity = decimal.NewFromInt(qty)
	}
}

// OnHand returns the current cache quantity of productID.
func (s *Store) OnHand(productID int64) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, _ := s.current(productID)
	return d.Quantity
}

// DetailCount returns how many detail rows productID has.
func (s *Store) DetailCount(productID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.details {
		if d.ProductID == productID {
			n++
		}
	}
	return n
}

// Product returns a product by id.
func (s *Store) Product(id int64) (catalog.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	return p, ok
}

// RecordMove appends a confirmed movement to the ledger.
func (s *Store) RecordMove(productID int64, entry inventory.TraceEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moves = append(s.moves, Move{ProductID: productID, Entry: entry})
}

// Snapshots returns a copy of the stored snapshots.
func (s *Store) Snapshots() []inventory.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]inventory.Snapshot(nil), s.snapshots...)
}

func (s *Store) currentIndex(productID int64) int {
	for i := len(s.details) - 1; i >= 0; i-- {
		if s.details[i].ProductID == productID {
			return i
		}
	}
	return -1
}

func (s *Store) current(productID int64) (catalog.Detail, bool) {
	if i := s.currentIndex(productID); i >= 0 {
		return s.details[i], true
	}
	return catalog.Detail{}, false
}

// UnitExists implements catalog.UnitLookup.
func (s *Store) UnitExists(_ context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.units[code], nil
}

// GetProduct implements catalog.TxStore.
func (s *Store) GetProduct(_ context.Context, id int64) (catalog.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return catalog.Product{}, fmt.Errorf("product %d: %w", id, shared.ErrNotFound)
	}
	return p, nil
}

// FindProductByName implements catalog.TxStore.
func (s *Store) FindProductByName(_ context.Context, name string) (catalog.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id, p := range s.products {
		if strings.EqualFold(p.Name, name) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return catalog.Product{}, shared.ErrNotFound
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return s.products[ids[0]], nil
}

// InsertProduct implements catalog.TxStore.
func (s *Store) InsertProduct(_ context.Context, p catalog.Product) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextProductID++
	p.ID = s.nextProductID
	s.products[p.ID] = p
	return p.ID, nil
}

// SetProductCode implements catalog.TxStore.
func (s *Store) SetProductCode(_ context.Context, id int64, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return shared.ErrNotFound
	}
	p.Code = code
	s.products[id] = p
	return nil
}

// InsertDetail implements catalog.TxStore.
func (s *Store) InsertDetail(_ context.Context, d catalog.Detail) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.ID = int64(len(s.details) + 1)
	s.details = append(s.details, d)
	return d.ID, nil
}

// LockOnHand implements inventory.StockTx.
func (s *Store) LockOnHand(_ context.Context, productIDs []int64) (map[int64]inventory.OnHand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]inventory.OnHand, len(productIDs))
	for _, id := range productIDs {
		p, ok := s.products[id]
		if !ok {
			continue
		}
		oh := inventory.OnHand{ProductID: id, ProductName: p.Name}
		if d, ok := s.current(id); ok {
			oh.Quantity = d.Quantity
			oh.HasDetail = true
		}
		out[id] = oh
	}
	return out, nil
}

// EnsureDetail implements inventory.StockTx.
func (s *Store) EnsureDetail(_ context.Context, productID, actor int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.details = append(s.details, catalog.Detail{
		ID:        int64(len(s.details) + 1),
		ProductID: productID,
		Quantity:  decimal.Zero,
		Status:    catalog.DetailActive,
		UpdatedBy: actor,
		UpdatedAt: at,
		CreatedAt: at,
	})
	return nil
}

// SetOnHand implements inventory.StockTx.
func (s *Store) SetOnHand(_ context.Context, productID int64, qty decimal.Decimal, actor int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.currentIndex(productID)
	if i < 0 {
		return shared.ErrNotFound
	}
	s.details[i].Quantity = qty
	s.details[i].UpdatedBy = actor
	s.details[i].UpdatedAt = at
	return nil
}

// ProductName implements inventory.RepositoryPort.
func (s *Store) ProductName(_ context.Context, id int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return "", shared.ErrNotFound
	}
	return p.Name, nil
}

// ListStock implements inventory.RepositoryPort.
func (s *Store) ListStock(_ context.Context, search string) ([]inventory.StockRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	search = strings.ToLower(search)
	var out []inventory.StockRow
	for _, p := range s.products {
		d, ok := s.current(p.ID)
		if ok && d.Status != catalog.DetailActive {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(p.Name), search) && !strings.Contains(strings.ToLower(p.Code), search) {
			continue
		}
		row := inventory.StockRow{ProductID: p.ID, ProductCode: p.Code, ProductName: p.Name, Uom: p.Uom, OnHand: d.Quantity}
		if t, ok := s.thresholds[p.ID]; ok {
			v := t.MinStock
			row.MinStock = &v
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProductName != out[j].ProductName {
			return out[i].ProductName < out[j].ProductName
		}
		return out[i].ProductID < out[j].ProductID
	})
	return out, nil
}

// MovementTotals implements inventory.RepositoryPort.
func (s *Store) MovementTotals(_ context.Context, productIDs []int64, from, to time.Time) (map[int64]inventory.Totals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[int64]bool, len(productIDs))
	for _, id := range productIDs {
		want[id] = true
	}
	out := make(map[int64]inventory.Totals)
	for _, m := range s.moves {
		if !want[m.ProductID] {
			continue
		}
		t := out[m.ProductID]
		in := m.Entry.Direction == inventory.DirectionIn
		switch {
		case m.Entry.Date.Before(from) && in:
			t.InboundBefore = t.InboundBefore.Add(m.Entry.Quantity)
		case m.Entry.Date.Before(from):
			t.OutboundBefore = t.OutboundBefore.Add(m.Entry.Quantity)
		case m.Entry.Date.Before(to) && in:
			t.InboundPeriod = t.InboundPeriod.Add(m.Entry.Quantity)
		case m.Entry.Date.Before(to):
			t.OutboundPeriod = t.OutboundPeriod.Add(m.Entry.Quantity)
		}
		out[m.ProductID] = t
	}
	return out, nil
}

// TraceSource implements inventory.RepositoryPort.
func (s *Store) TraceSource(_ context.Context, src inventory.SlipType, productID int64) ([]inventory.TraceEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []inventory.TraceEntry
	for _, m := range s.moves {
		if m.ProductID == productID && m.Entry.SlipType == src {
			out = append(out, m.Entry)
		}
	}
	return out, nil
}

// UpsertThreshold implements inventory.RepositoryPort.
func (s *Store) UpsertThreshold(_ context.Context, t inventory.Threshold) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.thresholds[t.ProductID] = t
	return nil
}

// SnapshotExists implements inventory.RepositoryPort.
func (s *Store) SnapshotExists(_ context.Context, refType string, refID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range s.snapshots {
		if snap.RefType == refType && snap.RefID == refID {
			return true, nil
		}
	}
	return false, nil
}

// SeedSnapshots implements inventory.RepositoryPort.
func (s *Store) SeedSnapshots(_ context.Context, at time.Time, actor int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.products))
	for id := range s.products {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	n := 0
	for _, id := range ids {
		d, ok := s.current(id)
		if ok && d.Status != catalog.DetailActive {
			continue
		}
		if s.insertSnapshot(inventory.Snapshot{
			ProductID:  id,
			SnapshotAt: at,
			OnHand:     d.Quantity,
			RefType:    inventory.RefTypeSeed,
			CreatedBy:  actor,
			CreatedAt:  s.Clock(),
		}) {
			n++
		}
	}
	return n, nil
}

// InsertSnapshot implements inventory.RepositoryPort.
func (s *Store) InsertSnapshot(_ context.Context, snap inventory.Snapshot) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertSnapshot(snap), nil
}

func (s *Store) insertSnapshot(snap inventory.Snapshot) bool {
	for _, existing := range s.snapshots {
		if existing.RefType == snap.RefType && existing.RefID == snap.RefID && existing.ProductID == snap.ProductID {
			return false
		}
	}
	s.snapshots = append(s.snapshots, snap)
	return true
}

// LedgerBalances implements inventory.RepositoryPort.
func (s *Store) LedgerBalances(_ context.Context) ([]inventory.DriftRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ledger := make(map[int64]decimal.Decimal)
	for _, m := range s.moves {
		q := m.Entry.Quantity
		if m.Entry.Direction == inventory.DirectionOut {
			q = q.Neg()
		}
		ledger[m.ProductID] = ledger[m.ProductID].Add(q)
	}
	out := make([]inventory.DriftRow, 0, len(s.products))
	for id, p := range s.products {
		d, _ := s.current(id)
		row := inventory.DriftRow{ProductID: id, ProductName: p.Name, Cached: d.Quantity, Ledger: ledger[id]}
		row.Difference = row.Cached.Sub(row.Ledger)
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

var (
	_ catalog.TxStore          = (*Store)(nil)
	_ catalog.UnitLookup       = (*Store)(nil)
	_ inventory.StockTx        = (*Store)(nil)
	_ inventory.RepositoryPort = (*Store)(nil)
)
