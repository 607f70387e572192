package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/stockledger/backoffice/internal/inventory"
	"github.com/stockledger/backoffice/internal/inventory/inventorytest"
	"github.com/stockledger/backoffice/internal/shared"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []any
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, payload)
}

func qty(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func ptr(v int64) *int64 { return &v }

var slipDate = time.Date(2024, 6, 4, 0, 0, 0, 0, time.UTC)

type fixture struct {
	store  *inventorytest.Store
	repo   *memoryRepo
	events *recordingPublisher
	svc    *Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := inventorytest.NewStore("m", "cai")
	repo := newMemoryRepo(store)
	events := &recordingPublisher{}
	svc := NewService(repo, store, Directories{
		Customers: customers{1: "Anh Minh", 2: "Chi Lan"},
		Projects:  projects{1: "Tower A"},
	}, nil, events, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.now = func() time.Time { return time.Date(2024, 6, 5, 9, 0, 0, 0, time.UTC) }
	return fixture{store: store, repo: repo, events: events, svc: svc}
}

func (f fixture) retail(t *testing.T, lines ...LineInput) Slip {
	t.Helper()
	slip, err := f.svc.CreateRetailDraft(context.Background(), RetailInput{CustomerID: 1, Date: slipDate, Lines: lines}, 1)
	require.NoError(t, err)
	return slip
}

func (f fixture) project(t *testing.T, lines ...LineInput) Slip {
	t.Helper()
	slip, err := f.svc.CreateProjectDraft(context.Background(), ProjectInput{ProjectID: 1, Date: slipDate, Lines: lines}, 1)
	require.NoError(t, err)
	return slip
}

func TestReferenceNumbersFollowKind(t *testing.T) {
	f := newFixture(t)
	a := f.store.AddProduct("Cable", "m", 10)

	r := f.retail(t, LineInput{ProductID: ptr(a.ID), Uom: "m", Quantity: qty(1)})
	p := f.project(t, LineInput{ProductID: ptr(a.ID), Uom: "m", Quantity: qty(1)})

	require.Equal(t, "DSP-SLS-00001", r.ReferenceNo)
	require.Equal(t, KindRetail, r.Kind())
	require.Equal(t, Retail{CustomerID: 1, CustomerName: "Anh Minh"}, r.Party)
	require.Equal(t, "DSP-PRJ-00002", p.ReferenceNo)
	require.Equal(t, KindProject, p.Kind())
	require.Equal(t, "Tower A", p.Party.DisplayName())
}

func TestCreateRejectsUnknownParty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateRetailDraft(ctx, RetailInput{CustomerID: 9, Date: slipDate}, 1)
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = f.svc.CreateProjectDraft(ctx, ProjectInput{ProjectID: 9, Date: slipDate}, 1)
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = f.svc.CreateRetailDraft(ctx, RetailInput{Date: slipDate}, 1)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestConfirmDecrementsStock(t *testing.T) {
	f := newFixture(t)
	a := f.store.AddProduct("Cable", "m", 10)
	slip := f.retail(t,
		LineInput{ProductID: ptr(a.ID), Uom: "m", Quantity: qty(4), UnitPrice: qty(5)},
		LineInput{ProductID: ptr(a.ID), Uom: "m", Quantity: qty(6), UnitPrice: qty(5)},
	)

	res, err := f.svc.Confirm(context.Background(), slip.ID, 2)
	require.NoError(t, err)
	require.Equal(t, KindRetail, res.Kind)
	require.Len(t, res.Products, 1)
	require.True(t, res.Products[0].Before.Equal(qty(10)))
	require.True(t, res.Products[0].After.IsZero())
	require.True(t, f.store.OnHand(a.ID).IsZero())

	require.Len(t, f.events.events, 1)
	ev, ok := f.events.events[0].(inventory.SlipConfirmedEvent)
	require.True(t, ok)
	require.Equal(t, inventory.SlipTypeRetail, ev.SlipType)
	require.Equal(t, "DSP-SLS-00001", ev.ReferenceNo)
}

func TestConfirmRejectsShortageAtomically(t *testing.T) {
	f := newFixture(t)
	a := f.store.AddProduct("Cable", "m", 10)
	b := f.store.AddProduct("Pipe", "m", 3)
	slip := f.project(t,
		LineInput{ProductID: ptr(a.ID), Uom: "m", Quantity: qty(2)},
		LineInput{ProductID: ptr(b.ID), Uom: "m", Quantity: qty(15)},
	)

	obs := &countingObserver{}
	f.svc.SetMetrics(obs)
	_, err := f.svc.Confirm(context.Background(), slip.ID, 1)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	var short *shared.InsufficientStockError
	require.ErrorAs(t, err, &short)
	require.Len(t, short.Shortages, 1)
	require.Equal(t, b.ID, short.Shortages[0].ProductID)
	require.True(t, short.Shortages[0].OnHand.Equal(qty(3)))
	require.True(t, short.Shortages[0].Requested.Equal(qty(15)))

	require.True(t, f.store.OnHand(a.ID).Equal(qty(10)))
	require.True(t, f.store.OnHand(b.ID).Equal(qty(3)))
	got, err := f.svc.Get(context.Background(), slip.ID)
	require.NoError(t, err)
	require.Equal(t, inventory.StatusDraft, got.Status)
	require.Empty(t, f.events.events)
	require.Equal(t, map[string]int{inventory.ResultInsufficient: 1}, obs.results)
}

func TestConfirmShortageOnSummedLines(t *testing.T) {
	f := newFixture(t)
	a := f.store.AddProduct("Cable", "m", 10)
	slip := f.retail(t,
		LineInput{ProductID: ptr(a.ID), Uom: "m", Quantity: qty(8)},
		LineInput{ProductID: ptr(a.ID), Uom: "m", Quantity: qty(7)},
	)

	_, err := f.svc.Confirm(context.Background(), slip.ID, 1)
	var short *shared.InsufficientStockError
	require.ErrorAs(t, err, &short)
	require.True(t, short.Shortages[0].Requested.Equal(qty(15)))
	require.True(t, f.store.OnHand(a.ID).Equal(qty(10)))
}

func TestConcurrentDispatchNeverOversells(t *testing.T) {
	f := newFixture(t)
	a := f.store.AddProduct("Cable", "m", 10)
	slips := make([]Slip, 5)
	for i := range slips {
		slips[i] = f.retail(t, LineInput{ProductID: ptr(a.ID), Uom: "m", Quantity: qty(3)})
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		ok   int
		errs []error
	)
	for _, s := range slips {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := f.svc.Confirm(context.Background(), id, 1)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
				return
			}
			errs = append(errs, err)
		}(s.ID)
	}
	wg.Wait()

	require.Equal(t, 3, ok)
	for _, err := range errs {
		require.ErrorIs(t, err, shared.ErrInsufficientStock)
	}
	require.True(t, f.store.OnHand(a.ID).Equal(qty(1)))
}

func TestCreateFromOrder(t *testing.T) {
	f := newFixture(t)
	f.svc.SetIdempotency(&memoryKeys{})
	a := f.store.AddProduct("Cable", "m", 10)
	ctx := context.Background()

	input := OrderInput{OrderID: 77, CustomerID: 2, Date: slipDate, Lines: []OrderLine{
		{ProductName: "cable", Uom: "m", Quantity: qty(2), UnitPrice: qty(9)},
		{ProductName: "Unknown lamp", Uom: "cai", Quantity: qty(1), UnitPrice: qty(3)},
	}}
	slip, err := f.svc.CreateFromOrder(ctx, input, 1)
	require.NoError(t, err)
	require.Equal(t, KindRetail, slip.Kind())
	require.Equal(t, "Chi Lan", slip.Party.DisplayName())
	require.NotNil(t, slip.OrderID)
	require.Len(t, slip.Lines, 2)
	require.Equal(t, a.ID, *slip.Lines[0].ProductID)
	require.Equal(t, "Cable", slip.Lines[0].ProductName)
	require.Nil(t, slip.Lines[1].ProductID)
	_, found := f.store.Product(2)
	require.False(t, found, "orders never provision products")

	again, err := f.svc.CreateFromOrder(ctx, input, 1)
	require.NoError(t, err)
	require.Equal(t, slip.ID, again.ID)

	_, err = f.svc.Confirm(ctx, slip.ID, 1)
	require.ErrorIs(t, err, shared.ErrMissingProduct)
	require.True(t, f.store.OnHand(a.ID).Equal(qty(10)))

	require.NoError(t, f.svc.DeleteLine(ctx, slip.ID, slip.Lines[1].ID))
	_, err = f.svc.Confirm(ctx, slip.ID, 1)
	require.NoError(t, err)
	require.True(t, f.store.OnHand(a.ID).Equal(qty(8)))
}

func TestCreateFromOrderWhileFirstCheckoutInFlight(t *testing.T) {
	f := newFixture(t)
	keys := &memoryKeys{}
	f.svc.SetIdempotency(keys)
	a := f.store.AddProduct("Cable", "m", 10)
	ctx := context.Background()

	require.NoError(t, keys.CheckAndInsert(ctx, "order:91", "dispatch.order"))

	input := OrderInput{OrderID: 91, CustomerID: 1, Date: slipDate, Lines: []OrderLine{
		{ProductID: ptr(a.ID), Uom: "m", Quantity: qty(1)},
	}}
	slip, err := f.svc.CreateFromOrder(ctx, input, 1)
	require.ErrorIs(t, err, shared.ErrConflict)
	require.NotErrorIs(t, err, shared.ErrNotFound)
	require.Zero(t, slip.ID)

	require.NoError(t, keys.Delete(ctx, "order:91"))
	slip, err = f.svc.CreateFromOrder(ctx, input, 1)
	require.NoError(t, err)
	require.NotZero(t, slip.ID)
}

func TestCreateFromOrderLogsKeyReleaseFailure(t *testing.T) {
	f := newFixture(t)
	var logs bytes.Buffer
	f.svc.logger = slog.New(slog.NewTextHandler(&logs, nil))
	f.svc.SetIdempotency(&memoryKeys{deleteErr: errors.New("db down")})

	_, err := f.svc.CreateFromOrder(context.Background(), OrderInput{OrderID: 92, CustomerID: 99, Date: slipDate, Lines: []OrderLine{
		{ProductName: "Cable", Uom: "m", Quantity: qty(1)},
	}}, 1)
	require.Error(t, err)
	require.Contains(t, logs.String(), "release order key")
	require.Contains(t, logs.String(), "db down")
}

func TestLinesRejectScaleBeyondColumns(t *testing.T) {
	f := newFixture(t)
	a := f.store.AddProduct("Cable", "m", 10)
	slip := f.retail(t, LineInput{ProductID: ptr(a.ID), Uom: "m", Quantity: qty(1)})
	ctx := context.Background()

	_, err := f.svc.AddLine(ctx, slip.ID, LineInput{ProductID: ptr(a.ID), Uom: "m", Quantity: decimal.RequireFromString("0.12345")})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = f.svc.AddLine(ctx, slip.ID, LineInput{ProductID: ptr(a.ID), Uom: "m", Quantity: qty(1), UnitPrice: decimal.RequireFromString("1.005")})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = f.svc.AddLine(ctx, slip.ID, LineInput{ProductID: ptr(a.ID), Uom: "m", Quantity: decimal.RequireFromString("0.5000"), UnitPrice: decimal.RequireFromString("1.50")})
	require.NoError(t, err)

	_, err = f.svc.CreateFromOrder(ctx, OrderInput{OrderID: 93, CustomerID: 1, Date: slipDate, Lines: []OrderLine{
		{ProductID: ptr(a.ID), Uom: "m", Quantity: qty(1), UnitPrice: decimal.RequireFromString("2.999")},
	}}, 1)
	require.ErrorIs(t, err, shared.ErrValidation)
}

type failingAudit struct{ err error }

func (a failingAudit) Record(context.Context, shared.AuditLog) error { return a.err }

func TestAuditFailuresAreLoggedExceptCancellation(t *testing.T) {
	for _, tc := range []struct {
		name   string
		err    error
		logged bool
	}{
		{"cancelled", context.Canceled, false},
		{"wrapped cancel", fmt.Errorf("insert audit: %w", context.Canceled), false},
		{"db failure", errors.New("db down"), true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			var logs bytes.Buffer
			f.svc.logger = slog.New(slog.NewTextHandler(&logs, nil))
			f.svc.audit = failingAudit{err: tc.err}
			a := f.store.AddProduct("Cable", "m", 10)

			slip := f.retail(t, LineInput{ProductID: ptr(a.ID), Uom: "m", Quantity: qty(1)})
			_, err := f.svc.Confirm(context.Background(), slip.ID, 1)
			require.NoError(t, err)
			require.Equal(t, tc.logged, strings.Contains(logs.String(), "audit record failed"))
		})
	}
}

func TestCreateFromOrderWithoutKeysFallsBackToUniqueOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	input := OrderInput{OrderID: 5, CustomerID: 1, Date: slipDate, Lines: []OrderLine{
		{ProductName: "Lamp", Uom: "cai", Quantity: qty(1)},
	}}
	first, err := f.svc.CreateFromOrder(ctx, input, 1)
	require.NoError(t, err)
	second, err := f.svc.CreateFromOrder(ctx, input, 1)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	_, err = f.svc.CreateFromOrder(ctx, OrderInput{OrderID: 6, CustomerID: 1, Date: slipDate}, 1)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestOutboundLineValidation(t *testing.T) {
	f := newFixture(t)
	a := f.store.AddProduct("Cable", "m", 10)
	slip := f.retail(t)
	ctx := context.Background()

	cases := []LineInput{
		{ProductID: ptr(a.ID), Uom: "m", Quantity: qty(0)},
		{ProductID: ptr(a.ID), Uom: "m", Quantity: qty(1), UnitPrice: qty(-1)},
		{ProductID: ptr(a.ID), Uom: "kg", Quantity: qty(1)},
		{Uom: "m", Quantity: qty(1)},
	}
	for _, in := range cases {
		_, err := f.svc.AddLine(ctx, slip.ID, in)
		require.ErrorIs(t, err, shared.ErrValidation)
	}
	_, err := f.svc.AddLine(ctx, slip.ID, LineInput{ProductID: ptr(99), Uom: "m", Quantity: qty(1)})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDraftOnlyEdits(t *testing.T) {
	f := newFixture(t)
	a := f.store.AddProduct("Cable", "m", 10)
	slip := f.retail(t, LineInput{ProductID: ptr(a.ID), Uom: "m", Quantity: qty(1)})
	ctx := context.Background()

	line, err := f.svc.UpdateLine(ctx, slip.ID, slip.Lines[0].ID, LineInput{ProductID: ptr(a.ID), Uom: "m", Quantity: qty(3)})
	require.NoError(t, err)
	require.True(t, line.Quantity.Equal(qty(3)))
	require.True(t, f.store.OnHand(a.ID).Equal(qty(10)))

	_, err = f.svc.Confirm(ctx, slip.ID, 1)
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctx, slip.ID, 1)
	require.ErrorIs(t, err, shared.ErrInvalidState)
	_, err = f.svc.AddLine(ctx, slip.ID, LineInput{ProductID: ptr(a.ID), Uom: "m", Quantity: qty(1)})
	require.ErrorIs(t, err, shared.ErrInvalidState)
	require.ErrorIs(t, f.svc.DeleteLine(ctx, slip.ID, line.ID), shared.ErrInvalidState)
	require.ErrorIs(t, f.svc.Delete(ctx, slip.ID, 1), shared.ErrInvalidState)
	require.True(t, f.store.OnHand(a.ID).Equal(qty(7)))

	empty := f.retail(t)
	_, err = f.svc.Confirm(ctx, empty.ID, 1)
	require.ErrorIs(t, err, shared.ErrEmptySlip)
	require.NoError(t, f.svc.Delete(ctx, empty.ID, 1))
	_, err = f.svc.Get(ctx, empty.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestOutboundReportByKind(t *testing.T) {
	f := newFixture(t)
	a := f.store.AddProduct("Cable", "m", 100)
	ctx := context.Background()

	r := f.retail(t, LineInput{ProductID: ptr(a.ID), Uom: "m", Quantity: qty(2), UnitPrice: qty(10)})
	p := f.project(t, LineInput{ProductID: ptr(a.ID), Uom: "m", Quantity: qty(5), UnitPrice: qty(10)})
	f.retail(t, LineInput{ProductID: ptr(a.ID), Uom: "m", Quantity: qty(9)})
	for _, id := range []int64{r.ID, p.ID} {
		_, err := f.svc.Confirm(ctx, id, 1)
		require.NoError(t, err)
	}

	rows, totals, page, err := f.svc.Report(ctx, ReportFilter{From: slipDate, To: slipDate})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, 2, page.Total)
	require.True(t, totals.Quantity.Equal(qty(7)))
	require.True(t, totals.Value.Equal(qty(70)))

	rows, _, _, err = f.svc.Report(ctx, ReportFilter{Kind: KindProject, From: slipDate, To: slipDate})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "Tower A", rows[0].Partner)

	rows, _, _, err = f.svc.Report(ctx, ReportFilter{From: slipDate, To: slipDate.AddDate(0, 0, -1)})
	require.NoError(t, err)
	require.Empty(t, rows)

	_, _, _, err = f.svc.Report(ctx, ReportFilter{Kind: "GIFT"})
	require.ErrorIs(t, err, shared.ErrValidation)

	all, err := f.svc.WeeklySummary(ctx, "")
	require.NoError(t, err)
	require.Equal(t, 2, all.CurrentWeek)
	retail, err := f.svc.WeeklySummary(ctx, KindRetail)
	require.NoError(t, err)
	require.Equal(t, 1, retail.CurrentWeek)
}

func TestSlipJSONFlattensParty(t *testing.T) {
	slip := Slip{ID: 3, ReferenceNo: "DSP-PRJ-00003", Party: Project{ProjectID: 4, ProjectName: "Tower A"}, Status: inventory.StatusDraft}
	raw, err := json.Marshal(slip)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Equal(t, "PROJECT", out["kind"])
	require.Equal(t, float64(4), out["project_id"])
	require.Equal(t, "Tower A", out["project_name"])
	require.NotContains(t, out, "customer_id")
	require.Equal(t, []any{}, out["lines"])
}

type countingObserver struct {
	mu      sync.Mutex
	results map[string]int
}

func (o *countingObserver) ObserveConfirmation(_ string, result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.results == nil {
		o.results = make(map[string]int)
	}
	o.results[result]++
}
