package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/stockledger/backoffice/internal/inventory"
)

var _ inventory.ConfirmObserver = (*Metrics)(nil)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsHandlerExposesStockMetrics(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObserveConfirmation("outbound", inventory.ResultInsufficient)
	metrics.ObserveConfirmation("outbound", inventory.ResultInsufficient)
	metrics.SetDriftProducts(3)
	metrics.SetLowStockProducts(2)

	body := scrape(t, metrics)
	require.Contains(t, body, "stockledger_low_stock_products 2")
	require.Contains(t, body, "go_goroutines")
	require.Contains(t, body, `stockledger_slip_confirmations_total{family="outbound",result="insufficient_stock"} 2`)
	require.Contains(t, body, "stockledger_onhand_drift_products 3")
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	if !strings.Contains(body, "http_requests_total{code=\"418\",route=\"/test\"} 1") {
		t.Fatalf("expected metrics to record request, got: %s", body)
	}
	require.Contains(t, body, "http_request_duration_seconds_bucket{route=\"/test\"")
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObserveConfirmation("inbound", "confirmed")
	m.SetDriftProducts(1)
	m.SetLowStockProducts(1)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
