package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	confirmations   *prometheus.CounterVec
	driftProducts   prometheus.Gauge
	lowStock        prometheus.Gauge
}

// NewMetrics menginisialisasi registry dengan metrik HTTP, stok, serta
// collector runtime Go dan proses.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockledger_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	confirmations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_slip_confirmations_total",
		Help: "Slip confirmation attempts by slip family and result.",
	}, []string{"family", "result"})
	drift := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stockledger_onhand_drift_products",
		Help: "Products whose cached on-hand differs from the confirmed ledger.",
	})
	lowStock := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stockledger_low_stock_products",
		Help: "Products in the alert or critical bucket at the latest low-stock scan.",
	})
	registry.MustRegister(requests, duration, confirmations, drift, lowStock)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		confirmations:   confirmations,
		driftProducts:   drift,
		lowStock:        lowStock,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveConfirmation counts one confirm attempt. family is inbound or
// outbound.
func (m *Metrics) ObserveConfirmation(family, result string) {
	if m == nil {
		return
	}
	m.confirmations.WithLabelValues(family, result).Inc()
}

// SetDriftProducts records the size of the latest drift scan.
func (m *Metrics) SetDriftProducts(n int) {
	if m == nil {
		return
	}
	m.driftProducts.Set(float64(n))
}

// SetLowStockProducts records how many products the low-stock scan flagged.
func (m *Metrics) SetLowStockProducts(n int) {
	if m == nil {
		return
	}
	m.lowStock.Set(float64(n))
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
