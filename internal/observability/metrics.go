package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	allocations    *prometheus.CounterVec
	allocatedQty   *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	putAwayRecords *prometheus.CounterVec
	summaryCache   *prometheus.CounterVec
}

// NewMetrics menginisialisasi registry dan metrik dasar.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	allocations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_warehouse_allocations_total",
		Help: "Permintaan alokasi stok per mode dan hasil.",
	}, []string{"mode", "outcome"})
	allocatedQty := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_warehouse_allocated_qty_total",
		Help: "Kuantitas yang dialokasikan per mode.",
	}, []string{"mode"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_warehouse_status_transitions_total",
		Help: "Perubahan status LPN per status asal, tujuan dan hasil.",
	}, []string{"from", "to", "outcome"})
	putAway := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_warehouse_putaway_records_total",
		Help: "Item put-away yang dibuat atau dilewati.",
	}, []string{"outcome"})
	summaryCache := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_warehouse_summary_cache_total",
		Help: "Hit dan miss cache ringkasan stok.",
	}, []string{"result"})
	registry.MustRegister(requests, duration, allocations, allocatedQty, transitions, putAway, summaryCache)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		allocations:     allocations,
		allocatedQty:    allocatedQty,
		transitions:     transitions,
		putAwayRecords:  putAway,
		summaryCache:    summaryCache,
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

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// ObserveAllocation mencatat satu permintaan alokasi.
func (m *Metrics) ObserveAllocation(mode, outcome string, qty float64) {
	if m == nil {
		return
	}
	m.allocations.WithLabelValues(mode, outcome).Inc()
	if qty > 0 {
		m.allocatedQty.WithLabelValues(mode).Add(qty)
	}
}

// ObserveTransition mencatat satu perubahan status.
func (m *Metrics) ObserveTransition(from, to, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to, outcome).Inc()
}

// ObservePutAway mencatat jumlah item put-away.
func (m *Metrics) ObservePutAway(created, skipped int) {
	if m == nil {
		return
	}
	m.putAwayRecords.WithLabelValues("created").Add(float64(created))
	m.putAwayRecords.WithLabelValues("skipped").Add(float64(skipped))
}

// ObserveSummaryCache mencatat hit atau miss cache ringkasan.
func (m *Metrics) ObserveSummaryCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.summaryCache.WithLabelValues(result).Inc()
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
