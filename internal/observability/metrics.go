package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets  = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	quoteDurationBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5}
	bodySizeBuckets      = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments of the service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Rule authoring metrics
	PublishAttemptsTotal    *prometheus.CounterVec
	ValidationFailuresTotal *prometheus.CounterVec
	DiagnosticWarningsTotal *prometheus.CounterVec
	BulkUploadRowsTotal     *prometheus.CounterVec

	// Charge entry metrics
	QuotesTotal            *prometheus.CounterVec
	QuoteDuration          prometheus.Histogram
	EntriesSubmittedTotal  *prometheus.CounterVec
	ApprovalDecisionsTotal *prometheus.CounterVec

	// Cache metrics
	CapabilityCacheHitsTotal   prometheus.Counter
	CapabilityCacheMissesTotal prometheus.Counter
	IdempotencyHitsTotal       *prometheus.CounterVec

	// System metrics
	CatalogLoadTotal  *prometheus.CounterVec
	ChargesLoaded     prometheus.Gauge
	RulesExpiredTotal prometheus.Counter
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chargecfg_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chargecfg_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chargecfg_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chargecfg_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Rule authoring
		PublishAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chargecfg_publish_attempts_total",
			Help: "Total number of rule publish attempts by outcome.",
		}, []string{"charge_code", "outcome"}),
		ValidationFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chargecfg_validation_failures_total",
			Help: "Total number of validation messages that blocked an operation.",
		}, []string{"source"}),
		DiagnosticWarningsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chargecfg_diagnostic_warnings_total",
			Help: "Total number of structural warnings reported for rule sets.",
		}, []string{"code"}),
		BulkUploadRowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chargecfg_bulk_upload_rows_total",
			Help: "Total number of bulk upload rows by validation status.",
		}, []string{"status"}),

		// Charge entries
		QuotesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chargecfg_quotes_total",
			Help: "Total number of charge computations by outcome.",
		}, []string{"charge_code", "outcome"}),
		QuoteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chargecfg_quote_duration_seconds",
			Help:    "Rule matching and pricing duration in seconds.",
			Buckets: quoteDurationBuckets,
		}),
		EntriesSubmittedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chargecfg_entries_submitted_total",
			Help: "Total number of charge entries submitted by resulting status.",
		}, []string{"charge_code", "status"}),
		ApprovalDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chargecfg_approval_decisions_total",
			Help: "Total number of approval decisions.",
		}, []string{"level", "decision"}),

		// Cache
		CapabilityCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chargecfg_capability_cache_hits_total",
			Help: "Total capability cache hits.",
		}),
		CapabilityCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chargecfg_capability_cache_misses_total",
			Help: "Total capability cache misses.",
		}),
		IdempotencyHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chargecfg_idempotency_hits_total",
			Help: "Total number of requests answered from the idempotency store.",
		}, []string{"operation"}),

		// System
		CatalogLoadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chargecfg_catalog_load_total",
			Help: "Total catalogue loads by status.",
		}, []string{"status"}),
		ChargesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chargecfg_charges_loaded",
			Help: "Number of charges in the catalogue.",
		}),
		RulesExpiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chargecfg_rules_expired_total",
			Help: "Total number of rules marked expired.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Rule authoring
		m.PublishAttemptsTotal,
		m.ValidationFailuresTotal,
		m.DiagnosticWarningsTotal,
		m.BulkUploadRowsTotal,
		// Charge entries
		m.QuotesTotal,
		m.QuoteDuration,
		m.EntriesSubmittedTotal,
		m.ApprovalDecisionsTotal,
		// Cache
		m.CapabilityCacheHitsTotal,
		m.CapabilityCacheMissesTotal,
		m.IdempotencyHitsTotal,
		// System
		m.CatalogLoadTotal,
		m.ChargesLoaded,
		m.RulesExpiredTotal,
	)

	return m
}

// --- Recording helpers ---
//
// Every helper is safe to call on a nil *Metrics so that services can run
// without metrics in tests.

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	if m == nil {
		return
	}
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordPublish records a publish attempt. Blocked attempts also count their
// validation messages.
func (m *Metrics) RecordPublish(chargeCode, outcome string, messages int) {
	if m == nil {
		return
	}
	m.PublishAttemptsTotal.WithLabelValues(chargeCode, outcome).Inc()
	if messages > 0 {
		m.ValidationFailuresTotal.WithLabelValues("publish").Add(float64(messages))
	}
}

// RecordValidationFailures records blocking validation messages of source.
func (m *Metrics) RecordValidationFailures(source string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.ValidationFailuresTotal.WithLabelValues(source).Add(float64(count))
}

// RecordDiagnosticWarning records a structural warning.
func (m *Metrics) RecordDiagnosticWarning(code string) {
	if m == nil {
		return
	}
	m.DiagnosticWarningsTotal.WithLabelValues(code).Inc()
}

// RecordBulkUploadRows records validated bulk upload rows by status.
func (m *Metrics) RecordBulkUploadRows(status string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.BulkUploadRowsTotal.WithLabelValues(status).Add(float64(count))
}

// RecordQuote records a charge computation.
func (m *Metrics) RecordQuote(chargeCode, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.QuotesTotal.WithLabelValues(chargeCode, outcome).Inc()
	m.QuoteDuration.Observe(duration.Seconds())
}

// RecordEntrySubmitted records a submitted charge entry.
func (m *Metrics) RecordEntrySubmitted(chargeCode, status string) {
	if m == nil {
		return
	}
	m.EntriesSubmittedTotal.WithLabelValues(chargeCode, status).Inc()
}

// RecordApprovalDecision records an approve or reject decision.
func (m *Metrics) RecordApprovalDecision(level, decision string) {
	if m == nil {
		return
	}
	m.ApprovalDecisionsTotal.WithLabelValues(level, decision).Inc()
}

// RecordCapabilityCacheHit records a capability cache hit.
func (m *Metrics) RecordCapabilityCacheHit() {
	if m == nil {
		return
	}
	m.CapabilityCacheHitsTotal.Inc()
}

// RecordCapabilityCacheMiss records a capability cache miss.
func (m *Metrics) RecordCapabilityCacheMiss() {
	if m == nil {
		return
	}
	m.CapabilityCacheMissesTotal.Inc()
}

// RecordIdempotencyHit records a request answered from the idempotency store.
func (m *Metrics) RecordIdempotencyHit(operation string) {
	if m == nil {
		return
	}
	m.IdempotencyHitsTotal.WithLabelValues(operation).Inc()
}

// RecordCatalogLoad records a catalogue load and the resulting charge count.
func (m *Metrics) RecordCatalogLoad(status string, charges int) {
	if m == nil {
		return
	}
	m.CatalogLoadTotal.WithLabelValues(status).Inc()
	if status == "success" {
		m.ChargesLoaded.Set(float64(charges))
	}
}

// RecordRulesExpired records rules marked expired.
func (m *Metrics) RecordRulesExpired(count int) {
	if m == nil || count == 0 {
		return
	}
	m.RulesExpiredTotal.Add(float64(count))
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
