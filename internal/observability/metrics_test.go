package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := InitMetrics(reg)
	return m, reg
}

func TestInitMetrics_registersAllMetrics(t *testing.T) {
	m, reg := newTestMetrics(t)
	if m == nil {
		t.Fatal("InitMetrics returned nil")
	}

	expected := []string{
		"chargecfg_http_requests_total",
		"chargecfg_http_request_duration_seconds",
		"chargecfg_http_request_size_bytes",
		"chargecfg_http_response_size_bytes",
		"chargecfg_publish_attempts_total",
		"chargecfg_validation_failures_total",
		"chargecfg_diagnostic_warnings_total",
		"chargecfg_bulk_upload_rows_total",
		"chargecfg_quotes_total",
		"chargecfg_quote_duration_seconds",
		"chargecfg_entries_submitted_total",
		"chargecfg_approval_decisions_total",
		"chargecfg_capability_cache_hits_total",
		"chargecfg_capability_cache_misses_total",
		"chargecfg_idempotency_hits_total",
		"chargecfg_catalog_load_total",
		"chargecfg_charges_loaded",
		"chargecfg_rules_expired_total",
	}

	// Record a value for each metric so they appear in Gather.
	m.RecordHTTPRequest("GET", "/test", 200, time.Millisecond, 0, 100)
	m.RecordPublish("TOLL", "blocked", 2)
	m.RecordValidationFailures("bulk", 1)
	m.RecordDiagnosticWarning("OVERLAP")
	m.RecordBulkUploadRows("Success", 3)
	m.RecordQuote("TOLL", "matched", time.Millisecond)
	m.RecordEntrySubmitted("TOLL", "Pending")
	m.RecordApprovalDecision("L1", "approved")
	m.RecordCapabilityCacheHit()
	m.RecordCapabilityCacheMiss()
	m.RecordIdempotencyHit("publish")
	m.RecordCatalogLoad("success", 5)
	m.RecordRulesExpired(2)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	for _, name := range expected {
		if !names[name] {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordHTTPRequest("GET", "/charges/{code}", 200, 50*time.Millisecond, 0, 1024)
	m.RecordHTTPRequest("GET", "/charges/{code}", 200, 100*time.Millisecond, 0, 2048)
	m.RecordHTTPRequest("POST", "/drafts/{id}/publish", 422, 200*time.Millisecond, 512, 256)

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/charges/{code}", "200"))
	if val != 2 {
		t.Errorf("GET requests = %v, want 2", val)
	}
	val = testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/drafts/{id}/publish", "422"))
	if val != 1 {
		t.Errorf("POST requests = %v, want 1", val)
	}
}

func TestRecordPublish(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordPublish("UNLOAD", "published", 0)
	m.RecordPublish("UNLOAD", "blocked", 3)

	if v := testutil.ToFloat64(m.PublishAttemptsTotal.WithLabelValues("UNLOAD", "published")); v != 1 {
		t.Errorf("published = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.PublishAttemptsTotal.WithLabelValues("UNLOAD", "blocked")); v != 1 {
		t.Errorf("blocked = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.ValidationFailuresTotal.WithLabelValues("publish")); v != 3 {
		t.Errorf("publish validation failures = %v, want 3", v)
	}
}

func TestRecordBulkUploadRows(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordBulkUploadRows("Success", 4)
	m.RecordBulkUploadRows("Error", 1)
	m.RecordBulkUploadRows("Warning", 0)

	if v := testutil.ToFloat64(m.BulkUploadRowsTotal.WithLabelValues("Success")); v != 4 {
		t.Errorf("success rows = %v, want 4", v)
	}
	if v := testutil.ToFloat64(m.BulkUploadRowsTotal.WithLabelValues("Error")); v != 1 {
		t.Errorf("error rows = %v, want 1", v)
	}
}

func TestRecordApprovalDecision(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordApprovalDecision("L1", "approved")
	m.RecordApprovalDecision("L1", "approved")
	m.RecordApprovalDecision("L2", "rejected")

	if v := testutil.ToFloat64(m.ApprovalDecisionsTotal.WithLabelValues("L1", "approved")); v != 2 {
		t.Errorf("L1 approved = %v, want 2", v)
	}
	if v := testutil.ToFloat64(m.ApprovalDecisionsTotal.WithLabelValues("L2", "rejected")); v != 1 {
		t.Errorf("L2 rejected = %v, want 1", v)
	}
}

func TestRecordCapabilityCache(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordCapabilityCacheHit()
	m.RecordCapabilityCacheHit()
	m.RecordCapabilityCacheMiss()

	if v := testutil.ToFloat64(m.CapabilityCacheHitsTotal); v != 2 {
		t.Errorf("cache hits = %v, want 2", v)
	}
	if v := testutil.ToFloat64(m.CapabilityCacheMissesTotal); v != 1 {
		t.Errorf("cache misses = %v, want 1", v)
	}
}

func TestRecordCatalogLoad(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordCatalogLoad("success", 5)
	m.RecordCatalogLoad("failure", 0)

	if v := testutil.ToFloat64(m.ChargesLoaded); v != 5 {
		t.Errorf("charges loaded = %v, want 5 (failures must not reset the gauge)", v)
	}
	if v := testutil.ToFloat64(m.CatalogLoadTotal.WithLabelValues("failure")); v != 1 {
		t.Errorf("failed loads = %v, want 1", v)
	}
}

func TestRecordQuote(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordQuote("TOLL", "matched", 2*time.Millisecond)
	m.RecordQuote("TOLL", "not_matched", time.Millisecond)

	if v := testutil.ToFloat64(m.QuotesTotal.WithLabelValues("TOLL", "matched")); v != 1 {
		t.Errorf("matched quotes = %v, want 1", v)
	}
	if count := testutil.CollectAndCount(m.QuoteDuration); count == 0 {
		t.Error("expected quote duration histogram to have observations")
	}
}

func TestMetrics_nilReceiver(t *testing.T) {
	var m *Metrics
	m.RecordHTTPRequest("GET", "/", 200, time.Millisecond, 0, 0)
	m.RecordPublish("X", "published", 0)
	m.RecordBulkUploadRows("Success", 1)
	m.RecordApprovalDecision("L1", "approved")
	m.RecordIdempotencyHit("publish")
	m.RecordRulesExpired(1)
}

func TestMetricsMiddleware_recordsRequestMetrics(t *testing.T) {
	m, _ := newTestMetrics(t)

	// Build a chi router so route patterns are captured.
	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Get("/charges/{code}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	req := httptest.NewRequest(http.MethodGet, "/charges/TOLL", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	// Verify metrics were recorded with the route pattern, not the actual path.
	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/charges/{code}", "200"))
	if val != 1 {
		t.Errorf("requests total = %v, want 1", val)
	}
}

func TestMetricsMiddleware_capturesResponseSize(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("healthy"))
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	// Response size should have been recorded.
	count := testutil.CollectAndCount(m.HTTPResponseSizeBytes)
	if count == 0 {
		t.Error("expected response size histogram to have observations")
	}
}

func TestMetricsMiddleware_capturesStatusCode(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Post("/drafts/{id}/publish", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	req := httptest.NewRequest(http.MethodPost, "/drafts/d-1/publish", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/drafts/{id}/publish", "400"))
	if val != 1 {
		t.Errorf("400 requests = %v, want 1", val)
	}
}

func TestMetricsMiddleware_fallsBackToPath(t *testing.T) {
	m, _ := newTestMetrics(t)

	// Use middleware directly without chi router.
	handler := m.MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/raw/path", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	// Without chi, should fall back to raw path.
	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/raw/path", "200"))
	if val != 1 {
		t.Errorf("raw path requests = %v, want 1", val)
	}
}

func TestHandler_servesMetrics(t *testing.T) {
	handler := Handler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	// Prometheus handler should return at least go runtime metrics.
	if !strings.Contains(body, "go_") {
		t.Error("metrics response should contain go runtime metrics")
	}
}

func TestHistogramBuckets(t *testing.T) {
	// Verify bucket configurations are correct.
	if len(httpDurationBuckets) != 11 {
		t.Errorf("httpDurationBuckets length = %d, want 11", len(httpDurationBuckets))
	}
	if len(quoteDurationBuckets) != 7 {
		t.Errorf("quoteDurationBuckets length = %d, want 7", len(quoteDurationBuckets))
	}
	if len(bodySizeBuckets) != 5 {
		t.Errorf("bodySizeBuckets length = %d, want 5", len(bodySizeBuckets))
	}

	// Verify buckets are sorted ascending.
	for i := 1; i < len(httpDurationBuckets); i++ {
		if httpDurationBuckets[i] <= httpDurationBuckets[i-1] {
			t.Errorf("httpDurationBuckets not sorted at index %d", i)
		}
	}
}
