package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/pitabwire/chargecfg/internal/config"
)

// recordSpans installs an always-sampling provider that records ended spans
// in memory for the duration of the test.
func recordSpans(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := newTracerProvider(sdktrace.WithSyncer(exporter), resource.Empty(), sdktrace.AlwaysSample())

	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
	return exporter
}

func onlySpan(t *testing.T, exporter *tracetest.InMemoryExporter) tracetest.SpanStub {
	t.Helper()
	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	return spans[0]
}

func spanAttrs(s tracetest.SpanStub) map[string]string {
	m := make(map[string]string, len(s.Attributes))
	for _, a := range s.Attributes {
		m[string(a.Key)] = a.Value.Emit()
	}
	return m
}

// tracedRouter mirrors the service layout: tracing wraps a group whose
// routes carry URL parameters.
func tracedRouter(status int) http.Handler {
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(TracingMiddleware)
		reply := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(status) }
		r.Post("/charges/{code}/quote", reply)
		r.Post("/drafts/{id}/publish", reply)
		r.Post("/entries/{id}/approve", reply)
		r.Get("/reference", reply)
	})
	return r
}

func TestInitTracing(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.TracingConfig
		wantErr bool
	}{
		{name: "disabled", cfg: config.TracingConfig{}},
		{name: "stdout", cfg: config.TracingConfig{Enabled: true, Exporter: "stdout", SamplingRate: 1}},
		{name: "unknown exporter", cfg: config.TracingConfig{Enabled: true, Exporter: "zipkin"}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			prev := otel.GetTracerProvider()
			t.Cleanup(func() { otel.SetTracerProvider(prev) })

			shutdown, err := InitTracing(context.Background(), tc.cfg, ServiceName, "test")
			if tc.wantErr {
				if err == nil {
					t.Fatal("InitTracing() should fail")
				}
				return
			}
			if err != nil {
				t.Fatalf("InitTracing() error = %v", err)
			}
			if err := shutdown(context.Background()); err != nil {
				t.Errorf("shutdown() error = %v", err)
			}
		})
	}
}

func TestNewSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{rate: 0, want: "TraceIDRatioBased{0.1}"},
		{rate: -3, want: "TraceIDRatioBased{0.1}"},
		{rate: 0.5, want: "TraceIDRatioBased{0.5}"},
		{rate: 1, want: "AlwaysOnSampler"},
		{rate: 4, want: "AlwaysOnSampler"},
	}
	for _, tc := range tests {
		desc := newSampler(config.TracingConfig{SamplingRate: tc.rate}).Description()
		if !strings.HasPrefix(desc, "ParentBased{root:"+tc.want) {
			t.Errorf("rate %v: sampler = %s, want root %s", tc.rate, desc, tc.want)
		}
	}
}

func TestStartSpan_nestsUnderParent(t *testing.T) {
	exporter := recordSpans(t)

	ctx, parent := StartSpan(context.Background(), "draft.publish", AttrDraftID.String("d-1"))
	_, child := StartSpan(ctx, "rules.validate_for_publish")
	child.End()
	parent.End()

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	if spans[0].Parent.SpanID() != spans[1].SpanContext.SpanID() {
		t.Error("child should be parented to draft.publish")
	}
	if spanAttrs(spans[1])[string(AttrDraftID)] != "d-1" {
		t.Errorf("attrs = %v", spanAttrs(spans[1]))
	}
}

func TestEndSpanWithError(t *testing.T) {
	exporter := recordSpans(t)

	_, ok := StartSpan(context.Background(), "approval.quote")
	EndSpanWithError(ok, nil)
	_, failed := StartSpan(context.Background(), "bulkupload.apply")
	EndSpanWithError(failed, errors.New("registry unavailable"))

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	if spans[0].Status.Code == codes.Error {
		t.Error("nil error should leave the status unset")
	}
	if spans[1].Status.Code != codes.Error || spans[1].Status.Description != "registry unavailable" {
		t.Errorf("status = %+v", spans[1].Status)
	}
	if len(spans[1].Events) != 1 {
		t.Errorf("events = %d, want the recorded error", len(spans[1].Events))
	}
}

func TestTraceIDFromContext(t *testing.T) {
	recordSpans(t)

	if got := TraceIDFromContext(context.Background()); got != "" {
		t.Errorf("TraceIDFromContext() = %q, want empty without a span", got)
	}
	ctx, span := StartSpan(context.Background(), "op")
	defer span.End()
	if got := TraceIDFromContext(ctx); got != span.SpanContext().TraceID().String() {
		t.Errorf("TraceIDFromContext() = %q", got)
	}
}

func TestTracingMiddleware_namesSpanByRoute(t *testing.T) {
	tests := []struct {
		method, path string
		wantName     string
		wantAttrs    map[string]string
	}{
		{
			method:    http.MethodPost,
			path:      "/charges/TOLL/quote",
			wantName:  "POST /charges/{code}/quote",
			wantAttrs: map[string]string{string(AttrChargeCode): "TOLL", "url.path": "/charges/TOLL/quote"},
		},
		{
			method:    http.MethodPost,
			path:      "/drafts/d-7/publish",
			wantName:  "POST /drafts/{id}/publish",
			wantAttrs: map[string]string{string(AttrDraftID): "d-7"},
		},
		{
			method:    http.MethodPost,
			path:      "/entries/e-9/approve",
			wantName:  "POST /entries/{id}/approve",
			wantAttrs: map[string]string{string(AttrEntryID): "e-9"},
		},
		{
			method:   http.MethodGet,
			path:     "/reference",
			wantName: "GET /reference",
		},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			exporter := recordSpans(t)

			tracedRouter(http.StatusOK).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tc.method, tc.path, nil))

			s := onlySpan(t, exporter)
			if s.Name != tc.wantName {
				t.Errorf("name = %q, want %q", s.Name, tc.wantName)
			}
			if s.SpanKind != trace.SpanKindServer {
				t.Errorf("kind = %v, want server", s.SpanKind)
			}
			attrs := spanAttrs(s)
			for k, v := range tc.wantAttrs {
				if attrs[k] != v {
					t.Errorf("%s = %q, want %q", k, attrs[k], v)
				}
			}
			if attrs["http.response.status_code"] != "200" {
				t.Errorf("status attr = %q", attrs["http.response.status_code"])
			}
		})
	}
}

func TestTracingMiddleware_serverErrorMarksSpan(t *testing.T) {
	exporter := recordSpans(t)

	tracedRouter(http.StatusInternalServerError).ServeHTTP(httptest.NewRecorder(),
		httptest.NewRequest(http.MethodPost, "/drafts/d-1/publish", nil))

	if s := onlySpan(t, exporter); s.Status.Code != codes.Error {
		t.Errorf("status = %v, want error", s.Status.Code)
	}
}

func TestTracingMiddleware_clientErrorLeavesStatus(t *testing.T) {
	exporter := recordSpans(t)

	tracedRouter(http.StatusUnprocessableEntity).ServeHTTP(httptest.NewRecorder(),
		httptest.NewRequest(http.MethodPost, "/charges/DETENTION/quote", nil))

	s := onlySpan(t, exporter)
	if s.Status.Code == codes.Error {
		t.Error("4xx should not mark the span as failed")
	}
	if spanAttrs(s)["http.response.status_code"] != "422" {
		t.Errorf("attrs = %v", spanAttrs(s))
	}
}

func TestTracingMiddleware_continuesInboundTrace(t *testing.T) {
	exporter := recordSpans(t)

	const traceID = "0af7651916cd43dd8448eb211c80319c"
	const parentID = "b7ad6b7169203331"
	req := httptest.NewRequest(http.MethodGet, "/reference", nil)
	req.Header.Set("Traceparent", "00-"+traceID+"-"+parentID+"-01")
	rec := httptest.NewRecorder()

	tracedRouter(http.StatusOK).ServeHTTP(rec, req)

	s := onlySpan(t, exporter)
	if s.SpanContext.TraceID().String() != traceID {
		t.Errorf("trace ID = %s, want %s", s.SpanContext.TraceID(), traceID)
	}
	if s.Parent.SpanID().String() != parentID {
		t.Errorf("parent = %s, want %s", s.Parent.SpanID(), parentID)
	}
	if tp := rec.Header().Get("Traceparent"); !strings.Contains(tp, traceID) {
		t.Errorf("response Traceparent = %q, want the same trace", tp)
	}
}
