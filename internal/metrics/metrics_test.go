package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.opentelemetry.io/otel/trace"

	"github.com/saddlebagexchange/saddlebag-web/internal/version"
)

func family(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func labelsOf(m *dto.Metric) map[string]string {
	out := map[string]string{}
	for _, lp := range m.GetLabel() {
		out[lp.GetName()] = lp.GetValue()
	}
	return out
}

// counter sums every series of name whose labels include want.
func counter(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	mf := family(t, reg, name)
	if mf == nil {
		return 0
	}
	var sum float64
outer:
	for _, m := range mf.GetMetric() {
		got := labelsOf(m)
		for k, v := range want {
			if got[k] != v {
				continue outer
			}
		}
		sum += m.GetCounter().GetValue()
	}
	return sum
}

func TestNew_IsolatedRegistries(t *testing.T) {
	a, b := New(), New()
	a.IncHttpPanic()
	if counter(t, b.Registry(), "http_panic_total", nil) != 0 {
		t.Fatal("registries share state")
	}
	if counter(t, a.Registry(), "http_panic_total", nil) != 1 {
		t.Fatal("panic counter not incremented")
	}
}

func TestHandler_Scrape(t *testing.T) {
	m := New()
	m.IncRateLimitDenied()
	m.IncSanitizeFailure()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"go_goroutines", "http_requests_rate_limited_total 1", "html_sanitize_failures_total 1"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestSetBuildInfoFromVersion(t *testing.T) {
	m := New()
	dirty := true
	m.SetBuildInfoFromVersion("saddlebag-web", "server", &version.Info{Version: "1.2.3", Commit: "abc", VCSDirty: &dirty})
	mf := family(t, m.Registry(), "build_info")
	if mf == nil || len(mf.GetMetric()) != 1 {
		t.Fatal("build_info missing")
	}
	l := labelsOf(mf.GetMetric()[0])
	if l["version"] != "1.2.3" || l["vcs_dirty"] != "true" || l["component"] != "server" {
		t.Fatalf("labels = %v", l)
	}

	m2 := New()
	m2.SetBuildInfoFromVersion("a", "b", &version.Info{})
	if labelsOf(family(t, m2.Registry(), "build_info").GetMetric()[0])["vcs_dirty"] != "unknown" {
		t.Fatal("nil VCSDirty should be unknown")
	}
}

func TestObserveUpstreamCall(t *testing.T) {
	m := New()
	m.ObserveUpstreamCall("/scan/", "ok", 1, 120*time.Millisecond)
	m.ObserveUpstreamCall("/scan/", "status", 2, time.Second)

	reg := m.Registry()
	if v := counter(t, reg, "upstream_calls_total", map[string]string{"endpoint": "/scan/", "outcome": "ok"}); v != 1 {
		t.Fatalf("ok calls = %v", v)
	}
	if v := counter(t, reg, "upstream_retries_total", map[string]string{"endpoint": "/scan/"}); v != 1 {
		t.Fatalf("retries = %v", v)
	}
	h := family(t, reg, "upstream_call_duration_seconds").GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Fatalf("duration samples = %d", h.GetSampleCount())
	}
}

func TestFormAndNoResultCounters(t *testing.T) {
	m := New()
	m.IncFormRejected("/scan")
	m.IncNoResults("/scan", "empty")
	m.IncNoResults("/scan", "missing_envelope")
	reg := m.Registry()
	if counter(t, reg, "form_validation_failures_total", map[string]string{"route": "/scan"}) != 1 {
		t.Fatal("form rejections not counted")
	}
	if counter(t, reg, "upstream_no_results_total", map[string]string{"route": "/scan"}) != 2 {
		t.Fatal("no-result answers not counted")
	}
}

func TestSetStaticDocument_ReplacesPrevious(t *testing.T) {
	m := New()
	m.SetStaticDocument("openapi", "file", "aaa")
	m.SetStaticDocument("openapi", "s3", "bbb")
	m.SetStaticDocument("favicon", "embedded", "ccc")
	mf := family(t, m.Registry(), "static_document_info")
	if len(mf.GetMetric()) != 2 {
		t.Fatalf("series = %d, want 2", len(mf.GetMetric()))
	}
	for _, s := range mf.GetMetric() {
		if l := labelsOf(s); l["document"] == "openapi" && l["source"] != "s3" {
			t.Fatalf("stale openapi series: %v", l)
		}
	}
}

func TestSetProfilingActive(t *testing.T) {
	m := New()
	m.SetProfilingActive(true)
	if family(t, m.Registry(), "profiling_active").GetMetric()[0].GetGauge().GetValue() != 1 {
		t.Fatal("want 1")
	}
	m.SetProfilingActive(false)
	if family(t, m.Registry(), "profiling_active").GetMetric()[0].GetGauge().GetValue() != 0 {
		t.Fatal("want 0")
	}
}

func TestMiddleware_RoutePatternLabels(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("abc")) })
	r.Post("/scan", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) })
	h := m.Middleware(r)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/items/1", http.NoBody))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/items/2", http.NoBody))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/scan", http.NoBody))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/random/garbage", http.NoBody))

	reg := m.Registry()
	if v := counter(t, reg, "http_requests_total", map[string]string{"route": "/items/{id}", "status": "200"}); v != 2 {
		t.Fatalf("/items/{id} count = %v", v)
	}
	if v := counter(t, reg, "http_errors_total", map[string]string{"route": "/scan", "method": "POST"}); v != 1 {
		t.Fatalf("5xx count = %v", v)
	}
	if v := counter(t, reg, "http_requests_total", map[string]string{"route": unmatchedRoute, "status": "404"}); v != 1 {
		t.Fatalf("unmatched count = %v", v)
	}
	for _, s := range family(t, reg, "http_requests_total").GetMetric() {
		if strings.Contains(labelsOf(s)["route"], "garbage") {
			t.Fatal("raw path used as a label")
		}
	}
}

func TestMiddleware_NoWriteIs200(t *testing.T) {
	m := New()
	m.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if counter(t, m.Registry(), "http_requests_total", map[string]string{"status": "200"}) != 1 {
		t.Fatal("implicit 200 not recorded")
	}
}

func TestTraceExemplar(t *testing.T) {
	tid, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	sid, _ := trace.SpanIDFromHex("0102030405060708")

	sampled := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: tid, SpanID: sid, TraceFlags: trace.FlagsSampled,
	}))
	if ex := traceExemplar(sampled); ex["trace_id"] != tid.String() {
		t.Fatalf("exemplar = %v", ex)
	}

	unsampled := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: tid, SpanID: sid,
	}))
	if traceExemplar(unsampled) != nil || traceExemplar(context.Background()) != nil {
		t.Fatal("exemplar for unsampled or missing trace")
	}
}
