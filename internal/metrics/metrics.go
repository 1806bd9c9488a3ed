package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/saddlebagexchange/saddlebag-web/internal/version"
)

// ServerMetrics owns a private registry; nothing is registered globally.
type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	inflight        prometheus.Gauge
	reqTotal        *prometheus.CounterVec
	reqDur          *prometheus.HistogramVec
	respBytes       *prometheus.HistogramVec
	errorsTotal     *prometheus.CounterVec
	httpPanicTotal  prometheus.Counter
	buildInfo       *prometheus.GaugeVec
	profilingActive prometheus.Gauge

	ratelimitDeniedTotal   prometheus.Counter
	ratelimitCapacityTotal prometheus.Counter

	upstreamCalls    *prometheus.CounterVec
	upstreamDur      *prometheus.HistogramVec
	upstreamRetries  *prometheus.CounterVec
	sanitizeFailures prometheus.Counter
	formRejected     *prometheus.CounterVec
	noResults        *prometheus.CounterVec
	docInfo          *prometheus.GaugeVec
}

// New returns a fresh registry with the Go and process collectors plus the
// server series. HTTP labels are method, route pattern and status only.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: prometheus.ExponentialBuckets(256, 4, 10),
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx responses by method and route",
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered handler panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		ratelimitDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total form submissions rejected by the rate limiter",
		}),
		ratelimitCapacityTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Total submissions rejected because the limiter tracked too many clients",
		}),
		upstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upstream_calls_total",
			Help: "Upstream API calls by endpoint and outcome (ok, status, decode, transport)",
		}, []string{"endpoint", "outcome"}),
		upstreamDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "upstream_call_duration_seconds",
			Help:    "Upstream call latency including retries",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
		}, []string{"endpoint"}),
		upstreamRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upstream_retries_total",
			Help: "Upstream attempts beyond the first",
		}, []string{"endpoint"}),
		sanitizeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "html_sanitize_failures_total",
			Help: "Rendered documents the sanitizer rejected",
		}),
		formRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "form_validation_failures_total",
			Help: "Form submissions rejected by schema validation",
		}, []string{"route"}),
		noResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upstream_no_results_total",
			Help: "Submissions answered with the no-results message, by reason (missing_envelope, empty)",
		}, []string{"route", "reason"}),
		docInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "static_document_info",
			Help: "Loaded static documents (labels carry identity, value is always 1)",
		}, []string{"document", "source", "etag"}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.httpPanicTotal,
		m.buildInfo,
		m.profilingActive,
		m.ratelimitDeniedTotal,
		m.ratelimitCapacityTotal,
		m.upstreamCalls,
		m.upstreamDur,
		m.upstreamRetries,
		m.sanitizeFailures,
		m.formRejected,
		m.noResults,
		m.docInfo,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler { return m.handler }

// Registry exposes the private registry for tests and extra collectors.
func (m *ServerMetrics) Registry() *prometheus.Registry { return m.reg }

func (m *ServerMetrics) IncHttpPanic() { m.httpPanicTotal.Inc() }

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi *version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}

func (m *ServerMetrics) IncRateLimitDenied()   { m.ratelimitDeniedTotal.Inc() }
func (m *ServerMetrics) IncRateLimitCapacity() { m.ratelimitCapacityTotal.Inc() }

// ObserveUpstreamCall matches upstream.CallFunc.
func (m *ServerMetrics) ObserveUpstreamCall(endpoint, outcome string, attempts int, d time.Duration) {
	m.upstreamCalls.WithLabelValues(endpoint, outcome).Inc()
	m.upstreamDur.WithLabelValues(endpoint).Observe(d.Seconds())
	if attempts > 1 {
		m.upstreamRetries.WithLabelValues(endpoint).Add(float64(attempts - 1))
	}
}

func (m *ServerMetrics) IncSanitizeFailure() { m.sanitizeFailures.Inc() }

func (m *ServerMetrics) IncFormRejected(route string) { m.formRejected.WithLabelValues(route).Inc() }

func (m *ServerMetrics) IncNoResults(route, reason string) {
	m.noResults.WithLabelValues(route, reason).Inc()
}

// SetStaticDocument records which source served document. Earlier values for
// the same document are dropped.
func (m *ServerMetrics) SetStaticDocument(document, source, etag string) {
	m.docInfo.DeletePartialMatch(prometheus.Labels{"document": document})
	m.docInfo.WithLabelValues(document, source, etag).Set(1)
}
