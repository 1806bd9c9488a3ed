package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TraceResponseHeaders writes the trace id under traceHeader and a W3C
// traceparent on every response that carries a valid span, sampled or not.
// Error pages show no internals, so the trace id is what a user can report.
func TraceResponseHeaders(traceHeader string) func(http.Handler) http.Handler {
	if traceHeader == "" {
		traceHeader = "X-Trace-Id"
	}
	var tc propagation.TraceContext
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
				w.Header().Set(traceHeader, sc.TraceID().String())
				tc.Inject(ctx, propagation.HeaderCarrier(w.Header()))
			}
			next.ServeHTTP(w, r)
		})
	}
}
