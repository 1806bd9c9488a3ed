package httpmw

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/saddlebagexchange/saddlebag-web/internal/log"
)

const tracerName = "saddlebag-web/httpmw"

// statusWriter records status and size, and opens a response.write child
// span on the first byte so time-to-first-byte and write blocking show up in
// traces.
type statusWriter struct {
	http.ResponseWriter
	ctx   context.Context
	start time.Time

	status  int
	bytes   int64
	blocked time.Duration
	werr    error

	span    trace.Span
	started bool
}

func (sw *statusWriter) begin() {
	if sw.started {
		return
	}
	sw.started = true
	if !trace.SpanFromContext(sw.ctx).IsRecording() {
		return
	}
	_, sw.span = otel.Tracer(tracerName).Start(sw.ctx, "response.write",
		trace.WithAttributes(attribute.Float64("http.server.ttfb_seconds", time.Since(sw.start).Seconds())))
}

func (sw *statusWriter) end() {
	if sw.span == nil {
		return
	}
	sw.span.SetAttributes(
		attribute.Int("http.response.status_code", sw.code()),
		attribute.Int64("http.response.body.size", sw.bytes),
		attribute.Float64("http.server.write.block_seconds", sw.blocked.Seconds()),
	)
	if sw.werr != nil {
		sw.span.RecordError(sw.werr)
		sw.span.SetStatus(codes.Error, sw.werr.Error())
	}
	sw.span.End()
}

func (sw *statusWriter) code() int {
	if sw.status == 0 {
		return http.StatusOK
	}
	return sw.status
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.begin()
	if sw.status == 0 {
		sw.status = code
	}
	t := time.Now()
	sw.ResponseWriter.WriteHeader(code)
	sw.blocked += time.Since(t)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	sw.begin()
	if sw.status == 0 {
		sw.status = http.StatusOK
	}
	t := time.Now()
	n, err := sw.ResponseWriter.Write(b)
	sw.blocked += time.Since(t)
	sw.bytes += int64(n)
	if err != nil && sw.werr == nil {
		sw.werr = err
	}
	return n, err
}

func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sw *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := sw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("hijack not supported by %T", sw.ResponseWriter)
	}
	return h.Hijack()
}

func (sw *statusWriter) Unwrap() http.ResponseWriter { return sw.ResponseWriter }

// WithLogger stores a request-scoped logger in the context. Only server-derived
// values are attached; query strings and form values never are.
func WithLogger(base log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			reqID := RequestIDFromContext(ctx)
			client := ClientIPFromContext(ctx)
			peer := r.RemoteAddr
			if h, _, err := net.SplitHostPort(peer); err == nil {
				peer = h
			}
			scheme := schemeFromRequest(r)

			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.SetAttributes(
					attribute.String("request_id", reqID),
					attribute.String("client.address", client),
					attribute.String("network.peer.address", peer),
					attribute.String("url.scheme", scheme),
				)
			}

			L := base.With(
				"request_id", reqID,
				"client.address", client,
				"network.peer.address", peer,
				"http.request.method", r.Method,
				"url.path", r.URL.Path,
				"url.scheme", scheme,
			)
			next.ServeHTTP(w, r.WithContext(log.WithContext(ctx, L)))
		})
	}
}

// AccessLog writes one "http request" line per request after the handler
// returns. Static assets and probe paths are skipped.
func AccessLog() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, ctx: r.Context(), start: time.Now()}
			next.ServeHTTP(sw, r)
			sw.end()

			if quietPath(r.URL.Path) {
				return
			}
			ctx := r.Context()
			var reqSize int64
			if r.ContentLength > 0 {
				reqSize = r.ContentLength
			}
			log.FromContext(ctx).Info(ctx, "http request",
				"http.response.status_code", sw.code(),
				"http.server.request.duration", time.Since(sw.start).Seconds(),
				"http.response.body.size", sw.bytes,
				"http.request.body.size", reqSize,
			)
		})
	}
}

func quietPath(p string) bool {
	switch {
	case strings.HasPrefix(p, "/static/"), p == "/favicon.ico":
		return true
	case p == "/-/ready", p == "/-/healthy":
		return true
	}
	return false
}

// schemeFromRequest only accepts http or https from X-Forwarded-Proto. The
// client IP middleware already removed the header when the peer is untrusted.
func schemeFromRequest(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-Proto"); xf != "" {
		first, _, _ := strings.Cut(xf, ",")
		switch s := strings.ToLower(strings.TrimSpace(first)); s {
		case "http", "https":
			return s
		}
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// Scope tags the request logger and span with the handler name.
func Scope(handler string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ctx = log.WithContext(ctx, log.FromContext(ctx).With("handler", handler))
			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.SetAttributes(attribute.String("app.handler", handler))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
