package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/saddlebagexchange/saddlebag-web/internal/httpmw"
	"github.com/saddlebagexchange/saddlebag-web/internal/log"
	"github.com/saddlebagexchange/saddlebag-web/internal/xerrors"
)

const defaultPort = 5000

// untraced skips spans for static assets and the favicon. Form posts and
// pages are always traced.
func untraced(p string) bool {
	if p == "/favicon.ico" || strings.HasPrefix(p, "/static/") {
		return true
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".css", ".js", ".png", ".ico", ".svg", ".map":
		return true
	}
	return false
}

// NewHandler wraps opts.Site in the public middleware stack. Listed outermost
// first: security headers, recover, request id, client ip, otelhttp, trace
// headers, metrics, request logger, access log, compression.
// main owns the *http.Server so it can shut down gracefully.
func NewHandler(opts Options) http.Handler {
	L := opts.Logger
	if L == nil {
		L = log.Nop()
	}
	site := opts.Site
	if site == nil {
		site = http.NotFoundHandler()
	}

	mws := []func(http.Handler) http.Handler{
		httpmw.SecurityHeaders(opts.Policy),
	}
	if opts.UseRecoverMW {
		mws = append(mws, httpmw.Recover(L, opts.OnPanic))
	}
	mws = append(mws,
		httpmw.RequestID("X-Request-Id"),
		httpmw.ClientIPWithOptions(opts.ClientIPOpts),
		func(next http.Handler) http.Handler {
			return otelhttp.NewHandler(next, "http.server",
				otelhttp.WithFilter(func(r *http.Request) bool { return !untraced(r.URL.Path) }),
				// AnnotateHTTPRoute renames the span to the route pattern
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return r.Method + " " + r.URL.Path
				}),
				otelhttp.WithPublicEndpointFn(func(*http.Request) bool { return true }),
			)
		},
		httpmw.TraceResponseHeaders("X-Trace-Id"),
	)
	if opts.MetricsMW != nil {
		mws = append(mws, opts.MetricsMW)
	}
	mws = append(mws,
		httpmw.WithLogger(L),
		httpmw.AccessLog(),
		middleware.Compress(5,
			"text/html",
			"text/css",
			"text/javascript",
			"application/javascript",
			"application/json",
		),
	)
	return httpmw.Chain(site, mws...)
}

const (
	ReadHeaderTimeout = 5 * time.Second
	ReadTimeout       = 10 * time.Second
	// WriteTimeout is the floor; Options.WriteTimeout raises it to cover the
	// upstream budget of the slowest page.
	WriteTimeout   = 45 * time.Second
	IdleTimeout    = 60 * time.Second
	MaxHeaderBytes = 1 << 20

	// writeSlack covers rendering and sanitizing after the last upstream reply.
	writeSlack = 5 * time.Second
)

// WriteTimeoutFor returns a write deadline that outlasts upstream, the worst
// case time a handler waits on the API.
func WriteTimeoutFor(upstream time.Duration) time.Duration {
	return max(WriteTimeout, upstream+writeSlack)
}

func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
		MaxHeaderBytes:    MaxHeaderBytes,
	}
}

func newServer(addr string, opts Options) *http.Server {
	srv := NewServer(addr, NewHandler(opts))
	if opts.WriteTimeout > srv.WriteTimeout {
		srv.WriteTimeout = opts.WriteTimeout
	}
	return srv
}

// Start serves the public listener and returns stop(ctx) for graceful
// shutdown. stop is safe to call more than once.
func Start(ctx context.Context, opts Options) (func(context.Context) error, error) {
	L := opts.Logger
	if L == nil {
		L = log.Nop()
		opts.Logger = L
	}
	port := opts.Port
	if port == 0 {
		port = defaultPort
	}
	addr := fmt.Sprintf(":%d", port)
	srv := newServer(addr, opts)

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "listen on %s", addr)
	}

	go func() {
		L.Info(ctx, "http server listening", "addr", addr)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			L.Error(ctx, err, "http server error")
		}
	}()

	var once sync.Once
	var stopErr error
	stop := func(sctx context.Context) error {
		once.Do(func() {
			L.Info(sctx, "http server shutting down")
			c, cancel := context.WithTimeout(sctx, 10*time.Second)
			defer cancel()
			stopErr = srv.Shutdown(c)
		})
		return stopErr
	}
	return stop, nil
}
