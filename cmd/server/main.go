package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/saddlebagexchange/saddlebag-web/internal/cfg"
	"github.com/saddlebagexchange/saddlebag-web/internal/health"
	"github.com/saddlebagexchange/saddlebag-web/internal/httpmw"
	"github.com/saddlebagexchange/saddlebag-web/internal/httpserver"
	"github.com/saddlebagexchange/saddlebag-web/internal/log"
	"github.com/saddlebagexchange/saddlebag-web/internal/metrics"
	"github.com/saddlebagexchange/saddlebag-web/internal/opshttp"
	"github.com/saddlebagexchange/saddlebag-web/internal/otelx"
	"github.com/saddlebagexchange/saddlebag-web/internal/prof"
	"github.com/saddlebagexchange/saddlebag-web/internal/ratelimit"
	"github.com/saddlebagexchange/saddlebag-web/internal/remote"
	"github.com/saddlebagexchange/saddlebag-web/internal/render"
	"github.com/saddlebagexchange/saddlebag-web/internal/sanitize"
	"github.com/saddlebagexchange/saddlebag-web/internal/secpolicy"
	"github.com/saddlebagexchange/saddlebag-web/internal/sitehttp"
	"github.com/saddlebagexchange/saddlebag-web/internal/staticdoc"
	"github.com/saddlebagexchange/saddlebag-web/internal/upstream"
	"github.com/saddlebagexchange/saddlebag-web/internal/webassets"
	v "github.com/saddlebagexchange/saddlebag-web/internal/version"
)

// drainDelay is how long readiness fails before the listeners stop.
const drainDelay = 15 * time.Second

func main() {
	vi := v.Get()

	var conf cfg.App
	var showVersion bool
	var envFile string

	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading SADDLEBAG_* variables")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	stderrf := func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
	if err := cfg.LoadDotEnv(envFile); err != nil {
		stderrf("env file %s: %v", envFile, err)
		os.Exit(1)
	}
	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, stderrf)

	if err := cfg.Validate(conf, vi.IsRelease()); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		stderrf("invalid log level %s: %v", conf.LogLevel, err)
		os.Exit(1)
	}
	stackLvl, err := log.ParseLevel(conf.StacktraceLevel)
	if err != nil {
		stderrf("invalid stacktrace level %s: %v", conf.StacktraceLevel, err)
		os.Exit(1)
	}
	lg, err := log.New(log.Options{
		App:             v.AppName,
		Version:         vi.Version,
		Commit:          vi.Commit,
		Level:           lvl,
		StacktraceLevel: stackLvl,
		JSON:            conf.LogJSON,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"release", vi.IsRelease(),
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"api_url", conf.APIURL,
		"api_url_ssm_param", conf.APIURLSSMParam,
		"upstream_timeout", conf.UpstreamTimeout,
		"upstream_retries", conf.UpstreamRetries,
		"webapp_url", conf.WebAppURL,
		"openapi_path", conf.OpenAPIPath,
		"openapi_s3_bucket", conf.OpenAPIS3Bucket,
		"ratelimit_per_second", conf.RateLimitPerSecond,
		"ratelimit_burst", conf.RateLimitBurst,
		"trusted_hops", conf.TrustedHops,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"trace_sample", conf.TraceSample,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", &vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
		},
		OnActive: m.SetProfilingActive,
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	// collector runs on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	apiURL, openAPI := loadRemote(ctx, L, conf, m)

	policy := secpolicy.Default()
	if conf.SecurityPolicyFile != "" {
		policy, err = secpolicy.Load(conf.SecurityPolicyFile)
		if err != nil {
			L.Error(ctx, err, "failed to load security policy", "path", conf.SecurityPolicyFile)
			os.Exit(1)
		}
	}

	if conf.DisableSanitizer {
		L.Warn(ctx, "HTML SANITIZER DISABLED: rendered pages are written unfiltered, never run this way in production")
	}
	if conf.DebugPayload {
		L.Warn(ctx, "debug payload echo enabled: outbound API payloads are shown on empty results")
	}
	rd, err := render.New(render.Options{
		FS:              webassets.Templates(),
		Sanitizer:       sanitize.New(sanitize.Options{Disabled: conf.DisableSanitizer}),
		Logger:          L,
		OnSanitizeError: m.IncSanitizeFailure,
	})
	if err != nil {
		L.Error(ctx, err, "failed to load page templates")
		os.Exit(1)
	}

	api, err := upstream.New(upstream.Options{
		BaseURL:   apiURL,
		Timeout:   conf.UpstreamTimeout,
		Retries:   conf.UpstreamRetries,
		UserAgent: v.AppName + "/" + vi.Version,
		Logger:    L,
		OnCall:    m.ObserveUpstreamCall,
	})
	if err != nil {
		L.Error(ctx, err, "invalid upstream API configuration")
		os.Exit(1)
	}

	limiter := ratelimit.New(ctx,
		ratelimit.WithRate(conf.RateLimitPerSecond, conf.RateLimitBurst),
		ratelimit.WithOnDenied(func(ip string) {
			m.IncRateLimitDenied()
		}),
		// logged once per visitor until it is evicted
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "rate limit triggered", "ip", ip)
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "rate limit capacity reached, rejecting new visitors until some are evicted")
		}),
		ratelimit.WithRejectHandler(sitehttp.TooManyRequests(rd)),
	)

	site, err := sitehttp.New(sitehttp.Options{
		Logger:       L,
		Renderer:     rd,
		API:          api,
		Metrics:      m,
		Limiter:      limiter.Middleware,
		OpenAPI:      openAPI,
		WebAppURL:    conf.WebAppURL,
		DebugPayload: conf.DebugPayload,
	})
	if err != nil {
		L.Error(ctx, err, "failed to build site routes")
		os.Exit(1)
	}

	var gate health.Gate
	readiness := health.All(gate.Probe())

	siteHTTPStop, err := httpserver.Start(ctx, httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		Site:         site,
		Policy:       policy,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		MetricsMW:    m.Middleware,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		WriteTimeout: httpserver.WriteTimeoutFor(api.Budget(sitehttp.MaxUpstreamCalls)),
	})
	if err != nil {
		L.Error(ctx, err, "failed to start site http listener")
		os.Exit(1)
	}
	defer func() { _ = siteHTTPStop(context.Background()) }()

	// the ops listener refuses public peers; pprof and metrics never face the internet
	opsHTTPStop, err := opshttp.Start(ctx, L, opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Liveness:    health.Fixed(true, ""),
		Readiness:   readiness,
		OnPanic:     m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		L.Debug(ctx, "systemd readiness not sent", "reason", err)
	}

	<-ctx.Done()
	stop()

	bg := context.Background()
	L.Info(bg, "shutdown signal received")

	gate.Close("draining")
	L.Info(bg, "readiness failing, draining", "delay", drainDelay)

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainDelay):
		L.Info(bg, "drain period complete")
	case <-forceCh:
		L.Warn(bg, "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(bg, 10*time.Second)
	defer cancel()

	if err := siteHTTPStop(shutdownCtx); err != nil {
		L.Error(bg, err, "site http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(bg, err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(bg, err, "otel shutdown")
	}
	stopProf()

	L.Info(bg, "shutdown complete")
}

// loadRemote resolves the API base URL and the OpenAPI document. AWS config
// is only loaded when an SSM parameter or S3 bucket is configured. A missing
// OpenAPI document leaves the route answering 404.
func loadRemote(ctx context.Context, L log.Logger, conf cfg.App, m *metrics.ServerMetrics) (string, http.Handler) {
	apiURL := conf.APIURL

	var objects *remote.ObjectStore
	if conf.APIURLSSMParam != "" || conf.OpenAPIS3Bucket != "" {
		awsCfg, err := remote.LoadConfig(ctx, "")
		if err != nil {
			L.Error(ctx, err, "failed to load AWS config")
			os.Exit(1)
		}
		if conf.APIURLSSMParam != "" {
			u, err := remote.NewParamStore(awsCfg).Get(ctx, conf.APIURLSSMParam)
			if err != nil {
				L.Error(ctx, err, "failed to read API url from SSM", "param", conf.APIURLSSMParam)
				os.Exit(1)
			}
			apiURL = u
			L.Info(ctx, "API url loaded from SSM", "param", conf.APIURLSSMParam, "api_url", apiURL)
		}
		if conf.OpenAPIS3Bucket != "" {
			objects = remote.NewObjectStore(awsCfg, staticdoc.MaxFileSize)
		}
	}

	var (
		doc *staticdoc.Doc
		err error
	)
	switch {
	case objects != nil:
		doc, err = staticdoc.FromObject(ctx, objects, conf.OpenAPIS3Bucket, conf.OpenAPIS3Key)
	case conf.OpenAPIPath != "":
		doc, err = staticdoc.FromFile(conf.OpenAPIPath)
	default:
		return apiURL, nil
	}
	if err != nil {
		L.Warn(ctx, "OpenAPI document unavailable, /openapi-spec.json will answer 404", "err", err)
		return apiURL, nil
	}
	m.SetStaticDocument("openapi", doc.Source, doc.ETag)
	L.Info(ctx, "OpenAPI document loaded", "source", doc.Source, "etag", doc.ETag, "bytes", len(doc.Body))
	return apiURL, doc
}

func notifySystemd() error {
	// NOTIFY_SOCKET is set when started under systemd with Type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify: dial: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		_ = conn.Close()
		return fmt.Errorf("systemd notify: write: %w", err)
	}
	return conn.Close()
}
