package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/saddlebagexchange/saddlebag-web/internal/log"
)

// EnvPrefix is prepended to upper-cased flag names, -api-url => SADDLEBAG_API_URL.
const EnvPrefix = "SADDLEBAG_"

// LegacyEnv maps flag names to unprefixed variables older deployments still set.
// The prefixed variable wins when both are present.
var LegacyEnv = map[string]string{
	"api-url": "TEMP_API_URL",
}

type App struct {
	LogJSON         bool
	LogLevel        string
	StacktraceLevel string
	HTTPPort        int
	AdminPort       int
	EnablePprof     bool
	EnablePyroscope bool
	EnableTracing   bool
	PyroServer      string
	PyroTenantID    string
	OTLPEndpoint    string
	TraceSample     float64

	// upstream market-data API
	APIURL          string
	APIURLSSMParam  string
	UpstreamTimeout time.Duration
	UpstreamRetries int

	// hosted web app that legacy routes redirect to
	WebAppURL string

	OpenAPIPath     string
	OpenAPIS3Bucket string
	OpenAPIS3Key    string

	SecurityPolicyFile string

	RateLimitPerSecond float64
	RateLimitBurst     int
	TrustedHops        int

	// test-only switches, refused in release builds
	DisableSanitizer bool
	DebugPayload     bool
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 5000, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")

	fs.StringVar(&c.APIURL, "api-url", "http://api.saddlebagexchange.com/api", "base URL of the market-data API")
	fs.StringVar(&c.APIURLSSMParam, "api-url-ssm-param", "", "optional SSM parameter holding the API base URL (overrides -api-url)")
	fs.DurationVar(&c.UpstreamTimeout, "upstream-timeout", 15*time.Second, "per-attempt timeout for upstream API calls")
	fs.IntVar(&c.UpstreamRetries, "upstream-retries", 1, "retries after a transport error or 5xx from the API (0..3)")
	fs.StringVar(&c.WebAppURL, "webapp-url", "https://saddlebagexchange.com", "hosted web app that legacy routes redirect to")

	fs.StringVar(&c.OpenAPIPath, "openapi-path", "openapi-spec.json", "on-disk OpenAPI document served at /openapi-spec.json")
	fs.StringVar(&c.OpenAPIS3Bucket, "openapi-s3-bucket", "", "load the OpenAPI document from this S3 bucket instead of disk")
	fs.StringVar(&c.OpenAPIS3Key, "openapi-s3-key", "openapi-spec.json", "S3 key of the OpenAPI document")

	fs.StringVar(&c.SecurityPolicyFile, "security-policy-file", "", "YAML file overriding the built-in security header policy")

	fs.Float64Var(&c.RateLimitPerSecond, "ratelimit-per-second", 1, "form submissions per second per client ip")
	fs.IntVar(&c.RateLimitBurst, "ratelimit-burst", 10, "form submission burst per client ip")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "reverse proxies in front of the server whose X-Forwarded-For is trusted")

	fs.BoolVar(&c.DisableSanitizer, "disable-sanitizer", false, "TEST ONLY: skip HTML sanitizing of rendered pages")
	fs.BoolVar(&c.DebugPayload, "debug-payload", false, "TEST ONLY: echo the outbound API payload on empty results")
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR, falling back
// to LegacyEnv. Precedence: cli flag > env var > legacy env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			legacy, ok := LegacyEnv[f.Name]
			if !ok {
				return
			}
			if envVal, envSet = os.LookupEnv(legacy); !envSet {
				return
			}
			key = legacy
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App, release bool) error {
	var errs []error

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if !isHTTPURL(c.PyroServer) {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// grpc exporter wants host:port, no scheme
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	if c.APIURLSSMParam == "" && !isHTTPURL(c.APIURL) {
		errs = append(errs, fmt.Errorf("API_URL must be an http(s) URL (got %q)", c.APIURL))
	}
	if c.UpstreamTimeout <= 0 || c.UpstreamTimeout > 2*time.Minute {
		errs = append(errs, fmt.Errorf("invalid UPSTREAM_TIMEOUT %s (must be >0 and <=2m)", c.UpstreamTimeout))
	}
	if c.UpstreamRetries < 0 || c.UpstreamRetries > 3 {
		errs = append(errs, fmt.Errorf("invalid UPSTREAM_RETRIES %d (must be 0..3)", c.UpstreamRetries))
	}
	if !isHTTPURL(c.WebAppURL) {
		errs = append(errs, fmt.Errorf("WEBAPP_URL must be an http(s) URL (got %q)", c.WebAppURL))
	}

	if c.OpenAPIS3Bucket != "" && c.OpenAPIS3Key == "" {
		errs = append(errs, fmt.Errorf("OPENAPI_S3_KEY required when OPENAPI_S3_BUCKET is set"))
	}
	if c.OpenAPIS3Bucket == "" && c.OpenAPIPath == "" {
		errs = append(errs, fmt.Errorf("OPENAPI_PATH or OPENAPI_S3_BUCKET is required"))
	}

	if c.RateLimitPerSecond <= 0 {
		errs = append(errs, fmt.Errorf("invalid RATELIMIT_PER_SECOND %.3f (must be >0)", c.RateLimitPerSecond))
	}
	if c.RateLimitBurst < 1 {
		errs = append(errs, fmt.Errorf("invalid RATELIMIT_BURST %d (must be >=1)", c.RateLimitBurst))
	}
	if c.TrustedHops < 0 || c.TrustedHops > 5 {
		errs = append(errs, fmt.Errorf("invalid TRUSTED_HOPS %d (must be 0..5)", c.TrustedHops))
	}

	// sanitizing is the only injection defense on rendered pages and the
	// debug payload leaks request parameters, neither may ship
	if release {
		if c.DisableSanitizer {
			errs = append(errs, fmt.Errorf("DISABLE_SANITIZER is not allowed in a release build"))
		}
		if c.DebugPayload {
			errs = append(errs, fmt.Errorf("DEBUG_PAYLOAD is not allowed in a release build"))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
