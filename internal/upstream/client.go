// Package upstream is the JSON client for the market-data API and the two
// third-party item sources. Every call has a bounded per-attempt timeout and
// is retried at most Options.Retries times on transport failures and 5xx.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/saddlebagexchange/saddlebag-web/internal/log"
	"github.com/saddlebagexchange/saddlebag-web/internal/xerrors"
)

const (
	defaultTimeout = 15 * time.Second
	defaultMaxBody = 64 << 20
	defaultBackoff = 250 * time.Millisecond
)

const (
	outcomeOK        = "ok"
	outcomeStatus    = "status"
	outcomeDecode    = "decode"
	outcomeTransport = "transport"
)

// CallFunc observes one finished call (all attempts included).
type CallFunc func(endpoint, outcome string, attempts int, d time.Duration)

type Options struct {
	// BaseURL is the API root, e.g. http://api.saddlebagexchange.com/api.
	BaseURL string
	// Timeout bounds each attempt. Default 15s.
	Timeout time.Duration
	// Retries is the number of extra attempts after a retryable failure.
	Retries int
	// Backoff is the pause before a retry. Default 250ms.
	Backoff time.Duration
	// MaxBody caps response bodies. Default 64 MiB; the item-name source is large.
	MaxBody   int64
	UserAgent string

	// HTTPClient overrides the default client, whose transport is wrapped
	// with otelhttp.
	HTTPClient *http.Client
	Logger     log.Logger
	OnCall     CallFunc
}

func (o *Options) setDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.Backoff <= 0 {
		o.Backoff = defaultBackoff
	}
	if o.MaxBody <= 0 {
		o.MaxBody = defaultMaxBody
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
}

func (o *Options) validate() error {
	u, err := url.Parse(o.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return xerrors.Newf("upstream: BaseURL %q must be an absolute http(s) URL", o.BaseURL)
	}
	return nil
}

type Client struct {
	opts Options
	base string
}

func New(opts Options) (*Client, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Client{opts: opts, base: strings.TrimRight(opts.BaseURL, "/")}, nil
}

// Budget is the longest a handler can spend in calls sequential calls to the
// API: every attempt running to its timeout plus the backoff between them.
func (c *Client) Budget(calls int) time.Duration {
	r := time.Duration(c.opts.Retries)
	perCall := (r+1)*c.opts.Timeout + c.opts.Backoff*r*(r+1)/2
	return time.Duration(calls) * perCall
}

// BaseURL returns the API root without a trailing slash.
func (c *Client) BaseURL() string { return c.base }

// PostJSON posts payload to BaseURL+suffix and decodes a JSON object reply.
func (c *Client) PostJSON(ctx context.Context, suffix string, payload any) (map[string]json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, xerrors.Wrap(err, "upstream: encode payload")
	}
	if !strings.HasPrefix(suffix, "/") {
		suffix = "/" + suffix
	}
	var env map[string]json.RawMessage
	if err := c.do(ctx, http.MethodPost, c.base+suffix, suffix, body, &env); err != nil {
		return nil, err
	}
	if env == nil {
		return nil, fmt.Errorf("%w: %s replied null", ErrDecode, suffix)
	}
	return env, nil
}

// GetJSON fetches an absolute URL and decodes the reply into out.
func (c *Client) GetJSON(ctx context.Context, rawURL string, out any) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return xerrors.Newf("upstream: bad url %q", rawURL)
	}
	return c.do(ctx, http.MethodGet, rawURL, u.Host, nil, out)
}

func (c *Client) do(ctx context.Context, method, target, endpoint string, body []byte, out any) error {
	start := time.Now()
	attempts := 0
	var err error
	for {
		attempts++
		err = c.attempt(ctx, method, target, endpoint, body, out)
		if err == nil || attempts > c.opts.Retries || !retryable(ctx, err) {
			break
		}
		log.FromContext(ctx).Warn(ctx, "upstream call failed, retrying",
			"upstream.endpoint", endpoint,
			"attempt", attempts,
			"error", err.Error(),
		)
		t := time.NewTimer(c.opts.Backoff * time.Duration(attempts))
		select {
		case <-ctx.Done():
			t.Stop()
			err = fmt.Errorf("%w: %s: %w", ErrTransport, endpoint, ctx.Err())
		case <-t.C:
			continue
		}
		break
	}
	if c.opts.OnCall != nil {
		c.opts.OnCall(endpoint, outcome(err), attempts, time.Since(start))
	}
	if err != nil {
		return xerrors.EnsureTrace(err)
	}
	return nil
}

func (c *Client) attempt(ctx context.Context, method, target, endpoint string, body []byte, out any) error {
	actx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(actx, method, target, rd)
	if err != nil {
		return xerrors.Wrap(err, "upstream: build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTransport, endpoint, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Endpoint: endpoint, Code: resp.StatusCode}
	}

	dec := json.NewDecoder(io.LimitReader(resp.Body, c.opts.MaxBody))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		if actx.Err() != nil {
			return fmt.Errorf("%w: %s: read body: %w", ErrTransport, endpoint, err)
		}
		return fmt.Errorf("%w: %s: %w", ErrDecode, endpoint, err)
	}
	return nil
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return errors.Is(err, ErrTransport)
}

func outcome(err error) string {
	var se *StatusError
	switch {
	case err == nil:
		return outcomeOK
	case errors.As(err, &se):
		return outcomeStatus
	case errors.Is(err, ErrDecode):
		return outcomeDecode
	default:
		return outcomeTransport
	}
}
