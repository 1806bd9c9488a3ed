// Package sitehttp is the public route table: the index pages, the form
// tools that proxy to the market-data API, static files and the redirects
// for tools that moved to the hosted web app.
//
// Every tool page follows one flow. GET renders the empty form. POST decodes
// the form through a form.Schema, calls the API, reshapes the reply into
// rows and renders the same template with the results.
package sitehttp

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/saddlebagexchange/saddlebag-web/internal/httpmw"
	"github.com/saddlebagexchange/saddlebag-web/internal/log"
	"github.com/saddlebagexchange/saddlebag-web/internal/render"
	"github.com/saddlebagexchange/saddlebag-web/internal/webassets"
	"github.com/saddlebagexchange/saddlebag-web/internal/xerrors"
)

// MaxUpstreamCalls is the most sequential API calls one request makes
// (/ffxiv_itemnames fetches names, then marketable ids).
const MaxUpstreamCalls = 2

const (
	// TeamcraftItemsURL maps FFXIV item ids to localized names.
	TeamcraftItemsURL = "https://raw.githubusercontent.com/ffxiv-teamcraft/ffxiv-teamcraft/staging/libs/data/src/lib/json/items.json"
	// UniversalisMarketableURL lists the ids that can be sold on the market board.
	UniversalisMarketableURL = "https://universalis.app/api/marketable"

	defaultMaxFormBytes = 64 << 10
)

// API is the part of upstream.Client the handlers use.
type API interface {
	PostJSON(ctx context.Context, suffix string, payload any) (map[string]json.RawMessage, error)
	GetJSON(ctx context.Context, rawURL string, out any) error
}

// Recorder receives per-route outcome counts. *metrics.ServerMetrics
// satisfies it.
type Recorder interface {
	IncFormRejected(route string)
	IncNoResults(route, reason string)
}

type nopRecorder struct{}

func (nopRecorder) IncFormRejected(string)      {}
func (nopRecorder) IncNoResults(string, string) {}

type Options struct {
	Logger   log.Logger
	Renderer *render.Renderer
	API      API
	Metrics  Recorder
	// Limiter wraps POST submissions only.
	Limiter func(http.Handler) http.Handler
	// OpenAPI serves /openapi-spec.json; nil answers 404.
	OpenAPI http.Handler
	// WebAppURL is where LegacyRedirects point.
	WebAppURL string
	// DebugPayload echoes the outbound payload on empty results. Never set in
	// a release build.
	DebugPayload bool
	MaxFormBytes int64
	Static       webassets.StaticOptions

	// overridable so tests can point them at a local server
	ItemsURL      string
	MarketableURL string
}

type Site struct {
	opts   Options
	render *render.Renderer
	api    API
	rec    Recorder
	router chi.Router
}

func New(opts Options) (*Site, error) {
	if opts.Renderer == nil {
		return nil, xerrors.New("sitehttp: Renderer is nil")
	}
	if opts.API == nil {
		return nil, xerrors.New("sitehttp: API is nil")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Metrics == nil {
		opts.Metrics = nopRecorder{}
	}
	if opts.MaxFormBytes <= 0 {
		opts.MaxFormBytes = defaultMaxFormBytes
	}
	if opts.WebAppURL == "" {
		opts.WebAppURL = DefaultWebAppURL
	}
	if opts.ItemsURL == "" {
		opts.ItemsURL = TeamcraftItemsURL
	}
	if opts.MarketableURL == "" {
		opts.MarketableURL = UniversalisMarketableURL
	}
	for _, p := range pages {
		if !opts.Renderer.Has(p.template) {
			return nil, xerrors.Newf("sitehttp: template %s for %s not loaded", p.template, p.path)
		}
	}

	s := &Site{
		opts:   opts,
		render: opts.Renderer,
		api:    opts.API,
		rec:    opts.Metrics,
	}
	s.router = s.routes()
	return s, nil
}

func (s *Site) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Site) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(httpmw.AnnotateHTTPRoute)

	for _, p := range pages {
		h := s.page(p)
		submit := []func(http.Handler) http.Handler{
			httpmw.Scope(p.name),
			httpmw.MaxBody(s.opts.MaxFormBytes),
		}
		if s.opts.Limiter != nil {
			submit = append(submit, s.opts.Limiter)
		}
		r.With(httpmw.Scope(p.name)).Get(p.path, h)
		r.With(submit...).Post(p.path, h)
	}

	static := webassets.Static()
	favicon := webassets.ServeFile(static, webassets.FaviconName, s.opts.Static)
	r.Get("/favicon.ico", favicon.ServeHTTP)
	r.Head("/favicon.ico", favicon.ServeHTTP)
	r.Post("/favicon.ico", favicon.ServeHTTP)
	r.Handle("/static/*", http.StripPrefix("/static", webassets.StaticHandler(static, s.opts.Static)))

	if s.opts.OpenAPI != nil {
		r.Get("/openapi-spec.json", s.opts.OpenAPI.ServeHTTP)
		r.Head("/openapi-spec.json", s.opts.OpenAPI.ServeHTTP)
	}

	for _, lr := range LegacyRedirects {
		r.Handle(lr.From, lr.handler(s.opts.WebAppURL))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.render.Error(w, r, http.StatusNotFound, "That page does not exist.")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.render.Error(w, r, http.StatusMethodNotAllowed, "That method is not supported here.")
	})
	return r
}

// TooManyRequests renders the rate-limit rejection page. Retry-After is set
// by the limiter.
func TooManyRequests(rd *render.Renderer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rd.Error(w, r, http.StatusTooManyRequests, "Too many requests. Please wait a moment and try again.")
	})
}
