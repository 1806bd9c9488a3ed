// Package render executes the embedded page templates, passes the result
// through the sanitizer and writes it. Any failure along the way produces a
// fixed 500 page; partial or unsanitized output never reaches the client.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strconv"
	"strings"

	"github.com/saddlebagexchange/saddlebag-web/internal/log"
	"github.com/saddlebagexchange/saddlebag-web/internal/reshape"
	"github.com/saddlebagexchange/saddlebag-web/internal/xerrors"
)

// ErrorPage is the template used for generic error pages.
const ErrorPage = "error.html"

const (
	layoutFile   = "layout.html"
	partialsFile = "partials.html"
)

// fallbackBody is written when even the error page fails to render.
const fallbackBody = "<!DOCTYPE html><html><head><title>Error</title></head><body><h1>Something went wrong.</h1></body></html>"

// Sanitizer post-processes a fully rendered document.
type Sanitizer interface {
	HTML(doc []byte) ([]byte, error)
}

type Table struct {
	Caption string
	Header  []string
	Rows    []reshape.Row
}

// Page is the data every template receives.
type Page struct {
	Title   string
	Header  []string
	Rows    []reshape.Row
	More    []Table
	Message string
	// Invalid lists rejected form inputs by name.
	Invalid []string
	// Debug is shown verbatim as JSON. Only set when the debug switch is on.
	Debug any
	// Form echoes submitted values back into the form.
	Form map[string]string
}

type Options struct {
	FS        fs.FS
	Sanitizer Sanitizer
	Logger    log.Logger
	// OnSanitizeError is called when the sanitizer rejects a document.
	OnSanitizeError func()
}

type Renderer struct {
	pages     map[string]*template.Template
	sanitizer Sanitizer
	logger    log.Logger
	onSanErr  func()
}

// New parses every page template in FS against the shared layout. A page is
// any *.html file other than the layout and partials.
func New(opts Options) (*Renderer, error) {
	if opts.FS == nil {
		return nil, xerrors.New("render: FS is nil")
	}
	if opts.Sanitizer == nil {
		return nil, xerrors.New("render: Sanitizer is nil")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}

	base, err := template.New("").Funcs(funcs).ParseFS(opts.FS, layoutFile, partialsFile)
	if err != nil {
		return nil, xerrors.Wrap(err, "render: parse layout")
	}

	names, err := fs.Glob(opts.FS, "*.html")
	if err != nil {
		return nil, xerrors.Wrap(err, "render: list templates")
	}
	pages := make(map[string]*template.Template, len(names))
	for _, name := range names {
		if name == layoutFile || name == partialsFile {
			continue
		}
		t, err := base.Clone()
		if err != nil {
			return nil, xerrors.Wrapf(err, "render: clone layout for %s", name)
		}
		if _, err := t.ParseFS(opts.FS, name); err != nil {
			return nil, xerrors.Wrapf(err, "render: parse %s", name)
		}
		pages[name] = t
	}
	if _, ok := pages[ErrorPage]; !ok {
		return nil, xerrors.Newf("render: %s missing", ErrorPage)
	}

	return &Renderer{
		pages:     pages,
		sanitizer: opts.Sanitizer,
		logger:    opts.Logger,
		onSanErr:  opts.OnSanitizeError,
	}, nil
}

// Has reports whether a page template named name was loaded.
func (rd *Renderer) Has(name string) bool {
	_, ok := rd.pages[name]
	return ok
}

// HTML renders page name with data and writes it with status.
func (rd *Renderer) HTML(w http.ResponseWriter, r *http.Request, status int, name string, data Page) {
	ctx := r.Context()
	body, err := rd.document(ctx, name, data)
	if err != nil {
		log.FromContext(ctx).Error(ctx, err, "render page failed", "template", name)
		rd.fail(w, r)
		return
	}
	write(w, status, body)
}

// Error renders the generic error page with a fixed message.
func (rd *Renderer) Error(w http.ResponseWriter, r *http.Request, status int, msg string) {
	rd.HTML(w, r, status, ErrorPage, Page{Title: http.StatusText(status), Message: msg})
}

func (rd *Renderer) fail(w http.ResponseWriter, r *http.Request) {
	body, err := rd.document(r.Context(), ErrorPage, Page{
		Title:   http.StatusText(http.StatusInternalServerError),
		Message: "Something went wrong while building this page.",
	})
	if err != nil {
		body = []byte(fallbackBody)
	}
	write(w, http.StatusInternalServerError, body)
}

func (rd *Renderer) document(ctx context.Context, name string, data Page) ([]byte, error) {
	t, ok := rd.pages[name]
	if !ok {
		return nil, xerrors.Newf("unknown template %q", name)
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		return nil, xerrors.Wrapf(err, "execute %s", name)
	}
	out, err := rd.sanitizer.HTML(buf.Bytes())
	if err != nil {
		if rd.onSanErr != nil {
			rd.onSanErr()
		}
		return nil, xerrors.Wrapf(err, "sanitize %s", name)
	}
	return out, nil
}

func write(w http.ResponseWriter, status int, body []byte) {
	h := w.Header()
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

type choice struct {
	Name, Label, Value string
}

var funcs = template.FuncMap{
	"display": reshape.Display,
	"isLink": func(v any) bool {
		s, ok := v.(string)
		return ok && (strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://"))
	},
	"table": func(caption string, header []string, rows []reshape.Row) Table {
		return Table{Caption: caption, Header: header, Rows: rows}
	},
	"choice": func(name, label, value string) choice {
		return choice{Name: name, Label: label, Value: value}
	},
	"json": func(v any) string {
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	},
}
