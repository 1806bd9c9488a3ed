package render

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/saddlebagexchange/saddlebag-web/internal/reshape"
	"github.com/saddlebagexchange/saddlebag-web/internal/sanitize"
	"github.com/saddlebagexchange/saddlebag-web/internal/webassets"
)

func newRenderer(t *testing.T) *Renderer {
	t.Helper()
	rd, err := New(Options{FS: webassets.Templates(), Sanitizer: sanitize.New(sanitize.Options{})})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return rd
}

func get() *http.Request { return httptest.NewRequest(http.MethodGet, "/", http.NoBody) }

func TestNew_LoadsEmbeddedPages(t *testing.T) {
	rd := newRenderer(t)
	for _, name := range []string{"index.html", "scan.html", "undercuts.html", "itemnames.html", ErrorPage} {
		if !rd.Has(name) {
			t.Errorf("page %s not loaded", name)
		}
	}
	if rd.Has(layoutFile) || rd.Has(partialsFile) {
		t.Error("layout files registered as pages")
	}
}

func TestHTML_Table(t *testing.T) {
	rd := newRenderer(t)
	rec := httptest.NewRecorder()
	rd.HTML(rec, get(), http.StatusOK, "itemnames.html", Page{
		Title:  "WoW Item Names",
		Header: []string{"id", "name"},
		Rows: []reshape.Row{
			{{Key: "id", Value: 19019}, {Key: "name", Value: "Thunderfury"}},
			{{Key: "id", Value: 1}, {Key: "name", Value: "https://example.com/x"}},
		},
	})
	body := rec.Body.String()
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	for _, want := range []string{"<th>id</th>", "<td>19019</td>", "<td>Thunderfury</td>", `href="https://example.com/x"`} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q", want)
		}
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("Cache-Control = %q", rec.Header().Get("Cache-Control"))
	}
	if rec.Header().Get("Content-Type") != "text/html; charset=utf-8" {
		t.Fatalf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
}

func TestHTML_EscapesUpstreamValues(t *testing.T) {
	rd := newRenderer(t)
	rec := httptest.NewRecorder()
	rd.HTML(rec, get(), http.StatusOK, "scan.html", Page{
		Title:  "Scan",
		Header: []string{"real_name"},
		Rows:   []reshape.Row{{{Key: "real_name", Value: `<img src=x onerror=alert(1)>`}}},
		Form:   map[string]string{"home_server": `"><script>alert(1)</script>`},
	})
	body := rec.Body.String()
	if strings.Contains(body, "<img src=x") || strings.Contains(body, "<script>alert") {
		t.Fatalf("unescaped upstream value in body:\n%s", body)
	}
}

func TestHTML_MessageWithoutTable(t *testing.T) {
	rd := newRenderer(t)
	rec := httptest.NewRecorder()
	rd.HTML(rec, get(), http.StatusOK, "scan.html", Page{Title: "Scan", Message: "No matching results found."})
	body := rec.Body.String()
	if !strings.Contains(body, "No matching results found.") {
		t.Fatal("message missing")
	}
	if strings.Contains(body, "<table") {
		t.Fatal("empty result rendered a table shell")
	}
}

func TestHTML_FormEcho(t *testing.T) {
	rd := newRenderer(t)
	rec := httptest.NewRecorder()
	rd.HTML(rec, get(), http.StatusOK, "scan.html", Page{
		Title: "Scan",
		Form:  map[string]string{"home_server": "Gilgamesh", "hq_only": "True"},
	})
	body := rec.Body.String()
	if !strings.Contains(body, `value="Gilgamesh"`) {
		t.Fatal("home_server not echoed")
	}
	if !strings.Contains(body, `value="True" selected`) {
		t.Fatal("hq_only selection not echoed")
	}
}

func TestError_FixedPage(t *testing.T) {
	rd := newRenderer(t)
	rec := httptest.NewRecorder()
	rd.Error(rec, get(), http.StatusBadGateway, "Upstream service unavailable.")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Upstream service unavailable.") {
		t.Fatal("message missing")
	}
}

func TestHTML_UnknownTemplateFailsClosed(t *testing.T) {
	rd := newRenderer(t)
	rec := httptest.NewRecorder()
	rd.HTML(rec, get(), http.StatusOK, "nope.html", Page{Title: "x"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "nope.html") {
		t.Fatal("template name leaked")
	}
}

type failingSanitizer struct{ calls int }

func (f *failingSanitizer) HTML([]byte) ([]byte, error) {
	f.calls++
	return nil, errors.New("bad document")
}

func TestHTML_SanitizerFailureFailsClosed(t *testing.T) {
	var hooks int
	rd, err := New(Options{
		FS:              webassets.Templates(),
		Sanitizer:       &failingSanitizer{},
		OnSanitizeError: func() { hooks++ },
	})
	if err != nil {
		t.Fatal(err)
	}
	rec := httptest.NewRecorder()
	rd.HTML(rec, get(), http.StatusOK, "index.html", Page{Title: "Home", Message: "secret-ish"})

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != fallbackBody {
		t.Fatalf("body = %q, want fallback", rec.Body.String())
	}
	if hooks != 2 {
		t.Fatalf("OnSanitizeError calls = %d, want 2 (page + error page)", hooks)
	}
}

func TestNew_Errors(t *testing.T) {
	san := sanitize.New(sanitize.Options{})
	if _, err := New(Options{Sanitizer: san}); err == nil {
		t.Error("nil FS accepted")
	}
	if _, err := New(Options{FS: webassets.Templates()}); err == nil {
		t.Error("nil sanitizer accepted")
	}
	noError := fstest.MapFS{
		"layout.html":   {Data: []byte(`{{define "layout"}}{{template "content" .}}{{end}}`)},
		"partials.html": {Data: []byte(``)},
		"index.html":    {Data: []byte(`{{define "content"}}hi{{end}}`)},
	}
	if _, err := New(Options{FS: noError, Sanitizer: san}); err == nil {
		t.Error("missing error page accepted")
	}
	broken := fstest.MapFS{
		"layout.html":   {Data: []byte(`{{define "layout"}}{{end}}`)},
		"partials.html": {Data: []byte(``)},
		"error.html":    {Data: []byte(`{{define "content"}}{{.Nope`)},
	}
	if _, err := New(Options{FS: broken, Sanitizer: san}); err == nil {
		t.Error("broken template accepted")
	}
}

func TestHTML_Debug(t *testing.T) {
	rd := newRenderer(t)
	rec := httptest.NewRecorder()
	rd.HTML(rec, get(), http.StatusOK, "scan.html", Page{Title: "Scan", Debug: map[string]any{"home_server": "Famfrit"}})
	if !strings.Contains(rec.Body.String(), "&#34;home_server&#34;") && !strings.Contains(rec.Body.String(), `"home_server"`) {
		t.Fatalf("debug payload missing:\n%s", rec.Body.String())
	}
}
