package webassets

import (
	"io/fs"
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"
)

func TestTemplates_Present(t *testing.T) {
	for _, name := range []string{
		"layout.html", "partials.html", "error.html", "index.html", "wow_index.html",
		"ffxiv_index.html", "itemnames.html", "ffxiv_itemnames.html", "scan.html", "undercuts.html",
	} {
		b, err := fs.ReadFile(Templates(), name)
		if err != nil {
			t.Errorf("%s: %v", name, err)
			continue
		}
		if len(b) == 0 {
			t.Errorf("%s is empty", name)
		}
	}
}

func TestStatic_Favicon(t *testing.T) {
	b, err := fs.ReadFile(Static(), FaviconName)
	if err != nil {
		t.Fatal(err)
	}
	if len(b) < 8 || string(b[1:4]) != "PNG" {
		t.Fatalf("%s is not a png", FaviconName)
	}
}

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"site.css":      {Data: []byte("body{}")},
		"notes.txt":     {Data: []byte("hi")},
		"sub/inner.js":  {Data: []byte("1")},
		"sub/.keep.txt": {Data: []byte("")},
	}
}

func TestStaticHandler_ServesWithCachePolicy(t *testing.T) {
	h := StaticHandler(testFS(), StaticOptions{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/site.css", http.NoBody))
	if rec.Code != http.StatusOK || rec.Body.String() != "body{}" {
		t.Fatalf("site.css: %d %q", rec.Code, rec.Body.String())
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "public, max-age=3600" {
		t.Fatalf("css Cache-Control = %q", cc)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/notes.txt", http.NoBody))
	if cc := rec.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Fatalf("txt Cache-Control = %q", cc)
	}
}

func TestStaticHandler_Rejects(t *testing.T) {
	h := StaticHandler(testFS(), StaticOptions{})
	for _, p := range []string{"/", "/sub", "/sub/", "/missing.css", "/sub/../site.css", "/sub//inner.js"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		req.URL.Path = p
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: status %d, want 404", p, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/site.css", http.NoBody))
	if rec.Code != http.StatusMethodNotAllowed || rec.Header().Get("Allow") != "GET, HEAD" {
		t.Fatalf("POST: %d allow=%q", rec.Code, rec.Header().Get("Allow"))
	}
}

func TestServeFile(t *testing.T) {
	rec := httptest.NewRecorder()
	ServeFile(Static(), FaviconName, StaticOptions{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/favicon.ico", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("Content-Type = %q", ct)
	}

	rec = httptest.NewRecorder()
	ServeFile(testFS(), "absent.png", StaticOptions{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/favicon.ico", http.NoBody))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing file status = %d", rec.Code)
	}
}
