package staticdoc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/saddlebagexchange/saddlebag-web/internal/remote"
)

const openapiDoc = `{"openapi":"3.0.0","info":{"title":"Saddlebag Exchange API"}}`

func TestNew(t *testing.T) {
	d, err := New("openapi-spec.json", []byte(openapiDoc), "")
	if err != nil {
		t.Fatal(err)
	}
	sum := sha256.Sum256([]byte(openapiDoc))
	if d.ETag != `"`+hex.EncodeToString(sum[:])+`"` {
		t.Fatalf("ETag = %s", d.ETag)
	}
	if d.ContentType != "application/json" {
		t.Fatalf("ContentType = %q", d.ContentType)
	}

	if _, err := New("x.json", nil, ""); err == nil {
		t.Fatal("empty body accepted")
	}
	if d, _ := New("noext", []byte("{}"), ""); d.ContentType != defaultContentType {
		t.Fatalf("fallback content type = %q", d.ContentType)
	}
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "openapi-spec.json")
	if err := os.WriteFile(p, []byte(openapiDoc), 0o600); err != nil {
		t.Fatal(err)
	}
	d, err := FromFile(p)
	if err != nil {
		t.Fatalf("FromFile: %v", err)
	}
	if string(d.Body) != openapiDoc || d.Source != "file" {
		t.Fatalf("doc = %q from %q", d.Body, d.Source)
	}

	if _, err := FromFile(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatal("missing file accepted")
	}
	if _, err := FromFile(dir); err == nil {
		t.Fatal("directory accepted")
	}
}

type stubObjects struct {
	obj remote.Object
	err error
}

func (s stubObjects) Get(context.Context, string, string) (remote.Object, error) { return s.obj, s.err }

func TestFromObject(t *testing.T) {
	d, err := FromObject(context.Background(), stubObjects{obj: remote.Object{
		Body:        []byte(openapiDoc),
		ContentType: "binary/octet-stream",
	}}, "docs", "openapi-spec.json")
	if err != nil {
		t.Fatalf("FromObject: %v", err)
	}
	if d.ContentType != "application/json" || d.Source != "s3" {
		t.Fatalf("doc = %q from %q", d.ContentType, d.Source)
	}

	if _, err := FromObject(context.Background(), stubObjects{err: errors.New("NoSuchKey")}, "docs", "k"); err == nil {
		t.Fatal("store error swallowed")
	}
}

func TestServeHTTP(t *testing.T) {
	d, _ := New("openapi-spec.json", []byte(openapiDoc), "")

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi-spec.json", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != openapiDoc {
		t.Fatalf("GET: %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("ETag") != d.ETag || rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("headers = %v", rec.Header())
	}

	rec = httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/openapi-spec.json", nil))
	if rec.Code != http.StatusOK || rec.Body.Len() != 0 {
		t.Fatalf("HEAD: %d len=%d", rec.Code, rec.Body.Len())
	}

	rec = httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/openapi-spec.json", nil))
	if rec.Code != http.StatusMethodNotAllowed || rec.Header().Get("Allow") != "GET, HEAD" {
		t.Fatalf("POST: %d allow=%q", rec.Code, rec.Header().Get("Allow"))
	}
}

func TestServeHTTP_Conditional(t *testing.T) {
	d, _ := New("openapi-spec.json", []byte(openapiDoc), "")
	tests := []struct {
		inm  string
		want int
	}{
		{d.ETag, http.StatusNotModified},
		{"W/" + d.ETag, http.StatusNotModified},
		{`"other", ` + d.ETag, http.StatusNotModified},
		{"*", http.StatusNotModified},
		{`"stale"`, http.StatusOK},
		{"", http.StatusOK},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/openapi-spec.json", nil)
		if tt.inm != "" {
			req.Header.Set("If-None-Match", tt.inm)
		}
		rec := httptest.NewRecorder()
		d.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("If-None-Match %q: %d, want %d", tt.inm, rec.Code, tt.want)
		}
		if tt.want == http.StatusNotModified && rec.Body.Len() != 0 {
			t.Errorf("304 carried a body")
		}
	}
}
