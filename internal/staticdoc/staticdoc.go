// Package staticdoc serves small documents that are loaded once at startup
// and returned verbatim, such as the OpenAPI description. Each Doc carries a
// content ETag so clients can revalidate cheaply.
package staticdoc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/saddlebagexchange/saddlebag-web/internal/remote"
	"github.com/saddlebagexchange/saddlebag-web/internal/xerrors"
)

const (
	// MaxFileSize bounds documents read from disk.
	MaxFileSize = 8 << 20

	defaultContentType = "application/json"
)

type Doc struct {
	Body        []byte
	ContentType string
	// ETag is the quoted hex sha256 of Body
	ETag string
	// Source says where Body came from, "file" or "s3"
	Source string
}

// ObjectGetter is the part of remote.ObjectStore a Doc needs.
type ObjectGetter interface {
	Get(ctx context.Context, bucket, key string) (remote.Object, error)
}

// New builds a Doc from body. An empty contentType is guessed from name's
// extension, falling back to JSON.
func New(name string, body []byte, contentType string) (*Doc, error) {
	if len(body) == 0 {
		return nil, xerrors.Newf("static document %s is empty", name)
	}
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(name))
	}
	if contentType == "" {
		contentType = defaultContentType
	}
	sum := sha256.Sum256(body)
	return &Doc{
		Body:        body,
		ContentType: contentType,
		ETag:        `"` + hex.EncodeToString(sum[:]) + `"`,
	}, nil
}

func FromFile(path string) (*Doc, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "stat static document %s", path)
	}
	if !fi.Mode().IsRegular() {
		return nil, xerrors.Newf("static document %s is not a regular file", path)
	}
	if fi.Size() > MaxFileSize {
		return nil, xerrors.Newf("static document %s exceeds size limit (%d bytes, max %d)", path, fi.Size(), MaxFileSize)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read static document %s", path)
	}
	d, err := New(path, b, "")
	if err != nil {
		return nil, err
	}
	d.Source = "file"
	return d, nil
}

func FromObject(ctx context.Context, objects ObjectGetter, bucket, key string) (*Doc, error) {
	obj, err := objects.Get(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	// S3 defaults unknown uploads to octet-stream; trust the key instead
	ct := obj.ContentType
	if ct == "binary/octet-stream" || ct == "application/octet-stream" {
		ct = ""
	}
	d, err := New(key, obj.Body, ct)
	if err != nil {
		return nil, err
	}
	d.Source = "s3"
	return d, nil
}

// ServeHTTP answers GET and HEAD with the body, or 304 when If-None-Match
// names the current ETag.
func (d *Doc) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	h := w.Header()
	h.Set("ETag", d.ETag)
	h.Set("Cache-Control", "no-cache")
	if etagMatch(r.Header.Get("If-None-Match"), d.ETag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	h.Set("Content-Type", d.ContentType)
	h.Set("Content-Length", strconv.Itoa(len(d.Body)))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		_, _ = w.Write(d.Body)
	}
}

// etagMatch uses the weak comparison If-None-Match calls for.
func etagMatch(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		if strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}
