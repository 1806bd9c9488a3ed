package webassets

import (
	"io/fs"
	"net/http"
	"path"
	"strings"
)

type StaticOptions struct {
	// AssetCacheControl applies to fingerprint-free assets such as css, js and images.
	AssetCacheControl string // default: "public, max-age=3600"
	OtherCacheControl string // default: "no-cache"
}

func (o *StaticOptions) setDefaults() {
	if o.AssetCacheControl == "" {
		o.AssetCacheControl = "public, max-age=3600"
	}
	if o.OtherCacheControl == "" {
		o.OtherCacheControl = "no-cache"
	}
}

// StaticHandler serves files from fsys for GET and HEAD. The request path is
// resolved relative to the mount point, so mount it with http.StripPrefix.
// Directory listings are never served.
func StaticHandler(fsys fs.FS, opts StaticOptions) http.Handler {
	opts.setDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		name, ok := cleanName(r.URL.Path)
		if !ok || !isFile(fsys, name) {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", cacheControl(name, opts))
		http.ServeFileFS(w, r, fsys, name)
	})
}

// ServeFile serves a single named file regardless of the request path. Used
// for /favicon.ico.
func ServeFile(fsys fs.FS, name string, opts StaticOptions) http.Handler {
	opts.setDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isFile(fsys, name) {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", cacheControl(name, opts))
		http.ServeFileFS(w, r, fsys, name)
	})
}

// cleanName rejects dot segments, backslashes and NUL before the path ever
// reaches the filesystem.
func cleanName(urlPath string) (string, bool) {
	p := strings.TrimPrefix(urlPath, "/")
	if p == "" || strings.ContainsAny(p, "\\\x00") {
		return "", false
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." || seg == "" {
			return "", false
		}
	}
	if !fs.ValidPath(p) {
		return "", false
	}
	return p, true
}

func isFile(fsys fs.FS, name string) bool {
	info, err := fs.Stat(fsys, name)
	return err == nil && !info.IsDir()
}

func cacheControl(name string, o StaticOptions) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".css", ".js", ".png", ".jpg", ".jpeg", ".webp", ".gif", ".svg", ".ico", ".woff", ".woff2":
		return o.AssetCacheControl
	}
	return o.OtherCacheControl
}
