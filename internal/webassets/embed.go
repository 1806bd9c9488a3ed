// Package webassets embeds the page templates and static files so the binary
// is self-contained.
package webassets

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed templates/*.html static
var embedded embed.FS

// FaviconName is the static file served at /favicon.ico.
const FaviconName = "chocobo.png"

// Templates returns the template tree rooted at templates/.
func Templates() fs.FS { return sub("templates") }

// Static returns the static file tree rooted at static/.
func Static() fs.FS { return sub("static") }

func sub(dir string) fs.FS {
	s, err := fs.Sub(embedded, dir)
	if err != nil {
		panic(fmt.Errorf("webassets: %s subfs: %w", dir, err))
	}
	return s
}
