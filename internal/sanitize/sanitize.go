// Package sanitize re-serializes rendered HTML through a DOM parser before it
// is written to the client. While walking the tree it drops event-handler
// attributes and script-scheme URLs, which are the injection vectors that
// survive contextual template escaping when upstream data lands in attributes.
package sanitize

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"

	"github.com/saddlebagexchange/saddlebag-web/internal/xerrors"
)

type Options struct {
	// Disabled passes documents through untouched. Test builds only; config
	// validation refuses it for release builds.
	Disabled bool
}

type Sanitizer struct {
	disabled bool
}

func New(opts Options) *Sanitizer {
	return &Sanitizer{disabled: opts.Disabled}
}

// Disabled reports whether the pass-through mode is active.
func (s *Sanitizer) Disabled() bool { return s != nil && s.disabled }

// maxPasses bounds the re-parse loop. Misnested markup can take a second
// pass before the tree builder's output parses back to itself.
const maxPasses = 4

// HTML parses doc and renders it back canonically, repeating until the output
// is a fixed point, so HTML(HTML(x)) == HTML(x).
func (s *Sanitizer) HTML(doc []byte) ([]byte, error) {
	if s.Disabled() {
		return doc, nil
	}
	cur, err := pass(doc)
	if err != nil {
		return nil, err
	}
	for i := 1; i < maxPasses; i++ {
		next, err := pass(cur)
		if err != nil {
			return nil, err
		}
		if bytes.Equal(next, cur) {
			return cur, nil
		}
		cur = next
	}
	return nil, xerrors.Newf("html did not settle after %d passes", maxPasses)
}

func pass(doc []byte) ([]byte, error) {
	root, err := html.Parse(bytes.NewReader(doc))
	if err != nil {
		return nil, xerrors.Wrap(err, "parse html")
	}
	clean(root)

	var buf bytes.Buffer
	buf.Grow(len(doc))
	if err := html.Render(&buf, root); err != nil {
		return nil, xerrors.Wrap(err, "render html")
	}
	return buf.Bytes(), nil
}

var urlAttrs = map[string]bool{
	"href":       true,
	"src":        true,
	"action":     true,
	"formaction": true,
	"xlink:href": true,
}

func clean(n *html.Node) {
	if n.Type == html.ElementNode && len(n.Attr) > 0 {
		kept := n.Attr[:0]
		for _, a := range n.Attr {
			if dropAttr(a) {
				continue
			}
			kept = append(kept, a)
		}
		n.Attr = kept
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		clean(c)
	}
}

func dropAttr(a html.Attribute) bool {
	key := strings.ToLower(a.Key)
	if a.Namespace != "" {
		key = strings.ToLower(a.Namespace) + ":" + key
	}
	if strings.HasPrefix(key, "on") {
		return true
	}
	if !urlAttrs[key] {
		return false
	}
	return scriptScheme(a.Val)
}

// scriptScheme ignores whitespace and control characters the way browsers do
// when they parse a URL scheme.
func scriptScheme(v string) bool {
	var b strings.Builder
	for _, r := range v {
		if r <= ' ' || r == 0x7f {
			continue
		}
		if r == ':' {
			break
		}
		b.WriteRune(r)
		if b.Len() > len("javascript") {
			return false
		}
	}
	switch strings.ToLower(b.String()) {
	case "javascript", "vbscript":
		return true
	}
	return false
}
