// Package secpolicy holds the static response-header policy applied to every
// response of the public listener. The CSP allow-lists are data (directive
// name => sources) so they can be changed from a YAML file without code changes.
package secpolicy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/saddlebagexchange/saddlebag-web/internal/xerrors"
)

// Directive is one CSP directive and its allowed sources, in header order.
type Directive struct {
	Name    string   `yaml:"name"`
	Sources []string `yaml:"sources"`
}

// Header is a static header name/value pair.
type Header struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

type Policy struct {
	CSP           []Directive `yaml:"csp"`
	ReportOnlyCSP []Directive `yaml:"csp_report_only"`
	// Permissions lists features denied via Permissions-Policy, rendered as feature=()
	Permissions []string `yaml:"permissions_denied"`
	Headers     []Header `yaml:"headers"`
}

// Default is the production policy. The script/img/frame allow-lists carry
// the ad and analytics hosts the pages embed.
func Default() *Policy {
	return &Policy{
		CSP: []Directive{
			{Name: "default-src", Sources: []string{"'self'"}},
			{Name: "script-src", Sources: []string{
				"'self'",
				"https://code.jquery.com",
				"https://cdn.jsdelivr.net",
				"https://pagead2.googlesyndication.com",
				"cdn.datatables.net",
				"cdnjs.cloudflare.com",
				"www.googletagmanager.com",
				"partner.googleadservices.com",
				"tpc.googlesyndication.com",
			}},
			{Name: "style-src", Sources: []string{
				"'self'",
				"https://cdn.jsdelivr.net",
				"cdn.datatables.net",
				"fonts.googleapis.com",
			}},
			{Name: "img-src", Sources: []string{
				"'self'",
				"data:",
				"https://pagead2.googlesyndication.com",
				"https://saddlebagexchange.com",
			}},
			{Name: "font-src", Sources: []string{"'self'", "fonts.gstatic.com"}},
			{Name: "connect-src", Sources: []string{
				"'self'",
				"pagead2.googlesyndication.com",
				"www.google-analytics.com",
			}},
			{Name: "frame-src", Sources: []string{
				"'self'",
				"https://www.youtube.com",
				"googleads.g.doubleclick.net",
				"tpc.googlesyndication.com",
				"www.google.com",
			}},
		},
		ReportOnlyCSP: []Directive{
			{Name: "default-src", Sources: []string{"'self'"}},
			{Name: "script-src", Sources: []string{"'self'", "https://cdn.example.com"}},
			{Name: "style-src", Sources: []string{"'self'", "https://cdn.example.com"}},
			{Name: "img-src", Sources: []string{"'self'", "data:", "https://cdn.example.com"}},
		},
		Permissions: []string{
			"geolocation", "camera", "microphone", "fullscreen", "autoplay", "payment",
			"encrypted-media", "midi", "accelerometer", "gyroscope", "magnetometer",
		},
		Headers: []Header{
			{Name: "X-Frame-Options", Value: "same-origin"},
			{Name: "X-Content-Type-Options", Value: "nosniff"},
			{Name: "Strict-Transport-Security", Value: "max-age=31536000; includeSubDomains"},
			{Name: "Referrer-Policy", Value: "no-referrer-when-downgrade"},
			{Name: "Cross-Origin-Resource-Policy", Value: "same-origin"},
			{Name: "Cross-Origin-Opener-Policy", Value: "same-origin"},
			{Name: "X-XSS-Protection", Value: "0"},
		},
	}
}

// Load reads a YAML policy from path and validates it.
func Load(path string) (*Policy, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read security policy %s", path)
	}
	return Parse(b)
}

// RequiredHeaders must be present in every policy, whatever a file overrides.
var RequiredHeaders = []string{
	"X-Frame-Options",
	"X-Content-Type-Options",
	"Strict-Transport-Security",
	"Referrer-Policy",
	"Cross-Origin-Resource-Policy",
	"Cross-Origin-Opener-Policy",
	"X-XSS-Protection",
}

// Parse decodes a YAML policy on top of Default. A list given in the file
// replaces the default list; headers are merged by name, so a file can change
// a value but never drop one. Unknown keys are rejected so typos in a
// directive list do not silently drop an allow-list.
func Parse(b []byte) (*Policy, error) {
	var over Policy
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&over); err != nil && !errors.Is(err, io.EOF) {
		return nil, xerrors.Wrap(err, "decode security policy")
	}

	p := Default()
	if over.CSP != nil {
		p.CSP = over.CSP
	}
	if over.ReportOnlyCSP != nil {
		p.ReportOnlyCSP = over.ReportOnlyCSP
	}
	if over.Permissions != nil {
		p.Permissions = over.Permissions
	}
	for _, h := range over.Headers {
		p.setHeader(h)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Policy) setHeader(h Header) {
	for i := range p.Headers {
		if strings.EqualFold(p.Headers[i].Name, h.Name) {
			p.Headers[i].Value = h.Value
			return
		}
	}
	p.Headers = append(p.Headers, h)
}

// Validate rejects values that would break header framing, and policies that
// leave out any part of the fixed header set.
func (p *Policy) Validate() error {
	if len(p.CSP) == 0 {
		return xerrors.New("security policy: csp has no directives")
	}
	if len(p.ReportOnlyCSP) == 0 {
		return xerrors.New("security policy: csp_report_only has no directives")
	}
	if len(p.Permissions) == 0 {
		return xerrors.New("security policy: permissions_denied is empty")
	}
	check := func(kind string, ds []Directive) error {
		for _, d := range ds {
			if d.Name == "" || !validToken(d.Name) {
				return xerrors.Newf("security policy: %s directive name %q is invalid", kind, d.Name)
			}
			for _, s := range d.Sources {
				if s == "" || strings.ContainsAny(s, ";,\r\n \t") {
					return xerrors.Newf("security policy: %s directive %s has invalid source %q", kind, d.Name, s)
				}
			}
		}
		return nil
	}
	if err := check("csp", p.CSP); err != nil {
		return err
	}
	if err := check("csp_report_only", p.ReportOnlyCSP); err != nil {
		return err
	}
	for _, f := range p.Permissions {
		if !validToken(f) {
			return xerrors.Newf("security policy: permission %q is invalid", f)
		}
	}
	for _, h := range p.Headers {
		if !validToken(h.Name) || strings.ContainsAny(h.Value, "\r\n") {
			return xerrors.Newf("security policy: header %q is invalid", h.Name)
		}
	}
	for _, name := range RequiredHeaders {
		if !p.hasHeader(name) {
			return xerrors.Newf("security policy: header %s is missing or empty", name)
		}
	}
	return nil
}

func (p *Policy) hasHeader(name string) bool {
	for _, h := range p.Headers {
		if strings.EqualFold(h.Name, name) && strings.TrimSpace(h.Value) != "" {
			return true
		}
	}
	return false
}

// Values renders the policy into final header values, in a stable order.
func (p *Policy) Values() []Header {
	out := make([]Header, 0, len(p.Headers)+3)
	out = append(out, Header{Name: "Content-Security-Policy", Value: renderCSP(p.CSP)})
	out = append(out, p.Headers...)
	if len(p.ReportOnlyCSP) > 0 {
		out = append(out, Header{Name: "Content-Security-Policy-Report-Only", Value: renderCSP(p.ReportOnlyCSP)})
	}
	if len(p.Permissions) > 0 {
		parts := make([]string, len(p.Permissions))
		for i, f := range p.Permissions {
			parts[i] = f + "=()"
		}
		out = append(out, Header{Name: "Permissions-Policy", Value: strings.Join(parts, ", ")})
	}
	return out
}

func renderCSP(ds []Directive) string {
	parts := make([]string, 0, len(ds))
	for _, d := range ds {
		if len(d.Sources) == 0 {
			parts = append(parts, d.Name)
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %s", d.Name, strings.Join(d.Sources, " ")))
	}
	return strings.Join(parts, "; ")
}

func validToken(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		ok := r == '-' || r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !ok {
			return false
		}
	}
	return true
}
