package sitehttp

import (
	"net/http"
	"strings"
)

// DefaultWebAppURL hosts the tools that used to live on this site.
const DefaultWebAppURL = "https://saddlebagexchange.com"

// Redirect sends a retired path to its page on the web app. Any method is
// redirected; browsers follow a 301 or 302 from a POST with a GET.
type Redirect struct {
	From      string
	To        string
	Permanent bool
}

var LegacyRedirects = []Redirect{
	{From: "/pricecheck", To: "/price-sniper"},
	{From: "/wow/uploadtimers", To: "/wow/upload-timers", Permanent: true},
	{From: "/uploadtimers", To: "/wow/upload-timers", Permanent: true},
	{From: "/ffxivmarketshare", To: "/ffxiv/marketshare/queries", Permanent: true},
	{From: "/wowmarketshare", To: "/wow/marketshare", Permanent: true},
	{From: "/ffxivsalehistory", To: "/ffxiv/sale-history/queries", Permanent: true},
	{From: "/wowoutofstock", To: "/wow/out-of-stock", Permanent: true},
}

func (lr Redirect) target(base string) string {
	return strings.TrimRight(base, "/") + lr.To
}

func (lr Redirect) handler(base string) http.Handler {
	code := http.StatusFound
	if lr.Permanent {
		code = http.StatusMovedPermanently
	}
	return http.RedirectHandler(lr.target(base), code)
}
