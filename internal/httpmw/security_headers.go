package httpmw

import (
	"net/http"

	"github.com/saddlebagexchange/saddlebag-web/internal/secpolicy"
)

// SecurityHeaders sets every header of p on each response before the next
// handler runs, so error pages and panics carry the same policy. Values are
// rendered once when the middleware is built.
func SecurityHeaders(p *secpolicy.Policy) func(http.Handler) http.Handler {
	if p == nil {
		p = secpolicy.Default()
	}
	values := p.Values()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for _, v := range values {
				h.Set(v.Name, v.Value)
			}
			next.ServeHTTP(w, r)
		})
	}
}
