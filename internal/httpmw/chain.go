package httpmw

import (
	"net/http"
)

// Chain wraps h so that mws[0] is the outermost layer. nil entries are skipped,
// which lets callers leave optional middleware unset.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			h = mws[i](h)
		}
	}
	return h
}

// ForMethods applies mw only to requests whose method is in methods. Other
// requests go straight to next.
func ForMethods(mw func(http.Handler) http.Handler, methods ...string) func(http.Handler) http.Handler {
	if mw == nil {
		return nil
	}
	return func(next http.Handler) http.Handler {
		wrapped := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, m := range methods {
				if r.Method == m {
					wrapped.ServeHTTP(w, r)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
