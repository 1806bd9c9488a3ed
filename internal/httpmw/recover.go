package httpmw

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/saddlebagexchange/saddlebag-web/internal/log"
	"github.com/saddlebagexchange/saddlebag-web/internal/xerrors"
)

// Recover turns a handler panic into a logged error and a plain 500. onPanic,
// when set, is called once per recovered panic (the metrics counter hooks in
// here). http.ErrAbortHandler is re-raised so net/http can abort the
// connection as intended.
func Recover(logger log.Logger, onPanic func()) func(http.Handler) http.Handler {
	if logger == nil {
		logger = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler {
					panic(v)
				}
				if onPanic != nil {
					onPanic()
				}

				err, ok := v.(error)
				if !ok {
					err = fmt.Errorf("%v", v)
				}
				err = xerrors.Wrap(err, "handler panic")

				ctx := r.Context()
				logger.With(
					"request_id", RequestIDFromContext(ctx),
					"http.request.method", r.Method,
					"url.path", r.URL.Path,
					"panic.stack", string(debug.Stack()),
				).Error(ctx, err, "httpserver panic recovered")

				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
