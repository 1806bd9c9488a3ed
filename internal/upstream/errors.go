package upstream

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrTransport covers connection failures, timeouts and cancellation.
	ErrTransport = errors.New("upstream: transport failure")
	// ErrDecode means the body was not the JSON shape expected.
	ErrDecode = errors.New("upstream: malformed response")
	// ErrMissingEnvelope means the expected top-level key was absent.
	ErrMissingEnvelope = errors.New("upstream: response envelope missing")
	// ErrEmpty means the envelope was present but held no results.
	ErrEmpty = errors.New("upstream: empty result")
)

// StatusError is a non-2xx reply. The body is never kept.
type StatusError struct {
	Endpoint string
	Code     int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream: %s returned %d %s", e.Endpoint, e.Code, http.StatusText(e.Code))
}

// Retryable reports whether the status is worth a second attempt.
func (e *StatusError) Retryable() bool { return e.Code >= 500 }

// Unavailable reports whether err means the upstream could not give a usable
// answer (as opposed to a valid answer with no results).
func Unavailable(err error) bool {
	var se *StatusError
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrDecode) || errors.As(err, &se)
}

// NoResults reports whether err means a well-formed reply with nothing to show.
func NoResults(err error) bool {
	return errors.Is(err, ErrMissingEnvelope) || errors.Is(err, ErrEmpty)
}
