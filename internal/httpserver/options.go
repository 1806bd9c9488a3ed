package httpserver

import (
	"net/http"
	"time"

	"github.com/saddlebagexchange/saddlebag-web/internal/httpmw"
	"github.com/saddlebagexchange/saddlebag-web/internal/log"
	"github.com/saddlebagexchange/saddlebag-web/internal/secpolicy"
)

type Options struct {
	Logger log.Logger
	Port   int
	// Site serves every public route, including its own 404 and 405 pages.
	Site http.Handler
	// Policy is the header set; nil means secpolicy.Default.
	Policy       *secpolicy.Policy
	ClientIPOpts httpmw.ClientIPOptions
	MetricsMW    func(http.Handler) http.Handler
	UseRecoverMW bool
	OnPanic      func()
	// WriteTimeout raises the server write deadline above the WriteTimeout
	// floor. See WriteTimeoutFor.
	WriteTimeout time.Duration
}
