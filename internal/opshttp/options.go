package opshttp

import (
	"net/http"

	"github.com/saddlebagexchange/saddlebag-web/internal/health"
)

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Liveness    health.Probe
	Readiness   health.Probe
	// AllowPublic skips the private-network check. Tests and local runs only.
	AllowPublic bool
	OnPanic     func()
}
