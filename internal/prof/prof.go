// Package prof pushes continuous profiles to a Pyroscope server.
package prof

import (
	"context"
	"runtime"
	"sync"

	"github.com/grafana/pyroscope-go"

	"github.com/saddlebagexchange/saddlebag-web/internal/log"
	"github.com/saddlebagexchange/saddlebag-web/internal/xerrors"
)

type Options struct {
	Enabled       bool
	AppName       string
	ServerAddress string
	AuthToken     string
	TenantID      string
	Tags          map[string]string
	// mutex and block profiles are only pushed when their rate is set
	MutexFraction int
	BlockRate     int
	// OnActive reports whether the agent is running
	OnActive func(bool)
}

var baseProfiles = []pyroscope.ProfileType{
	pyroscope.ProfileCPU,
	pyroscope.ProfileAllocObjects,
	pyroscope.ProfileAllocSpace,
	pyroscope.ProfileInuseObjects,
	pyroscope.ProfileInuseSpace,
	pyroscope.ProfileGoroutines,
}

// profileTypes lists what the agent should push for these options.
func profileTypes(o Options) []pyroscope.ProfileType {
	types := append([]pyroscope.ProfileType(nil), baseProfiles...)
	if o.MutexFraction > 0 {
		types = append(types, pyroscope.ProfileMutexCount, pyroscope.ProfileMutexDuration)
	}
	if o.BlockRate > 0 {
		types = append(types, pyroscope.ProfileBlockCount, pyroscope.ProfileBlockDuration)
	}
	return types
}

// Start runs the agent. The returned stop is never nil and is safe to call
// more than once. The logger is taken from ctx.
func Start(ctx context.Context, o Options) (func(), error) {
	L := log.FromContext(ctx)
	setActive := func(v bool) {
		if o.OnActive != nil {
			o.OnActive(v)
		}
	}
	setActive(false)

	if !o.Enabled {
		L.Info(ctx, "pyroscope disabled")
		return func() {}, nil
	}
	if o.ServerAddress == "" {
		return func() {}, xerrors.New("pyroscope: invalid server address (empty)")
	}

	if o.MutexFraction > 0 {
		runtime.SetMutexProfileFraction(o.MutexFraction)
	}
	if o.BlockRate > 0 {
		runtime.SetBlockProfileRate(o.BlockRate)
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: o.AppName,
		ServerAddress:   o.ServerAddress,
		AuthToken:       o.AuthToken,
		TenantID:        o.TenantID,
		Tags:            o.Tags,
		ProfileTypes:    profileTypes(o),
		DisableGCRuns:   true,
	})
	if err != nil {
		return func() {}, xerrors.Wrapf(err, "pyroscope start (server=%s)", o.ServerAddress)
	}
	setActive(true)
	L.Info(ctx, "pyroscope started", "server_address", o.ServerAddress, "app_name", o.AppName)

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := profiler.Stop(); err != nil {
				L.Warn(context.Background(), "pyroscope stop", "err", err)
			}
			setActive(false)
			L.Info(context.Background(), "pyroscope stopped")
		})
	}, nil
}
