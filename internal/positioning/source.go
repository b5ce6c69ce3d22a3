// Package positioning adapts device and browser location backends to a single
// one-shot and watch contract producing domain.Position values.
package positioning

import (
	"context"
	"time"

	"github.com/couchcryptid/trackside-presence/internal/domain"
)

// Options mirror the geolocation request options.
type Options struct {
	EnableHighAccuracy bool
	Timeout            time.Duration
	MaximumAge         time.Duration
}

// OneShotSource returns a single position fix.
type OneShotSource interface {
	GetPosition(ctx context.Context, opts Options) (domain.Position, error)
}

// WatchableSource delivers fixes continuously until the handle is stopped.
// Callbacks for one watch are invoked sequentially in arrival order.
type WatchableSource interface {
	StartWatch(opts Options, onUpdate func(domain.Position), onError func(error)) (WatchHandle, error)
}

// WatchHandle cancels a watch. Stop is idempotent.
type WatchHandle interface {
	Stop()
}

// Source is a complete positioning backend.
type Source interface {
	OneShotSource
	WatchableSource
	Name() string
}

// Report is a single normalized backend report: either a fix or an error.
type Report struct {
	Position domain.Position
	Provider string
	Err      error
}

// Providers whose fixes are excluded from high-accuracy requests.
var lowAccuracyProviders = map[string]bool{
	"network": true,
	"passive": true,
}

func accepts(opts Options, r Report) bool {
	if r.Err != nil {
		return true
	}
	return !opts.EnableHighAccuracy || !lowAccuracyProviders[r.Provider]
}
