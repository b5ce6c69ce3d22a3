package positioning

import (
	"context"

	"github.com/couchcryptid/trackside-presence/internal/domain"
)

// Unsupported is the source used when no positioning capability exists.
type Unsupported struct{}

func (Unsupported) Name() string { return "unsupported" }

func (Unsupported) GetPosition(context.Context, Options) (domain.Position, error) {
	return domain.Position{}, errUnsupported()
}

func (Unsupported) StartWatch(Options, func(domain.Position), func(error)) (WatchHandle, error) {
	return nil, errUnsupported()
}

func errUnsupported() error {
	return domain.NewPositionError(domain.Unsupported, "no positioning capability on this platform")
}

// Platform lists the positioning capabilities present in this process.
type Platform struct {
	Native  *NativeSource
	Browser *BrowserSource
}

// Select picks a source for the configured backend. "auto" prefers the native
// device stream, then the browser. A requested backend that is absent yields
// Unsupported.
func Select(backend string, p Platform) Source {
	switch backend {
	case "native":
		if p.Native != nil {
			return p.Native
		}
	case "browser":
		if p.Browser != nil {
			return p.Browser
		}
	default:
		if p.Native != nil {
			return p.Native
		}
		if p.Browser != nil {
			return p.Browser
		}
	}
	return Unsupported{}
}
