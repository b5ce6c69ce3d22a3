package positioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/trackside-presence/internal/domain"
)

// W3C GeolocationPositionError codes.
const (
	codePermissionDenied    = 1
	codePositionUnavailable = 2
	codeTimeout             = 3
)

// BrowserReport is a Geolocation API result posted by the web client.
type BrowserReport struct {
	Coords    *BrowserCoords `json:"coords,omitempty"`
	Timestamp int64          `json:"timestamp,omitempty"` // epoch milliseconds
	Error     *BrowserError  `json:"error,omitempty"`
}

type BrowserCoords struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
}

type BrowserError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// BrowserSource serves positions reported by a browser client.
type BrowserSource struct {
	feed *feed
}

func NewBrowserSource(clock clockwork.Clock) *BrowserSource {
	return &BrowserSource{feed: newFeed(clock)}
}

func (s *BrowserSource) Name() string { return "browser" }

func (s *BrowserSource) GetPosition(ctx context.Context, opts Options) (domain.Position, error) {
	return s.feed.getPosition(ctx, opts)
}

func (s *BrowserSource) StartWatch(opts Options, onUpdate func(domain.Position), onError func(error)) (WatchHandle, error) {
	return s.feed.watch(opts, onUpdate, onError), nil
}

// Report accepts one browser result. Invalid reports are rejected without
// reaching subscribers.
func (s *BrowserSource) Report(r BrowserReport) error {
	switch {
	case r.Error != nil:
		s.feed.publish(Report{Err: browserError(*r.Error)})
		return nil
	case r.Coords == nil:
		return errors.New("report must contain coords or error")
	}

	var ts time.Time
	if r.Timestamp > 0 {
		ts = time.UnixMilli(r.Timestamp)
	}
	pos, err := domain.NewPosition(r.Coords.Latitude, r.Coords.Longitude, r.Coords.Accuracy, ts)
	if err != nil {
		return fmt.Errorf("normalize browser position: %w", err)
	}
	s.feed.publish(Report{Position: pos})
	return nil
}

// RequestedOptions returns the most demanding options among pending requests
// and active watches, so the client can configure its geolocation calls.
func (s *BrowserSource) RequestedOptions() (Options, bool) {
	return s.feed.requested()
}

func browserError(e BrowserError) *domain.PositionError {
	kind := domain.Unknown
	switch e.Code {
	case codePermissionDenied:
		kind = domain.PermissionDenied
	case codePositionUnavailable:
		kind = domain.PositionUnavailable
	case codeTimeout:
		kind = domain.Timeout
	}
	return domain.NewPositionError(kind, e.Message)
}
