package positioning

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/trackside-presence/internal/backoff"
	"github.com/couchcryptid/trackside-presence/internal/domain"
)

// Fix is a raw report from the device positioning service.
type Fix struct {
	Lat      float64   `json:"lat"`
	Lng      float64   `json:"lng"`
	Accuracy *float64  `json:"accuracy,omitempty"`
	Provider string    `json:"provider,omitempty"`
	Status   string    `json:"status,omitempty"`
	Time     time.Time `json:"time"`
}

// FixReader blocks until the next device fix is available.
type FixReader interface {
	ReadFix(ctx context.Context) (Fix, error)
}

// NativeSource serves positions from the device positioning stream.
type NativeSource struct {
	feed   *feed
	reader FixReader
	logger *slog.Logger
}

// NewNativeSource creates a native source. Run must be started to pump fixes.
func NewNativeSource(reader FixReader, clock clockwork.Clock, logger *slog.Logger) *NativeSource {
	return &NativeSource{
		feed:   newFeed(clock),
		reader: reader,
		logger: logger,
	}
}

func (s *NativeSource) Name() string { return "native" }

func (s *NativeSource) GetPosition(ctx context.Context, opts Options) (domain.Position, error) {
	return s.feed.getPosition(ctx, opts)
}

func (s *NativeSource) StartWatch(opts Options, onUpdate func(domain.Position), onError func(error)) (WatchHandle, error) {
	return s.feed.watch(opts, onUpdate, onError), nil
}

// Run pumps fixes from the reader until ctx is cancelled. Reader failures are
// surfaced to subscribers as POSITION_UNAVAILABLE and retried with backoff.
func (s *NativeSource) Run(ctx context.Context) error {
	s.logger.Info("native positioning started")

	delay := backoff.DefaultInitial

	for {
		fix, err := s.reader.ReadFix(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info("native positioning stopping", "reason", ctx.Err())
				return nil
			}
			s.logger.Error("read device fix failed", "error", err, "backoff", delay)
			s.feed.publish(Report{Err: &domain.PositionError{
				Kind:    domain.PositionUnavailable,
				Message: "device positioning stream unavailable",
				Err:     err,
			}})
			if !backoff.Sleep(ctx, s.feed.clock, delay) {
				return nil
			}
			delay = backoff.Next(delay, backoff.DefaultMax)
			continue
		}
		delay = backoff.DefaultInitial

		report, err := fixToReport(fix)
		if err != nil {
			s.logger.Warn("discarding invalid device fix", "error", err)
			continue
		}
		s.feed.publish(report)
	}
}

// fixToReport normalizes a device fix into a Report.
func fixToReport(f Fix) (Report, error) {
	switch f.Status {
	case "", "ok":
	case "denied":
		return Report{Err: domain.NewPositionError(domain.PermissionDenied, "location permission denied on device")}, nil
	case "disabled", "unavailable":
		return Report{Err: domain.NewPositionError(domain.PositionUnavailable, "location services "+f.Status)}, nil
	case "timeout":
		return Report{Err: domain.NewPositionError(domain.Timeout, "device fix timed out")}, nil
	default:
		return Report{Err: domain.NewPositionError(domain.Unknown, "device status "+f.Status)}, nil
	}

	pos, err := domain.NewPosition(f.Lat, f.Lng, f.Accuracy, f.Time)
	if err != nil {
		return Report{}, fmt.Errorf("normalize device fix: %w", err)
	}
	return Report{Position: pos, Provider: f.Provider}, nil
}
