package pipeline

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/trackside-presence/internal/domain"
)

// LogPublisher writes events and notifications to the log. It is used when
// Kafka publishing is disabled.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (l *LogPublisher) PublishPosition(_ context.Context, ev domain.PositionEvent) error {
	l.logger.Debug("position event",
		"latitude", ev.Position.Lat, "longitude", ev.Position.Lon, "manual", ev.Manual)
	return nil
}

func (l *LogPublisher) PublishTransitions(_ context.Context, transitions []domain.Transition) error {
	for _, t := range transitions {
		l.logger.Info("presence transition",
			"kind", t.Kind, "venue_id", t.VenueID, "session_id", t.SessionID, "manual", t.Manual)
	}
	return nil
}

func (l *LogPublisher) Notify(_ context.Context, n domain.Notification) error {
	l.logger.Info("arrival notification", "venue_id", n.VenueID, "session_id", n.SessionID, "title", n.Title)
	return nil
}
