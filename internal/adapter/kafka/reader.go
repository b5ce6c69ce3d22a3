package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/trackside-presence/internal/config"
	"github.com/couchcryptid/trackside-presence/internal/positioning"
)

// messageReader is the subset of *kafkago.Reader used by FixReader.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// FixReader consumes device fixes from the native positioning topic.
// It implements positioning.FixReader.
type FixReader struct {
	reader messageReader
	logger *slog.Logger
}

// NewFixReader creates a consumer-group reader for the fix topic.
func NewFixReader(cfg *config.Config, logger *slog.Logger) *FixReader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		GroupID:  cfg.KafkaGroupID,
		Topic:    cfg.KafkaFixTopic,
		MinBytes: 1,
		MaxBytes: 1 << 20,
	})
	return &FixReader{reader: r, logger: logger}
}

// ReadFix blocks until the next decodable fix. Messages that cannot be
// decoded are committed and skipped.
func (r *FixReader) ReadFix(ctx context.Context) (positioning.Fix, error) {
	for {
		msg, err := r.reader.FetchMessage(ctx)
		if err != nil {
			return positioning.Fix{}, fmt.Errorf("fetch device fix: %w", err)
		}

		fix, decodeErr := mapMessageToFix(msg)
		if err := r.reader.CommitMessages(ctx, msg); err != nil {
			r.logger.Warn("commit device fix failed", "error", err, "partition", msg.Partition, "offset", msg.Offset)
		}
		if decodeErr != nil {
			r.logger.Warn("skipping malformed device fix", "error", decodeErr, "partition", msg.Partition, "offset", msg.Offset)
			continue
		}
		return fix, nil
	}
}

func (r *FixReader) Close() error {
	return r.reader.Close()
}

// mapMessageToFix decodes a fix. A fix without its own timestamp takes the
// message time.
func mapMessageToFix(msg kafkago.Message) (positioning.Fix, error) {
	var fix positioning.Fix
	if err := json.Unmarshal(msg.Value, &fix); err != nil {
		return positioning.Fix{}, fmt.Errorf("decode device fix: %w", err)
	}
	if fix.Time.IsZero() {
		fix.Time = msg.Time
	}
	return fix, nil
}
