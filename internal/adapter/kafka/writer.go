package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/trackside-presence/internal/config"
	"github.com/couchcryptid/trackside-presence/internal/domain"
)

// messageWriter is the subset of *kafkago.Writer used by Publisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher produces position events, presence transitions, and arrival
// notifications. It implements pipeline.EventPublisher and presence.Notifier.
type Publisher struct {
	writer      messageWriter
	userID      string
	eventsTopic string
	notifyTopic string
	logger      *slog.Logger
}

// NewPublisher creates a Kafka producer. Messages carry their own topic so
// one writer serves both the events and notification topics.
func NewPublisher(cfg *config.Config, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return newPublisher(w, cfg, logger)
}

func newPublisher(w messageWriter, cfg *config.Config, logger *slog.Logger) *Publisher {
	return &Publisher{
		writer:      w,
		userID:      cfg.UserID,
		eventsTopic: cfg.KafkaEventsTopic,
		notifyTopic: cfg.KafkaNotifyTopic,
		logger:      logger,
	}
}

// PublishPosition writes one accepted fix to the events topic.
func (p *Publisher) PublishPosition(ctx context.Context, ev domain.PositionEvent) error {
	msg, err := serializeToMessage(p.eventsTopic, p.userID, "position", ev.Position.Timestamp, ev)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

// PublishTransitions writes transitions to the events topic in a single
// WriteMessages call, preserving order.
func (p *Publisher) PublishTransitions(ctx context.Context, transitions []domain.Transition) error {
	if len(transitions) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(transitions))
	for i, t := range transitions {
		msg, err := serializeToMessage(p.eventsTopic, p.userID, string(t.Kind), t.At, t)
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	return p.writer.WriteMessages(ctx, msgs...)
}

// Notify writes an arrival notification to the notification topic.
func (p *Publisher) Notify(ctx context.Context, n domain.Notification) error {
	msg, err := serializeToMessage(p.notifyTopic, n.UserID, "arrival_notification", n.At, n)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage marshals payload into a message keyed by user so a
// user's events stay ordered within one partition.
func serializeToMessage(topic, key, eventType string, at time.Time, payload any) (kafkago.Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize %s event: %w", eventType, err)
	}
	return kafkago.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(eventType)},
			{Key: "occurred_at", Value: []byte(at.UTC().Format(time.RFC3339))},
		},
	}, nil
}
