package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/trackside-presence/internal/backoff"
	"github.com/couchcryptid/trackside-presence/internal/domain"
	"github.com/couchcryptid/trackside-presence/internal/observability"
	"github.com/couchcryptid/trackside-presence/internal/presence"
)

// DefaultQueueSize bounds the number of position events waiting for the detector.
const DefaultQueueSize = 1024

const publishAttempts = 5

// Detector applies positions and check-ins to presence state.
type Detector interface {
	Process(ctx context.Context, pos domain.Position) (presence.Update, error)
	CheckIn(ctx context.Context, venueID string, pos *domain.Position) (presence.Update, error)
}

// EventPublisher forwards accepted positions and committed transitions.
type EventPublisher interface {
	PublishPosition(ctx context.Context, ev domain.PositionEvent) error
	PublishTransitions(ctx context.Context, transitions []domain.Transition) error
}

// VenueStatus reports whether the venue registry has loaded.
type VenueStatus interface {
	Loaded() bool
}

// Pipeline feeds position events from the acquisition engine to the presence
// detector in arrival order on a single worker.
type Pipeline struct {
	detector  Detector
	publisher EventPublisher
	venues    VenueStatus
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics

	mu      sync.Mutex
	queue   []domain.PositionEvent
	limit   int
	signal  chan struct{}
	dropped uint64

	running atomic.Bool
}

// New creates a Pipeline with the given collaborators and observability.
func New(d Detector, pub EventPublisher, venues VenueStatus, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		detector:  d,
		publisher: pub,
		venues:    venues,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
		limit:     DefaultQueueSize,
		signal:    make(chan struct{}, 1),
	}
}

// Enqueue accepts a position event without blocking. When the queue is full
// the oldest waiting event is dropped.
func (p *Pipeline) Enqueue(ev domain.PositionEvent) {
	p.mu.Lock()
	if len(p.queue) >= p.limit {
		p.queue = p.queue[1:]
		p.dropped++
		p.metrics.PipelineDropped.Inc()
		p.logger.Warn("position queue full, dropping oldest event", "dropped_total", p.dropped)
	}
	p.queue = append(p.queue, ev)
	p.mu.Unlock()

	select {
	case p.signal <- struct{}{}:
	default:
	}
}

// CheckReadiness returns nil once the pipeline is running and the venue
// registry has loaded.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.running.Load() {
		return errors.New("pipeline is not running")
	}
	if p.venues != nil && !p.venues.Loaded() {
		return errors.New("venue registry has not loaded")
	}
	return nil
}

// Run processes queued events until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started")
	p.metrics.PipelineRunning.Set(1)
	p.running.Store(true)
	defer func() {
		p.running.Store(false)
		p.metrics.PipelineRunning.Set(0)
	}()

	for {
		ev, ok := p.next()
		if !ok {
			select {
			case <-ctx.Done():
				p.logger.Info("pipeline stopping", "reason", ctx.Err())
				return nil
			case <-p.signal:
			}
			continue
		}

		if !p.process(ctx, ev) {
			return nil
		}
	}
}

func (p *Pipeline) next() (domain.PositionEvent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return domain.PositionEvent{}, false
	}
	ev := p.queue[0]
	p.queue = p.queue[1:]
	return ev, true
}

// process handles one event. Returns false if the pipeline should stop.
func (p *Pipeline) process(ctx context.Context, ev domain.PositionEvent) bool {
	if ctx.Err() != nil {
		return false
	}
	start := p.clock.Now()

	if err := p.publisher.PublishPosition(ctx, ev); err != nil && ctx.Err() == nil {
		p.logger.Warn("publish position failed", "error", err)
	}

	// Postal-code positions update acquisition state only.
	if ev.Manual {
		return true
	}

	update, err := p.detector.Process(ctx, ev.Position)
	if err != nil {
		var perr *domain.SessionPersistenceError
		if errors.As(err, &perr) {
			p.logger.Warn("presence transition not committed, will retry on next position",
				"op", perr.Op, "venue_id", perr.VenueID, "session_id", perr.SessionID, "error", perr.Err)
		} else {
			p.logger.Error("presence detection failed", "error", err)
		}
	}

	ok := p.publishTransitions(ctx, update.Transitions)
	p.metrics.ProcessingDuration.Observe(p.clock.Since(start).Seconds())
	return ok
}

// CheckIn performs a manual check-in and publishes its transitions.
func (p *Pipeline) CheckIn(ctx context.Context, venueID string, pos *domain.Position) (presence.Update, error) {
	update, err := p.detector.CheckIn(ctx, venueID, pos)
	p.publishTransitions(ctx, update.Transitions)
	return update, err
}

// publishTransitions retries with backoff so committed transitions are not
// lost during a broker outage. Returns false if ctx was cancelled.
func (p *Pipeline) publishTransitions(ctx context.Context, transitions []domain.Transition) bool {
	if len(transitions) == 0 {
		return ctx.Err() == nil
	}

	delay := backoff.DefaultInitial

	for attempt := 1; ; attempt++ {
		err := p.publisher.PublishTransitions(ctx, transitions)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		if attempt >= publishAttempts {
			p.logger.Error("publish transitions failed, giving up", "error", err, "count", len(transitions), "attempts", attempt)
			return true
		}
		p.logger.Warn("publish transitions failed", "error", err, "attempt", attempt, "backoff", delay)
		if !backoff.Sleep(ctx, p.clock, delay) {
			return false
		}
		delay = backoff.Next(delay, backoff.DefaultMax)
	}
}
