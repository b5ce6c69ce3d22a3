package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/trackside-presence/internal/domain"
	"github.com/couchcryptid/trackside-presence/internal/observability"
	"github.com/couchcryptid/trackside-presence/internal/presence"
	"github.com/couchcryptid/trackside-presence/internal/registry"
)

const replayUserID = "replay"

// fixedVenues serves a venue list already read from the store.
type fixedVenues []domain.Venue

func (v fixedVenues) ListVenues(context.Context) ([]domain.Venue, error) { return v, nil }

// memSessions keeps replay sessions in memory so a replay never writes to
// the store it reads venues from.
type memSessions struct {
	mu     sync.Mutex
	nextID int
	open   map[string]bool
}

func (m *memSessions) CreateSession(_ context.Context, _, _ string, _ domain.SessionContext) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("replay-%d", m.nextID)
	m.open[id] = true
	return id, nil
}

func (m *memSessions) CloseSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open[id] {
		return fmt.Errorf("session %s: %w", id, domain.ErrSessionNotOpen)
	}
	delete(m.open, id)
	return nil
}

// replay runs fixes through a fresh detector in order and returns every
// transition. The domain clock follows the fix timestamps; untimed fixes
// are spaced one second apart.
func replay(ctx context.Context, venues []domain.Venue, fixes []domain.Position, logger *slog.Logger) ([]domain.Transition, error) {
	start := time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)
	for _, f := range fixes {
		if !f.Timestamp.IsZero() {
			start = f.Timestamp
			break
		}
	}
	clock := clockwork.NewFakeClockAt(start)
	domain.SetClock(clock)
	defer domain.SetClock(nil)

	metrics := observability.NewUnregisteredMetrics()
	reg := registry.New(fixedVenues(venues), clock, logger, metrics)
	if err := reg.Load(ctx); err != nil {
		return nil, err
	}

	det := presence.NewDetector(reg, &memSessions{open: make(map[string]bool)}, nil,
		presence.Config{UserID: replayUserID}, logger, metrics)
	defer det.Close()

	var transitions []domain.Transition
	for i, f := range fixes {
		if i > 0 {
			ts := f.Timestamp
			if ts.IsZero() {
				ts = clock.Now().Add(time.Second)
			}
			if d := ts.Sub(clock.Now()); d > 0 {
				clock.Advance(d)
			}
		}

		pos, err := domain.NewPosition(f.Lat, f.Lon, f.Accuracy, f.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("fix %d: %w", i+1, err)
		}
		u, err := det.Process(ctx, pos)
		if err != nil {
			return nil, fmt.Errorf("fix %d: %w", i+1, err)
		}
		transitions = append(transitions, u.Transitions...)
	}
	return transitions, nil
}
