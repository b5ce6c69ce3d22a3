// Package presence matches positions against the venue registry and records
// arrivals and departures as presence sessions.
package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/couchcryptid/trackside-presence/internal/domain"
	"github.com/couchcryptid/trackside-presence/internal/geo"
	"github.com/couchcryptid/trackside-presence/internal/observability"
)

const notifyTimeout = 10 * time.Second

// VenueLookup is the read-only view of the venue registry.
type VenueLookup interface {
	Venues() []domain.Venue
	Venue(id string) (domain.Venue, bool)
}

// SessionStore persists presence sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, venueID, userID string, snapshot domain.SessionContext) (string, error)
	CloseSession(ctx context.Context, sessionID string) error
}

// Notifier dispatches arrival messages. Delivery is best-effort.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}

// Config holds detector settings.
type Config struct {
	UserID string
}

// Update is the outcome of processing one position or check-in.
type Update struct {
	Result      domain.PresenceResult `json:"result"`
	Transitions []domain.Transition   `json:"transitions,omitempty"`
}

// Detector maintains a single presence result and at most one open session.
type Detector struct {
	venues   VenueLookup
	sessions SessionStore
	notifier Notifier
	cfg      Config
	logger   *slog.Logger
	metrics  *observability.Metrics

	mu          sync.Mutex
	result      domain.PresenceResult
	lastVenueID string

	notifyWG sync.WaitGroup
}

// NewDetector creates a detector with no open session. notifier may be nil.
func NewDetector(venues VenueLookup, sessions SessionStore, notifier Notifier, cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Detector {
	return &Detector{
		venues:   venues,
		sessions: sessions,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
	}
}

// Result returns the current presence result.
func (d *Detector) Result() domain.PresenceResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	return copyResult(d.result)
}

// Process evaluates a position against every venue and applies the
// arrival/departure state machine. On a persistence failure the returned
// error is a *domain.SessionPersistenceError and the presence state keeps
// only the transitions that were persisted, so the next position retries.
func (d *Detector) Process(ctx context.Context, pos domain.Position) (Update, error) {
	nearest, dist, found := nearestVenue(d.venues.Venues(), pos)

	d.mu.Lock()
	defer d.mu.Unlock()

	next := domain.PresenceResult{}
	present := false
	if found {
		v := nearest
		dm := dist
		next.NearestVenue = &v
		next.DistanceMeters = &dm
		present = dist <= nearest.Radius()
	}

	var transitions []domain.Transition
	switch {
	case present && d.lastVenueID != nearest.ID:
		if d.lastVenueID != "" {
			t, err := d.departLocked(ctx)
			if err != nil {
				return Update{Result: copyResult(d.result)}, err
			}
			transitions = append(transitions, t)
		}
		snapshot := domain.SessionContext{
			Lat:            pos.Lat,
			Lon:            pos.Lon,
			Accuracy:       pos.Accuracy,
			DistanceMeters: next.DistanceMeters,
			At:             domain.Now(),
		}
		t, err := d.arriveLocked(ctx, nearest, snapshot)
		if err != nil {
			// A committed departure still stands; the arrival is retried on the next fix.
			d.result = withoutPresence(next)
			return Update{Result: copyResult(d.result), Transitions: transitions}, err
		}
		transitions = append(transitions, t)

	case !present && d.lastVenueID != "":
		t, err := d.departLocked(ctx)
		if err != nil {
			return Update{Result: copyResult(d.result)}, err
		}
		transitions = append(transitions, t)
	}

	next.IsPresent = present && d.lastVenueID == nearest.ID
	next.ActiveSessionID = d.result.ActiveSessionID
	if !next.IsPresent {
		next.ActiveSessionID = ""
	}
	d.result = next
	return Update{Result: copyResult(d.result), Transitions: transitions}, nil
}

// CheckIn records presence at venueID without a distance check. pos is
// optional and only enriches the stored session context. Checking in at the
// venue already occupied is a no-op.
func (d *Detector) CheckIn(ctx context.Context, venueID string, pos *domain.Position) (Update, error) {
	venue, ok := d.venues.Venue(venueID)
	if !ok {
		return Update{}, fmt.Errorf("check in %q: %w", venueID, domain.ErrVenueNotFound)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.lastVenueID == venue.ID {
		return Update{Result: copyResult(d.result)}, nil
	}

	var transitions []domain.Transition
	if d.lastVenueID != "" {
		t, err := d.departLocked(ctx)
		if err != nil {
			return Update{Result: copyResult(d.result)}, err
		}
		transitions = append(transitions, t)
	}

	snapshot := domain.SessionContext{Lat: venue.Lat, Lon: venue.Lon, Manual: true, At: domain.Now()}
	if pos != nil {
		dm := geo.DistanceMeters(pos.Lat, pos.Lon, venue.Lat, venue.Lon)
		snapshot.Lat, snapshot.Lon = pos.Lat, pos.Lon
		snapshot.Accuracy = pos.Accuracy
		snapshot.DistanceMeters = &dm
	}

	t, err := d.arriveLocked(ctx, venue, snapshot)
	if err != nil {
		d.result = withoutPresence(d.result)
		return Update{Result: copyResult(d.result), Transitions: transitions}, err
	}
	transitions = append(transitions, t)

	v := venue
	d.result = domain.PresenceResult{
		NearestVenue:    &v,
		IsPresent:       true,
		DistanceMeters:  snapshot.DistanceMeters,
		ActiveSessionID: t.SessionID,
	}
	return Update{Result: copyResult(d.result), Transitions: transitions}, nil
}

// Restore adopts a session left open by a previous run. The next position
// either continues it or closes it.
func (d *Detector) Restore(s domain.Session) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lastVenueID = s.VenueID
	d.result = domain.PresenceResult{IsPresent: true, ActiveSessionID: s.ID, DistanceMeters: s.Context.DistanceMeters}
	if v, ok := d.venues.Venue(s.VenueID); ok {
		d.result.NearestVenue = &v
	}
	d.logger.Info("restored open presence session", "venue_id", s.VenueID, "session_id", s.ID)
}

// Close waits for in-flight notifications.
func (d *Detector) Close() {
	d.notifyWG.Wait()
}

// arriveLocked creates a session and commits lastVenueID and the session id.
func (d *Detector) arriveLocked(ctx context.Context, venue domain.Venue, snapshot domain.SessionContext) (domain.Transition, error) {
	id, err := d.sessions.CreateSession(ctx, venue.ID, d.cfg.UserID, snapshot)
	if err != nil {
		d.metrics.SessionPersistErrors.WithLabelValues("create").Inc()
		d.logger.Error("create presence session failed", "venue_id", venue.ID, "error", err)
		return domain.Transition{}, &domain.SessionPersistenceError{Op: "create", VenueID: venue.ID, Err: err}
	}

	d.lastVenueID = venue.ID
	d.result.ActiveSessionID = id

	t := domain.Transition{
		Kind:           domain.Arrival,
		VenueID:        venue.ID,
		VenueName:      venue.Name,
		SessionID:      id,
		UserID:         d.cfg.UserID,
		DistanceMeters: snapshot.DistanceMeters,
		Manual:         snapshot.Manual,
		At:             snapshot.At,
	}
	d.metrics.Transitions.WithLabelValues(string(domain.Arrival)).Inc()
	d.logger.Info("arrived at venue", "venue_id", venue.ID, "session_id", id, "manual", snapshot.Manual)
	d.notify(t)
	return t, nil
}

// departLocked closes the open session. A session that is already closed
// in the store counts as departed.
func (d *Detector) departLocked(ctx context.Context) (domain.Transition, error) {
	venueID, sessionID := d.lastVenueID, d.result.ActiveSessionID

	err := d.sessions.CloseSession(ctx, sessionID)
	switch {
	case errors.Is(err, domain.ErrSessionNotOpen):
		d.logger.Warn("presence session already closed", "venue_id", venueID, "session_id", sessionID)
	case err != nil:
		d.metrics.SessionPersistErrors.WithLabelValues("close").Inc()
		d.logger.Error("close presence session failed", "venue_id", venueID, "session_id", sessionID, "error", err)
		return domain.Transition{}, &domain.SessionPersistenceError{Op: "close", VenueID: venueID, SessionID: sessionID, Err: err}
	}

	name := ""
	if v, ok := d.venues.Venue(venueID); ok {
		name = v.Name
	}
	d.lastVenueID = ""
	d.result.ActiveSessionID = ""

	d.metrics.Transitions.WithLabelValues(string(domain.Departure)).Inc()
	d.logger.Info("departed venue", "venue_id", venueID, "session_id", sessionID)
	return domain.Transition{
		Kind:      domain.Departure,
		VenueID:   venueID,
		VenueName: name,
		SessionID: sessionID,
		UserID:    d.cfg.UserID,
		At:        domain.Now(),
	}, nil
}

func (d *Detector) notify(t domain.Transition) {
	if d.notifier == nil {
		return
	}
	n := domain.Notification{
		UserID:    t.UserID,
		VenueID:   t.VenueID,
		SessionID: t.SessionID,
		Title:     "Welcome to " + t.VenueName,
		Body:      fmt.Sprintf("You're checked in at %s.", t.VenueName),
		At:        t.At,
	}
	d.notifyWG.Add(1)
	go func() {
		defer d.notifyWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := d.notifier.Notify(ctx, n); err != nil {
			d.logger.Warn("arrival notification failed", "venue_id", n.VenueID, "session_id", n.SessionID, "error", err)
		}
	}()
}

// nearestVenue returns the venue closest to pos. Ties keep the first venue
// in registry order.
func nearestVenue(venues []domain.Venue, pos domain.Position) (domain.Venue, float64, bool) {
	best, bestDist := -1, math.Inf(1)
	for i, v := range venues {
		d := geo.DistanceMeters(pos.Lat, pos.Lon, v.Lat, v.Lon)
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return domain.Venue{}, 0, false
	}
	return venues[best], bestDist, true
}

func withoutPresence(r domain.PresenceResult) domain.PresenceResult {
	r.IsPresent = false
	r.ActiveSessionID = ""
	return r
}

func copyResult(r domain.PresenceResult) domain.PresenceResult {
	if r.NearestVenue != nil {
		v := *r.NearestVenue
		r.NearestVenue = &v
	}
	if r.DistanceMeters != nil {
		d := *r.DistanceMeters
		r.DistanceMeters = &d
	}
	return r
}
