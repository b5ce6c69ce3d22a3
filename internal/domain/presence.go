package domain

import "time"

// PresenceResult is the geofence engine's current view.
type PresenceResult struct {
	NearestVenue    *Venue   `json:"nearest_venue"`
	IsPresent       bool     `json:"is_present"`
	DistanceMeters  *float64 `json:"distance_meters"`
	ActiveSessionID string   `json:"active_session_id,omitempty"`
}

// TransitionKind distinguishes arrivals from departures.
type TransitionKind string

const (
	Arrival   TransitionKind = "arrival"
	Departure TransitionKind = "departure"
)

// Transition is a committed presence change.
type Transition struct {
	Kind           TransitionKind `json:"kind"`
	VenueID        string         `json:"venue_id"`
	VenueName      string         `json:"venue_name"`
	SessionID      string         `json:"session_id"`
	UserID         string         `json:"user_id"`
	DistanceMeters *float64       `json:"distance_meters,omitempty"`
	Manual         bool           `json:"manual,omitempty"`
	At             time.Time      `json:"at"`
}

// SessionContext is the snapshot stored with a new presence session.
type SessionContext struct {
	Lat            float64   `json:"latitude"`
	Lon            float64   `json:"longitude"`
	Accuracy       *float64  `json:"accuracy,omitempty"`
	DistanceMeters *float64  `json:"distance_meters,omitempty"`
	Manual         bool      `json:"manual"`
	At             time.Time `json:"at"`
}

// Notification is an arrival message for the notification collaborator.
type Notification struct {
	UserID    string    `json:"user_id"`
	VenueID   string    `json:"venue_id"`
	SessionID string    `json:"session_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	At        time.Time `json:"at"`
}

// Session is a persisted presence record. EndedAt is nil while open.
type Session struct {
	ID        string         `json:"id"`
	VenueID   string         `json:"venue_id"`
	UserID    string         `json:"user_id"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
	Context   SessionContext `json:"context"`
}
