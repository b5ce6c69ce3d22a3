package domain

import (
	"fmt"
	"math"
	"time"
)

// Position is a single location fix. It is immutable once created.
type Position struct {
	Lat       float64   `json:"latitude"`
	Lon       float64   `json:"longitude"`
	Accuracy  *float64  `json:"accuracy,omitempty"` // meters
	Timestamp time.Time `json:"timestamp"`
}

// NewPosition validates coordinates and builds a Position. A zero timestamp
// is replaced with the current time.
func NewPosition(lat, lon float64, accuracy *float64, ts time.Time) (Position, error) {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return Position{}, fmt.Errorf("invalid coordinates %v,%v", lat, lon)
	}
	if lat < -90 || lat > 90 {
		return Position{}, fmt.Errorf("latitude %v out of range", lat)
	}
	if lon < -180 || lon > 180 {
		return Position{}, fmt.Errorf("longitude %v out of range", lon)
	}
	if accuracy != nil && (*accuracy < 0 || math.IsNaN(*accuracy)) {
		return Position{}, fmt.Errorf("invalid accuracy %v", *accuracy)
	}
	if ts.IsZero() {
		ts = Now()
	}
	var acc *float64
	if accuracy != nil {
		a := *accuracy
		acc = &a
	}
	return Position{Lat: lat, Lon: lon, Accuracy: acc, Timestamp: ts.UTC()}, nil
}

// Age reports how long ago the fix was taken relative to now.
func (p Position) Age(now time.Time) time.Duration {
	return now.Sub(p.Timestamp)
}

// ResolvedLocation holds reverse-geocoding results for a fix. Every field is
// optional; a failed lookup leaves them empty without invalidating the fix.
type ResolvedLocation struct {
	Address string `json:"address,omitempty"`
	City    string `json:"city,omitempty"`
	Region  string `json:"region,omitempty"`
	Country string `json:"country,omitempty"`
}

// PositionEvent is emitted by the acquisition engine for every accepted fix.
type PositionEvent struct {
	Position Position `json:"position"`
	Manual   bool     `json:"manual"`
}
