package domain

import (
	"context"
	"errors"
	"fmt"
)

// PositionErrorKind classifies positioning failures.
type PositionErrorKind string

const (
	PermissionDenied    PositionErrorKind = "PERMISSION_DENIED"
	PositionUnavailable PositionErrorKind = "POSITION_UNAVAILABLE"
	Timeout             PositionErrorKind = "TIMEOUT"
	Unsupported         PositionErrorKind = "UNSUPPORTED"
	Unknown             PositionErrorKind = "UNKNOWN"
)

// PositionError is returned by positioning backends.
type PositionError struct {
	Kind    PositionErrorKind
	Message string
	Err     error
}

func (e *PositionError) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PositionError) Unwrap() error { return e.Err }

// NewPositionError builds a PositionError with a message.
func NewPositionError(kind PositionErrorKind, message string) *PositionError {
	return &PositionError{Kind: kind, Message: message}
}

// KindOf classifies any error returned from a positioning call.
func KindOf(err error) PositionErrorKind {
	var pe *PositionError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &pe):
		return pe.Kind
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout
	default:
		return Unknown
	}
}

// Geocoding failure reasons.
const (
	GeocodeNetwork   = "network"
	GeocodeTimeout   = "timeout"
	GeocodeMalformed = "malformed"
	GeocodeNotFound  = "not_found"
)

// GeocodingError wraps a failed forward or reverse lookup.
type GeocodingError struct {
	Op     string // "reverse" or "postal"
	Reason string
	Err    error
}

func (e *GeocodingError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s geocode: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("%s geocode: %s: %v", e.Op, e.Reason, e.Err)
}

func (e *GeocodingError) Unwrap() error { return e.Err }

// RegistryError wraps a failed venue registry load.
type RegistryError struct {
	Err error
}

func (e *RegistryError) Error() string { return fmt.Sprintf("venue registry load: %v", e.Err) }

func (e *RegistryError) Unwrap() error { return e.Err }

// SessionPersistenceError wraps a failed presence session create or close.
type SessionPersistenceError struct {
	Op        string // "create" or "close"
	VenueID   string
	SessionID string
	Err       error
}

func (e *SessionPersistenceError) Error() string {
	if e.Op == "close" {
		return fmt.Sprintf("close session %s: %v", e.SessionID, e.Err)
	}
	return fmt.Sprintf("create session at venue %s: %v", e.VenueID, e.Err)
}

func (e *SessionPersistenceError) Unwrap() error { return e.Err }

// ErrVenueNotFound is returned for unknown venue ids.
var ErrVenueNotFound = errors.New("venue not found")

// ErrSessionNotOpen is returned when closing a session that is unknown or already closed.
var ErrSessionNotOpen = errors.New("session not open")
