// Package domain models positions, venues, and presence for the trackside
// location service.
//
// # Positions
//
// A [Position] is a single fix: signed WGS-84 latitude and longitude in
// degrees, an optional accuracy radius in meters, and the time of the fix.
// Both coordinates are always present; a fix with a missing coordinate is
// rejected by [NewPosition] rather than represented partially.
//
// # Venues
//
// A [Venue] is a known racetrack or facility from the external registry. Its
// geofence is a circle of DetectionRadiusMeters around its coordinates; an
// unset radius falls back to [DefaultDetectionRadiusMeters] (500 m). The
// boundary is inclusive: a fix exactly on the radius counts as present.
//
// # Presence
//
// [PresenceResult] is the geofence engine's view of the nearest venue and
// whether the device is inside it. ActiveSessionID correlates with an
// externally persisted check-in record. A [Transition] is an arrival or a
// departure, emitted once per physical visit.
//
// # Errors
//
// Failures are typed by origin: [PositionError] (positioning backend),
// [GeocodingError] (address lookup), [RegistryError] (venue registry load),
// and [SessionPersistenceError] (check-in create/close). Match them with
// errors.As.
package domain
