// Package geo provides great-circle distance helpers shared by geofencing and
// nearby-venue sorting.
package geo

import "github.com/golang/geo/s2"

const (
	// EarthRadiusMeters is the mean Earth radius used for geofencing.
	EarthRadiusMeters = 6371000.0
	// EarthRadiusMiles is the mean Earth radius used for listing distances.
	EarthRadiusMiles = 3959.0
)

// Haversine returns the great-circle distance between two coordinates in the
// unit of the given sphere radius. s2.LatLng.Distance evaluates the haversine
// formula and returns the central angle.
func Haversine(lat1, lon1, lat2, lon2, radius float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lon1)
	p2 := s2.LatLngFromDegrees(lat2, lon2)
	return p1.Distance(p2).Radians() * radius
}

// DistanceMeters returns the great-circle distance in meters.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	return Haversine(lat1, lon1, lat2, lon2, EarthRadiusMeters)
}

// DistanceMiles returns the great-circle distance in miles.
func DistanceMiles(lat1, lon1, lat2, lon2 float64) float64 {
	return Haversine(lat1, lon1, lat2, lon2, EarthRadiusMiles)
}
