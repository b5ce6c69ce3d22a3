package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	chicoLat = 39.7285
	chicoLon = -121.8375
)

func TestHaversine_SamePointIsZero(t *testing.T) {
	assert.Equal(t, 0.0, DistanceMeters(chicoLat, chicoLon, chicoLat, chicoLon))
	assert.Equal(t, 0.0, DistanceMiles(-33.8688, 151.2093, -33.8688, 151.2093))
}

func TestHaversine_Symmetric(t *testing.T) {
	pairs := [][4]float64{
		{chicoLat, chicoLon, 39.9, -122.0},
		{40.7128, -74.0060, 51.5074, -0.1278},
		{-33.8688, 151.2093, 35.6762, 139.6503},
		{0, 179.9, 0, -179.9},
	}
	for _, p := range pairs {
		ab := DistanceMeters(p[0], p[1], p[2], p[3])
		ba := DistanceMeters(p[2], p[3], p[0], p[1])
		assert.InDelta(t, ab, ba, 1e-6)
	}
}

func TestHaversine_KnownDistances(t *testing.T) {
	tests := []struct {
		name  string
		lat1  float64
		lon1  float64
		lat2  float64
		lon2  float64
		want  float64
		delta float64
	}{
		// New York to London, ~5570 km.
		{"new york to london", 40.7128, -74.0060, 51.5074, -0.1278, 5570e3, 10e3},
		// One degree of latitude along a meridian, 2*pi*R/360.
		{"one degree latitude", 0, 0, 1, 0, 2 * math.Pi * EarthRadiusMeters / 360, 1e-6},
		// Across the antimeridian is short, not half the globe.
		{"antimeridian", 0, 179.9, 0, -179.9, 2 * math.Pi * EarthRadiusMeters / 360 * 0.2, 1e-3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, DistanceMeters(tt.lat1, tt.lon1, tt.lat2, tt.lon2), tt.delta)
		})
	}
}

func TestHaversine_RadiusParameterizesUnit(t *testing.T) {
	meters := DistanceMeters(chicoLat, chicoLon, 39.9, -122.0)
	miles := DistanceMiles(chicoLat, chicoLon, 39.9, -122.0)

	assert.InDelta(t, meters/EarthRadiusMeters, miles/EarthRadiusMiles, 1e-12)
	assert.InDelta(t, 23.6e3, meters, 500)
}
