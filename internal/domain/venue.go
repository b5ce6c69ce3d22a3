package domain

// DefaultDetectionRadiusMeters applies to venues without a configured radius.
const DefaultDetectionRadiusMeters = 500.0

// Venue is a known place from the registry. Venues are immutable after load.
type Venue struct {
	ID                    string  `json:"id"`
	Name                  string  `json:"name"`
	Lat                   float64 `json:"latitude"`
	Lon                   float64 `json:"longitude"`
	DetectionRadiusMeters float64 `json:"detection_radius_meters,omitempty"`
	City                  string  `json:"city,omitempty"`
	State                 string  `json:"state,omitempty"`
	Surface               string  `json:"surface,omitempty"`
	Website               string  `json:"website,omitempty"`
}

// Radius returns the detection radius in meters, applying the default when unset.
func (v Venue) Radius() float64 {
	if v.DetectionRadiusMeters <= 0 {
		return DefaultDetectionRadiusMeters
	}
	return v.DetectionRadiusMeters
}
