package domain

import "context"

// Place is a geocoding result from a provider.
type Place struct {
	Lat         float64
	Lon         float64
	DisplayName string
	City        string
	Region      string
	Country     string
	PostalCode  string
}

// Resolved projects the address fields of a place.
func (p Place) Resolved() ResolvedLocation {
	return ResolvedLocation{
		Address: p.DisplayName,
		City:    p.City,
		Region:  p.Region,
		Country: p.Country,
	}
}

// ReverseGeocoder converts coordinates to place details.
type ReverseGeocoder interface {
	ReverseGeocode(ctx context.Context, lat, lon float64) (Place, error)
}

// PostalGeocoder converts a ZIP or postal code to coordinates.
type PostalGeocoder interface {
	GeocodePostalCode(ctx context.Context, code string) (Place, error)
}

// Geocoder is a provider that supports both directions.
type Geocoder interface {
	ReverseGeocoder
	PostalGeocoder
}
