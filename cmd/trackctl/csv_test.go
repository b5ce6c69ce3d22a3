package main

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadVenuesCSV(t *testing.T) {
	in := `id,name,lat,lon,radius_m,city,state,surface
thunderhill, Thunderhill Raceway Park ,39.5390,-122.3310,800,Willows,CA,asphalt
sonoma,Sonoma Raceway,38.1613,-122.4547,,Sonoma,CA,asphalt
`
	venues, err := readVenuesCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, venues, 2)

	assert.Equal(t, "thunderhill", venues[0].ID)
	assert.Equal(t, "Thunderhill Raceway Park", venues[0].Name)
	assert.InDelta(t, 39.5390, venues[0].Lat, 1e-9)
	assert.InDelta(t, -122.3310, venues[0].Lon, 1e-9)
	assert.InDelta(t, 800.0, venues[0].DetectionRadiusMeters, 1e-9)
	assert.Equal(t, "Willows", venues[0].City)
	assert.Equal(t, "asphalt", venues[0].Surface)

	assert.Zero(t, venues[1].DetectionRadiusMeters)
	assert.InDelta(t, 500.0, venues[1].Radius(), 1e-9)
}

func TestReadVenuesCSV_HeaderOrderAndCase(t *testing.T) {
	in := "LON,Lat,Name,ID\n-122.3310,39.5390,Thunderhill,thunderhill\n"
	venues, err := readVenuesCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, venues, 1)
	assert.Equal(t, "thunderhill", venues[0].ID)
	assert.InDelta(t, -122.3310, venues[0].Lon, 1e-9)
}

func TestReadVenuesCSV_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", "empty CSV"},
		{"missing column", "id,name,lat\na,A,1\n", `missing column "lon"`},
		{"empty id", "id,name,lat,lon\n,A,1,2\n", "line 2: empty id"},
		{"bad latitude", "id,name,lat,lon\na,A,north,2\n", `line 2: lat: invalid number "north"`},
		{"out of range", "id,name,lat,lon\na,A,91,2\n", "line 2: latitude 91 out of range"},
		{"bad radius", "id,name,lat,lon,radius_m\na,A,1,2,wide\n", "radius_m"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readVenuesCSV(strings.NewReader(tt.in))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReadFixesCSV(t *testing.T) {
	in := `lat,lon,accuracy,time
39.7285,-121.8375,12.5,2024-06-01T17:00:00Z
39.5390,-122.3310,,
`
	fixes, err := readFixesCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, fixes, 2)

	require.NotNil(t, fixes[0].Accuracy)
	assert.InDelta(t, 12.5, *fixes[0].Accuracy, 1e-9)
	assert.True(t, fixes[0].Timestamp.Equal(time.Date(2024, 6, 1, 17, 0, 0, 0, time.UTC)))

	assert.Nil(t, fixes[1].Accuracy)
	assert.True(t, fixes[1].Timestamp.IsZero())
}

func TestReadFixesCSV_BadTime(t *testing.T) {
	_, err := readFixesCSV(strings.NewReader("lat,lon,time\n1,2,yesterday\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2: time")
}
