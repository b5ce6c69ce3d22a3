package nominatim

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/trackside-presence/internal/domain"
	"github.com/couchcryptid/trackside-presence/internal/observability"
)

// --- mock for cache tests ---

type countingGeocoder struct {
	reverseCalls int
	postalCalls  int
	place        domain.Place
	err          error
}

func (m *countingGeocoder) ReverseGeocode(_ context.Context, _, _ float64) (domain.Place, error) {
	m.reverseCalls++
	return m.place, m.err
}

func (m *countingGeocoder) GeocodePostalCode(_ context.Context, _ string) (domain.Place, error) {
	m.postalCalls++
	return m.place, m.err
}

// --- CachedGeocoder tests ---

func TestCachedGeocoder_ReverseCacheHit(t *testing.T) {
	inner := &countingGeocoder{place: domain.Place{City: "Chico"}}
	metrics := observability.NewMetricsForTesting()
	cached := NewCachedGeocoder(inner, 10, metrics)

	_, err := cached.ReverseGeocode(context.Background(), 39.7285, -121.8375)
	require.NoError(t, err)

	p, err := cached.ReverseGeocode(context.Background(), 39.7285, -121.8375)
	require.NoError(t, err)
	assert.Equal(t, "Chico", p.City)

	assert.Equal(t, 1, inner.reverseCalls, "should only call inner once")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.GeocodeCache.WithLabelValues("reverse", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.GeocodeCache.WithLabelValues("reverse", "miss")))
}

func TestCachedGeocoder_PostalKeyNormalized(t *testing.T) {
	inner := &countingGeocoder{place: domain.Place{Lat: 51.5, Lon: -0.12}}
	cached := NewCachedGeocoder(inner, 10, nil)

	_, _ = cached.GeocodePostalCode(context.Background(), "sw1a 1aa")
	_, _ = cached.GeocodePostalCode(context.Background(), " SW1A 1AA ")

	assert.Equal(t, 1, inner.postalCalls)
}

func TestCachedGeocoder_ErrorsNotCached(t *testing.T) {
	inner := &countingGeocoder{err: &domain.GeocodingError{Op: "postal", Reason: domain.GeocodeNetwork, Err: errors.New("down")}}
	cached := NewCachedGeocoder(inner, 10, nil)

	_, err := cached.GeocodePostalCode(context.Background(), "95926")
	require.Error(t, err)
	_, err = cached.GeocodePostalCode(context.Background(), "95926")
	require.Error(t, err)

	assert.Equal(t, 2, inner.postalCalls)
	assert.Zero(t, cached.cache.size())
}

func TestCachedGeocoder_DifferentKeysMiss(t *testing.T) {
	inner := &countingGeocoder{place: domain.Place{City: "Place"}}
	cached := NewCachedGeocoder(inner, 10, nil)

	_, _ = cached.ReverseGeocode(context.Background(), 39.7285, -121.8375)
	_, _ = cached.ReverseGeocode(context.Background(), 39.7286, -121.8375)

	assert.Equal(t, 2, inner.reverseCalls)
}

// --- LRU cache unit tests ---

func TestLRUCache_BasicGetPut(t *testing.T) {
	c := newLRUCache(3)

	c.put("a", domain.Place{City: "A"})
	c.put("b", domain.Place{City: "B"})

	result, ok := c.get("a")
	assert.True(t, ok)
	assert.Equal(t, "A", result.City)

	_, ok = c.get("missing")
	assert.False(t, ok)
}

func TestLRUCache_Eviction(t *testing.T) {
	c := newLRUCache(2)

	c.put("a", domain.Place{City: "A"})
	c.put("b", domain.Place{City: "B"})
	c.put("c", domain.Place{City: "C"}) // evicts "a"

	_, ok := c.get("a")
	assert.False(t, ok, "a should have been evicted")

	result, ok := c.get("b")
	assert.True(t, ok)
	assert.Equal(t, "B", result.City)
	assert.Equal(t, 2, c.size())
}

func TestLRUCache_AccessRefreshesRecency(t *testing.T) {
	c := newLRUCache(2)

	c.put("a", domain.Place{City: "A"})
	c.put("b", domain.Place{City: "B"})
	_, _ = c.get("a")                   // a is now most recent
	c.put("c", domain.Place{City: "C"}) // evicts "b"

	_, ok := c.get("b")
	assert.False(t, ok)
	_, ok = c.get("a")
	assert.True(t, ok)
}

func TestLRUCache_UpdateExisting(t *testing.T) {
	c := newLRUCache(2)

	c.put("a", domain.Place{City: "old"})
	c.put("a", domain.Place{City: "new"})

	result, ok := c.get("a")
	assert.True(t, ok)
	assert.Equal(t, "new", result.City)
	assert.Equal(t, 1, c.size())
}
