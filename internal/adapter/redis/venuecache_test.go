package redis

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/trackside-presence/internal/domain"
)

type fakeRedis struct {
	mu      sync.Mutex
	data    map[string][]byte
	ttls    map[string]time.Duration
	readErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *goredis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return goredis.NewStringResult("", f.readErr)
	}
	v, ok := f.data[key]
	if !ok {
		return goredis.NewStringResult("", goredis.Nil)
	}
	return goredis.NewStringResult(string(v), nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		f.data[key] = v
	case string:
		f.data[key] = []byte(v)
	}
	f.ttls[key] = expiration
	return goredis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *goredis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return goredis.NewIntResult(n, nil)
}

type countingSource struct {
	venues []domain.Venue
	err    error
	calls  int
}

func (s *countingSource) ListVenues(context.Context) ([]domain.Venue, error) {
	s.calls++
	return s.venues, s.err
}

var venues = []domain.Venue{
	{ID: "chico", Name: "Chico Kart Track", Lat: 39.7285, Lon: -121.8375, DetectionRadiusMeters: 500},
}

func newCache(rc Client, src Source) *VenueCache {
	return NewVenueCache(rc, src, 10*time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestVenueCache_MissThenHit(t *testing.T) {
	rc := newFakeRedis()
	src := &countingSource{venues: venues}
	c := newCache(rc, src)

	got, err := c.ListVenues(context.Background())
	require.NoError(t, err)
	assert.Equal(t, venues, got)
	assert.Equal(t, 1, src.calls)
	assert.Equal(t, 10*time.Minute, rc.ttls[DefaultKey])

	got, err = c.ListVenues(context.Background())
	require.NoError(t, err)
	assert.Equal(t, venues, got)
	assert.Equal(t, 1, src.calls, "second call served from redis")
}

func TestVenueCache_RedisDownFallsBack(t *testing.T) {
	rc := newFakeRedis()
	rc.readErr = errors.New("dial tcp: connection refused")
	src := &countingSource{venues: venues}

	got, err := newCache(rc, src).ListVenues(context.Background())
	require.NoError(t, err)
	assert.Equal(t, venues, got)
	assert.Equal(t, 1, src.calls)
}

func TestVenueCache_CorruptEntryReloads(t *testing.T) {
	rc := newFakeRedis()
	rc.data[DefaultKey] = []byte("{not json")
	src := &countingSource{venues: venues}

	got, err := newCache(rc, src).ListVenues(context.Background())
	require.NoError(t, err)
	assert.Equal(t, venues, got)

	var cached []domain.Venue
	require.NoError(t, json.Unmarshal(rc.data[DefaultKey], &cached))
	assert.Equal(t, venues, cached)
}

func TestVenueCache_SourceErrorNotCached(t *testing.T) {
	rc := newFakeRedis()
	src := &countingSource{err: errors.New("db down")}

	_, err := newCache(rc, src).ListVenues(context.Background())
	require.Error(t, err)
	assert.NotContains(t, rc.data, DefaultKey)
}

func TestVenueCache_Invalidate(t *testing.T) {
	rc := newFakeRedis()
	src := &countingSource{venues: venues}
	c := newCache(rc, src)

	_, err := c.ListVenues(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(context.Background()))

	_, err = c.ListVenues(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}
