package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/trackside-presence/internal/config"
	"github.com/couchcryptid/trackside-presence/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dsn := "file:" + filepath.Join(t.TempDir(), "presence.db")

	s, err := Open(context.Background(), config.DriverSQLite, dsn, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: config.DriverPostgres}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.rebind("SELECT * FROM t WHERE a = ? AND b = ?"))

	lite := &Store{driver: config.DriverSQLite}
	assert.Equal(t, "SELECT ?", lite.rebind("SELECT ?"))
}

func TestMigrate_Idempotent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))

	var n int
	require.NoError(t, s.queryRow(context.Background(), `SELECT COUNT(*) FROM schema_migrations`).Scan(&n))
	assert.Equal(t, len(migrations), n)
}

func TestVenues_UpsertAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	venues := []domain.Venue{
		{ID: "sonoma", Name: "Sonoma Raceway", Lat: 38.1611, Lon: -122.4547, City: "Sonoma", State: "CA", Surface: "asphalt"},
		{ID: "chico", Name: "Chico Kart Track", Lat: 39.7285, Lon: -121.8375, DetectionRadiusMeters: 300},
	}
	require.NoError(t, s.UpsertVenues(ctx, venues))

	got, err := s.ListVenues(ctx)
	require.NoError(t, err)
	want := []domain.Venue{venues[1], venues[0]}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("venues mismatch (-want +got):\n%s", diff)
	}

	venues[1].Name = "Chico Kart Club"
	require.NoError(t, s.UpsertVenues(ctx, venues[1:]))
	got, err = s.ListVenues(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Chico Kart Club", got[0].Name)
}

func TestVenues_UpsertRejectsMissingID(t *testing.T) {
	s := openTestStore(t)
	err := s.UpsertVenues(context.Background(), []domain.Venue{{Name: "nameless"}})
	require.Error(t, err)

	got, err := s.ListVenues(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSessions_Lifecycle(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 6, 1, 8, 30, 0, 0, time.UTC))
	domain.SetClock(clock)
	t.Cleanup(func() { domain.SetClock(nil) })

	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.OpenSession(ctx, "rider-7")
	require.NoError(t, err)
	assert.False(t, ok)

	dist := 42.5
	snapshot := domain.SessionContext{Lat: 39.7285, Lon: -121.8375, DistanceMeters: &dist, At: clock.Now()}
	id, err := s.CreateSession(ctx, "chico", "rider-7", snapshot)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	open, ok, err := s.OpenSession(ctx, "rider-7")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, open.ID)
	assert.Equal(t, "chico", open.VenueID)
	assert.True(t, open.StartedAt.Equal(clock.Now()))
	require.NotNil(t, open.Context.DistanceMeters)
	assert.InDelta(t, 42.5, *open.Context.DistanceMeters, 1e-9)

	clock.Advance(time.Hour)
	require.NoError(t, s.CloseSession(ctx, id))

	_, ok, err = s.OpenSession(ctx, "rider-7")
	require.NoError(t, err)
	assert.False(t, ok)

	require.ErrorIs(t, s.CloseSession(ctx, id), domain.ErrSessionNotOpen)
	require.ErrorIs(t, s.CloseSession(ctx, "missing"), domain.ErrSessionNotOpen)
}

func TestCheckReadiness(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.CheckReadiness(context.Background()))
	require.NoError(t, s.Close())
	require.Error(t, s.CheckReadiness(context.Background()))
}
