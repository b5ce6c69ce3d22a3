package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/couchcryptid/trackside-presence/internal/adapter/http"
	"github.com/couchcryptid/trackside-presence/internal/domain"
	"github.com/couchcryptid/trackside-presence/internal/locator"
	"github.com/couchcryptid/trackside-presence/internal/positioning"
	"github.com/couchcryptid/trackside-presence/internal/presence"
	"github.com/couchcryptid/trackside-presence/internal/registry"
)

// --- mocks ---

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type mockLocator struct {
	state       locator.State
	manualCode  string
	cleared     bool
	toggles     int
	setWatching *bool
	watchErr    error
}

func (m *mockLocator) State() locator.State { return m.state }

func (m *mockLocator) GetLocation(context.Context) locator.State {
	m.state.Position = &domain.Position{Lat: 39.7285, Lon: -121.8375}
	return m.state
}

func (m *mockLocator) SetManualLocation(_ context.Context, code string) locator.State {
	m.manualCode = code
	if code == "00000" {
		m.state.Error = "Could not find a location for \"00000\"."
		m.state.ErrorKind = locator.ErrorManual
		return m.state
	}
	m.state = locator.State{Position: &domain.Position{Lat: 39.73, Lon: -121.83}, IsManual: true}
	return m.state
}

func (m *mockLocator) ClearLocation() {
	m.cleared = true
	m.state = locator.State{}
}

func (m *mockLocator) ToggleWatch() (bool, error) {
	m.toggles++
	m.state.IsWatching = !m.state.IsWatching
	return m.state.IsWatching, m.watchErr
}

func (m *mockLocator) SetWatching(on bool) error {
	m.setWatching = &on
	if m.watchErr != nil {
		return m.watchErr
	}
	m.state.IsWatching = on
	return nil
}

type mockPresence struct {
	result domain.PresenceResult
}

func (m *mockPresence) Result() domain.PresenceResult { return m.result }

type mockCheckIns struct {
	gotPos *domain.Position
	err    error
}

func (m *mockCheckIns) CheckIn(_ context.Context, venueID string, pos *domain.Position) (presence.Update, error) {
	m.gotPos = pos
	if m.err != nil {
		return presence.Update{}, m.err
	}
	return presence.Update{
		Result:      domain.PresenceResult{IsPresent: true, ActiveSessionID: "sess-1"},
		Transitions: []domain.Transition{{Kind: domain.Arrival, VenueID: venueID, Manual: true}},
	}, nil
}

type mockVenues struct {
	nearby     []registry.NearbyVenue
	gotRadius  float64
	gotLimit   int
	refreshErr error
}

func (m *mockVenues) Nearby(_, _, radius float64, limit int) []registry.NearbyVenue {
	m.gotRadius, m.gotLimit = radius, limit
	return m.nearby
}

func (m *mockVenues) Refresh(context.Context) error { return m.refreshErr }

type fixture struct {
	srv      *httpadapter.Server
	loc      *mockLocator
	pres     *mockPresence
	checkIns *mockCheckIns
	venues   *mockVenues
	browser  *positioning.BrowserSource
}

func newFixture(t *testing.T, withBrowser bool) *fixture {
	t.Helper()
	f := &fixture{
		loc:      &mockLocator{},
		pres:     &mockPresence{},
		checkIns: &mockCheckIns{},
		venues:   &mockVenues{},
	}
	api := httpadapter.API{Locator: f.loc, Presence: f.pres, CheckIns: f.checkIns, Venues: f.venues}
	if withBrowser {
		f.browser = positioning.NewBrowserSource(clockwork.NewRealClock())
		api.Fixes = f.browser
	}
	f.srv = httpadapter.NewServer(":0", api, &mockReadiness{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f
}

func newTestServer(readyErr error) *httpadapter.Server {
	return httpadapter.NewServer(":0", httpadapter.API{}, &mockReadiness{err: readyErr}, slog.Default())
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

// --- health ---

func TestHealthzReturns200(t *testing.T) {
	rec := do(t, newTestServer(nil), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode[map[string]string](t, rec)["status"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	rec := do(t, newTestServer(nil), http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", decode[map[string]string](t, rec)["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	rec := do(t, newTestServer(fmt.Errorf("venue registry has not loaded")), http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	body := decode[map[string]string](t, rec)
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "venue registry has not loaded", body["error"])
}

func TestReadyzChecksEveryDependency(t *testing.T) {
	checks := httpadapter.ReadinessChecks{
		&mockReadiness{},
		&mockReadiness{err: fmt.Errorf("store not ready: database is closed")},
	}
	srv := httpadapter.NewServer(":0", httpadapter.API{}, checks, slog.Default())

	rec := do(t, srv, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "store not ready: database is closed", decode[map[string]string](t, rec)["error"])

	ok := httpadapter.NewServer(":0", httpadapter.API{}, httpadapter.ReadinessChecks{&mockReadiness{}, &mockReadiness{}}, slog.Default())
	assert.Equal(t, http.StatusOK, do(t, ok, http.MethodGet, "/readyz", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := do(t, newTestServer(nil), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

// --- location ---

func TestLocation_GetAndRefresh(t *testing.T) {
	f := newFixture(t, false)

	rec := do(t, f.srv, http.MethodGet, "/v1/location", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decode[locator.State](t, rec).Position)

	rec = do(t, f.srv, http.MethodPost, "/v1/location/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	state := decode[locator.State](t, rec)
	require.NotNil(t, state.Position)
	assert.InDelta(t, 39.7285, state.Position.Lat, 1e-9)
}

func TestLocation_Manual(t *testing.T) {
	f := newFixture(t, false)

	rec := do(t, f.srv, http.MethodPost, "/v1/location/manual", `{"postal_code":"95926"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "95926", f.loc.manualCode)
	assert.True(t, decode[locator.State](t, rec).IsManual)

	rec = do(t, f.srv, http.MethodPost, "/v1/location/manual", `{"postal_code":"00000"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, f.srv, http.MethodPost, "/v1/location/manual", `{"postal_code":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, f.srv, http.MethodPost, "/v1/location/manual", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLocation_Clear(t *testing.T) {
	f := newFixture(t, false)
	f.loc.state.Position = &domain.Position{Lat: 1, Lon: 2}

	rec := do(t, f.srv, http.MethodDelete, "/v1/location", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.loc.cleared)
	assert.Nil(t, decode[locator.State](t, rec).Position)
}

func TestLocation_Watch(t *testing.T) {
	f := newFixture(t, false)

	rec := do(t, f.srv, http.MethodPost, "/v1/location/watch", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.loc.toggles)
	assert.True(t, decode[locator.State](t, rec).IsWatching)

	rec = do(t, f.srv, http.MethodPost, "/v1/location/watch", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, f.loc.setWatching)
	assert.False(t, *f.loc.setWatching)
	assert.Equal(t, 1, f.loc.toggles)

	f.loc.watchErr = errors.New("start watch: UNSUPPORTED")
	rec = do(t, f.srv, http.MethodPost, "/v1/location/watch", `{"enabled":true}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// --- presence ---

func TestPresence_Get(t *testing.T) {
	f := newFixture(t, false)
	d := 12.5
	f.pres.result = domain.PresenceResult{
		NearestVenue:    &domain.Venue{ID: "chico", Name: "Chico Kart Track"},
		IsPresent:       true,
		DistanceMeters:  &d,
		ActiveSessionID: "sess-1",
	}

	rec := do(t, f.srv, http.MethodGet, "/v1/presence", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[domain.PresenceResult](t, rec)
	assert.True(t, got.IsPresent)
	assert.Equal(t, "sess-1", got.ActiveSessionID)
	require.NotNil(t, got.NearestVenue)
	assert.Equal(t, "chico", got.NearestVenue.ID)
}

func TestPresence_CheckIn(t *testing.T) {
	f := newFixture(t, false)
	f.loc.state.Position = &domain.Position{Lat: 39.7285, Lon: -121.8375}

	rec := do(t, f.srv, http.MethodPost, "/v1/presence/checkin", `{"venue_id":"chico"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, f.checkIns.gotPos)
	u := decode[presence.Update](t, rec)
	require.Len(t, u.Transitions, 1)
	assert.Equal(t, "chico", u.Transitions[0].VenueID)
}

func TestPresence_CheckInIgnoresManualPosition(t *testing.T) {
	f := newFixture(t, false)
	f.loc.state = locator.State{Position: &domain.Position{Lat: 39.73, Lon: -121.83}, IsManual: true}

	rec := do(t, f.srv, http.MethodPost, "/v1/presence/checkin", `{"venue_id":"chico"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, f.checkIns.gotPos)
}

func TestPresence_CheckInErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"missing venue id", `{}`, nil, http.StatusBadRequest},
		{"unknown venue", `{"venue_id":"x"}`, fmt.Errorf("check in: %w", domain.ErrVenueNotFound), http.StatusNotFound},
		{"persistence", `{"venue_id":"x"}`, &domain.SessionPersistenceError{Op: "create", Err: errors.New("db")}, http.StatusServiceUnavailable},
		{"other", `{"venue_id":"x"}`, errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, false)
			f.checkIns.err = tt.err
			rec := do(t, f.srv, http.MethodPost, "/v1/presence/checkin", tt.body)
			assert.Equal(t, tt.want, rec.Code)
			assert.NotEmpty(t, decode[map[string]string](t, rec)["error"])
		})
	}
}

// --- venues ---

func TestVenues_Nearby(t *testing.T) {
	f := newFixture(t, false)
	f.venues.nearby = []registry.NearbyVenue{{Venue: domain.Venue{ID: "chico"}, DistanceMiles: 0.4}}

	rec := do(t, f.srv, http.MethodGet, "/v1/venues/nearby?lat=39.7&lon=-121.8&radius_mi=25&limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 25.0, f.venues.gotRadius, 0)
	assert.Equal(t, 5, f.venues.gotLimit)

	body := decode[map[string][]registry.NearbyVenue](t, rec)
	require.Len(t, body["venues"], 1)
	assert.Equal(t, "chico", body["venues"][0].Venue.ID)
}

func TestVenues_NearbyDefaultsAndEmpty(t *testing.T) {
	f := newFixture(t, false)

	rec := do(t, f.srv, http.MethodGet, "/v1/venues/nearby?lat=0&lon=0", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 50.0, f.venues.gotRadius, 0)
	assert.Equal(t, 20, f.venues.gotLimit)
	assert.JSONEq(t, `{"venues":[]}`, rec.Body.String())
}

func TestVenues_NearbyBadParams(t *testing.T) {
	f := newFixture(t, false)
	for _, q := range []string{
		"lon=0",
		"lat=abc&lon=0",
		"lat=91&lon=0",
		"lat=0&lon=181",
		"lat=0&lon=0&radius_mi=-1",
		"lat=0&lon=0&limit=0",
		"lat=NaN&lon=0",
		"lat=0&lon=nan",
		"lat=0&lon=0&radius_mi=NaN",
		"lat=0&lon=0&radius_mi=Inf",
	} {
		rec := do(t, f.srv, http.MethodGet, "/v1/venues/nearby?"+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
	assert.Zero(t, f.venues.gotLimit, "registry must not be queried with invalid params")
}

func TestRegistry_Refresh(t *testing.T) {
	f := newFixture(t, false)
	rec := do(t, f.srv, http.MethodPost, "/v1/registry/refresh", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	f.venues.refreshErr = &domain.RegistryError{Err: errors.New("connection refused")}
	rec = do(t, f.srv, http.MethodPost, "/v1/registry/refresh", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

// --- browser fixes ---

func TestFixes_DisabledWithoutBrowserBackend(t *testing.T) {
	f := newFixture(t, false)
	assert.Equal(t, http.StatusNotFound, do(t, f.srv, http.MethodPost, "/v1/fixes", `{}`).Code)
	assert.Equal(t, http.StatusNotFound, do(t, f.srv, http.MethodGet, "/v1/fixes/options", "").Code)
}

func TestFixes_ReportReachesWatchers(t *testing.T) {
	f := newFixture(t, true)

	got := make(chan domain.Position, 1)
	h, err := f.browser.StartWatch(positioning.Options{EnableHighAccuracy: true}, func(p domain.Position) { got <- p }, func(error) {})
	require.NoError(t, err)
	defer h.Stop()

	rec := do(t, f.srv, http.MethodGet, "/v1/fixes/options", "")
	require.Equal(t, http.StatusOK, rec.Code)
	opts := decode[map[string]any](t, rec)
	assert.Equal(t, true, opts["active"])
	assert.Equal(t, true, opts["enableHighAccuracy"])

	rec = do(t, f.srv, http.MethodPost, "/v1/fixes",
		`{"coords":{"latitude":39.7285,"longitude":-121.8375,"accuracy":5,"altitude":null},"timestamp":1767225600000}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case p := <-got:
		assert.InDelta(t, 39.7285, p.Lat, 1e-9)
	case <-time.After(time.Second):
		t.Fatal("fix not delivered")
	}
}

func TestFixes_RejectsInvalidReport(t *testing.T) {
	f := newFixture(t, true)
	rec := do(t, f.srv, http.MethodPost, "/v1/fixes", `{"timestamp":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, f.srv, http.MethodPost, "/v1/fixes", `{"coords":{"latitude":200,"longitude":0}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
