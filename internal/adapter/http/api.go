package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/couchcryptid/trackside-presence/internal/domain"
	"github.com/couchcryptid/trackside-presence/internal/locator"
	"github.com/couchcryptid/trackside-presence/internal/positioning"
	"github.com/couchcryptid/trackside-presence/internal/presence"
	"github.com/couchcryptid/trackside-presence/internal/registry"
)

const (
	maxBodyBytes       = 1 << 16
	defaultNearbyMiles = 50.0
	defaultNearbyLimit = 20
)

// Locator is the acquisition engine surface used by the API.
type Locator interface {
	State() locator.State
	GetLocation(ctx context.Context) locator.State
	SetManualLocation(ctx context.Context, postalCode string) locator.State
	ClearLocation()
	ToggleWatch() (bool, error)
	SetWatching(on bool) error
}

// PresenceReader exposes the detector's current result.
type PresenceReader interface {
	Result() domain.PresenceResult
}

// CheckInService performs manual check-ins.
type CheckInService interface {
	CheckIn(ctx context.Context, venueID string, pos *domain.Position) (presence.Update, error)
}

// VenueDirectory answers proximity queries and reloads the registry.
type VenueDirectory interface {
	Nearby(lat, lon, radiusMiles float64, limit int) []registry.NearbyVenue
	Refresh(ctx context.Context) error
}

// FixReceiver accepts browser geolocation reports.
type FixReceiver interface {
	Report(r positioning.BrowserReport) error
	RequestedOptions() (positioning.Options, bool)
}

// API groups the collaborators behind the /v1 routes. Fixes is nil unless
// the browser positioning backend is active.
type API struct {
	Locator  Locator
	Presence PresenceReader
	CheckIns CheckInService
	Venues   VenueDirectory
	Fixes    FixReceiver
}

func (s *Server) handleGetLocation(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.api.Locator.State())
}

func (s *Server) handleRefreshLocation(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.api.Locator.GetLocation(r.Context()))
}

type manualRequest struct {
	PostalCode string `json:"postal_code"`
}

func (s *Server) handleManualLocation(w http.ResponseWriter, r *http.Request) {
	var req manualRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.PostalCode) == "" {
		writeError(w, http.StatusBadRequest, "postal_code is required")
		return
	}

	state := s.api.Locator.SetManualLocation(r.Context(), req.PostalCode)
	status := http.StatusOK
	if state.ErrorKind == locator.ErrorManual {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, state)
}

func (s *Server) handleClearLocation(w http.ResponseWriter, _ *http.Request) {
	s.api.Locator.ClearLocation()
	writeJSON(w, http.StatusOK, s.api.Locator.State())
}

type watchRequest struct {
	Enabled *bool `json:"enabled"`
}

// handleWatch toggles watching, or sets it explicitly when the body carries "enabled".
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	var req watchRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}

	var err error
	if req.Enabled == nil {
		_, err = s.api.Locator.ToggleWatch()
	} else {
		err = s.api.Locator.SetWatching(*req.Enabled)
	}
	if err != nil {
		s.logger.Warn("watch change failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, s.api.Locator.State())
		return
	}
	writeJSON(w, http.StatusOK, s.api.Locator.State())
}

func (s *Server) handleGetPresence(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.api.Presence.Result())
}

type checkInRequest struct {
	VenueID string `json:"venue_id"`
}

func (s *Server) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	var req checkInRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.VenueID == "" {
		writeError(w, http.StatusBadRequest, "venue_id is required")
		return
	}

	state := s.api.Locator.State()
	var pos *domain.Position
	if state.Position != nil && !state.IsManual {
		pos = state.Position
	}

	update, err := s.api.CheckIns.CheckIn(r.Context(), req.VenueID, pos)
	var perr *domain.SessionPersistenceError
	switch {
	case errors.Is(err, domain.ErrVenueNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &perr):
		writeError(w, http.StatusServiceUnavailable, "check-in could not be saved, try again")
	case err != nil:
		s.logger.Error("check-in failed", "venue_id", req.VenueID, "error", err)
		writeError(w, http.StatusInternalServerError, "check-in failed")
	default:
		writeJSON(w, http.StatusOK, update)
	}
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err := parseFloatParam(q.Get("lat"), -90, 90)
	if err != nil {
		writeError(w, http.StatusBadRequest, "lat: "+err.Error())
		return
	}
	lon, err := parseFloatParam(q.Get("lon"), -180, 180)
	if err != nil {
		writeError(w, http.StatusBadRequest, "lon: "+err.Error())
		return
	}

	radius := defaultNearbyMiles
	if v := q.Get("radius_mi"); v != "" {
		if radius, err = strconv.ParseFloat(v, 64); err != nil || !finite(radius) || radius < 0 {
			writeError(w, http.StatusBadRequest, "radius_mi must be a non-negative number")
			return
		}
	}
	limit := defaultNearbyLimit
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
	}

	venues := s.api.Venues.Nearby(lat, lon, radius, limit)
	if venues == nil {
		venues = []registry.NearbyVenue{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"venues": venues})
}

func (s *Server) handleRegistryRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.api.Venues.Refresh(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

func (s *Server) handleReportFix(w http.ResponseWriter, r *http.Request) {
	if s.api.Fixes == nil {
		writeError(w, http.StatusNotFound, "browser positioning is not enabled")
		return
	}
	var report positioning.BrowserReport
	if !decodeBody(w, r, &report) {
		return
	}
	if err := s.api.Fixes.Report(report); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type optionsResponse struct {
	Active             bool  `json:"active"`
	EnableHighAccuracy bool  `json:"enableHighAccuracy"`
	TimeoutMs          int64 `json:"timeout,omitempty"`
	MaximumAgeMs       int64 `json:"maximumAge"`
}

func (s *Server) handleFixOptions(w http.ResponseWriter, _ *http.Request) {
	if s.api.Fixes == nil {
		writeError(w, http.StatusNotFound, "browser positioning is not enabled")
		return
	}
	opts, active := s.api.Fixes.RequestedOptions()
	writeJSON(w, http.StatusOK, optionsResponse{
		Active:             active,
		EnableHighAccuracy: opts.EnableHighAccuracy,
		TimeoutMs:          opts.Timeout.Milliseconds(),
		MaximumAgeMs:       opts.MaximumAge.Milliseconds(),
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func parseFloatParam(v string, lo, hi float64) (float64, error) {
	if v == "" {
		return 0, errors.New("required")
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", v)
	}
	if math.IsNaN(f) || f < lo || f > hi {
		return 0, fmt.Errorf("%v out of range [%v, %v]", f, lo, hi)
	}
	return f, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
