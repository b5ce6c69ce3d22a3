// Package registry caches the venue list and indexes it for proximity queries.
package registry

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dhconnelly/rtreego"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/trackside-presence/internal/domain"
	"github.com/couchcryptid/trackside-presence/internal/geo"
	"github.com/couchcryptid/trackside-presence/internal/observability"
)

const (
	tolerance   = 0.0001
	minChildren = 4
	maxChildren = 16
	dimensions  = 2
)

// Source lists the venues known to the external registry.
type Source interface {
	ListVenues(ctx context.Context) ([]domain.Venue, error)
}

// Invalidator is implemented by caching sources that can drop their snapshot.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// NearbyVenue is a venue with its distance from a query point.
type NearbyVenue struct {
	Venue         domain.Venue `json:"venue"`
	DistanceMiles float64      `json:"distance_miles"`
}

// Registry holds an immutable snapshot of the venue list. Readers never
// block; a reload swaps in a new snapshot atomically.
type Registry struct {
	source  Source
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics

	snap   atomic.Pointer[snapshot]
	loadMu sync.Mutex
}

type snapshot struct {
	venues   []domain.Venue
	byID     map[string]int
	tree     *rtreego.Rtree
	loadedAt time.Time
}

type spatialVenue struct {
	idx  int
	rect *rtreego.Rect
}

func (s *spatialVenue) Bounds() *rtreego.Rect { return s.rect }

// New creates an empty registry. Call Load before use.
func New(source Source, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Registry {
	r := &Registry{source: source, clock: clock, logger: logger, metrics: metrics}
	r.snap.Store(&snapshot{byID: map[string]int{}, tree: rtreego.NewTree(dimensions, minChildren, maxChildren)})
	return r
}

// Load fetches the venue list and replaces the snapshot. On failure the
// previous snapshot stays in place and a *domain.RegistryError is returned.
func (r *Registry) Load(ctx context.Context) error {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()

	venues, err := r.source.ListVenues(ctx)
	if err != nil {
		r.metrics.RegistryLoads.WithLabelValues("error").Inc()
		r.logger.Error("venue registry load failed, keeping last known good",
			"error", err, "venues", len(r.snap.Load().venues))
		return &domain.RegistryError{Err: err}
	}

	s := r.build(venues)
	r.snap.Store(s)
	r.metrics.RegistryLoads.WithLabelValues("success").Inc()
	r.metrics.RegistryVenues.Set(float64(len(s.venues)))
	r.logger.Info("venue registry loaded", "venues", len(s.venues))
	return nil
}

// Refresh reloads from the system of record, bypassing any source cache.
func (r *Registry) Refresh(ctx context.Context) error {
	if inv, ok := r.source.(Invalidator); ok {
		if err := inv.Invalidate(ctx); err != nil {
			r.logger.Warn("venue cache invalidation failed", "error", err)
		}
	}
	return r.Load(ctx)
}

func (r *Registry) build(in []domain.Venue) *snapshot {
	s := &snapshot{
		venues:   make([]domain.Venue, 0, len(in)),
		byID:     make(map[string]int, len(in)),
		loadedAt: r.clock.Now(),
	}
	for _, v := range in {
		if v.ID == "" {
			r.logger.Warn("skipping venue without id", "name", v.Name)
			continue
		}
		if _, err := domain.NewPosition(v.Lat, v.Lon, nil, s.loadedAt); err != nil {
			r.logger.Warn("skipping venue with invalid coordinates", "venue_id", v.ID, "error", err)
			continue
		}
		if i, dup := s.byID[v.ID]; dup {
			s.venues[i] = v
			continue
		}
		s.byID[v.ID] = len(s.venues)
		s.venues = append(s.venues, v)
	}

	items := make([]rtreego.Spatial, len(s.venues))
	for i, v := range s.venues {
		items[i] = &spatialVenue{idx: i, rect: rtreego.Point{v.Lat, v.Lon}.ToRect(tolerance)}
	}
	s.tree = rtreego.NewTree(dimensions, minChildren, maxChildren, items...)
	return s
}

// Venues returns a copy of the current venue list.
func (r *Registry) Venues() []domain.Venue {
	s := r.snap.Load()
	out := make([]domain.Venue, len(s.venues))
	copy(out, s.venues)
	return out
}

// Venue looks up a venue by id.
func (r *Registry) Venue(id string) (domain.Venue, bool) {
	s := r.snap.Load()
	i, ok := s.byID[id]
	if !ok {
		return domain.Venue{}, false
	}
	return s.venues[i], true
}

// Loaded reports whether at least one load has succeeded.
func (r *Registry) Loaded() bool {
	return !r.snap.Load().loadedAt.IsZero()
}

// LoadedAt returns the time of the last successful load.
func (r *Registry) LoadedAt() time.Time {
	return r.snap.Load().loadedAt
}

// Nearby returns venues within radiusMiles of the point, nearest first. A
// non-positive limit returns all matches.
func (r *Registry) Nearby(lat, lon, radiusMiles float64, limit int) []NearbyVenue {
	s := r.snap.Load()
	if len(s.venues) == 0 || radiusMiles < 0 {
		return nil
	}

	var out []NearbyVenue
	for _, bounds := range searchRects(lat, lon, radiusMiles) {
		for _, item := range s.tree.SearchIntersect(bounds) {
			sv, ok := item.(*spatialVenue)
			if !ok {
				continue
			}
			v := s.venues[sv.idx]
			d := geo.DistanceMiles(lat, lon, v.Lat, v.Lon)
			if d <= radiusMiles {
				out = append(out, NearbyVenue{Venue: v, DistanceMiles: d})
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceMiles < out[j].DistanceMiles })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// searchRects returns the bounding boxes covering a radius around a point,
// split in two when the box crosses the antimeridian.
func searchRects(lat, lon, radiusMiles float64) []*rtreego.Rect {
	latDeg := radiusMiles / geo.EarthRadiusMiles * 180 / math.Pi
	// Slight padding keeps points on the haversine boundary inside the box.
	latDeg = latDeg*1.01 + tolerance

	minLat := math.Max(lat-latDeg, -90)
	maxLat := math.Min(lat+latDeg, 90)

	cos := math.Cos(lat * math.Pi / 180)
	if minLat == -90 || maxLat == 90 || cos < 1e-6 || latDeg/cos >= 180 {
		return []*rtreego.Rect{mustRect(minLat, -180, maxLat, 180)}
	}
	lonDeg := latDeg / cos

	minLon, maxLon := lon-lonDeg, lon+lonDeg
	switch {
	case minLon < -180:
		return []*rtreego.Rect{
			mustRect(minLat, -180, maxLat, maxLon),
			mustRect(minLat, minLon+360, maxLat, 180),
		}
	case maxLon > 180:
		return []*rtreego.Rect{
			mustRect(minLat, minLon, maxLat, 180),
			mustRect(minLat, -180, maxLat, maxLon-360),
		}
	default:
		return []*rtreego.Rect{mustRect(minLat, minLon, maxLat, maxLon)}
	}
}

func mustRect(minLat, minLon, maxLat, maxLon float64) *rtreego.Rect {
	rect, err := rtreego.NewRect(
		rtreego.Point{minLat, minLon},
		[]float64{math.Max(maxLat-minLat, tolerance), math.Max(maxLon-minLon, tolerance)},
	)
	if err != nil {
		// Lengths are clamped positive above, so NewRect cannot fail.
		panic(err)
	}
	return rect
}

// RunRefresher reloads the registry every interval until ctx is cancelled.
// Failures are logged; the last good snapshot keeps serving.
func (r *Registry) RunRefresher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := r.Load(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("scheduled registry refresh failed", "error", err)
			}
		}
	}
}
