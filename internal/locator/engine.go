// Package locator implements the location acquisition engine: it drives a
// positioning source, reverse-geocodes fixes, and exposes the resulting
// acquisition state with manual override and watch controls.
package locator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/trackside-presence/internal/domain"
	"github.com/couchcryptid/trackside-presence/internal/observability"
	"github.com/couchcryptid/trackside-presence/internal/positioning"
)

// ErrClosed is returned by controls invoked after Close.
var ErrClosed = errors.New("location engine closed")

// Config holds the engine options.
type Config struct {
	EnableHighAccuracy bool
	Timeout            time.Duration
	MaximumAge         time.Duration
	Watch              bool
	EnableGeocoding    bool
	AutoFetch          bool
}

// ErrorKind tells which step produced State.Error.
type ErrorKind string

const (
	ErrorPosition  ErrorKind = "position"
	ErrorGeocoding ErrorKind = "geocoding"
	ErrorManual    ErrorKind = "manual"
)

// State is the engine's visible acquisition state.
type State struct {
	Position   *domain.Position        `json:"position"`
	Resolved   domain.ResolvedLocation `json:"resolved"`
	Loading    bool                    `json:"loading"`
	Error      string                  `json:"error,omitempty"`
	ErrorKind  ErrorKind               `json:"error_kind,omitempty"`
	IsManual   bool                    `json:"is_manual"`
	IsWatching bool                    `json:"is_watching"`
}

// Engine is a per-consumer location state holder. All methods are safe for
// concurrent use.
type Engine struct {
	source  positioning.Source
	reverse domain.ReverseGeocoder
	postal  domain.PostalGeocoder
	cfg     Config
	logger  *slog.Logger
	metrics *observability.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	state State
	// gen is bumped by ClearLocation and Close; work started under an older
	// generation is discarded.
	gen uint64
	// seq identifies the current fix; geocode results for older fixes are dropped.
	seq      uint64
	watch    positioning.WatchHandle
	watchGen uint64
	closed   bool
	subs     map[int]func(domain.PositionEvent)
	nextSub  int

	// emitMu serializes commit and delivery so subscribers see events in
	// commit order. Acquired before mu.
	emitMu sync.Mutex
}

// New creates an engine. reverse and postal may be nil, disabling reverse
// geocoding and manual override respectively.
func New(source positioning.Source, reverse domain.ReverseGeocoder, postal domain.PostalGeocoder, cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		source:  source,
		reverse: reverse,
		postal:  postal,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
		subs:    make(map[int]func(domain.PositionEvent)),
	}
}

// Start applies the Watch and AutoFetch options.
func (e *Engine) Start() {
	if e.cfg.Watch {
		if err := e.SetWatching(true); err != nil {
			e.logger.Warn("start watch failed", "error", err)
		}
	}
	if e.cfg.AutoFetch {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.GetLocation(e.ctx)
		}()
	}
}

// State returns a snapshot of the acquisition state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Subscribe registers fn for every accepted position. Events are delivered
// synchronously in processing order; fn must not call GetLocation or
// SetManualLocation. The returned func unsubscribes.
func (e *Engine) Subscribe(fn func(domain.PositionEvent)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextSub++
	id := e.nextSub
	e.subs[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs, id)
	}
}

// GetLocation performs a one-shot fix and, when enabled, reverse-geocodes it.
// It returns once the state has settled. Failures are reported in the state.
func (e *Engine) GetLocation(ctx context.Context) State {
	e.mu.Lock()
	if e.closed {
		defer e.mu.Unlock()
		return e.snapshotLocked()
	}
	gen := e.gen
	e.state.Loading = true
	e.clearErrorLocked()
	e.mu.Unlock()

	pos, err := e.source.GetPosition(ctx, e.options())
	if err != nil {
		e.fail(gen, err)
		return e.State()
	}

	if seq, ok := e.commitFix(gen, pos, false); ok {
		e.resolve(ctx, gen, seq, pos)
	}
	return e.State()
}

// SetManualLocation resolves a ZIP or postal code and installs it as a manual
// position. An active watch is stopped so device fixes do not replace it.
func (e *Engine) SetManualLocation(ctx context.Context, code string) State {
	e.mu.Lock()
	if e.closed {
		defer e.mu.Unlock()
		return e.snapshotLocked()
	}
	gen := e.gen
	e.stopWatchLocked()
	e.state.Loading = true
	e.clearErrorLocked()
	e.mu.Unlock()

	if e.postal == nil {
		e.failManual(gen, "Manual location entry is not available.")
		return e.State()
	}

	place, err := e.postal.GeocodePostalCode(ctx, code)
	if err != nil {
		e.logger.Warn("postal code lookup failed", "postal_code", code, "error", err)
		e.failManual(gen, fmt.Sprintf("Could not find a location for %q.", code))
		return e.State()
	}
	pos, err := domain.NewPosition(place.Lat, place.Lon, nil, time.Time{})
	if err != nil {
		e.logger.Warn("postal code lookup returned invalid coordinates", "postal_code", code, "error", err)
		e.failManual(gen, fmt.Sprintf("Could not find a location for %q.", code))
		return e.State()
	}

	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	e.mu.Lock()
	if gen != e.gen {
		defer e.mu.Unlock()
		return e.snapshotLocked()
	}
	e.seq++
	e.state.Position = &pos
	e.state.Resolved = place.Resolved()
	e.state.IsManual = true
	e.state.Loading = false
	e.clearErrorLocked()
	state := e.snapshotLocked()
	subs := e.subscribersLocked()
	e.mu.Unlock()

	e.metrics.FixesReceived.WithLabelValues("manual").Inc()
	deliver(subs, domain.PositionEvent{Position: pos, Manual: true})
	return state
}

// ClearLocation resets the engine to its initial state and cancels any watch.
// Results of requests already in flight are discarded.
func (e *Engine) ClearLocation() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.gen++
	e.seq++
	e.stopWatchLocked()
	e.state = State{}
}

// ToggleWatch flips continuous watching and reports the new setting.
func (e *Engine) ToggleWatch() (bool, error) {
	e.mu.Lock()
	on := !e.state.IsWatching
	e.mu.Unlock()

	if err := e.SetWatching(on); err != nil {
		return false, err
	}
	return on, nil
}

// SetWatching turns continuous watching on or off. Turning it on while a
// watch is active replaces that watch.
func (e *Engine) SetWatching(on bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	// A running watch is always cancelled first so at most one subscription exists.
	e.stopWatchLocked()
	if !on {
		return nil
	}

	e.watchGen++
	wg := e.watchGen
	h, err := e.source.StartWatch(e.options(),
		func(p domain.Position) { e.onWatchFix(wg, p) },
		func(err error) { e.onWatchError(wg, err) },
	)
	if err != nil {
		kind := domain.KindOf(err)
		e.metrics.PositionErrors.WithLabelValues(string(kind)).Inc()
		e.state.Error = Message(kind)
		e.state.ErrorKind = ErrorPosition
		return fmt.Errorf("start watch: %w", err)
	}

	e.watch = h
	e.state.IsWatching = true
	e.metrics.WatchActive.Set(1)
	e.logger.Info("position watch started", "source", e.source.Name())
	return nil
}

// Close stops the watch, abandons in-flight work, and waits for background
// geocoding to finish.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.gen++
	e.stopWatchLocked()
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
}

func (e *Engine) onWatchFix(wg uint64, pos domain.Position) {
	e.mu.Lock()
	if wg != e.watchGen || e.watch == nil {
		e.mu.Unlock()
		return
	}
	gen := e.gen
	e.mu.Unlock()

	seq, ok := e.commitFix(gen, pos, true)
	if !ok || !e.geocodes() {
		return
	}
	go func() {
		defer e.wg.Done()
		e.resolve(e.ctx, gen, seq, pos)
	}()
}

func (e *Engine) onWatchError(wg uint64, err error) {
	e.mu.Lock()
	current := wg == e.watchGen && e.watch != nil
	gen := e.gen
	e.mu.Unlock()

	if current {
		e.fail(gen, err)
	}
}

// commitFix installs a device fix as the current position and notifies
// subscribers. It reports false when the fix was superseded. With async set
// and geocoding enabled, the caller owes a wg.Done for the background lookup.
func (e *Engine) commitFix(gen uint64, pos domain.Position, async bool) (uint64, bool) {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		return 0, false
	}
	e.seq++
	seq := e.seq
	e.state.Position = &pos
	e.state.Resolved = domain.ResolvedLocation{}
	e.state.IsManual = false
	e.state.Loading = e.geocodes()
	e.clearErrorLocked()
	if async && e.geocodes() {
		e.wg.Add(1)
	}
	subs := e.subscribersLocked()
	e.mu.Unlock()

	e.metrics.FixesReceived.WithLabelValues("gps").Inc()
	deliver(subs, domain.PositionEvent{Position: pos})
	return seq, true
}

// resolve reverse-geocodes pos and stores the result if pos is still the
// current fix. Failures keep the coordinates.
func (e *Engine) resolve(ctx context.Context, gen, seq uint64, pos domain.Position) {
	if !e.geocodes() {
		return
	}
	place, err := e.reverse.ReverseGeocode(ctx, pos.Lat, pos.Lon)

	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen || seq != e.seq {
		return
	}
	e.state.Loading = false
	if err != nil {
		e.logger.Warn("reverse geocode failed", "lat", pos.Lat, "lon", pos.Lon, "error", err)
		e.state.Error = "Address lookup failed. Your coordinates are still available."
		e.state.ErrorKind = ErrorGeocoding
		return
	}
	e.state.Resolved = place.Resolved()
}

func (e *Engine) fail(gen uint64, err error) {
	kind := domain.KindOf(err)
	e.metrics.PositionErrors.WithLabelValues(string(kind)).Inc()
	e.logger.Warn("position request failed", "kind", kind, "error", err)

	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen {
		return
	}
	e.state.Loading = false
	e.state.Error = Message(kind)
	e.state.ErrorKind = ErrorPosition
}

func (e *Engine) failManual(gen uint64, msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen {
		return
	}
	e.state.Loading = false
	e.state.Error = msg
	e.state.ErrorKind = ErrorManual
}

func (e *Engine) subscribersLocked() []func(domain.PositionEvent) {
	subs := make([]func(domain.PositionEvent), 0, len(e.subs))
	for id := 1; id <= e.nextSub; id++ {
		if fn, ok := e.subs[id]; ok {
			subs = append(subs, fn)
		}
	}
	return subs
}

func deliver(subs []func(domain.PositionEvent), ev domain.PositionEvent) {
	for _, fn := range subs {
		fn(ev)
	}
}

func (e *Engine) stopWatchLocked() {
	if e.watch == nil {
		e.state.IsWatching = false
		return
	}
	e.watch.Stop()
	e.watch = nil
	e.watchGen++
	e.state.IsWatching = false
	e.metrics.WatchActive.Set(0)
	e.logger.Info("position watch stopped")
}

func (e *Engine) clearErrorLocked() {
	e.state.Error = ""
	e.state.ErrorKind = ""
}

func (e *Engine) snapshotLocked() State {
	s := e.state
	if s.Position != nil {
		p := *s.Position
		s.Position = &p
	}
	return s
}

func (e *Engine) geocodes() bool {
	return e.cfg.EnableGeocoding && e.reverse != nil
}

func (e *Engine) options() positioning.Options {
	return positioning.Options{
		EnableHighAccuracy: e.cfg.EnableHighAccuracy,
		Timeout:            e.cfg.Timeout,
		MaximumAge:         e.cfg.MaximumAge,
	}
}

// Message maps a positioning failure to the text shown to the user.
func Message(kind domain.PositionErrorKind) string {
	switch kind {
	case domain.PermissionDenied:
		return "Location access was denied. Please allow location access in your device or browser settings, or enter a ZIP code."
	case domain.PositionUnavailable:
		return "Your location is currently unavailable. Check that location services are enabled and try again."
	case domain.Timeout:
		return "Getting your location took too long. Please try again."
	case domain.Unsupported:
		return "Location is not supported on this device. Enter a ZIP code instead."
	default:
		return "Something went wrong while getting your location. Please try again."
	}
}
