package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "trackside"

// Metrics holds the Prometheus counters, histograms, and gauges for the presence service.
type Metrics struct {
	// Acquisition metrics.
	FixesReceived  *prometheus.CounterVec // labels: origin={gps,manual}
	PositionErrors *prometheus.CounterVec // labels: kind={PERMISSION_DENIED,...}
	WatchActive    prometheus.Gauge

	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec   // labels: method={reverse,postal}, outcome={success,error,not_found}
	GeocodeCache       *prometheus.CounterVec   // labels: method={reverse,postal}, result={hit,miss}
	GeocodeAPIDuration *prometheus.HistogramVec // labels: method={reverse,postal}
	FetchAttempts      *prometheus.CounterVec   // labels: outcome={success,retry,failed,malformed,cancelled}

	// Registry metrics.
	RegistryLoads  *prometheus.CounterVec // labels: outcome={success,error}
	RegistryVenues prometheus.Gauge

	// Presence metrics.
	Transitions          *prometheus.CounterVec // labels: kind={arrival,departure}
	SessionPersistErrors *prometheus.CounterVec // labels: op={create,close}
	PipelineRunning      prometheus.Gauge
	PipelineDropped      prometheus.Counter
	ProcessingDuration   prometheus.Histogram
}

// NewMetrics creates and registers all service metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics(true)

	prometheus.MustRegister(
		m.FixesReceived,
		m.PositionErrors,
		m.WatchActive,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
		m.FetchAttempts,
		m.RegistryLoads,
		m.RegistryVenues,
		m.Transitions,
		m.SessionPersistErrors,
		m.PipelineRunning,
		m.PipelineDropped,
		m.ProcessingDuration,
	)

	return m
}

// NewUnregisteredMetrics creates Metrics for short-lived tools that never
// serve /metrics.
func NewUnregisteredMetrics() *Metrics {
	return newMetrics(true)
}

// NewMetricsForTesting creates Metrics without registering them, to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics(false)
}

func newMetrics(withHelp bool) *Metrics {
	help := func(s string) string {
		if withHelp {
			return s
		}
		return ""
	}
	return &Metrics{
		FixesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fixes_received_total",
			Help:      help("Position fixes accepted by the acquisition engine, by origin."),
		}, []string{"origin"}),
		PositionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "position_errors_total",
			Help:      help("Positioning failures by error kind."),
		}, []string{"kind"}),
		WatchActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watch_active",
			Help:      help("1 while a continuous position watch is subscribed."),
		}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      help("Geocoding API requests by method and outcome."),
		}, []string{"method", "outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      help("Geocoding cache lookups by method and result."),
		}, []string{"method", "result"}),
		GeocodeAPIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      help("Geocoding API call duration in seconds, including retries."),
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"method"}),
		FetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      help("Resilient fetch attempts by outcome."),
		}, []string{"outcome"}),
		RegistryLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_loads_total",
			Help:      help("Venue registry loads by outcome."),
		}, []string{"outcome"}),
		RegistryVenues: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_venues",
			Help:      help("Number of venues in the current registry snapshot."),
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_transitions_total",
			Help:      help("Committed presence transitions by kind."),
		}, []string{"kind"}),
		SessionPersistErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_persist_errors_total",
			Help:      help("Presence session create/close failures by operation."),
		}, []string{"op"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      help("1 when the presence pipeline is active, 0 when shut down."),
		}),
		PipelineDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_dropped_events_total",
			Help:      help("Position events dropped because the detector queue was full."),
		}),
		ProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "position_processing_duration_seconds",
			Help:      help("Duration of geofence evaluation for a single position."),
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
		}),
	}
}
