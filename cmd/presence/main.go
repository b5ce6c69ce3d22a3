package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	dynamoadapter "github.com/couchcryptid/trackside-presence/internal/adapter/dynamodb"
	httpadapter "github.com/couchcryptid/trackside-presence/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/trackside-presence/internal/adapter/kafka"
	"github.com/couchcryptid/trackside-presence/internal/adapter/nominatim"
	redisadapter "github.com/couchcryptid/trackside-presence/internal/adapter/redis"
	"github.com/couchcryptid/trackside-presence/internal/config"
	"github.com/couchcryptid/trackside-presence/internal/domain"
	"github.com/couchcryptid/trackside-presence/internal/fetch"
	"github.com/couchcryptid/trackside-presence/internal/locator"
	"github.com/couchcryptid/trackside-presence/internal/observability"
	"github.com/couchcryptid/trackside-presence/internal/pipeline"
	"github.com/couchcryptid/trackside-presence/internal/positioning"
	"github.com/couchcryptid/trackside-presence/internal/presence"
	"github.com/couchcryptid/trackside-presence/internal/registry"
	"github.com/couchcryptid/trackside-presence/internal/store"
)

// sessionStore is a presence session store that can also find a session
// left open by a previous run.
type sessionStore interface {
	presence.SessionStore
	OpenSession(ctx context.Context, userID string) (domain.Session, bool, error)
}

// publisher forwards pipeline events and arrival notifications.
type publisher interface {
	pipeline.EventPublisher
	presence.Notifier
}

func main() {
	// A missing .env file is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.StoreDriver, cfg.StoreDSN, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to migrate store", "error", err)
		os.Exit(1)
	}

	sessions, err := newSessionStore(ctx, cfg, db, logger)
	if err != nil {
		logger.Error("failed to initialize session store", "error", err)
		os.Exit(1)
	}

	// Venue registry, optionally shared through Redis.
	var venueSource registry.Source = db
	if cfg.RedisAddr != "" {
		rc := redisadapter.NewClient(cfg.RedisAddr)
		defer rc.Close()
		venueSource = redisadapter.NewVenueCache(rc, db, cfg.RedisRegistryTTL, logger)
		logger.Info("redis venue cache enabled", "addr", cfg.RedisAddr, "ttl", cfg.RedisRegistryTTL)
	}
	venues := registry.New(venueSource, clock, logger, metrics)
	if err := venues.Load(ctx); err != nil {
		// Detection yields no matches until a later refresh succeeds.
		logger.Error("initial venue registry load failed", "error", err)
	}

	// Geocoding. GEOCODING_ENABLED gates reverse lookups only; postal codes
	// always resolve so the manual override stays available.
	fetcher := fetch.New(
		fetch.WithMaxRetries(cfg.GeocoderMaxRetries),
		fetch.WithInitialDelay(cfg.GeocoderRetryDelay),
		fetch.WithTimeout(cfg.GeocoderTimeout),
		fetch.WithUserAgent(cfg.GeocoderUserAgent),
		fetch.WithClock(clock),
		fetch.WithMetrics(metrics),
		fetch.WithLogger(logger),
	)
	geocoder := nominatim.NewCachedGeocoder(
		nominatim.NewClient(cfg.GeocoderURL, cfg.GeocoderCountryCodes, fetcher, metrics, logger),
		cfg.GeocoderCacheSize, metrics)
	logger.Info("geocoder configured", "url", cfg.GeocoderURL, "cache_size", cfg.GeocoderCacheSize,
		"reverse_geocoding", cfg.GeocodingEnabled)

	// Positioning backend and event publishing.
	var (
		platform  positioning.Platform
		fixReader *kafkaadapter.FixReader
		pub       publisher = pipeline.NewLogPublisher(logger)
		kafkaPub  *kafkaadapter.Publisher
	)
	if cfg.KafkaEnabled {
		fixReader = kafkaadapter.NewFixReader(cfg, logger)
		platform.Native = positioning.NewNativeSource(fixReader, clock, logger)
		kafkaPub = kafkaadapter.NewPublisher(cfg, logger)
		pub = kafkaPub
	}
	platform.Browser = positioning.NewBrowserSource(clock)
	source := positioning.Select(cfg.PositioningBackend, platform)
	logger.Info("positioning backend selected", "backend", source.Name())

	engine := locator.New(source, geocoder, geocoder, locator.Config{
		EnableHighAccuracy: cfg.LocationHighAccuracy,
		Timeout:            cfg.LocationTimeout,
		MaximumAge:         cfg.LocationMaxAge,
		Watch:              cfg.LocationWatch,
		EnableGeocoding:    cfg.GeocodingEnabled,
		AutoFetch:          cfg.LocationAutoFetch,
	}, logger, metrics)

	detector := presence.NewDetector(venues, sessions, pub, presence.Config{UserID: cfg.UserID}, logger, metrics)
	if open, ok, err := sessions.OpenSession(ctx, cfg.UserID); err != nil {
		logger.Warn("could not look up open presence session", "error", err)
	} else if ok {
		detector.Restore(open)
	}

	p := pipeline.New(detector, pub, venues, clock, logger, metrics)
	unsubscribe := engine.Subscribe(p.Enqueue)

	api := httpadapter.API{
		Locator:  engine,
		Presence: detector,
		CheckIns: p,
		Venues:   venues,
	}
	if source.Name() == "browser" {
		api.Fixes = platform.Browser
	}
	srv := httpadapter.NewServer(cfg.HTTPAddr, api, httpadapter.ReadinessChecks{p, db}, logger)

	var wg sync.WaitGroup

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	// Start presence pipeline.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	// Start device fix stream.
	if platform.Native != nil && source.Name() == platform.Native.Name() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := platform.Native.Run(ctx); err != nil {
				logger.Error("native positioning error", "error", err)
			}
		}()
	}

	// Periodic registry refresh.
	wg.Add(1)
	go func() {
		defer wg.Done()
		venues.RunRefresher(ctx, cfg.RegistryRefresh)
	}()

	engine.Start()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	unsubscribe()
	engine.Close()
	wg.Wait()
	detector.Close()

	if fixReader != nil {
		if err := fixReader.Close(); err != nil {
			logger.Error("kafka reader close error", "error", err)
		}
	}
	if kafkaPub != nil {
		if err := kafkaPub.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

func newSessionStore(ctx context.Context, cfg *config.Config, db *store.Store, logger *slog.Logger) (sessionStore, error) {
	if cfg.SessionStore != config.SessionStoreDynamoDB {
		return db, nil
	}
	client, err := dynamoadapter.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	logger.Info("dynamodb session store enabled", "table", cfg.DynamoDBSessionsTable)
	return dynamoadapter.NewSessionStore(client, cfg.DynamoDBSessionsTable, logger), nil
}
