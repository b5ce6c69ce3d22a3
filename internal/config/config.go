package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Positioning backends.
const (
	BackendAuto    = "auto"
	BackendNative  = "native"
	BackendBrowser = "browser"
)

// Store drivers and session stores.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	SessionStoreSQL      = "sql"
	SessionStoreDynamoDB = "dynamodb"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	UserID string

	// Location acquisition.
	PositioningBackend   string
	LocationHighAccuracy bool
	LocationTimeout      time.Duration
	LocationMaxAge       time.Duration
	LocationWatch        bool
	LocationAutoFetch    bool

	// Geocoding configuration.
	GeocodingEnabled     bool
	GeocoderURL          string
	GeocoderUserAgent    string
	GeocoderCountryCodes string
	GeocoderTimeout      time.Duration
	GeocoderMaxRetries   int
	GeocoderRetryDelay   time.Duration
	GeocoderCacheSize    int

	// Storage.
	StoreDriver           string
	StoreDSN              string
	SessionStore          string
	DynamoDBSessionsTable string
	RedisAddr             string
	RedisRegistryTTL      time.Duration
	RegistryRefresh       time.Duration

	// Kafka device stream and event publishing.
	KafkaEnabled     bool
	KafkaBrokers     []string
	KafkaFixTopic    string
	KafkaGroupID     string
	KafkaEventsTopic string
	KafkaNotifyTopic string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
		UserID:          os.Getenv("PRESENCE_USER_ID"),

		PositioningBackend:   sharedcfg.EnvOrDefault("POSITIONING_BACKEND", BackendAuto),
		GeocoderURL:          sharedcfg.EnvOrDefault("GEOCODER_URL", "https://nominatim.openstreetmap.org"),
		GeocoderUserAgent:    sharedcfg.EnvOrDefault("GEOCODER_USER_AGENT", "trackside-presence/1.0 (ops@example.com)"),
		GeocoderCountryCodes: sharedcfg.EnvOrDefault("GEOCODER_COUNTRY_CODES", "us"),

		StoreDriver:           sharedcfg.EnvOrDefault("STORE_DRIVER", DriverSQLite),
		StoreDSN:              sharedcfg.EnvOrDefault("STORE_DSN", "file:presence.db"),
		SessionStore:          sharedcfg.EnvOrDefault("SESSION_STORE", SessionStoreSQL),
		DynamoDBSessionsTable: sharedcfg.EnvOrDefault("DYNAMODB_SESSIONS_TABLE", "presence_sessions"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),

		KafkaBrokers:     sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaFixTopic:    sharedcfg.EnvOrDefault("KAFKA_FIX_TOPIC", "device-fixes"),
		KafkaGroupID:     sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "trackside-presence"),
		KafkaEventsTopic: sharedcfg.EnvOrDefault("KAFKA_EVENTS_TOPIC", "presence-events"),
		KafkaNotifyTopic: sharedcfg.EnvOrDefault("KAFKA_NOTIFY_TOPIC", "presence-notifications"),
	}

	bools := []struct {
		name string
		def  bool
		dst  *bool
	}{
		{"LOCATION_HIGH_ACCURACY", true, &cfg.LocationHighAccuracy},
		{"LOCATION_WATCH", true, &cfg.LocationWatch},
		{"LOCATION_AUTO_FETCH", true, &cfg.LocationAutoFetch},
		{"GEOCODING_ENABLED", true, &cfg.GeocodingEnabled},
		{"KAFKA_ENABLED", false, &cfg.KafkaEnabled},
	}
	for _, b := range bools {
		if *b.dst, err = parseBool(b.name, b.def); err != nil {
			return nil, err
		}
	}

	durations := []struct {
		name      string
		def       string
		allowZero bool
		dst       *time.Duration
	}{
		{"LOCATION_TIMEOUT", "10s", false, &cfg.LocationTimeout},
		{"LOCATION_MAX_AGE", "5m", true, &cfg.LocationMaxAge},
		{"GEOCODER_TIMEOUT", "10s", false, &cfg.GeocoderTimeout},
		{"GEOCODER_RETRY_DELAY", "1s", false, &cfg.GeocoderRetryDelay},
		{"REDIS_REGISTRY_TTL", "10m", false, &cfg.RedisRegistryTTL},
		{"REGISTRY_REFRESH_INTERVAL", "15m", true, &cfg.RegistryRefresh},
	}
	for _, d := range durations {
		if *d.dst, err = parseDuration(d.name, d.def, d.allowZero); err != nil {
			return nil, err
		}
	}

	if cfg.GeocoderMaxRetries, err = parsePositiveInt("GEOCODER_MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.GeocoderCacheSize, err = parsePositiveInt("GEOCODER_CACHE_SIZE", 1000); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.UserID == "" {
		return errors.New("PRESENCE_USER_ID is required")
	}
	switch c.PositioningBackend {
	case BackendAuto, BackendNative, BackendBrowser:
	default:
		return fmt.Errorf("invalid POSITIONING_BACKEND %q: must be auto, native, or browser", c.PositioningBackend)
	}
	if c.PositioningBackend == BackendNative && !c.KafkaEnabled {
		return errors.New("POSITIONING_BACKEND=native requires KAFKA_ENABLED=true")
	}
	switch c.StoreDriver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q: must be sqlite or postgres", c.StoreDriver)
	}
	if c.StoreDSN == "" {
		return errors.New("STORE_DSN is required")
	}
	switch c.SessionStore {
	case SessionStoreSQL, SessionStoreDynamoDB:
	default:
		return fmt.Errorf("invalid SESSION_STORE %q: must be sql or dynamodb", c.SessionStore)
	}
	// Postal-code lookups reach the provider even with reverse geocoding off.
	if c.GeocoderUserAgent == "" {
		return errors.New("GEOCODER_USER_AGENT is required")
	}
	if c.KafkaEnabled {
		if len(c.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is required")
		}
		if c.KafkaFixTopic == "" || c.KafkaEventsTopic == "" || c.KafkaNotifyTopic == "" {
			return errors.New("KAFKA_FIX_TOPIC, KAFKA_EVENTS_TOPIC and KAFKA_NOTIFY_TOPIC must not be empty")
		}
	}
	return nil
}

func parseBool(name string, def bool) (bool, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", name, err)
	}
	return v, nil
}

func parseDuration(name, def string, allowZero bool) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(name, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if d < 0 || (d == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s: must be positive", name)
	}
	return d, nil
}

func parsePositiveInt(name string, def int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", name)
	}
	return n, nil
}
