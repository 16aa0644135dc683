package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// Config holds all configuration for the application.
type Config struct {
	ServiceName string
	LogLevel    string

	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	NewRelic NewRelicConfig
	Dispatch DispatchConfig
	Maps     MapsConfig
	Kafka    KafkaConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	Migrate  bool
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// PubSub fans realtime events out to every instance through Redis.
	PubSub bool
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// DispatchConfig holds the tunables of the dispatch core.
type DispatchConfig struct {
	StaleAfter         time.Duration
	ProximityMeters    float64
	RouteSampleStride  int
	TaskWorkers        int
	TaskQueueSize      int
	TaskMaxAttempts    int
	TaskRetryBackoff   time.Duration
	BookingLockTTL     time.Duration
	FallbackSpeedKmh   float64
	ETACacheTTL        time.Duration
	RealtimeSendBuffer int
}

// MapsConfig holds the Google Maps Platform configuration. An empty APIKey
// disables the provider and the straight-line ETA estimator is used alone.
type MapsConfig struct {
	APIKey string
	Region string
}

// KafkaConfig holds the optional event sink configuration.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Load loads configuration from environment variables, reading a .env file
// first when one is present.
func Load() *Config {
	_ = godotenv.Load(".env")

	return &Config{
		ServiceName: cast.ToString(getOrReturnDefault("SERVICE_NAME", "dispatch")),
		LogLevel:    cast.ToString(getOrReturnDefault("LOG_LEVEL", "info")),
		Server: ServerConfig{
			Port:            cast.ToString(getOrReturnDefault("SERVER_PORT", "8080")),
			ReadTimeout:     cast.ToDuration(getOrReturnDefault("SERVER_READ_TIMEOUT", 10*time.Second)),
			WriteTimeout:    cast.ToDuration(getOrReturnDefault("SERVER_WRITE_TIMEOUT", 10*time.Second)),
			ShutdownTimeout: cast.ToDuration(getOrReturnDefault("SERVER_SHUTDOWN_TIMEOUT", 5*time.Second)),
		},
		Database: DatabaseConfig{
			Host:     cast.ToString(getOrReturnDefault("DB_HOST", "localhost")),
			Port:     cast.ToString(getOrReturnDefault("DB_PORT", "5432")),
			User:     cast.ToString(getOrReturnDefault("DB_USER", "postgres")),
			Password: cast.ToString(getOrReturnDefault("DB_PASSWORD", "postgres")),
			DBName:   cast.ToString(getOrReturnDefault("DB_NAME", "dispatch")),
			SSLMode:  cast.ToString(getOrReturnDefault("DB_SSLMODE", "disable")),
			Migrate:  cast.ToBool(getOrReturnDefault("DB_MIGRATE", true)),
		},
		Redis: RedisConfig{
			Addr:     cast.ToString(getOrReturnDefault("REDIS_ADDR", "localhost:6379")),
			Password: cast.ToString(getOrReturnDefault("REDIS_PASSWORD", "")),
			DB:       cast.ToInt(getOrReturnDefault("REDIS_DB", 0)),
			PubSub:   cast.ToBool(getOrReturnDefault("REDIS_PUBSUB", true)),
		},
		NewRelic: NewRelicConfig{
			AppName:    cast.ToString(getOrReturnDefault("NEW_RELIC_APP_NAME", "dispatch-service")),
			LicenseKey: cast.ToString(getOrReturnDefault("NEW_RELIC_LICENSE_KEY", "")),
			Enabled:    cast.ToBool(getOrReturnDefault("NEW_RELIC_ENABLED", false)),
		},
		Dispatch: DispatchConfig{
			StaleAfter:         cast.ToDuration(getOrReturnDefault("PRESENCE_STALE_AFTER", 60*time.Second)),
			ProximityMeters:    cast.ToFloat64(getOrReturnDefault("PROXIMITY_METERS", 150.0)),
			RouteSampleStride:  cast.ToInt(getOrReturnDefault("ROUTE_SAMPLE_STRIDE", 5)),
			TaskWorkers:        cast.ToInt(getOrReturnDefault("TASK_WORKERS", 4)),
			TaskQueueSize:      cast.ToInt(getOrReturnDefault("TASK_QUEUE_SIZE", 256)),
			TaskMaxAttempts:    cast.ToInt(getOrReturnDefault("TASK_MAX_ATTEMPTS", 3)),
			TaskRetryBackoff:   cast.ToDuration(getOrReturnDefault("TASK_RETRY_BACKOFF", 500*time.Millisecond)),
			BookingLockTTL:     cast.ToDuration(getOrReturnDefault("BOOKING_LOCK_TTL", 5*time.Second)),
			FallbackSpeedKmh:   cast.ToFloat64(getOrReturnDefault("FALLBACK_SPEED_KMH", 30.0)),
			ETACacheTTL:        cast.ToDuration(getOrReturnDefault("ETA_CACHE_TTL", 30*time.Second)),
			RealtimeSendBuffer: cast.ToInt(getOrReturnDefault("REALTIME_SEND_BUFFER", 64)),
		},
		Maps: MapsConfig{
			APIKey: cast.ToString(getOrReturnDefault("GOOGLE_MAPS_API_KEY", "")),
			Region: cast.ToString(getOrReturnDefault("GOOGLE_MAPS_REGION", "in")),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(cast.ToString(getOrReturnDefault("KAFKA_BROKERS", ""))),
			Topic:   cast.ToString(getOrReturnDefault("KAFKA_TOPIC", "dispatch-events")),
		},
	}
}

func getOrReturnDefault(key string, defaultValue interface{}) interface{} {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
