package config

import (
	"os"
	"strconv"
	"time"

	"busline/internal/cache"
	"busline/internal/database"
	"busline/internal/messaging"
	"busline/internal/search"
)

// Config holds the full application configuration
type Config struct {
	Port           string
	GinMode        string
	LogLevel       string
	LogFormat      string
	RequestTimeout time.Duration

	// Seat hold tuning. HoldTTL bounds how long an abandoned selection can
	// hoard a seat; SweepInterval bounds how stale an expired hold can stay
	// visible; FinalizeTimeout bounds the checkout transaction.
	HoldTTL         time.Duration
	SweepInterval   time.Duration
	FinalizeTimeout time.Duration

	Database      database.Config
	Redis         cache.Config
	NATS          messaging.Config
	Elasticsearch search.Config
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8082"),
		GinMode:        getEnv("GIN_MODE", "debug"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
		RequestTimeout: time.Duration(getEnvInt("REQUEST_TIMEOUT_SEC", 30)) * time.Second,

		HoldTTL:         time.Duration(getEnvInt("HOLD_TTL_SEC", 120)) * time.Second,
		SweepInterval:   time.Duration(getEnvInt("SWEEP_INTERVAL_SEC", 2)) * time.Second,
		FinalizeTimeout: time.Duration(getEnvInt("FINALIZE_TIMEOUT_SEC", 10)) * time.Second,

		Database: database.Config{
			Host:               getEnv("DB_HOST", "localhost"),
			Port:               getEnvInt("DB_PORT", 5432),
			User:               getEnv("DB_USER", "busline"),
			Password:           getEnv("DB_PASSWORD", "busline123"),
			DBName:             getEnv("DB_NAME", "busline"),
			SSLMode:            getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 100),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetimeMin: getEnvInt("DB_CONN_MAX_LIFETIME_MIN", 5),
			ConnMaxIdleTimeMin: getEnvInt("DB_CONN_MAX_IDLE_TIME_MIN", 1),
		},

		Redis: cache.Config{
			Addr:        getEnv("REDIS_ADDR", ""),
			Password:    getEnv("REDIS_PASSWORD", ""),
			SnapshotTTL: time.Duration(getEnvInt("REDIS_SNAPSHOT_TTL_SEC", 3)) * time.Second,
		},

		NATS: messaging.Config{
			URL:       getEnv("NATS_URL", ""),
			ClusterID: getEnv("NATS_CLUSTER_ID", "busline"),
			ClientID:  getEnv("NATS_CLIENT_ID", "busline-api"),
		},

		Elasticsearch: search.Config{
			URL:        getEnv("ELASTICSEARCH_URL", ""),
			Username:   getEnv("ELASTICSEARCH_USERNAME", ""),
			Password:   getEnv("ELASTICSEARCH_PASSWORD", ""),
			Index:      getEnv("ELASTICSEARCH_INDEX", "trips"),
			MaxRetries: getEnvInt("ELASTICSEARCH_MAX_RETRIES", 3),
		},
	}
}

// getEnv returns the environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable value or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
