package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds node daemon configuration.
type Config struct {
	Port     string
	LogLevel string

	// NodeID is this node's federation identity. Required for serving;
	// envelopes are addressed to it and attestations are issued under it.
	NodeID string

	// DatabaseURL selects Postgres persistence when set; otherwise the
	// daemon falls back to the embedded SQLite store at SQLitePath.
	DatabaseURL string
	SQLitePath  string

	// RedisAddr enables the reputation snapshot cache when set.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// JWTSecret is the shared HMAC secret for federation bearer tokens.
	JWTSecret string

	// ReadinessConfigPath points to a YAML override of the requirement
	// expiry windows. Empty means built-in defaults.
	ReadinessConfigPath string

	// SweepInterval controls how often reputation snapshots are recomputed
	// for active nodes.
	SweepInterval time.Duration
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	sqlitePath := os.Getenv("SQLITE_PATH")
	if sqlitePath == "" {
		sqlitePath = "escrowgrid.db"
	}

	redisDB := 0
	if raw := os.Getenv("REDIS_DB"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			redisDB = n
		}
	}

	sweepInterval := time.Hour
	if raw := os.Getenv("SWEEP_INTERVAL"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			sweepInterval = d
		}
	}

	return &Config{
		Port:                port,
		LogLevel:            logLevel,
		NodeID:              os.Getenv("NODE_ID"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		SQLitePath:          sqlitePath,
		RedisAddr:           os.Getenv("REDIS_ADDR"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		RedisDB:             redisDB,
		JWTSecret:           os.Getenv("JWT_SECRET"),
		ReadinessConfigPath: os.Getenv("READINESS_CONFIG"),
		SweepInterval:       sweepInterval,
	}
}
