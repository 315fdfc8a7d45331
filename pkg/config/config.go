// Package config loads service configuration from environment variables,
// optionally overlaid by a YAML deployment profile.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds server configuration.
type Config struct {
	Port     string
	LogLevel string

	// DatabaseURL switches the stores to Postgres when set; empty means
	// in-memory stores.
	DatabaseURL string
	// RedisURL switches the replay guard to Redis when set.
	RedisURL string
	// ReceiptArchivePath is the SQLite receipt archive; empty keeps receipts
	// in memory.
	ReceiptArchivePath string

	// FeeRateBps is the platform fee in basis points.
	FeeRateBps int64
	// MinDeposit is the minimum escrow for a new session, in minor units.
	MinDeposit int64
	// DisputeWindow is how long the arbiter has to resolve a dispute.
	DisputeWindow time.Duration
	// AbandonGrace is how long past expiry the sweeper waits before
	// settling a stalled session on its own.
	AbandonGrace time.Duration
	// SweepInterval is the sweeper's polling period.
	SweepInterval time.Duration

	// Operator may pause and unpause entry operations.
	Operator string
	// Arbiter may resolve disputes.
	Arbiter string
	// SigningSeed is the hex-encoded Ed25519 seed for receipt signing;
	// empty generates an ephemeral key.
	SigningSeed string

	// JWTSecret verifies caller-identity bearer tokens; empty disables
	// identity-gated routes.
	JWTSecret string

	// ProfilePath points at an optional YAML deployment profile.
	ProfilePath string

	// OTLPEndpoint enables OpenTelemetry export when set.
	OTLPEndpoint string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		LogLevel:           getEnv("LOG_LEVEL", "INFO"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		ReceiptArchivePath: os.Getenv("RECEIPT_ARCHIVE_PATH"),
		FeeRateBps:         getEnvInt64("FEE_RATE_BPS", 1_000),
		MinDeposit:         getEnvInt64("MIN_DEPOSIT", 1_000),
		DisputeWindow:      getEnvDuration("DISPUTE_WINDOW", 72*time.Hour),
		AbandonGrace:       getEnvDuration("ABANDON_GRACE", time.Hour),
		SweepInterval:      getEnvDuration("SWEEP_INTERVAL", time.Minute),
		Operator:           getEnv("OPERATOR_IDENTITY", "operator"),
		Arbiter:            getEnv("ARBITER_IDENTITY", "arbiter"),
		SigningSeed:        os.Getenv("SIGNING_SEED"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		ProfilePath:        os.Getenv("PROFILE_PATH"),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
