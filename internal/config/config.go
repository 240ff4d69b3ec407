// Package config loads the dispatch service's environment-driven
// configuration, following the reference cmd/server's envOrDefault /
// parseDuration style rather than a struct-tag config library.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds every environment-tunable value named in SPEC_FULL.md §6.
type Config struct {
	GridN int
	GridM int

	MaxSearchRadius  int
	ProposalTimeout  time.Duration
	DriverLockTTL    time.Duration
	HeartbeatTTL     time.Duration

	BaseFare     decimal.Decimal
	PricePerCell decimal.Decimal
	MinFare      decimal.Decimal
	TimePerCell  time.Duration

	RedisURL    string
	DatabaseURL string
	HTTPAddr    string

	AuthMode string
	AuthTTL  time.Duration
}

// Load reads the process environment, applying the spec's defaults
// wherever a variable is unset or malformed.
func Load() Config {
	return Config{
		GridN: envInt("GRID_N", 100),
		GridM: envInt("GRID_M", 100),

		MaxSearchRadius: envInt("MAX_SEARCH_RADIUS", 20),
		ProposalTimeout: envDuration("PROPOSAL_TIMEOUT", 25*time.Second),
		DriverLockTTL:   envDuration("DRIVER_LOCK_TTL", 30*time.Second),
		HeartbeatTTL:    envDuration("HEARTBEAT_TTL", 30*time.Second),

		BaseFare:     envDecimal("BASE_FARE", decimal.NewFromInt(2)),
		PricePerCell: envDecimal("PRICE_PER_CELL", decimal.NewFromFloat(0.5)),
		MinFare:      envDecimal("MIN_FARE", decimal.NewFromInt(3)),
		TimePerCell:  envDuration("TIME_PER_CELL", 20*time.Second),

		RedisURL:    envOrDefault("REDIS_URL", "redis://redis:6379"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		HTTPAddr:    envOrDefault("HTTP_ADDR", ":8080"),

		AuthMode: envOrDefault("AUTH_MODE", "memory"),
		AuthTTL:  envDuration("AUTH_TTL", 720*time.Hour),
	}
}

func envOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}

func envDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	d, err := decimal.NewFromString(val)
	if err != nil {
		return fallback
	}
	return d
}
