// Package config builds process configuration from the environment so main
// stays lean.
package config

import (
	"os"
	"strconv"
	"time"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr string

	// RateLimitDisabled turns off admission checks (demo/load-test mode).
	RateLimitDisabled bool

	Redis RedisConfig
}

// RedisConfig captures connection settings for the shared Redis client. An
// empty URL means Redis is not configured and the engine runs on in-process
// state.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	addr := os.Getenv("GATEKEEPER_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	return Server{
		Addr:              addr,
		RateLimitDisabled: os.Getenv("GATEKEEPER_RATELIMIT_DISABLED") == "true",
		Redis: RedisConfig{
			URL:          os.Getenv("GATEKEEPER_REDIS_URL"),
			PoolSize:     envInt("GATEKEEPER_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("GATEKEEPER_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("GATEKEEPER_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("GATEKEEPER_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("GATEKEEPER_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
	}
}

func envInt(key string, fallback int) int {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if raw := os.Getenv(key); raw != "" {
		if v, err := time.ParseDuration(raw); err == nil {
			return v
		}
	}
	return fallback
}
