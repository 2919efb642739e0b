// Package config loads engine configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full engine configuration. Everything is injected from the
// environment at startup; no component reads environment variables itself.
type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`

	// FeeBps is the trading fee in basis points, applied to the stake on
	// buys and to the credits out on sells.
	FeeBps int64 `env:"FEE_BPS" envDefault:"0"`

	// EndingSoonWindow is the time-to-expiry below which a market accepts
	// purchased credits only.
	EndingSoonWindow time.Duration `env:"ENDING_SOON_WINDOW" envDefault:"24h"`

	// CacheTTL is the Redis read-through cache TTL.
	CacheTTL time.Duration `env:"CACHE_TTL" envDefault:"30s"`

	// Trade rate limiting. RateLimitFailOpen decides whether a Redis
	// outage allows (true) or rejects (false) trades.
	RateLimitPerMinute int64 `env:"RATE_LIMIT_PER_MINUTE" envDefault:"60"`
	RateLimitFailOpen  bool  `env:"RATE_LIMIT_FAIL_OPEN" envDefault:"true"`
}

// Load parses the configuration from the process environment.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.FeeBps < 0 || cfg.FeeBps >= 10000 {
		return nil, fmt.Errorf("FEE_BPS must be in [0, 10000), got %d", cfg.FeeBps)
	}
	return &cfg, nil
}
