// Package config defines the top-level configuration for the papertrade
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by PAPERTRADE_* environment
// variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Pricing  PricingConfig  `toml:"pricing"`
	Feed     FeedConfig     `toml:"feed"`
	Sources  SourcesConfig  `toml:"sources"`
	Trading  TradingConfig  `toml:"trading"`
	Metrics  MetricsConfig  `toml:"metrics"`
	LogLevel string         `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// PricingConfig holds cache tiers and staleness thresholds.
type PricingConfig struct {
	// ReferenceAssetID is the quote asset (native token mint). Its USD
	// price is never subject to staleness rejection.
	ReferenceAssetID string `toml:"reference_asset_id"`

	// Fresh is the age under which a cached tick is served as-is.
	Fresh duration `toml:"fresh"`
	// MaxAge is the age beyond which a cached tick is treated as missing.
	// Between Fresh and MaxAge the tick is served and refreshed in the
	// background.
	MaxAge duration `toml:"max_age"`
	// Staleness is the hard limit for trading; GetValidatedPrice rejects
	// older non-synthetic ticks.
	Staleness duration `toml:"staleness"`

	// LRUCapacity bounds the in-process tick cache.
	LRUCapacity int `toml:"lru_capacity"`
	// SharedTTL is the TTL on shared-cache tick keys (typically 5-60s).
	SharedTTL duration `toml:"shared_ttl"`
	// Channel is the pub/sub channel carrying accepted ticks.
	Channel string `toml:"channel"`

	// FetchTimeout bounds each upstream provider attempt.
	FetchTimeout duration `toml:"fetch_timeout"`
	// BatchSize bounds parallel upstream fetches in GetMany.
	BatchSize int `toml:"batch_size"`
}

// FeedConfig holds the real-time swap event feed parameters.
type FeedConfig struct {
	Enabled bool   `toml:"enabled"`
	WsURL   string `toml:"ws_url"`
	// Programs are the venue program ids subscribed on connect.
	Programs   []string `toml:"programs"`
	Commitment string   `toml:"commitment"`

	PingInterval duration `toml:"ping_interval"`
	// MaxReconnects caps reconnection attempts; 0 means retry forever.
	MaxReconnects int `toml:"max_reconnects"`
}

// SourcesConfig holds upstream price provider parameters.
type SourcesConfig struct {
	JupiterHost     string `toml:"jupiter_host"`
	DexScreenerHost string `toml:"dexscreener_host"`

	// Breaker settings shared by all providers.
	BreakerThreshold int      `toml:"breaker_threshold"`
	BreakerWindow    duration `toml:"breaker_window"`
	BreakerCooldown  duration `toml:"breaker_cooldown"`

	// Curve fallback: initial virtual reserves of a freshly launched
	// bonding-curve pool, used to estimate a price when every live source
	// is down.
	CurveVirtualSol    float64 `toml:"curve_virtual_sol"`
	CurveVirtualTokens float64 `toml:"curve_virtual_tokens"`
}

// TradingConfig holds trade execution parameters.
type TradingConfig struct {
	Mode string `toml:"mode"` // "paper" or "live"

	LockTTL    duration `toml:"lock_ttl"`
	LockBudget duration `toml:"lock_budget"`

	// SellEpsilon is the rounding tolerance above the available quantity
	// within which a sell is clamped instead of rejected.
	SellEpsilon float64 `toml:"sell_epsilon"`
}

// MetricsConfig holds the Prometheus exposition endpoint parameters.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config with all tunables set to their documented
// defaults. Connection parameters are left empty on purpose.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Port:          5432,
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Pricing: PricingConfig{
			ReferenceAssetID: "So11111111111111111111111111111111111111112",
			Fresh:            duration{10 * time.Second},
			MaxAge:           duration{60 * time.Second},
			Staleness:        duration{5 * time.Minute},
			LRUCapacity:      4096,
			SharedTTL:        duration{30 * time.Second},
			Channel:          "prices",
			FetchTimeout:     duration{6 * time.Second},
			BatchSize:        8,
		},
		Feed: FeedConfig{
			Enabled:      true,
			Commitment:   "confirmed",
			PingInterval: duration{25 * time.Second},
		},
		Sources: SourcesConfig{
			JupiterHost:        "https://lite-api.jup.ag",
			DexScreenerHost:    "https://api.dexscreener.com",
			BreakerThreshold:   5,
			BreakerWindow:      duration{60 * time.Second},
			BreakerCooldown:    duration{60 * time.Second},
			CurveVirtualSol:    30,
			CurveVirtualTokens: 1_073_000_000,
		},
		Trading: TradingConfig{
			Mode:        "paper",
			LockTTL:     duration{15 * time.Second},
			LockBudget:  duration{5 * time.Second},
			SellEpsilon: 0.0001,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		LogLevel: "info",
	}
}

// Validate checks Config for obviously invalid or missing values and returns
// a descriptive error listing every problem found.
func (c *Config) Validate() error {
	var problems []string

	if c.Postgres.DSN == "" && (c.Postgres.Host == "" || c.Postgres.Database == "" || c.Postgres.User == "") {
		problems = append(problems, "postgres: dsn or host/database/user required")
	}
	if c.Redis.Addr == "" {
		problems = append(problems, "redis: addr required")
	}
	if c.Pricing.ReferenceAssetID == "" {
		problems = append(problems, "pricing: reference_asset_id required")
	}
	if c.Pricing.Fresh.Duration <= 0 || c.Pricing.MaxAge.Duration <= c.Pricing.Fresh.Duration {
		problems = append(problems, "pricing: need 0 < fresh < max_age")
	}
	if c.Pricing.Staleness.Duration < c.Pricing.MaxAge.Duration {
		problems = append(problems, "pricing: staleness must be >= max_age")
	}
	if c.Pricing.LRUCapacity <= 0 {
		problems = append(problems, "pricing: lru_capacity must be positive")
	}
	if c.Pricing.BatchSize <= 0 {
		problems = append(problems, "pricing: batch_size must be positive")
	}
	if c.Feed.Enabled && c.Feed.WsURL == "" {
		problems = append(problems, "feed: ws_url required when enabled")
	}
	if c.Sources.BreakerThreshold <= 0 {
		problems = append(problems, "sources: breaker_threshold must be positive")
	}
	if mode := c.Trading.Mode; mode != "paper" && mode != "live" {
		problems = append(problems, fmt.Sprintf("trading: unknown mode %q", mode))
	}
	if c.Trading.LockTTL.Duration <= 0 || c.Trading.LockBudget.Duration <= 0 {
		problems = append(problems, "trading: lock_ttl and lock_budget must be positive")
	}
	if c.Trading.SellEpsilon < 0 {
		problems = append(problems, "trading: sell_epsilon must be non-negative")
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		problems = append(problems, "metrics: invalid port")
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}
