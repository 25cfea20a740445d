package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PAPERTRADE_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PAPERTRADE_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PAPERTRADE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PAPERTRADE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PAPERTRADE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PAPERTRADE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PAPERTRADE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PAPERTRADE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PAPERTRADE_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PAPERTRADE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PAPERTRADE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PAPERTRADE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PAPERTRADE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PAPERTRADE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PAPERTRADE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PAPERTRADE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PAPERTRADE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PAPERTRADE_REDIS_TLS_ENABLED")

	// ── Pricing ──
	setStr(&cfg.Pricing.ReferenceAssetID, "PAPERTRADE_PRICING_REFERENCE_ASSET_ID")
	setDuration(&cfg.Pricing.Fresh, "PAPERTRADE_PRICING_FRESH")
	setDuration(&cfg.Pricing.MaxAge, "PAPERTRADE_PRICING_MAX_AGE")
	setDuration(&cfg.Pricing.Staleness, "PAPERTRADE_PRICING_STALENESS")
	setInt(&cfg.Pricing.LRUCapacity, "PAPERTRADE_PRICING_LRU_CAPACITY")
	setDuration(&cfg.Pricing.SharedTTL, "PAPERTRADE_PRICING_SHARED_TTL")
	setStr(&cfg.Pricing.Channel, "PAPERTRADE_PRICING_CHANNEL")
	setDuration(&cfg.Pricing.FetchTimeout, "PAPERTRADE_PRICING_FETCH_TIMEOUT")
	setInt(&cfg.Pricing.BatchSize, "PAPERTRADE_PRICING_BATCH_SIZE")

	// ── Feed ──
	setBool(&cfg.Feed.Enabled, "PAPERTRADE_FEED_ENABLED")
	setStr(&cfg.Feed.WsURL, "PAPERTRADE_FEED_WS_URL")
	setStringSlice(&cfg.Feed.Programs, "PAPERTRADE_FEED_PROGRAMS")
	setStr(&cfg.Feed.Commitment, "PAPERTRADE_FEED_COMMITMENT")
	setDuration(&cfg.Feed.PingInterval, "PAPERTRADE_FEED_PING_INTERVAL")
	setInt(&cfg.Feed.MaxReconnects, "PAPERTRADE_FEED_MAX_RECONNECTS")

	// ── Sources ──
	setStr(&cfg.Sources.JupiterHost, "PAPERTRADE_SOURCES_JUPITER_HOST")
	setStr(&cfg.Sources.DexScreenerHost, "PAPERTRADE_SOURCES_DEXSCREENER_HOST")
	setInt(&cfg.Sources.BreakerThreshold, "PAPERTRADE_SOURCES_BREAKER_THRESHOLD")
	setDuration(&cfg.Sources.BreakerWindow, "PAPERTRADE_SOURCES_BREAKER_WINDOW")
	setDuration(&cfg.Sources.BreakerCooldown, "PAPERTRADE_SOURCES_BREAKER_COOLDOWN")
	setFloat64(&cfg.Sources.CurveVirtualSol, "PAPERTRADE_SOURCES_CURVE_VIRTUAL_SOL")
	setFloat64(&cfg.Sources.CurveVirtualTokens, "PAPERTRADE_SOURCES_CURVE_VIRTUAL_TOKENS")

	// ── Trading ──
	setStr(&cfg.Trading.Mode, "PAPERTRADE_TRADING_MODE")
	setDuration(&cfg.Trading.LockTTL, "PAPERTRADE_TRADING_LOCK_TTL")
	setDuration(&cfg.Trading.LockBudget, "PAPERTRADE_TRADING_LOCK_BUDGET")
	setFloat64(&cfg.Trading.SellEpsilon, "PAPERTRADE_TRADING_SELL_EPSILON")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "PAPERTRADE_METRICS_ENABLED")
	setInt(&cfg.Metrics.Port, "PAPERTRADE_METRICS_PORT")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "PAPERTRADE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
