package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYTREND_* environment variable overrides, and
// returns the final Config. An empty path skips the file and uses defaults
// plus environment only. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYTREND_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Polymarket ──
	setStr(&cfg.Polymarket.GammaHost, "POLYTREND_POLYMARKET_GAMMA_HOST")
	setInt(&cfg.Polymarket.FetchLimit, "POLYTREND_POLYMARKET_FETCH_LIMIT")
	setDuration(&cfg.Polymarket.FetchTimeout, "POLYTREND_POLYMARKET_FETCH_TIMEOUT")
	setStr(&cfg.Polymarket.UserAgent, "POLYTREND_POLYMARKET_USER_AGENT")
	setStr(&cfg.Polymarket.EndDateBefore, "POLYTREND_POLYMARKET_END_DATE_BEFORE")

	// ── Database ──
	setStr(&cfg.Database.DSN, "POLYTREND_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "DATABASE_URL") // platform convention
	setStr(&cfg.Database.Host, "POLYTREND_DATABASE_HOST")
	setInt(&cfg.Database.Port, "POLYTREND_DATABASE_PORT")
	setStr(&cfg.Database.Database, "POLYTREND_DATABASE_DATABASE")
	setStr(&cfg.Database.User, "POLYTREND_DATABASE_USER")
	setStr(&cfg.Database.Password, "POLYTREND_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "POLYTREND_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "POLYTREND_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "POLYTREND_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "POLYTREND_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "POLYTREND_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "POLYTREND_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYTREND_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYTREND_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYTREND_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYTREND_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYTREND_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.CacheTTL, "POLYTREND_REDIS_CACHE_TTL")
	setStr(&cfg.Redis.Namespace, "POLYTREND_REDIS_NAMESPACE")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "POLYTREND_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "POLYTREND_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYTREND_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYTREND_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYTREND_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYTREND_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLYTREND_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYTREND_S3_FORCE_PATH_STYLE")

	// ── Ranking ──
	setInt(&cfg.Ranking.K, "POLYTREND_RANKING_K")

	// ── Retention ──
	setDuration(&cfg.Retention.SnapshotHorizon, "POLYTREND_RETENTION_SNAPSHOT_HORIZON")
	setDuration(&cfg.Retention.StaleMarketHorizon, "POLYTREND_RETENTION_STALE_MARKET_HORIZON")
	setDuration(&cfg.Retention.EventHorizon, "POLYTREND_RETENTION_EVENT_HORIZON")
	setBool(&cfg.Retention.ArchiveBeforeSweep, "POLYTREND_RETENTION_ARCHIVE_BEFORE_SWEEP")

	// ── Scheduler ──
	setBool(&cfg.Scheduler.Enabled, "POLYTREND_SCHEDULER_ENABLED")
	setStr(&cfg.Scheduler.Cron, "POLYTREND_SCHEDULER_CRON")
	setDuration(&cfg.Scheduler.RunTimeout, "POLYTREND_SCHEDULER_RUN_TIMEOUT")
	setDuration(&cfg.Scheduler.LockTTL, "POLYTREND_SCHEDULER_LOCK_TTL")
	setBool(&cfg.Scheduler.RunOnStart, "POLYTREND_SCHEDULER_RUN_ON_START")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "POLYTREND_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "POLYTREND_SERVER_PORT")
	setInt(&cfg.Server.Port, "PORT") // platform convention
	setStringSlice(&cfg.Server.CORSOrigins, "POLYTREND_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.TriggerSecret, "POLYTREND_SERVER_TRIGGER_SECRET")
	setStr(&cfg.Server.TriggerSecret, "CRON_SECRET") // compatibility alias
	setInt(&cfg.Server.TriggerRateLimit, "POLYTREND_SERVER_TRIGGER_RATE_LIMIT")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "POLYTREND_METRICS_ENABLED")
	setStr(&cfg.Metrics.Path, "POLYTREND_METRICS_PATH")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLYTREND_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYTREND_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYTREND_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYTREND_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "POLYTREND_MODE")
	setStr(&cfg.LogLevel, "POLYTREND_LOG_LEVEL")
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
