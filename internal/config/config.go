// Package config defines the top-level configuration for polytrend and
// provides validation helpers.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYTREND_* environment variables.
type Config struct {
	Polymarket PolymarketConfig `toml:"polymarket"`
	Database   DatabaseConfig   `toml:"database"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Ranking    RankingConfig    `toml:"ranking"`
	Retention  RetentionConfig  `toml:"retention"`
	Scheduler  SchedulerConfig  `toml:"scheduler"`
	Server     ServerConfig     `toml:"server"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// PolymarketConfig configures the Gamma listing feed.
type PolymarketConfig struct {
	GammaHost    string   `toml:"gamma_host"`
	FetchLimit   int      `toml:"fetch_limit"`
	FetchTimeout duration `toml:"fetch_timeout"`
	UserAgent    string   `toml:"user_agent"`
	// EndDateBefore optionally restricts listings to markets ending before
	// this date (YYYY-MM-DD).
	EndDateBefore string `toml:"end_date_before"`
}

// DatabaseConfig holds PostgreSQL connection parameters. DSN wins over the
// individual fields when set.
type DatabaseConfig struct {
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

// RedisConfig holds Redis connection parameters. When disabled, the run lock
// and signal bus fall back to in-process implementations and the top-K
// cache is skipped.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	CacheTTL   duration `toml:"cache_ttl"`
	// Namespace prefixes every key, e.g. "polytrend:lock:run".
	Namespace  string   `toml:"namespace"`
}

// S3Config holds S3-compatible object storage parameters for the archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// RankingConfig holds the size of the tracked set.
type RankingConfig struct {
	K int `toml:"k"`
}

// RetentionConfig sets how long history is kept.
type RetentionConfig struct {
	SnapshotHorizon    duration `toml:"snapshot_horizon"`
	StaleMarketHorizon duration `toml:"stale_market_horizon"`
	EventHorizon       duration `toml:"event_horizon"`
	// ArchiveBeforeSweep uploads expiring rows to S3 first. Requires s3.enabled.
	ArchiveBeforeSweep bool `toml:"archive_before_sweep"`
}

// SchedulerConfig controls periodic runs.
type SchedulerConfig struct {
	Enabled    bool     `toml:"enabled"`
	Cron       string   `toml:"cron"`
	RunTimeout duration `toml:"run_timeout"`
	LockTTL    duration `toml:"lock_ttl"`
	RunOnStart bool     `toml:"run_on_start"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "720h").
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// TriggerSecret guards POST /api/cron/run. Empty disables the trigger.
	TriggerSecret string `toml:"trigger_secret"`
	// TriggerRateLimit is trigger calls per minute per client; 0 disables.
	TriggerRateLimit int `toml:"trigger_rate_limit"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			GammaHost:    "https://gamma-api.polymarket.com",
			FetchLimit:   200,
			FetchTimeout: duration{30 * time.Second},
			UserAgent:    "polytrend/1.0",
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "polytrend",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			CacheTTL:   duration{5 * time.Minute},
			Namespace:  "polytrend",
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "polytrend-archive",
			ForcePathStyle: true,
		},
		Ranking: RankingConfig{K: 20},
		Retention: RetentionConfig{
			SnapshotHorizon:    duration{30 * 24 * time.Hour},
			StaleMarketHorizon: duration{24 * time.Hour},
			EventHorizon:       duration{60 * 24 * time.Hour},
		},
		Scheduler: SchedulerConfig{
			Enabled:    true,
			Cron:       "0 */4 * * *",
			RunTimeout: duration{300 * time.Second},
			LockTTL:    duration{10 * time.Minute},
		},
		Server: ServerConfig{
			Enabled:          true,
			Port:             8000,
			CORSOrigins:      []string{"http://localhost:3000"},
			TriggerRateLimit: 6,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Notify: NotifyConfig{
			Events: []string{"run_failed", "trend_change"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"full":   true,
	"worker": true,
	"server": true,
	"once":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validNotifyEvents = map[string]bool{
	"run_failed":    true,
	"trend_change":  true,
	"run_completed": true,
}

// RunsPipeline reports whether the mode executes ranking runs.
func (c *Config) RunsPipeline() bool {
	m := strings.ToLower(c.Mode)
	return m == "full" || m == "worker" || m == "once"
}

// ServesHTTP reports whether the mode exposes the HTTP API.
func (c *Config) ServesHTTP() bool {
	m := strings.ToLower(c.Mode)
	return c.Server.Enabled && (m == "full" || m == "server")
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, worker, server, once)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Polymarket
	if u, err := url.Parse(c.Polymarket.GammaHost); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("polymarket: gamma_host must be an absolute URL, got %q", c.Polymarket.GammaHost))
	}
	if c.Polymarket.FetchLimit < 1 {
		errs = append(errs, "polymarket: fetch_limit must be >= 1")
	}
	if c.Polymarket.FetchTimeout.Duration <= 0 {
		errs = append(errs, "polymarket: fetch_timeout must be > 0")
	}
	if c.Polymarket.EndDateBefore != "" {
		if _, err := time.Parse("2006-01-02", c.Polymarket.EndDateBefore); err != nil {
			errs = append(errs, fmt.Sprintf("polymarket: end_date_before must be YYYY-MM-DD, got %q", c.Polymarket.EndDateBefore))
		}
	}

	// Database
	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.CacheTTL.Duration <= 0 {
			errs = append(errs, "redis: cache_ttl must be > 0")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Ranking
	if c.Ranking.K < 1 {
		errs = append(errs, fmt.Sprintf("ranking: k must be >= 1, got %d", c.Ranking.K))
	}

	// Retention
	for name, d := range map[string]duration{
		"snapshot_horizon":     c.Retention.SnapshotHorizon,
		"stale_market_horizon": c.Retention.StaleMarketHorizon,
		"event_horizon":        c.Retention.EventHorizon,
	} {
		if d.Duration <= 0 {
			errs = append(errs, fmt.Sprintf("retention: %s must be > 0", name))
		}
	}
	if c.Retention.ArchiveBeforeSweep && !c.S3.Enabled {
		errs = append(errs, "retention: archive_before_sweep requires s3.enabled")
	}

	// Scheduler
	if c.Scheduler.Enabled {
		if _, err := cron.ParseStandard(c.Scheduler.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("scheduler: invalid cron %q: %v", c.Scheduler.Cron, err))
		}
	}
	if c.Scheduler.RunTimeout.Duration <= 0 {
		errs = append(errs, "scheduler: run_timeout must be > 0")
	}
	if c.Scheduler.LockTTL.Duration < c.Scheduler.RunTimeout.Duration {
		errs = append(errs, "scheduler: lock_ttl must be at least run_timeout")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.TriggerRateLimit < 0 {
			errs = append(errs, "server: trigger_rate_limit must be >= 0")
		}
	}

	// Metrics
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Sprintf("metrics: path must start with /, got %q", c.Metrics.Path))
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}
	for _, e := range c.Notify.Events {
		if !validNotifyEvents[strings.TrimSpace(e)] {
			errs = append(errs, fmt.Sprintf("notify: unknown event %q (valid: run_failed, trend_change, run_completed)", e))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
