package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/polytrend/internal/blob/s3"
	"github.com/alanyoungcy/polytrend/internal/cache/redis"
	"github.com/alanyoungcy/polytrend/internal/config"
	"github.com/alanyoungcy/polytrend/internal/domain"
	"github.com/alanyoungcy/polytrend/internal/notify"
	"github.com/alanyoungcy/polytrend/internal/observability"
	"github.com/alanyoungcy/polytrend/internal/platform/polymarket"
	"github.com/alanyoungcy/polytrend/internal/server/handler"
	"github.com/alanyoungcy/polytrend/internal/store/memory"
	"github.com/alanyoungcy/polytrend/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	MarketStore   domain.MarketStore
	SnapshotStore domain.SnapshotStore
	EventStore    domain.EventStore
	AuditStore    domain.AuditStore

	// Coordination. TopKCache and RateLimiter are nil without Redis.
	TopKCache   domain.TopKCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// BlobReader is nil unless S3 is enabled; Archiver additionally needs
	// retention.archive_before_sweep.
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	Gamma    *polymarket.GammaClient
	Notifier *notify.Notifier
	// Metrics is nil when metrics are disabled.
	Metrics *observability.Metrics

	// HealthChecks probe each external backend.
	HealthChecks map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		HealthChecks: map[string]handler.Check{},
	}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	snapshots := postgres.NewSnapshotStore(pool)
	events := postgres.NewEventStore(pool)
	deps.MarketStore = postgres.NewMarketStore(pool)
	deps.SnapshotStore = snapshots
	deps.EventStore = events
	deps.AuditStore = postgres.NewAuditStore(pool)
	deps.HealthChecks["postgres"] = pgClient.Ping

	// --- Redis (optional) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Namespace:  cfg.Redis.Namespace,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.TopKCache = redis.NewTopKCache(redisClient, cfg.Redis.CacheTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.HealthChecks["redis"] = redisClient.Ping
	} else {
		logger.WarnContext(ctx, "redis disabled: using in-process lock and signal bus, top-k cache off")
		deps.LockManager = memory.NewLockManager()
		deps.SignalBus = memory.NewSignalBus()
	}

	// --- S3 archive (optional) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.HealthChecks["s3"] = s3Client.Health
		reader := s3blob.NewReader(s3Client)
		deps.BlobReader = reader

		if cfg.Retention.ArchiveBeforeSweep {
			deps.Archiver = s3blob.NewArchiver(
				s3blob.NewWriter(s3Client),
				reader,
				snapshots,
				events,
				deps.AuditStore,
			)
		}
	}

	// --- Upstream feed ---
	deps.Gamma = polymarket.NewGammaClient(polymarket.GammaConfig{
		BaseURL:       cfg.Polymarket.GammaHost,
		UserAgent:     cfg.Polymarket.UserAgent,
		Limit:         cfg.Polymarket.FetchLimit,
		Timeout:       cfg.Polymarket.FetchTimeout.Duration,
		EndDateBefore: cfg.Polymarket.EndDateBefore,
	})

	// --- Metrics ---
	if cfg.Metrics.Enabled {
		deps.Metrics = observability.NewMetrics()
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
