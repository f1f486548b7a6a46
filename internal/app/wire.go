package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	s3blob "github.com/alanyoungcy/fantasymarket/internal/blob/s3"
	"github.com/alanyoungcy/fantasymarket/internal/cache/memory"
	"github.com/alanyoungcy/fantasymarket/internal/cache/redis"
	"github.com/alanyoungcy/fantasymarket/internal/config"
	"github.com/alanyoungcy/fantasymarket/internal/domain"
	"github.com/alanyoungcy/fantasymarket/internal/metrics"
	"github.com/alanyoungcy/fantasymarket/internal/notify"
	"github.com/alanyoungcy/fantasymarket/internal/queue"
	"github.com/alanyoungcy/fantasymarket/internal/server/handler"
	"github.com/alanyoungcy/fantasymarket/internal/store/postgres"
)

// Dependencies bundles the infrastructure every mode builds its services
// from. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	Pool *pgxpool.Pool

	// Stores
	Leagues   domain.LeagueStore
	Picks     domain.PickStore
	Markets   domain.MarketStore
	Scores    domain.ScoreStore
	Snapshots domain.SnapshotStore
	Transfers domain.TransferStore
	Proxies   domain.ProxyStore
	Audit     domain.AuditStore

	// Caches
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Reports is nil when object storage is disabled.
	Reports  *s3blob.Reports
	Notifier *notify.Notifier

	Metrics  *metrics.Metrics
	Registry *prometheus.Registry

	// Health probes, keyed by dependency name.
	Health map[string]handler.HealthCheck
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

	deps := &Dependencies{Health: make(map[string]handler.HealthCheck)}

	deps.Registry = prometheus.NewRegistry()
	deps.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deps.Metrics = metrics.New(deps.Registry)

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
	deps.Health["postgres"] = pgClient.Ping

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	if cfg.Queue.RunMigrations {
		if err := queue.Migrate(ctx, pool, logger); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: river migrations: %w", err)
		}
	}

	deps.Pool = pool
	deps.Leagues = postgres.NewLeagueStore(pool)
	deps.Picks = postgres.NewPickStore(pool)
	deps.Markets = postgres.NewMarketStore(pool)
	deps.Scores = postgres.NewScoreStore(pool)
	deps.Snapshots = postgres.NewSnapshotStore(pool)
	deps.Transfers = postgres.NewTransferStore(pool)
	deps.Proxies = postgres.NewProxyStore(pool)
	deps.Audit = postgres.NewAuditStore(pool)

	// --- Redis, or process-local fallbacks ---
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Health["redis"] = redisClient.Ping

		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Redis.PriceTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, int64(cfg.Redis.StreamMaxLen))
	} else {
		logger.WarnContext(ctx, "wire: redis not configured, using process-local caches and locks")
		deps.PriceCache = memory.NewPriceCache(cfg.Redis.PriceTTL.Duration)
		deps.RateLimiter = memory.NewRateLimiter()
		deps.LockManager = memory.NewLockManager()
		deps.SignalBus = memory.NewSignalBus(cfg.Redis.StreamMaxLen)
	}

	// --- S3 settlement archive ---
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
		deps.Health["s3"] = s3Client.Ping
		deps.Reports = s3blob.NewReports(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client), cfg.Settlement.ArchivePath)
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
