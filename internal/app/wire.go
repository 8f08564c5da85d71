package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/arbcore/internal/blob/s3"
	"github.com/alanyoungcy/arbcore/internal/cache/redis"
	"github.com/alanyoungcy/arbcore/internal/config"
	"github.com/alanyoungcy/arbcore/internal/domain"
	"github.com/alanyoungcy/arbcore/internal/notify"
	"github.com/alanyoungcy/arbcore/internal/server/handler"
	"github.com/alanyoungcy/arbcore/internal/store/postgres"
)

// Dependencies bundles the optional infrastructure the modes build on. Every
// field is nil when its backend is disabled; the core then falls back to
// in-process equivalents.
type Dependencies struct {
	// Stores
	TradeStore       domain.TradeStore
	OpportunityStore domain.OpportunityStore
	AuditStore       domain.AuditStore

	// Caches
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	Archiver *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier

	// Checks feed the health endpoint, keyed by backend name.
	Checks map[string]handler.Check
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

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- PostgreSQL ---
	var (
		tradeStore *postgres.TradeStore
		oppStore   *postgres.OpportunityStore
	)
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,

			ConnectTimeout:   cfg.Postgres.ConnectTimeout.Duration,
			StatementTimeout: cfg.Postgres.StatementTimeout.Duration,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			applied, err := pgClient.RunMigrations(ctx)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
			if len(applied) > 0 {
				logger.InfoContext(ctx, "postgres migrations applied", slog.Any("files", applied))
			}
		}

		pool := pgClient.Pool()
		tradeStore = postgres.NewTradeStore(pool)
		oppStore = postgres.NewOpportunityStore(pool)
		auditStore := postgres.NewAuditStore(pool)
		deps.TradeStore = tradeStore
		deps.OpportunityStore = oppStore
		deps.AuditStore = auditStore
		deps.Checks["postgres"] = pool.Ping
		logger.InfoContext(ctx, "postgres connected", slog.String("database", cfg.Postgres.Database))
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Redis.PriceTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Checks["redis"] = redisClient.Ping
		logger.InfoContext(ctx, "redis connected", slog.String("addr", cfg.Redis.Addr))
	}

	// --- S3 archive (needs the Postgres history it copies) ---
	if cfg.S3.Enabled && tradeStore != nil {
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

		deps.Archiver = s3blob.NewArchiver(
			s3blob.ArchiverConfig{
				Interval:  cfg.S3.ArchiveInterval.Duration,
				Retention: cfg.S3.Retention(),
				Prune:     cfg.S3.Prune,
			},
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			tradeStore,
			oppStore,
			deps.AuditStore,
			logger,
		)
		deps.Checks["s3"] = s3Client.Health
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
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	return deps, cleanup, nil
}

// checkTimeout bounds a single startup probe.
const checkTimeout = 5 * time.Second

// probe runs every health check once and logs failures. A failing backend
// at startup is reported, not fatal; the health endpoint keeps reporting it.
func probe(ctx context.Context, checks map[string]handler.Check, logger *slog.Logger) {
	for name, check := range checks {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := check(cctx)
		cancel()
		if err != nil {
			logger.WarnContext(ctx, "dependency check failed",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
		}
	}
}
