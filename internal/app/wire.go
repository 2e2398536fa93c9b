package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/betmatch/betmatch/internal/blob/s3"
	"github.com/betmatch/betmatch/internal/cache/redis"
	"github.com/betmatch/betmatch/internal/config"
	"github.com/betmatch/betmatch/internal/domain"
	"github.com/betmatch/betmatch/internal/notify"
	"github.com/betmatch/betmatch/internal/policy"
	"github.com/betmatch/betmatch/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the application needs.
// It is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	UserStore   domain.UserStore
	MarketStore domain.MarketStore
	TxnStore    domain.TransactionStore

	// Optional Redis-backed pieces; nil when redis is disabled.
	MarketCache domain.MarketCache
	RateLimiter domain.RateLimiter

	// Optional audit archive; nil when s3 is disabled.
	Archiver *s3blob.Archiver

	// Settlement authority.
	Admins policy.Admin

	// Notifications.
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

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
	deps.UserStore = postgres.NewUserStore(pool)
	deps.MarketStore = postgres.NewMarketStore(pool)
	deps.TxnStore = postgres.NewTransactionStore(pool)

	// --- Redis (optional; cache misses and rate limiting degrade gracefully) ---
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

		deps.MarketCache = redis.NewMarketCache(redisClient, cfg.Redis.CacheTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
	}

	// --- S3 audit archive (optional) ---
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

		archiver := s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			deps.MarketStore,
			deps.TxnStore,
			logger,
		)
		archiver.Interval = cfg.Archive.Interval.Duration
		archiver.MinAge = cfg.Archive.MinAge.Duration
		archiver.Limit = cfg.Archive.Limit
		deps.Archiver = archiver
	}

	// --- Settlement authority ---
	switch strings.ToLower(cfg.Admin.Mode) {
	case "flag":
		deps.Admins = policy.NewFlagPolicy(deps.UserStore)
	default:
		deps.Admins = policy.NewAllowList(cfg.Admin.Wallets)
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
