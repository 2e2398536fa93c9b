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
// built-in defaults, applies BETMATCH_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
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

// applyEnvOverrides reads well-known BETMATCH_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Database ──
	setStr(&cfg.Database.DSN, "BETMATCH_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "BETMATCH_DATABASE_HOST")
	setInt(&cfg.Database.Port, "BETMATCH_DATABASE_PORT")
	setStr(&cfg.Database.Database, "BETMATCH_DATABASE_NAME")
	setStr(&cfg.Database.User, "BETMATCH_DATABASE_USER")
	setStr(&cfg.Database.Password, "BETMATCH_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "BETMATCH_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "BETMATCH_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "BETMATCH_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "BETMATCH_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "BETMATCH_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "BETMATCH_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BETMATCH_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BETMATCH_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BETMATCH_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BETMATCH_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BETMATCH_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.CacheTTL, "BETMATCH_REDIS_CACHE_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "BETMATCH_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "BETMATCH_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BETMATCH_S3_REGION")
	setStr(&cfg.S3.Bucket, "BETMATCH_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BETMATCH_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BETMATCH_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BETMATCH_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BETMATCH_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setDuration(&cfg.Archive.Interval, "BETMATCH_ARCHIVE_INTERVAL")
	setDuration(&cfg.Archive.MinAge, "BETMATCH_ARCHIVE_MIN_AGE")
	setInt(&cfg.Archive.Limit, "BETMATCH_ARCHIVE_LIMIT")

	// ── Server ──
	setInt(&cfg.Server.Port, "BETMATCH_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BETMATCH_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "BETMATCH_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "BETMATCH_SERVER_RATE_LIMIT_WINDOW")

	// ── Engine ──
	setBool(&cfg.Engine.Custodial, "BETMATCH_ENGINE_CUSTODIAL")
	setStr(&cfg.Engine.TreasuryWallet, "BETMATCH_ENGINE_TREASURY_WALLET")

	// ── Admin ──
	setStr(&cfg.Admin.Mode, "BETMATCH_ADMIN_MODE")
	setStringSlice(&cfg.Admin.Wallets, "BETMATCH_ADMIN_WALLETS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BETMATCH_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BETMATCH_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BETMATCH_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BETMATCH_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "BETMATCH_LOG_LEVEL")
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
