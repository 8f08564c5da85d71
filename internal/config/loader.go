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
// built-in defaults, applies ARBCORE_* environment variable overrides, and
// resolves encrypted venue secrets. The returned Config has NOT been
// validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	if err := ResolveSecrets(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides reads well-known ARBCORE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). Venue credentials use ARBCORE_VENUE_<NAME>_* with the venue name
// upper-cased and dashes turned into underscores.
func applyEnvOverrides(cfg *Config) {
	// ── Venues ──
	for i := range cfg.Venues {
		v := &cfg.Venues[i]
		prefix := venueEnvPrefix(v.Name)
		setStr(&v.BaseURL, prefix+"BASE_URL")
		setStr(&v.WSURL, prefix+"WS_URL")
		setStr(&v.APIKey, prefix+"API_KEY")
		setStr(&v.APISecret, prefix+"API_SECRET")
		setStr(&v.Passphrase, prefix+"PASSPHRASE")
		setStr(&v.EncryptedSecretPath, prefix+"ENCRYPTED_SECRET_PATH")
		setStr(&v.SecretPassword, prefix+"SECRET_PASSWORD")
	}

	// ── Arbitrage ──
	setFloat64(&cfg.Arbitrage.PriceDifferenceThreshold, "ARBCORE_ARBITRAGE_PRICE_DIFFERENCE_THRESHOLD")
	setFloat64(&cfg.Arbitrage.TradeVolumeLimit, "ARBCORE_ARBITRAGE_TRADE_VOLUME_LIMIT")
	setFloat64(&cfg.Arbitrage.MinTradeVolume, "ARBCORE_ARBITRAGE_MIN_TRADE_VOLUME")
	setBool(&cfg.Arbitrage.Execute, "ARBCORE_ARBITRAGE_EXECUTE")

	// ── Timing ──
	setDuration(&cfg.Timing.UpdateInterval, "ARBCORE_TIMING_UPDATE_INTERVAL")
	setDuration(&cfg.Timing.PollInterval, "ARBCORE_TIMING_POLL_INTERVAL")
	setDuration(&cfg.Timing.StalenessWindow, "ARBCORE_TIMING_STALENESS_WINDOW")
	setDuration(&cfg.Timing.OrderPollInterval, "ARBCORE_TIMING_ORDER_POLL_INTERVAL")
	setInt(&cfg.Timing.OrderRetryLimit, "ARBCORE_TIMING_ORDER_RETRY_LIMIT")
	setDuration(&cfg.Timing.LeaseTTL, "ARBCORE_TIMING_LEASE_TTL")

	// ── Retry ──
	setInt(&cfg.Retry.MaxAttempts, "ARBCORE_RETRY_MAX_ATTEMPTS")
	setDuration(&cfg.Retry.BaseDelay, "ARBCORE_RETRY_BASE_DELAY")
	setDuration(&cfg.Retry.MaxDelay, "ARBCORE_RETRY_MAX_DELAY")
	setDuration(&cfg.Retry.RateLimitInterval, "ARBCORE_RETRY_RATE_LIMIT_INTERVAL")
	setBool(&cfg.Retry.Shared, "ARBCORE_RETRY_SHARED")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "ARBCORE_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "ARBCORE_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "ARBCORE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARBCORE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARBCORE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARBCORE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARBCORE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARBCORE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ARBCORE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ARBCORE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ARBCORE_POSTGRES_RUN_MIGRATIONS")
	setDuration(&cfg.Postgres.ConnectTimeout, "ARBCORE_POSTGRES_CONNECT_TIMEOUT")
	setDuration(&cfg.Postgres.StatementTimeout, "ARBCORE_POSTGRES_STATEMENT_TIMEOUT")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ARBCORE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ARBCORE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBCORE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBCORE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARBCORE_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "ARBCORE_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ARBCORE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ARBCORE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARBCORE_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARBCORE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARBCORE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARBCORE_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "ARBCORE_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetentionDays, "ARBCORE_S3_RETENTION_DAYS")
	setBool(&cfg.S3.Prune, "ARBCORE_S3_PRUNE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ARBCORE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ARBCORE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ARBCORE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "ARBCORE_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "ARBCORE_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ARBCORE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARBCORE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARBCORE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ARBCORE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ARBCORE_MODE")
	setStr(&cfg.LogLevel, "ARBCORE_LOG_LEVEL")
}

func venueEnvPrefix(name string) string {
	n := strings.ToUpper(strings.NewReplacer("-", "_", " ", "_", ".", "_").Replace(name))
	return "ARBCORE_VENUE_" + n + "_"
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
