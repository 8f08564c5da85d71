// Package config defines the top-level configuration for arbcore and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ARBCORE_* environment variables.
type Config struct {
	Venues    []VenueConfig   `toml:"venues"`
	Pairs     []PairConfig    `toml:"pairs"`
	Arbitrage ArbitrageConfig `toml:"arbitrage"`
	Timing    TimingConfig    `toml:"timing"`
	Retry     RetryConfig     `toml:"retry"`
	Stream    StreamConfig    `toml:"stream"`
	Paper     PaperConfig     `toml:"paper"`
	Events    EventsConfig    `toml:"events"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// VenueConfig describes one exchange connection. The secret may be given
// inline, through the environment, or as an encrypted file written by
// arbkey.
type VenueConfig struct {
	Name                string   `toml:"name"`
	Kind                string   `toml:"kind"`
	BaseURL             string   `toml:"base_url"`
	WSURL               string   `toml:"ws_url"`
	APIKey              string   `toml:"api_key"`
	APISecret           string   `toml:"api_secret"`
	Passphrase          string   `toml:"passphrase"`
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password"`
	Poll                bool     `toml:"poll"`
	Stream              bool     `toml:"stream"`
	RateLimitInterval   duration `toml:"rate_limit_interval"`
	Timeout             duration `toml:"timeout"`
}

// PairConfig is one monitored pair and the amount traded on it.
type PairConfig struct {
	Symbol         string  `toml:"symbol"`
	MinTradeAmount float64 `toml:"min_trade_amount"`
	// StartPrice seeds the paper venues' random walk.
	StartPrice float64 `toml:"start_price"`
}

// ArbitrageConfig holds the detection thresholds.
type ArbitrageConfig struct {
	PriceDifferenceThreshold float64  `toml:"price_difference_threshold"`
	TradeVolumeLimit         float64  `toml:"trade_volume_limit"`
	MinTradeVolume           float64  `toml:"min_trade_volume"`
	Execute                  bool     `toml:"execute"`
	DedupTTL                 duration `toml:"dedup_ttl"`
}

// TimingConfig holds the core cadences.
type TimingConfig struct {
	UpdateInterval    duration `toml:"update_interval"`
	PollInterval      duration `toml:"poll_interval"`
	StalenessWindow   duration `toml:"staleness_window"`
	OrderPollInterval duration `toml:"order_poll_interval"`
	OrderRetryLimit   int      `toml:"order_retry_limit"`
	LeaseTTL          duration `toml:"lease_ttl"`
}

// RetryConfig holds the outbound call policy.
type RetryConfig struct {
	MaxAttempts       int      `toml:"max_attempts"`
	BaseDelay         duration `toml:"base_delay"`
	MaxDelay          duration `toml:"max_delay"`
	Jitter            float64  `toml:"jitter"`
	RateLimitInterval duration `toml:"rate_limit_interval"`
	// Shared spaces calls across processes through Redis when it is enabled.
	Shared bool `toml:"shared"`
}

// StreamConfig holds the price stream reconnect discipline.
type StreamConfig struct {
	ReconnectBaseDelay duration `toml:"reconnect_base_delay"`
	ReconnectMaxDelay  duration `toml:"reconnect_max_delay"`
	EscalateAfter      int      `toml:"escalate_after"`
}

// PaperConfig tunes the simulated venues used in paper mode.
type PaperConfig struct {
	Venues         []string `toml:"venues"`
	Volatility     float64  `toml:"volatility"`
	FillAfterPolls int      `toml:"fill_after_polls"`
	TickInterval   duration `toml:"tick_interval"`
	Seed           uint64   `toml:"seed"`
}

// EventsConfig tunes event delivery.
type EventsConfig struct {
	QueueSize        int      `toml:"queue_size"`
	CriticalRetry    duration `toml:"critical_retry"`
	CriticalRetryMax duration `toml:"critical_retry_max"`
	DrainTimeout     duration `toml:"drain_timeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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

	ConnectTimeout   duration `toml:"connect_timeout"`
	StatementTimeout duration `toml:"statement_timeout"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	PriceTTL   duration `toml:"price_ttl"`
}

// S3Config holds S3-compatible object storage parameters and the archive
// schedule.
type S3Config struct {
	Enabled         bool     `toml:"enabled"`
	Endpoint        string   `toml:"endpoint"`
	Region          string   `toml:"region"`
	Bucket          string   `toml:"bucket"`
	AccessKey       string   `toml:"access_key"`
	SecretKey       string   `toml:"secret_key"`
	UseSSL          bool     `toml:"use_ssl"`
	ForcePathStyle  bool     `toml:"force_path_style"`
	ArchiveInterval duration `toml:"archive_interval"`
	RetentionDays   int      `toml:"retention_days"`
	Prune           bool     `toml:"prune"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
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
	APIKey      string   `toml:"api_key"`
	// RateLimit is requests per RateWindow per client IP. It needs Redis.
	RateLimit     int      `toml:"rate_limit"`
	RateWindow    duration `toml:"rate_window"`
	PriceInterval duration `toml:"price_interval"`
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
		Arbitrage: ArbitrageConfig{
			PriceDifferenceThreshold: 0.005,
			TradeVolumeLimit:         1.0,
			MinTradeVolume:           0.001,
			Execute:                  true,
			DedupTTL:                 duration{30 * time.Second},
		},
		Timing: TimingConfig{
			UpdateInterval:    duration{time.Second},
			PollInterval:      duration{2 * time.Second},
			StalenessWindow:   duration{10 * time.Second},
			OrderPollInterval: duration{time.Second},
			OrderRetryLimit:   30,
			LeaseTTL:          duration{5 * time.Minute},
		},
		Retry: RetryConfig{
			MaxAttempts:       5,
			BaseDelay:         duration{500 * time.Millisecond},
			MaxDelay:          duration{30 * time.Second},
			Jitter:            0.1,
			RateLimitInterval: duration{time.Second},
		},
		Stream: StreamConfig{
			ReconnectBaseDelay: duration{time.Second},
			ReconnectMaxDelay:  duration{time.Minute},
			EscalateAfter:      5,
		},
		Paper: PaperConfig{
			Venues:         []string{"paper-a", "paper-b"},
			Volatility:     0.002,
			FillAfterPolls: 2,
			TickInterval:   duration{time.Second},
			Seed:           1,
		},
		Events: EventsConfig{
			QueueSize:        1024,
			CriticalRetry:    duration{time.Second},
			CriticalRetryMax: duration{time.Minute},
			DrainTimeout:     duration{5 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "arbcore",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  4,
			PoolMinConns:  1,
			RunMigrations: true,

			ConnectTimeout:   duration{5 * time.Second},
			StatementTimeout: duration{10 * time.Second},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			PriceTTL:   duration{time.Minute},
		},
		S3: S3Config{
			Endpoint:        "http://localhost:9000",
			Region:          "us-east-1",
			Bucket:          "arbcore-archive",
			ForcePathStyle:  true,
			ArchiveInterval: duration{24 * time.Hour},
			RetentionDays:   30,
		},
		Server: ServerConfig{
			Enabled:       true,
			Port:          8000,
			CORSOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:     120,
			RateWindow:    duration{time.Minute},
			PriceInterval: duration{time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"trade_completed", "trade_aborted", "compensation_failed", "stream_escalated"},
		},
		Mode:     "monitor",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
	"paper":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validKinds = map[string]bool{
	"binance":  true,
	"coinbase": true,
	"paper":    true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor, paper)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Venues: paper mode builds its own.
	if mode == "paper" {
		if len(c.Paper.Venues) < 2 {
			errs = append(errs, "paper: at least two venues are required")
		}
		if c.Paper.FillAfterPolls < 0 {
			errs = append(errs, "paper: fill_after_polls must be >= 0")
		}
	} else if validModes[mode] {
		if len(c.Venues) < 2 {
			errs = append(errs, "venues: at least two venues are required")
		}
	}
	seen := make(map[string]bool, len(c.Venues))
	for i, v := range c.Venues {
		label := fmt.Sprintf("venues[%d]", i)
		if v.Name == "" {
			errs = append(errs, label+": name must not be empty")
		} else if seen[v.Name] {
			errs = append(errs, fmt.Sprintf("%s: duplicate venue name %q", label, v.Name))
		}
		seen[v.Name] = true
		if !validKinds[strings.ToLower(v.Kind)] {
			errs = append(errs, fmt.Sprintf("%s: unknown kind %q (valid: binance, coinbase, paper)", label, v.Kind))
		}
		if !v.Poll && !v.Stream {
			errs = append(errs, label+": at least one of poll or stream must be true")
		}
		if v.EncryptedSecretPath != "" && v.SecretPassword == "" {
			errs = append(errs, label+": secret_password is required when encrypted_secret_path is set")
		}
		if mode == "trade" && strings.ToLower(v.Kind) != "paper" && v.APIKey == "" {
			errs = append(errs, label+": api_key is required for trade mode")
		}
	}

	// Pairs
	if len(c.Pairs) == 0 {
		errs = append(errs, "pairs: at least one pair is required")
	}
	for i, p := range c.Pairs {
		if !strings.Contains(p.Symbol, "/") {
			errs = append(errs, fmt.Sprintf("pairs[%d]: symbol %q must look like BASE/QUOTE", i, p.Symbol))
		}
		if p.MinTradeAmount < 0 {
			errs = append(errs, fmt.Sprintf("pairs[%d]: min_trade_amount must be >= 0", i))
		}
	}

	// Arbitrage
	if c.Arbitrage.PriceDifferenceThreshold < 0 {
		errs = append(errs, "arbitrage: price_difference_threshold must be >= 0")
	}
	if c.Arbitrage.MinTradeVolume < 0 {
		errs = append(errs, "arbitrage: min_trade_volume must be >= 0")
	}
	if c.Arbitrage.TradeVolumeLimit > 0 && c.Arbitrage.TradeVolumeLimit < c.Arbitrage.MinTradeVolume {
		errs = append(errs, "arbitrage: trade_volume_limit must not be below min_trade_volume")
	}

	// Timing
	if c.Timing.UpdateInterval.Duration <= 0 {
		errs = append(errs, "timing: update_interval must be > 0")
	}
	if c.Timing.PollInterval.Duration <= 0 {
		errs = append(errs, "timing: poll_interval must be > 0")
	}
	if c.Timing.StalenessWindow.Duration <= 0 {
		errs = append(errs, "timing: staleness_window must be > 0")
	}
	if c.Timing.OrderPollInterval.Duration <= 0 {
		errs = append(errs, "timing: order_poll_interval must be > 0")
	}
	if c.Timing.OrderRetryLimit < 1 {
		errs = append(errs, "timing: order_retry_limit must be >= 1")
	}
	// A lease must outlive both legs' tracking budgets.
	legBudget := 2 * time.Duration(c.Timing.OrderRetryLimit) * c.Timing.OrderPollInterval.Duration
	if c.Timing.LeaseTTL.Duration <= legBudget {
		errs = append(errs, fmt.Sprintf("timing: lease_ttl %s must exceed 2 x order_retry_limit x order_poll_interval (%s)",
			c.Timing.LeaseTTL.Duration, legBudget))
	}

	// Retry
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, "retry: max_attempts must be >= 1")
	}
	if c.Retry.BaseDelay.Duration <= 0 {
		errs = append(errs, "retry: base_delay must be > 0")
	}
	if c.Retry.MaxDelay.Duration < c.Retry.BaseDelay.Duration {
		errs = append(errs, "retry: max_delay must be >= base_delay")
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		errs = append(errs, "retry: jitter must be within [0, 1]")
	}

	// Stream
	if c.Stream.ReconnectBaseDelay.Duration <= 0 {
		errs = append(errs, "stream: reconnect_base_delay must be > 0")
	}
	if c.Stream.ReconnectMaxDelay.Duration < c.Stream.ReconnectBaseDelay.Duration {
		errs = append(errs, "stream: reconnect_max_delay must be >= reconnect_base_delay")
	}
	if c.Stream.EscalateAfter < 1 {
		errs = append(errs, "stream: escalate_after must be >= 1")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
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
		if !c.Postgres.Enabled {
			errs = append(errs, "s3: archiving needs postgres.enabled")
		}
		if c.S3.ArchiveInterval.Duration <= 0 {
			errs = append(errs, "s3: archive_interval must be > 0")
		}
		if c.S3.RetentionDays < 1 {
			errs = append(errs, "s3: retention_days must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	// Notify: token and chat id go together.
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// PairSymbols returns the configured pair symbols in order.
func (c *Config) PairSymbols() []string {
	out := make([]string, 0, len(c.Pairs))
	for _, p := range c.Pairs {
		out = append(out, p.Symbol)
	}
	return out
}

// Retention is the archive cutoff age.
func (s S3Config) Retention() time.Duration {
	return time.Duration(s.RetentionDays) * 24 * time.Hour
}
