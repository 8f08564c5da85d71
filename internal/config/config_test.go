package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/arbcore/internal/crypto"
)

const sampleTOML = `
mode = "trade"

[[venues]]
name = "binance"
kind = "binance"
api_key = "bk"
api_secret = "bs"
poll = true
stream = true
rate_limit_interval = "200ms"

[[venues]]
name = "coinbase-pro"
kind = "coinbase"
api_key = "ck"
poll = true

[[pairs]]
symbol = "ETH/USD"
min_trade_amount = 0.05

[arbitrage]
price_difference_threshold = 0.02

[timing]
update_interval = "500ms"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMergesOverDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Venues) != 2 || cfg.Venues[1].Name != "coinbase-pro" {
		t.Fatalf("venues = %+v", cfg.Venues)
	}
	if got := cfg.Venues[0].RateLimitInterval.Duration; got != 200*time.Millisecond {
		t.Errorf("rate_limit_interval = %s", got)
	}
	if got := cfg.Timing.UpdateInterval.Duration; got != 500*time.Millisecond {
		t.Errorf("update_interval = %s", got)
	}
	// Untouched sections keep their defaults.
	if cfg.Timing.OrderRetryLimit != Defaults().Timing.OrderRetryLimit {
		t.Errorf("order_retry_limit = %d", cfg.Timing.OrderRetryLimit)
	}
	if cfg.Arbitrage.PriceDifferenceThreshold != 0.02 {
		t.Errorf("threshold = %v", cfg.Arbitrage.PriceDifferenceThreshold)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ARBCORE_MODE", "monitor")
	t.Setenv("ARBCORE_TIMING_ORDER_RETRY_LIMIT", "7")
	t.Setenv("ARBCORE_VENUE_COINBASE_PRO_API_SECRET", "from-env")
	t.Setenv("ARBCORE_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("ARBCORE_RETRY_MAX_ATTEMPTS", "not-a-number")

	cfg, err := Load(writeConfig(t, sampleTOML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "monitor" {
		t.Errorf("mode = %q", cfg.Mode)
	}
	if cfg.Timing.OrderRetryLimit != 7 {
		t.Errorf("order_retry_limit = %d", cfg.Timing.OrderRetryLimit)
	}
	if cfg.Venues[1].APISecret != "from-env" {
		t.Errorf("coinbase secret = %q", cfg.Venues[1].APISecret)
	}
	if got := cfg.Server.CORSOrigins; len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Errorf("cors = %v", got)
	}
	if cfg.Retry.MaxAttempts != Defaults().Retry.MaxAttempts {
		t.Errorf("unparsable override should be ignored, got %d", cfg.Retry.MaxAttempts)
	}
}

func TestLoadDecryptsVenueSecret(t *testing.T) {
	blob, err := crypto.EncryptSecret("sealed-secret", "pw")
	if err != nil {
		t.Fatalf("EncryptSecret: %v", err)
	}
	dir := t.TempDir()
	secretPath := filepath.Join(dir, "coinbase.secret")
	if err := os.WriteFile(secretPath, blob, 0o600); err != nil {
		t.Fatal(err)
	}
	body := strings.Replace(sampleTOML, `api_key = "ck"`,
		`api_key = "ck"
encrypted_secret_path = "`+filepath.ToSlash(secretPath)+`"
secret_password = "pw"`, 1)

	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Venues[1].APISecret != "sealed-secret" {
		t.Errorf("secret = %q", cfg.Venues[1].APISecret)
	}
}

func TestLoadWrongSecretPassword(t *testing.T) {
	blob, err := crypto.EncryptSecret("sealed-secret", "pw")
	if err != nil {
		t.Fatal(err)
	}
	secretPath := filepath.Join(t.TempDir(), "s")
	if err := os.WriteFile(secretPath, blob, 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := Defaults()
	cfg.Venues = []VenueConfig{{Name: "x", EncryptedSecretPath: secretPath, SecretPassword: "nope"}}
	if err := ResolveSecrets(&cfg); err == nil {
		t.Fatal("expected decryption failure")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func validConfig() Config {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Venues = []VenueConfig{
		{Name: "binance", Kind: "binance", APIKey: "k", Poll: true},
		{Name: "coinbase", Kind: "coinbase", APIKey: "k", Stream: true},
	}
	cfg.Pairs = []PairConfig{{Symbol: "ETH/USD", MinTradeAmount: 0.01}}
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad mode", func(c *Config) { c.Mode = "backtest" }, "unknown mode"},
		{"one venue", func(c *Config) { c.Venues = c.Venues[:1] }, "at least two venues"},
		{"duplicate venue", func(c *Config) { c.Venues[1].Name = "binance" }, "duplicate venue"},
		{"unknown kind", func(c *Config) { c.Venues[0].Kind = "kraken" }, "unknown kind"},
		{"no ingestion", func(c *Config) { c.Venues[0].Poll = false }, "poll or stream"},
		{"trade needs key", func(c *Config) { c.Venues[0].APIKey = "" }, "api_key is required"},
		{"monitor without key", func(c *Config) { c.Mode = "monitor"; c.Venues[0].APIKey = "" }, ""},
		{"bad pair", func(c *Config) { c.Pairs[0].Symbol = "ETHUSD" }, "BASE/QUOTE"},
		{"no pairs", func(c *Config) { c.Pairs = nil }, "at least one pair"},
		{"volume bounds", func(c *Config) {
			c.Arbitrage.MinTradeVolume = 2
			c.Arbitrage.TradeVolumeLimit = 1
		}, "trade_volume_limit"},
		{"short lease", func(c *Config) { c.Timing.LeaseTTL = duration{time.Second} }, "lease_ttl"},
		{"jitter", func(c *Config) { c.Retry.Jitter = 2 }, "jitter"},
		{"encrypted without password", func(c *Config) { c.Venues[0].EncryptedSecretPath = "/x" }, "secret_password"},
		{"s3 without postgres", func(c *Config) { c.S3.Enabled = true }, "postgres.enabled"},
		{"telegram half set", func(c *Config) { c.Notify.TelegramToken = "t" }, "telegram_chat_id"},
		{"paper needs no venues", func(c *Config) { c.Mode = "paper"; c.Venues = nil }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "nope"
	cfg.LogLevel = "loud"
	cfg.Pairs = nil
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"unknown mode", "unknown log_level", "at least one pair"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Venues[0].APISecret = "secret"
	cfg.Postgres.Password = "pg"
	cfg.Server.APIKey = "api"
	cfg.Notify.Events = []string{"trade_aborted"}

	out := RedactedConfig(&cfg)
	if out.Venues[0].APISecret != redacted || out.Venues[0].APIKey != redacted {
		t.Errorf("venue not redacted: %+v", out.Venues[0])
	}
	if out.Postgres.Password != redacted || out.Server.APIKey != redacted {
		t.Error("store credentials not redacted")
	}
	if out.Redis.Password != "" {
		t.Error("empty secret should stay empty")
	}
	if cfg.Venues[0].APISecret != "secret" {
		t.Error("original config was mutated")
	}
	out.Notify.Events[0] = "changed"
	if cfg.Notify.Events[0] != "trade_aborted" {
		t.Error("slices are shared with the original")
	}
}
