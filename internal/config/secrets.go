package config

import (
	"fmt"

	"github.com/alanyoungcy/arbcore/internal/crypto"
)

// ResolveSecrets decrypts every venue secret that is configured as an
// encrypted file and stores the plaintext in APISecret. An inline secret
// takes precedence over the file.
func ResolveSecrets(cfg *Config) error {
	for i := range cfg.Venues {
		v := &cfg.Venues[i]
		if v.APISecret != "" || v.EncryptedSecretPath == "" {
			continue
		}
		secret, err := crypto.LoadSecret(crypto.SecretSource{
			EncryptedPath: v.EncryptedSecretPath,
			Password:      v.SecretPassword,
		})
		if err != nil {
			return fmt.Errorf("config: venue %s secret: %w", v.Name, err)
		}
		v.APISecret = secret
	}
	return nil
}

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Venues
	if cfg.Venues != nil {
		out.Venues = make([]VenueConfig, len(cfg.Venues))
		copy(out.Venues, cfg.Venues)
		for i := range out.Venues {
			redact(&out.Venues[i].APIKey)
			redact(&out.Venues[i].APISecret)
			redact(&out.Venues[i].Passphrase)
			redact(&out.Venues[i].SecretPassword)
		}
	}

	// Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// Redis
	redact(&out.Redis.Password)

	// S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Server
	redact(&out.Server.APIKey)

	// Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Pairs != nil {
		out.Pairs = make([]PairConfig, len(cfg.Pairs))
		copy(out.Pairs, cfg.Pairs)
	}
	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = make([]string, len(cfg.Server.CORSOrigins))
		copy(out.Server.CORSOrigins, cfg.Server.CORSOrigins)
	}
	if cfg.Paper.Venues != nil {
		out.Paper.Venues = make([]string, len(cfg.Paper.Venues))
		copy(out.Paper.Venues, cfg.Paper.Venues)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
