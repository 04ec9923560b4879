// Package config loads application configuration from environment variables.
package config

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Prefix is prepended to every environment variable name.
const Prefix = "AUTHENTICATOR_"

// Secret storage backends.
const (
	BackendKeyring = "keyring"
	BackendSQLite  = "sqlite"
)

// secretKeySize is the AES-256 key length the sqlite backend requires.
const secretKeySize = 32

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr     string        `env:"LISTEN_ADDR" envDefault:"127.0.0.1:8080"`
	DBPath         string        `env:"DB_PATH" envDefault:"authenticator.db"`
	AppID          string        `env:"APP_ID" envDefault:"com.belmoussaoui.Authenticator"`
	SecretBackend  string        `env:"SECRET_BACKEND" envDefault:"keyring"`
	SecretKeyRaw   string        `env:"SECRET_KEY"`
	ProvidersFile  string        `env:"PROVIDERS_FILE"`
	KeyringTimeout time.Duration `env:"KEYRING_TIMEOUT" envDefault:"5s"`
	RetryMax       time.Duration `env:"RETRY_MAX" envDefault:"5m"`
	LogLevel       slog.Level    `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat      string        `env:"LOG_FORMAT" envDefault:"json"`

	// SecretKey is the decoded SECRET_KEY, nil when unset.
	SecretKey []byte `env:"-"`
}

// Load reads an optional .env file, then environment variables, and returns
// a validated Config. Variables already set in the environment win over the
// .env file.
func Load(dotenvFiles ...string) (*Config, error) {
	if err := godotenv.Load(dotenvFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: Prefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	c.SecretBackend = strings.ToLower(strings.TrimSpace(c.SecretBackend))
	switch c.SecretBackend {
	case BackendKeyring, BackendSQLite:
	default:
		return fmt.Errorf("%sSECRET_BACKEND must be %q or %q, got %q", Prefix, BackendKeyring, BackendSQLite, c.SecretBackend)
	}

	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("%sLOG_FORMAT must be json or text, got %q", Prefix, c.LogFormat)
	}

	if c.KeyringTimeout <= 0 {
		return fmt.Errorf("%sKEYRING_TIMEOUT must be positive, got %s", Prefix, c.KeyringTimeout)
	}
	if c.RetryMax <= 0 {
		return fmt.Errorf("%sRETRY_MAX must be positive, got %s", Prefix, c.RetryMax)
	}

	if c.SecretKeyRaw != "" {
		key, err := decodeKey(c.SecretKeyRaw)
		if err != nil {
			return fmt.Errorf("%sSECRET_KEY: %w", Prefix, err)
		}
		c.SecretKey = key
	}
	c.SecretKeyRaw = ""

	return nil
}

// decodeKey accepts a 32-byte key as 64 hex characters or standard base64.
func decodeKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)

	if key, err := hex.DecodeString(raw); err == nil {
		if len(key) != secretKeySize {
			return nil, fmt.Errorf("must decode to %d bytes, got %d", secretKeySize, len(key))
		}
		return key, nil
	}

	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, errors.New("must be hex or base64 encoded")
	}
	if len(key) != secretKeySize {
		return nil, fmt.Errorf("must decode to %d bytes, got %d", secretKeySize, len(key))
	}
	return key, nil
}

// UsesKeyring reports whether secrets are kept in the OS keyring.
func (c *Config) UsesKeyring() bool {
	return c.SecretBackend == BackendKeyring
}
