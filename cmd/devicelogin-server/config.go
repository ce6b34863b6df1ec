package main

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds server configuration loaded from environment variables
type Config struct {
	Port              int           `envconfig:"PORT" default:"8080"`
	BaseURL           string        `envconfig:"BASE_URL" required:"true"`
	StoreDriver       string        `envconfig:"STORE_DRIVER" default:"redis"`
	RedisURL          string        `envconfig:"REDIS_URL"`
	SQLitePath        string        `envconfig:"SQLITE_PATH" default:"devicelogin.db"`
	CodeExpiry        time.Duration `envconfig:"CODE_EXPIRY" default:"15m"`
	PollInterval      time.Duration `envconfig:"POLL_INTERVAL" default:"5s"`
	SweepInterval     time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m"`
	MaxVerifyAttempts int           `envconfig:"MAX_VERIFY_ATTEMPTS" default:"50"`
	AllowedClients    []string      `envconfig:"ALLOWED_CLIENTS"`
	TokenSecret       string        `envconfig:"TOKEN_SECRET" required:"true"`
	TokenTTL          time.Duration `envconfig:"TOKEN_TTL" default:"1h"`
	Issuer            string        `envconfig:"ISSUER" default:"devicelogin"`
	CSRFSecret        string        `envconfig:"CSRF_SECRET" required:"true"`
	CSRFTokenExpiry   time.Duration `envconfig:"CSRF_TOKEN_EXPIRY" default:"15m"`
	DevLogin          bool          `envconfig:"DEV_LOGIN" default:"false"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"info"`

	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"5s"`
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
}

// minSecretLen is the shortest HMAC secret accepted for tokens and CSRF
const minSecretLen = 32

func (c *Config) validate() error {
	c.StoreDriver = strings.ToLower(c.StoreDriver)
	switch c.StoreDriver {
	case "redis":
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required with STORE_DRIVER=redis")
		}
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q (want redis, sqlite or memory)", c.StoreDriver)
	}

	for name, d := range map[string]time.Duration{
		"CODE_EXPIRY":       c.CodeExpiry,
		"POLL_INTERVAL":     c.PollInterval,
		"SWEEP_INTERVAL":    c.SweepInterval,
		"TOKEN_TTL":         c.TokenTTL,
		"CSRF_TOKEN_EXPIRY": c.CSRFTokenExpiry,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, d)
		}
	}
	if c.MaxVerifyAttempts < 1 {
		return fmt.Errorf("MAX_VERIFY_ATTEMPTS must be at least 1, got %d", c.MaxVerifyAttempts)
	}

	if len(c.TokenSecret) < minSecretLen {
		return fmt.Errorf("TOKEN_SECRET must be at least %d bytes", minSecretLen)
	}
	if len(c.CSRFSecret) < minSecretLen {
		return fmt.Errorf("CSRF_SECRET must be at least %d bytes", minSecretLen)
	}
	if c.TokenSecret == c.CSRFSecret {
		return errors.New("TOKEN_SECRET and CSRF_SECRET must differ")
	}
	return nil
}
