// Package config loads CLI settings from the TOML config file and the
// environment. Command line flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"

	"github.com/wrale/devicelogin/internal/tokenstore"
)

const (
	// FileName is the config file name inside the config directory
	FileName = "config.toml"

	// DefaultClientID identifies this CLI to the authorization server
	DefaultClientID = "devicelogin-cli"

	// DefaultServerURL is used when nothing else is configured
	DefaultServerURL = "http://localhost:8080"

	envPrefix = "DEVICELOGIN"
)

// Config holds CLI settings
type Config struct {
	ServerURL   string `toml:"server_url,omitempty"`
	ClientID    string `toml:"client_id,omitempty"`
	Scope       string `toml:"scope,omitempty"`
	TokenKey    string `toml:"token_key,omitempty"` // hex or base64, enables token file encryption
	TokenPath   string `toml:"token_path,omitempty"`
	OpenBrowser *bool  `toml:"open_browser,omitempty"`
}

// env mirrors Config for environment overrides: DEVICELOGIN_SERVER_URL and friends
type env struct {
	ServerURL string `envconfig:"SERVER_URL"`
	ClientID  string `envconfig:"CLIENT_ID"`
	Scope     string `envconfig:"SCOPE"`
	TokenKey  string `envconfig:"TOKEN_KEY"`
	TokenPath string `envconfig:"TOKEN_PATH"`
	NoBrowser bool   `envconfig:"NO_BROWSER"`
}

// DefaultPath returns the config file path inside tokenstore.DefaultDir
func DefaultPath() (string, error) {
	dir, err := tokenstore.DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// LoadFile reads only the config file at path. A missing file yields an
// empty Config.
func LoadFile(path string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	return cfg, nil
}

// Load reads path, which may be missing, then applies environment overrides
// and defaults
func Load(path string) (*Config, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	var e env
	if err := envconfig.Process(envPrefix, &e); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	overlay(&cfg.ServerURL, e.ServerURL)
	overlay(&cfg.ClientID, e.ClientID)
	overlay(&cfg.Scope, e.Scope)
	overlay(&cfg.TokenKey, e.TokenKey)
	overlay(&cfg.TokenPath, e.TokenPath)
	if e.NoBrowser {
		no := false
		cfg.OpenBrowser = &no
	}

	if cfg.ServerURL == "" {
		cfg.ServerURL = DefaultServerURL
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	if cfg.TokenPath == "" {
		dir, err := tokenstore.DefaultDir()
		if err != nil {
			return nil, err
		}
		cfg.TokenPath = filepath.Join(dir, tokenstore.FileName)
	}

	return cfg, nil
}

func overlay(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// BrowserEnabled reports whether login should try to open the verification URL
func (c *Config) BrowserEnabled() bool {
	return c.OpenBrowser == nil || *c.OpenBrowser
}

// TokenStore builds the token store described by c
func (c *Config) TokenStore() (*tokenstore.Store, error) {
	key, err := tokenstore.ParseKey(c.TokenKey)
	if err != nil {
		return nil, err
	}
	var opts []tokenstore.Option
	if key != nil {
		opts = append(opts, tokenstore.WithEncryptionKey(key))
	}
	return tokenstore.New(c.TokenPath, opts...)
}

// Save writes cfg to path, creating parent directories as needed.
// The file may hold a token key, so it is written 0600.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("opening config file: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		f.Close()
		return fmt.Errorf("encoding config: %w", err)
	}
	return f.Close()
}
