// Package tokenstore persists the CLI's token between invocations in a single
// JSON file readable only by the current user.
package tokenstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wrale/devicelogin/internal/oauth"
)

const (
	// FileName is the token file name inside the config directory
	FileName = "token.json"

	dirPerm  = 0700
	filePerm = 0600
)

// ErrEncrypted is returned by Load when the file is sealed and no key is configured
var ErrEncrypted = errors.New("token file is encrypted and no key is configured")

// Record is the persisted token
type Record struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	TokenType    string     `json:"token_type"`
	ExpiresAt    *time.Time `json:"expires_at"` // nil when the server sent no lifetime
	Scope        string     `json:"scope,omitempty"`
	ObtainedAt   time.Time  `json:"obtained_at"`
}

// ExpiredAt reports whether the record is unusable at now. Records without an
// expiry are treated as expired.
func (r *Record) ExpiredAt(now time.Time) bool {
	if r == nil || r.ExpiresAt == nil {
		return true
	}
	return !now.Before(*r.ExpiresAt)
}

// Store reads and writes the token file
type Store struct {
	mu   sync.Mutex
	path string
	key  []byte
	now  func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithEncryptionKey seals the file with key, which must be KeySize bytes
func WithEncryptionKey(key []byte) Option {
	return func(s *Store) {
		s.key = key
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a store for the token file at path
func New(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, errors.New("token file path is required")
	}
	s := &Store{path: path, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.key != nil && len(s.key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(s.key))
	}
	return s, nil
}

// DefaultDir returns $XDG_CONFIG_HOME/devicelogin, falling back to ~/.config/devicelogin
func DefaultDir() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "devicelogin"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locating home directory: %w", err)
	}
	return filepath.Join(home, ".config", "devicelogin"), nil
}

// Path returns the token file path
func (s *Store) Path() string { return s.path }

// Save replaces the stored record with one built from token. expires_at is
// obtained_at plus expires_in, or null when expires_in is absent or zero.
func (s *Store) Save(token *oauth.Token) (*Record, error) {
	if token == nil || token.AccessToken == "" {
		return nil, errors.New("saving token: access token is required")
	}

	now := s.now()
	rec := &Record{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Scope:        token.Scope,
		ObtainedAt:   now,
	}
	if rec.TokenType == "" {
		rec.TokenType = "Bearer"
	}
	if token.ExpiresIn > 0 {
		expiresAt := now.Add(time.Duration(token.ExpiresIn) * time.Second)
		rec.ExpiresAt = &expiresAt
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding token: %w", err)
	}
	if s.key != nil {
		if data, err = seal(s.key, data); err != nil {
			return nil, fmt.Errorf("encrypting token: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeFileAtomic(s.path, data); err != nil {
		return nil, fmt.Errorf("saving token: %w", err)
	}
	return rec, nil
}

// Load returns the stored record, or nil with no error when none exists
func (s *Store) Load() (*Record, error) {
	s.mu.Lock()
	data, err := os.ReadFile(s.path)
	s.mu.Unlock()

	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading token file: %w", err)
	}

	if isSealed(data) {
		if s.key == nil {
			return nil, ErrEncrypted
		}
		if data, err = open(s.key, data); err != nil {
			return nil, fmt.Errorf("decrypting token file: %w", err)
		}
	}

	var rec Record
	if err := json.Unmarshal(bytes.TrimSpace(data), &rec); err != nil {
		return nil, fmt.Errorf("parsing token file: %w", err)
	}
	return &rec, nil
}

// Clear deletes the token file, reporting whether one existed
func (s *Store) Clear() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("removing token file: %w", err)
	}
	return true, nil
}

// IsExpired is true when no usable record exists: none stored, unreadable,
// no expiry, or past its expiry
func (s *Store) IsExpired() bool {
	rec, err := s.Load()
	if err != nil {
		return true
	}
	return rec.ExpiredAt(s.now())
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it over path
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		return fmt.Errorf("setting token file permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	return os.Rename(tmpName, path)
}
