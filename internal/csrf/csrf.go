// Package csrf protects the approval form. Tokens are bound to the session
// subject that requested the page and can be redeemed once.
package csrf

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidToken indicates a missing, forged or already used CSRF token
	ErrInvalidToken = errors.New("invalid csrf token")

	// ErrTokenExpired indicates the CSRF token has expired
	ErrTokenExpired = errors.New("csrf token expired")
)

// DefaultExpiry is used when a Manager is created without an expiry
const DefaultExpiry = 15 * time.Minute

// Store persists issued tokens until they are redeemed or expire
type Store interface {
	// SaveToken stores a CSRF token with expiry
	SaveToken(ctx context.Context, token string, expiresIn time.Duration) error

	// ConsumeToken removes a token, failing with ErrInvalidToken when it is
	// unknown and ErrTokenExpired when it has lapsed
	ConsumeToken(ctx context.Context, token string) error

	// CheckHealth verifies the store is operational
	CheckHealth(ctx context.Context) error
}

// Manager handles CSRF token generation and validation
type Manager struct {
	store     Store
	secret    []byte
	expiresIn time.Duration
}

// NewManager creates a new CSRF token manager
func NewManager(store Store, secret []byte, expiresIn time.Duration) *Manager {
	if expiresIn == 0 {
		expiresIn = DefaultExpiry
	}
	return &Manager{
		store:     store,
		secret:    secret,
		expiresIn: expiresIn,
	}
}

// GenerateToken creates and stores a token for subject
func (m *Manager) GenerateToken(ctx context.Context, subject string) (string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(nonce)
	token := encoded + "." + base64.RawURLEncoding.EncodeToString(m.sign(encoded, subject))

	if err := m.store.SaveToken(ctx, token, m.expiresIn); err != nil {
		return "", fmt.Errorf("saving token: %w", err)
	}

	return token, nil
}

// ValidateToken checks the signature against subject and redeems the token
func (m *Manager) ValidateToken(ctx context.Context, token, subject string) error {
	nonce, sig, ok := strings.Cut(token, ".")
	if !ok || nonce == "" {
		return ErrInvalidToken
	}

	actual, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return ErrInvalidToken
	}
	if !hmac.Equal(m.sign(nonce, subject), actual) {
		return ErrInvalidToken
	}

	if err := m.store.ConsumeToken(ctx, token); err != nil {
		if errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrTokenExpired) {
			return err
		}
		return fmt.Errorf("validating token: %w", err)
	}

	return nil
}

// CheckHealth verifies the CSRF manager is operational
func (m *Manager) CheckHealth(ctx context.Context) error {
	if err := m.store.CheckHealth(ctx); err != nil {
		return fmt.Errorf("csrf store health check failed: %w", err)
	}
	return nil
}

func (m *Manager) sign(nonce, subject string) []byte {
	h := hmac.New(sha256.New, m.secret)
	h.Write([]byte(nonce))
	h.Write([]byte{0})
	h.Write([]byte(subject))
	return h.Sum(nil)
}
