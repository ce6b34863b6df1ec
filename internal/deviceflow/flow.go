// Package deviceflow implements the authorization server side of the
// OAuth 2.0 Device Authorization Grant per RFC 8628
package deviceflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	// MinExpiryDuration defines the minimum expiry duration
	MinExpiryDuration = 1 * time.Minute

	// DefaultExpiryDuration is used when no expiry is configured
	DefaultExpiryDuration = 15 * time.Minute

	// MinPollInterval is the minimum interval between polling requests
	MinPollInterval = 5 * time.Second

	// DeviceCodeLength is the required length of the device code in hex characters
	DeviceCodeLength = 64

	// pollLeeway absorbs network jitter when enforcing the poll interval
	pollLeeway = 500 * time.Millisecond

	// maxUserCodeCollisions bounds retries when a generated user code is taken
	maxUserCodeCollisions = 5
)

// TokenIssuer mints the access token handed to a device once its request is approved
type TokenIssuer interface {
	IssueToken(ctx context.Context, subject, clientID, scope string) (*TokenResponse, error)
}

// Flow manages the device authorization grant flow per RFC 8628
type Flow struct {
	store           Store
	issuer          TokenIssuer
	baseURL         string
	expiryDuration  time.Duration
	pollInterval    time.Duration
	rateLimitWindow time.Duration
	maxAttempts     int
	allowedClients  map[string]bool
	now             func() time.Time
	logger          *slog.Logger
}

// NewFlow creates a new device flow manager with provided options
func NewFlow(store Store, issuer TokenIssuer, baseURL string, opts ...Option) *Flow {
	f := &Flow{
		store:           store,
		issuer:          issuer,
		baseURL:         baseURL,
		expiryDuration:  DefaultExpiryDuration,
		pollInterval:    MinPollInterval,
		rateLimitWindow: time.Minute,
		maxAttempts:     defaultMaxAttempts,
		now:             time.Now,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}

	if f.expiryDuration < MinExpiryDuration {
		f.expiryDuration = MinExpiryDuration
	}
	if f.pollInterval < MinPollInterval {
		f.pollInterval = MinPollInterval
	}
	f.logger = f.logger.With("component", "deviceflow")

	return f
}

// RequestDeviceCode initiates a new device authorization flow
func (f *Flow) RequestDeviceCode(ctx context.Context, clientID, scope string) (*DeviceCode, error) {
	if clientID == "" {
		return nil, &DeviceFlowError{
			Code:        ErrorCodeInvalidRequest,
			Description: "The client_id parameter is REQUIRED",
			Err:         ErrInvalidClient,
		}
	}
	if len(f.allowedClients) > 0 && !f.allowedClients[clientID] {
		return nil, &DeviceFlowError{
			Code:        ErrorCodeInvalidClient,
			Description: "Unknown client",
			Err:         ErrInvalidClient,
		}
	}

	deviceCode, err := newDeviceCode()
	if err != nil {
		return nil, fmt.Errorf("generating device code: %w", err)
	}

	now := f.now()
	expiresIn := int(f.expiryDuration.Seconds())

	for attempt := 0; attempt < maxUserCodeCollisions; attempt++ {
		userCode, err := newUserCode()
		if err != nil {
			return nil, fmt.Errorf("generating user code: %w", err)
		}

		verificationURI, verificationURIComplete := f.verificationURIs(userCode)

		code := &DeviceCode{
			DeviceCode:              deviceCode,
			UserCode:                userCode,
			VerificationURI:         verificationURI,
			VerificationURIComplete: verificationURIComplete,
			ExpiresIn:               expiresIn,
			Interval:                int(f.pollInterval.Seconds()),
			ExpiresAt:               now.Add(f.expiryDuration),
			ClientID:                clientID,
			Scope:                   scope,
			LastPoll:                now,
			Status:                  StatusPending,
		}

		err = f.store.SaveDeviceCode(ctx, code, now)
		if errors.Is(err, ErrUserCodeConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("saving device code: %w", err)
		}

		f.logger.Info("device code issued", "client_id", clientID, "user_code", userCode, "expires_at", code.ExpiresAt)
		return code, nil
	}

	return nil, fmt.Errorf("saving device code: %w after %d attempts", ErrUserCodeConflict, maxUserCodeCollisions)
}

// GetDeviceCode retrieves and validates a device code per RFC 8628.
// It enforces consistent validation and expiry handling across all device code operations.
func (f *Flow) GetDeviceCode(ctx context.Context, deviceCode string) (*DeviceCode, error) {
	code, err := f.store.GetDeviceCode(ctx, deviceCode)
	if err != nil {
		return nil, fmt.Errorf("getting device code: %w", err)
	}

	if code == nil {
		return nil, ErrInvalidDeviceCode
	}

	now := f.now()
	if !now.Before(code.ExpiresAt) {
		return nil, ErrExpiredCode
	}

	code.ExpiresIn = int(code.ExpiresAt.Sub(now).Seconds())

	return code, nil
}

// SweepExpired deletes requests that have passed their expiry
func (f *Flow) SweepExpired(ctx context.Context) (int, error) {
	n, err := f.store.DeleteExpired(ctx, f.now())
	if err != nil {
		return 0, fmt.Errorf("sweeping expired codes: %w", err)
	}
	if n > 0 {
		f.logger.Debug("swept expired device codes", "count", n)
	}
	return n, nil
}

// RunSweeper calls SweepExpired every interval until ctx is done. A
// non-positive interval disables sweeping.
func (f *Flow) RunSweeper(ctx context.Context, every time.Duration) {
	if every <= 0 {
		f.logger.Warn("expiry sweeper disabled", "interval", every)
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := f.SweepExpired(ctx); err != nil {
				f.logger.Warn("expiry sweep failed", "error", err)
			}
		}
	}
}

// CheckHealth verifies the flow manager's storage backend is healthy
func (f *Flow) CheckHealth(ctx context.Context) error {
	return f.store.CheckHealth(ctx)
}
