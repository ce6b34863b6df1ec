package deviceflow

import (
	"context"
	"errors"
	"fmt"
)

// CheckDeviceCode answers a device access token request per RFC 8628 section 3.4.
// It returns a token once the request is approved, and otherwise one of
// ErrPendingAuthorization, ErrSlowDown, ErrAccessDenied, ErrExpiredCode or
// ErrInvalidDeviceCode, which handlers map to the section 3.5 error codes.
func (f *Flow) CheckDeviceCode(ctx context.Context, clientID, deviceCode string) (*TokenResponse, error) {
	code, err := f.store.GetDeviceCode(ctx, deviceCode)
	if err != nil {
		return nil, fmt.Errorf("getting device code: %w", err)
	}
	if code == nil {
		return nil, ErrInvalidDeviceCode
	}
	if clientID != "" && code.ClientID != clientID {
		return nil, ErrInvalidDeviceCode
	}

	now := f.now()
	if !now.Before(code.ExpiresAt) {
		f.discard(ctx, deviceCode)
		return nil, ErrExpiredCode
	}

	if !f.canPoll(code) {
		return nil, ErrSlowDown
	}
	if err := f.store.UpdatePollTimestamp(ctx, deviceCode, now); err != nil {
		if errors.Is(err, ErrInvalidDeviceCode) {
			return nil, err
		}
		return nil, fmt.Errorf("updating last poll time: %w", err)
	}

	switch code.Status {
	case StatusDenied:
		f.discard(ctx, deviceCode)
		return nil, ErrAccessDenied
	case StatusApproved:
		// Device codes are single use; a concurrent poll that loses the
		// consume sees the code as gone
		claimed, err := f.store.ConsumeDeviceCode(ctx, deviceCode)
		if err != nil {
			return nil, fmt.Errorf("consuming device code: %w", err)
		}
		if claimed == nil {
			return nil, ErrInvalidDeviceCode
		}
		token, err := f.issuer.IssueToken(ctx, claimed.UserID, claimed.ClientID, claimed.Scope)
		if err != nil {
			// Put the approval back so the device can retry
			if rerr := f.store.SaveDeviceCode(ctx, claimed, now); rerr != nil {
				f.logger.Error("restoring device code", "error", rerr)
			}
			return nil, fmt.Errorf("issuing token: %w", err)
		}
		f.logger.Info("device token issued", "client_id", claimed.ClientID, "user_id", claimed.UserID)
		return token, nil
	default:
		return nil, ErrPendingAuthorization
	}
}

// canPoll determines if polling is allowed based on the interval per RFC 8628.
// This implements the "slow_down" error condition by enforcing minimum polling intervals.
func (f *Flow) canPoll(code *DeviceCode) bool {
	return f.now().Sub(code.LastPoll)+pollLeeway >= f.pollInterval
}

func (f *Flow) discard(ctx context.Context, deviceCode string) {
	if err := f.store.DeleteDeviceCode(ctx, deviceCode); err != nil {
		f.logger.Warn("deleting device code", "error", err)
	}
}
