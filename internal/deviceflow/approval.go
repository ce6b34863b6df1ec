package deviceflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/wrale/devicelogin/internal/validation"
)

// Approve marks the request identified by userCode as approved and binds it to
// userID, so the next token poll issues a token for that user.
// It fails with ErrNotFound when the code is unknown or expired and with
// ErrAlreadyResolved when the request has already been approved or denied.
func (f *Flow) Approve(ctx context.Context, userCode, userID string) (*DeviceCode, error) {
	return f.resolve(ctx, userCode, userID, StatusApproved)
}

// Deny marks the request identified by userCode as denied.
// Errors match Approve.
func (f *Flow) Deny(ctx context.Context, userCode, userID string) (*DeviceCode, error) {
	return f.resolve(ctx, userCode, userID, StatusDenied)
}

func (f *Flow) resolve(ctx context.Context, userCode, userID string, status Status) (*DeviceCode, error) {
	if userID == "" {
		return nil, errors.New("resolving device code: user identity required")
	}

	canonical := validation.NormalizeCode(userCode)
	if canonical == "" {
		return nil, ErrNotFound
	}

	code, err := f.store.ResolveDeviceCode(ctx, canonical, status, userID, f.now())
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyResolved) {
			f.logger.Info("device code resolution rejected", "user_code", canonical, "status", status, "reason", err)
			return nil, err
		}
		return nil, fmt.Errorf("resolving device code: %w", err)
	}

	f.logger.Info("device code resolved", "user_code", canonical, "status", status, "user_id", userID)
	return code, nil
}
