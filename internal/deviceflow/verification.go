package deviceflow

import (
	"context"

	"github.com/wrale/devicelogin/internal/validation"
)

// defaultMaxAttempts bounds verification attempts per device code per RFC 8628 section 5.2
const defaultMaxAttempts = 50

// VerifyUserCode looks up a pending request for display on the approval page.
// Error checking order:
// 1. Code format
// 2. Store errors and code lookup
// 3. Expiration and resolution
// 4. Rate limiting of verification attempts
func (f *Flow) VerifyUserCode(ctx context.Context, userCode string) (*DeviceCode, error) {
	if err := validation.ValidateUserCode(userCode); err != nil {
		return nil, &DeviceFlowError{
			Code:        ErrorCodeInvalidRequest,
			Description: "Invalid user code format",
			Err:         ErrInvalidUserCode,
		}
	}

	code, err := f.store.GetDeviceCodeByUserCode(ctx, validation.NormalizeCode(userCode))
	if err != nil {
		return nil, &DeviceFlowError{
			Code:        ErrorCodeServerError,
			Description: "Error validating code: internal error",
			Err:         err,
		}
	}

	if code == nil {
		return nil, &DeviceFlowError{
			Code:        ErrorCodeInvalidRequest,
			Description: "Invalid user code: code not found",
			Err:         ErrNotFound,
		}
	}

	now := f.now()
	switch code.StatusAt(now) {
	case StatusExpired:
		return nil, &DeviceFlowError{
			Code:        ErrorCodeExpiredToken,
			Description: "Code has expired",
			Err:         ErrNotFound,
		}
	case StatusApproved, StatusDenied:
		return nil, &DeviceFlowError{
			Code:        ErrorCodeInvalidRequest,
			Description: "Code has already been used",
			Err:         ErrAlreadyResolved,
		}
	}

	attempts, err := f.store.GetPollCount(ctx, code.DeviceCode, now.Add(-f.rateLimitWindow))
	if err != nil {
		return nil, &DeviceFlowError{
			Code:        ErrorCodeServerError,
			Description: "Error validating code: internal error",
			Err:         err,
		}
	}
	if attempts >= f.maxAttempts {
		return nil, &DeviceFlowError{
			Code:        ErrorCodeSlowDown,
			Description: "Too many verification attempts, please wait",
			Err:         ErrRateLimitExceeded,
		}
	}

	if err := f.store.IncrementPollCount(ctx, code.DeviceCode, now); err != nil {
		return nil, &DeviceFlowError{
			Code:        ErrorCodeServerError,
			Description: "Error validating code: internal error",
			Err:         err,
		}
	}

	code.ExpiresIn = int(code.ExpiresAt.Sub(now).Seconds())
	return code, nil
}

