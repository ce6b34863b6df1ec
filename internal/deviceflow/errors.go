package deviceflow

import (
	"errors"
	"fmt"
)

// Common errors that may occur during the device authorization flow
var (
	// ErrInvalidDeviceCode indicates a missing or invalid device code
	ErrInvalidDeviceCode = errors.New("invalid device code")

	// ErrInvalidUserCode indicates a malformed user code
	ErrInvalidUserCode = errors.New("invalid user code")

	// ErrInvalidClient indicates the client is not registered with this server
	ErrInvalidClient = errors.New("invalid client")

	// ErrPendingAuthorization indicates user authorization is not yet complete
	ErrPendingAuthorization = errors.New("authorization pending")

	// ErrSlowDown indicates polling rate limit exceeded per RFC 8628
	ErrSlowDown = errors.New("polling too frequently")

	// ErrExpiredCode indicates the device or user code has expired
	ErrExpiredCode = errors.New("code expired")

	// ErrAccessDenied indicates the user denied the authorization request
	ErrAccessDenied = errors.New("access denied")

	// ErrNotFound indicates no live request exists for a user code
	ErrNotFound = errors.New("device authorization not found")

	// ErrAlreadyResolved indicates the request was already approved, denied or expired
	ErrAlreadyResolved = errors.New("device authorization already resolved")

	// ErrUserCodeConflict indicates a live request already owns the user code
	ErrUserCodeConflict = errors.New("user code already in use")

	// ErrRateLimitExceeded indicates too many verification attempts
	ErrRateLimitExceeded = errors.New("verification attempts exceeded, per RFC 8628 section 5.2")
)

// Error codes per RFC 6749 section 5.2 and RFC 8628 section 3.5
const (
	ErrorCodeInvalidRequest       = "invalid_request"
	ErrorCodeInvalidClient        = "invalid_client"
	ErrorCodeInvalidGrant         = "invalid_grant"
	ErrorCodeUnsupportedGrant     = "unsupported_grant_type"
	ErrorCodeAuthorizationPending = "authorization_pending"
	ErrorCodeSlowDown             = "slow_down"
	ErrorCodeAccessDenied         = "access_denied"
	ErrorCodeExpiredToken         = "expired_token"
	ErrorCodeServerError          = "server_error"
)

// GrantTypeDeviceCode is the grant_type value for device access token requests
const GrantTypeDeviceCode = "urn:ietf:params:oauth:grant-type:device_code"

// DeviceFlowError carries an RFC error code and a human readable description.
// It unwraps to the sentinel that caused it so callers can use errors.Is.
type DeviceFlowError struct {
	Code        string
	Description string
	Err         error
}

// NewDeviceFlowError creates a DeviceFlowError without an underlying sentinel
func NewDeviceFlowError(code, description string) *DeviceFlowError {
	return &DeviceFlowError{Code: code, Description: description}
}

func (e *DeviceFlowError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *DeviceFlowError) Unwrap() error {
	return e.Err
}
