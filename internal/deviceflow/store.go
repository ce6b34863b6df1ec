package deviceflow

import (
	"context"
	"time"
)

// Store defines the interface for device flow storage
type Store interface {
	// SaveDeviceCode stores a new device code. It fails with ErrUserCodeConflict
	// when another request still live at time at owns the user code.
	SaveDeviceCode(ctx context.Context, code *DeviceCode, at time.Time) error

	// GetDeviceCode retrieves a device code by its device code string,
	// returning nil when absent
	GetDeviceCode(ctx context.Context, deviceCode string) (*DeviceCode, error)

	// GetDeviceCodeByUserCode retrieves a device code by its canonical user code,
	// returning nil when absent
	GetDeviceCodeByUserCode(ctx context.Context, userCode string) (*DeviceCode, error)

	// ResolveDeviceCode atomically moves a pending, unexpired request to status and
	// binds userID. It returns ErrNotFound when no live request exists and
	// ErrAlreadyResolved when the request has left pending.
	ResolveDeviceCode(ctx context.Context, userCode string, status Status, userID string, at time.Time) (*DeviceCode, error)

	// UpdatePollTimestamp records the last token poll without touching status
	UpdatePollTimestamp(ctx context.Context, deviceCode string, at time.Time) error

	// ConsumeDeviceCode atomically removes a device code and returns it. Of
	// several concurrent callers exactly one gets the code; the rest get nil.
	ConsumeDeviceCode(ctx context.Context, deviceCode string) (*DeviceCode, error)

	// DeleteDeviceCode removes a device code and its associated data
	DeleteDeviceCode(ctx context.Context, deviceCode string) error

	// DeleteExpired removes requests that expired before the given time
	DeleteExpired(ctx context.Context, before time.Time) (int, error)

	// GetPollCount counts verification attempts made at or after since
	GetPollCount(ctx context.Context, deviceCode string, since time.Time) (int, error)

	// IncrementPollCount records a verification attempt made at time at
	IncrementPollCount(ctx context.Context, deviceCode string, at time.Time) error

	// CheckHealth verifies the storage backend is healthy
	CheckHealth(ctx context.Context) error
}
