package deviceflow

import (
	"context"
	"sync"
	"time"

	"github.com/wrale/devicelogin/internal/validation"
)

// MemoryStore is an in-memory Store. It is safe for concurrent use and
// suitable for tests and single-instance development servers.
type MemoryStore struct {
	mu           sync.RWMutex
	byDeviceCode map[string]*DeviceCode
	byUserCode   map[string]string // canonical user code -> device code
	attempts     map[string][]time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byDeviceCode: make(map[string]*DeviceCode),
		byUserCode:   make(map[string]string),
		attempts:     make(map[string][]time.Time),
	}
}

// SaveDeviceCode stores a new device code
func (m *MemoryStore) SaveDeviceCode(ctx context.Context, code *DeviceCode, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	userCode := validation.NormalizeCode(code.UserCode)
	if existing, ok := m.byUserCode[userCode]; ok && existing != code.DeviceCode {
		if live, ok := m.byDeviceCode[existing]; ok && at.Before(live.ExpiresAt) {
			return ErrUserCodeConflict
		}
	}

	stored := *code
	m.byDeviceCode[code.DeviceCode] = &stored
	m.byUserCode[userCode] = code.DeviceCode
	return nil
}

// GetDeviceCode returns a copy of the stored device code
func (m *MemoryStore) GetDeviceCode(ctx context.Context, deviceCode string) (*DeviceCode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	code, ok := m.byDeviceCode[deviceCode]
	if !ok {
		return nil, nil
	}
	out := *code
	return &out, nil
}

// GetDeviceCodeByUserCode returns a copy of the device code owning userCode
func (m *MemoryStore) GetDeviceCodeByUserCode(ctx context.Context, userCode string) (*DeviceCode, error) {
	m.mu.RLock()
	deviceCode, ok := m.byUserCode[validation.NormalizeCode(userCode)]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return m.GetDeviceCode(ctx, deviceCode)
}

// ResolveDeviceCode moves a pending request to status under the store lock
func (m *MemoryStore) ResolveDeviceCode(ctx context.Context, userCode string, status Status, userID string, at time.Time) (*DeviceCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deviceCode, ok := m.byUserCode[validation.NormalizeCode(userCode)]
	if !ok {
		return nil, ErrNotFound
	}
	code, ok := m.byDeviceCode[deviceCode]
	if !ok {
		return nil, ErrNotFound
	}

	switch code.StatusAt(at) {
	case StatusExpired:
		return nil, ErrNotFound
	case StatusPending:
	default:
		return nil, ErrAlreadyResolved
	}

	code.Status = status
	code.UserID = userID
	code.ResolvedAt = at

	out := *code
	return &out, nil
}

// UpdatePollTimestamp records the last token poll
func (m *MemoryStore) UpdatePollTimestamp(ctx context.Context, deviceCode string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	code, ok := m.byDeviceCode[deviceCode]
	if !ok {
		return ErrInvalidDeviceCode
	}
	code.LastPoll = at
	return nil
}

// ConsumeDeviceCode removes and returns a device code under the store lock
func (m *MemoryStore) ConsumeDeviceCode(ctx context.Context, deviceCode string) (*DeviceCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	code, ok := m.byDeviceCode[deviceCode]
	if !ok {
		return nil, nil
	}
	out := *code
	m.deleteLocked(deviceCode)
	return &out, nil
}

// DeleteDeviceCode removes a device code. Deleting an unknown code is not an error.
func (m *MemoryStore) DeleteDeviceCode(ctx context.Context, deviceCode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deleteLocked(deviceCode)
	return nil
}

// DeleteExpired removes every request that expired before the given time
func (m *MemoryStore) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []string
	for deviceCode, code := range m.byDeviceCode {
		if !before.Before(code.ExpiresAt) {
			expired = append(expired, deviceCode)
		}
	}
	for _, deviceCode := range expired {
		m.deleteLocked(deviceCode)
	}
	return len(expired), nil
}

func (m *MemoryStore) deleteLocked(deviceCode string) {
	code, ok := m.byDeviceCode[deviceCode]
	if !ok {
		return
	}
	delete(m.byDeviceCode, deviceCode)
	userCode := validation.NormalizeCode(code.UserCode)
	if m.byUserCode[userCode] == deviceCode {
		delete(m.byUserCode, userCode)
	}
	delete(m.attempts, deviceCode)
}

// GetPollCount counts verification attempts made at or after since
func (m *MemoryStore) GetPollCount(ctx context.Context, deviceCode string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, at := range m.attempts[deviceCode] {
		if !at.Before(since) {
			count++
		}
	}
	return count, nil
}

// IncrementPollCount records a verification attempt
func (m *MemoryStore) IncrementPollCount(ctx context.Context, deviceCode string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attempts[deviceCode] = append(m.attempts[deviceCode], at)
	return nil
}

// CheckHealth always succeeds for the memory store
func (m *MemoryStore) CheckHealth(ctx context.Context) error {
	return nil
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
