// Package test provides a configurable device flow double for handler tests
package test

import (
	"context"

	"github.com/wrale/devicelogin/internal/deviceflow"
)

// MockFlow stands in for *deviceflow.Flow. Unset funcs return zero values.
type MockFlow struct {
	CheckHealthFunc       func(ctx context.Context) error
	RequestDeviceCodeFunc func(ctx context.Context, clientID, scope string) (*deviceflow.DeviceCode, error)
	CheckDeviceCodeFunc   func(ctx context.Context, clientID, deviceCode string) (*deviceflow.TokenResponse, error)
	VerifyUserCodeFunc    func(ctx context.Context, userCode string) (*deviceflow.DeviceCode, error)
	ApproveFunc           func(ctx context.Context, userCode, userID string) (*deviceflow.DeviceCode, error)
	DenyFunc              func(ctx context.Context, userCode, userID string) (*deviceflow.DeviceCode, error)
}

// CheckHealth implements health.Checker
func (m *MockFlow) CheckHealth(ctx context.Context) error {
	if m.CheckHealthFunc != nil {
		return m.CheckHealthFunc(ctx)
	}
	return nil
}

// RequestDeviceCode implements device.Flow
func (m *MockFlow) RequestDeviceCode(ctx context.Context, clientID, scope string) (*deviceflow.DeviceCode, error) {
	if m.RequestDeviceCodeFunc != nil {
		return m.RequestDeviceCodeFunc(ctx, clientID, scope)
	}
	return nil, nil
}

// CheckDeviceCode implements token.Flow
func (m *MockFlow) CheckDeviceCode(ctx context.Context, clientID, deviceCode string) (*deviceflow.TokenResponse, error) {
	if m.CheckDeviceCodeFunc != nil {
		return m.CheckDeviceCodeFunc(ctx, clientID, deviceCode)
	}
	return nil, nil
}

// VerifyUserCode implements verify.Flow
func (m *MockFlow) VerifyUserCode(ctx context.Context, userCode string) (*deviceflow.DeviceCode, error) {
	if m.VerifyUserCodeFunc != nil {
		return m.VerifyUserCodeFunc(ctx, userCode)
	}
	return nil, nil
}

// Approve implements approve.Resolver
func (m *MockFlow) Approve(ctx context.Context, userCode, userID string) (*deviceflow.DeviceCode, error) {
	if m.ApproveFunc != nil {
		return m.ApproveFunc(ctx, userCode, userID)
	}
	return &deviceflow.DeviceCode{UserCode: userCode, UserID: userID, Status: deviceflow.StatusApproved}, nil
}

// Deny implements approve.Resolver
func (m *MockFlow) Deny(ctx context.Context, userCode, userID string) (*deviceflow.DeviceCode, error) {
	if m.DenyFunc != nil {
		return m.DenyFunc(ctx, userCode, userID)
	}
	return &deviceflow.DeviceCode{UserCode: userCode, UserID: userID, Status: deviceflow.StatusDenied}, nil
}
