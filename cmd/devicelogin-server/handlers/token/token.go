// Package token answers device access token polls per RFC 8628 section 3.4
package token

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/wrale/devicelogin/cmd/devicelogin-server/handlers/common"
	"github.com/wrale/devicelogin/internal/deviceflow"
)

// Flow answers token polls
type Flow interface {
	CheckDeviceCode(ctx context.Context, clientID, deviceCode string) (*deviceflow.TokenResponse, error)
}

// Handler processes device access token requests per RFC 8628 section 3.4
type Handler struct {
	flow   Flow
	logger *slog.Logger
}

// New creates a new token request handler
func New(flow Flow, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{flow: flow, logger: logger}
}

// ServeHTTP handles token polling requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		common.WriteError(w, deviceflow.ErrorCodeInvalidRequest, "POST method required")
		return
	}

	if err := r.ParseForm(); err != nil {
		common.WriteError(w, deviceflow.ErrorCodeInvalidRequest, "Invalid request format")
		return
	}
	if common.RejectDuplicates(w, r) {
		return
	}

	grantType := r.PostForm.Get("grant_type")
	if grantType == "" {
		common.WriteError(w, deviceflow.ErrorCodeInvalidRequest,
			"The grant_type parameter is REQUIRED")
		return
	}
	if grantType != deviceflow.GrantTypeDeviceCode {
		common.WriteError(w, deviceflow.ErrorCodeUnsupportedGrant,
			"Only "+deviceflow.GrantTypeDeviceCode+" is supported")
		return
	}

	deviceCode := r.PostForm.Get("device_code")
	if deviceCode == "" {
		common.WriteError(w, deviceflow.ErrorCodeInvalidRequest,
			"The device_code parameter is REQUIRED")
		return
	}

	clientID := r.PostForm.Get("client_id")
	if clientID == "" {
		common.WriteError(w, deviceflow.ErrorCodeInvalidRequest,
			"The client_id parameter is REQUIRED for public clients")
		return
	}

	token, err := h.flow.CheckDeviceCode(r.Context(), clientID, deviceCode)
	if err != nil {
		h.writeFlowError(w, err)
		return
	}

	common.WriteJSON(w, http.StatusOK, token)
}

// writeFlowError maps flow errors to RFC 8628 section 3.5 responses
func (h *Handler) writeFlowError(w http.ResponseWriter, err error) {
	var dferr *deviceflow.DeviceFlowError
	if errors.As(err, &dferr) {
		common.WriteError(w, dferr.Code, dferr.Description)
		return
	}

	switch {
	case errors.Is(err, deviceflow.ErrPendingAuthorization):
		common.WriteError(w, deviceflow.ErrorCodeAuthorizationPending,
			"The authorization request is still pending")
	case errors.Is(err, deviceflow.ErrSlowDown):
		common.WriteError(w, deviceflow.ErrorCodeSlowDown,
			"Polling interval must be increased by 5 seconds")
	case errors.Is(err, deviceflow.ErrAccessDenied):
		common.WriteError(w, deviceflow.ErrorCodeAccessDenied,
			"The user denied the authorization request")
	case errors.Is(err, deviceflow.ErrExpiredCode):
		common.WriteError(w, deviceflow.ErrorCodeExpiredToken,
			"The device_code has expired")
	case errors.Is(err, deviceflow.ErrInvalidDeviceCode):
		common.WriteError(w, deviceflow.ErrorCodeInvalidGrant,
			"The device_code is invalid or expired")
	default:
		h.logger.Error("checking device code", "error", err)
		common.WriteError(w, deviceflow.ErrorCodeServerError,
			"An unexpected error occurred processing the request")
	}
}
