// Package device serves device authorization requests per RFC 8628 section 3.1
package device

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/wrale/devicelogin/cmd/devicelogin-server/handlers/common"
	"github.com/wrale/devicelogin/internal/deviceflow"
)

// CodeResponse represents the device code response per RFC 8628 section 3.2
type CodeResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
}

// Flow issues device codes
type Flow interface {
	RequestDeviceCode(ctx context.Context, clientID, scope string) (*deviceflow.DeviceCode, error)
}

// Handler processes device code requests per RFC 8628 section 3.2
type Handler struct {
	flow   Flow
	logger *slog.Logger
}

// New creates a new device code request handler
func New(flow Flow, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{flow: flow, logger: logger}
}

// ServeHTTP handles device code requests
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

	clientID := r.PostForm.Get("client_id")
	if clientID == "" {
		common.WriteError(w, deviceflow.ErrorCodeInvalidRequest, "The client_id parameter is REQUIRED")
		return
	}

	code, err := h.flow.RequestDeviceCode(r.Context(), clientID, r.PostForm.Get("scope"))
	if err != nil {
		var dferr *deviceflow.DeviceFlowError
		if errors.As(err, &dferr) {
			common.WriteError(w, dferr.Code, dferr.Description)
			return
		}
		h.logger.Error("issuing device code", "client_id", clientID, "error", err)
		common.WriteError(w, deviceflow.ErrorCodeServerError, "Failed to generate device code")
		return
	}

	if code.ExpiresIn <= 0 {
		h.logger.Error("device code issued without lifetime", "client_id", clientID)
		common.WriteError(w, deviceflow.ErrorCodeServerError, "Invalid expiration time")
		return
	}

	common.WriteJSON(w, http.StatusOK, CodeResponse{
		DeviceCode:              code.DeviceCode,
		UserCode:                code.UserCode,
		VerificationURI:         code.VerificationURI,
		VerificationURIComplete: code.VerificationURIComplete,
		ExpiresIn:               code.ExpiresIn,
		Interval:                code.Interval,
	})
}
