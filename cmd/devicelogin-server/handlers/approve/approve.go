// Package approve resolves pending device authorizations on behalf of the
// signed in user
package approve

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/wrale/devicelogin/cmd/devicelogin-server/handlers/common"
	"github.com/wrale/devicelogin/internal/deviceflow"
	"github.com/wrale/devicelogin/internal/session"
)

// Error codes for the approval endpoints
const (
	ErrorCodeNotFound        = "not_found"
	ErrorCodeAlreadyResolved = "already_resolved"
)

// Resolver approves or denies pending requests
type Resolver interface {
	Approve(ctx context.Context, userCode, userID string) (*deviceflow.DeviceCode, error)
	Deny(ctx context.Context, userCode, userID string) (*deviceflow.DeviceCode, error)
}

// Response is the body of a successful resolution
type Response struct {
	Status   deviceflow.Status `json:"status"`
	UserCode string            `json:"user_code"`
	ClientID string            `json:"client_id,omitempty"`
}

// Handler serves POST /device/approve and POST /device/deny.
// It must sit behind session.RequireSession.
type Handler struct {
	flow   Resolver
	action deviceflow.Status
	logger *slog.Logger
}

// NewApprove creates the approve endpoint
func NewApprove(flow Resolver, logger *slog.Logger) *Handler {
	return newHandler(flow, deviceflow.StatusApproved, logger)
}

// NewDeny creates the deny endpoint
func NewDeny(flow Resolver, logger *slog.Logger) *Handler {
	return newHandler(flow, deviceflow.StatusDenied, logger)
}

func newHandler(flow Resolver, action deviceflow.Status, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{flow: flow, action: action, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		common.WriteError(w, deviceflow.ErrorCodeInvalidRequest, "POST method required")
		return
	}

	userID := session.UserID(r.Context())
	if userID == "" {
		common.WriteJSON(w, http.StatusUnauthorized, common.ErrorResponse{
			Error:            "unauthorized",
			ErrorDescription: "A signed in user is required",
		})
		return
	}

	if err := r.ParseForm(); err != nil {
		common.WriteError(w, deviceflow.ErrorCodeInvalidRequest, "Invalid request format")
		return
	}
	userCode := r.PostForm.Get("user_code")
	if userCode == "" {
		common.WriteError(w, deviceflow.ErrorCodeInvalidRequest, "The user_code parameter is REQUIRED")
		return
	}

	code, err := Resolve(r.Context(), h.flow, h.action, userCode, userID)
	if err != nil {
		switch {
		case errors.Is(err, deviceflow.ErrNotFound):
			common.WriteError(w, ErrorCodeNotFound, "No pending request for this code")
		case errors.Is(err, deviceflow.ErrAlreadyResolved):
			common.WriteError(w, ErrorCodeAlreadyResolved, "This request has already been resolved")
		default:
			h.logger.Error("resolving device code", "action", h.action, "error", err)
			common.WriteError(w, deviceflow.ErrorCodeServerError, "Unable to resolve request")
		}
		return
	}

	common.WriteJSON(w, http.StatusOK, Response{
		Status:   h.action,
		UserCode: code.UserCode,
		ClientID: code.ClientID,
	})
}

// Resolve applies action to userCode. The verification page shares it with
// the JSON endpoints.
func Resolve(ctx context.Context, flow Resolver, action deviceflow.Status, userCode, userID string) (*deviceflow.DeviceCode, error) {
	switch action {
	case deviceflow.StatusApproved:
		return flow.Approve(ctx, userCode, userID)
	case deviceflow.StatusDenied:
		return flow.Deny(ctx, userCode, userID)
	default:
		return nil, errors.New("unsupported action " + string(action))
	}
}
