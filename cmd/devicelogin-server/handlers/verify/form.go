package verify

import (
	"errors"
	"net/http"

	"github.com/wrale/devicelogin/internal/deviceflow"
	"github.com/wrale/devicelogin/internal/session"
	"github.com/wrale/devicelogin/internal/templates"
)

// HandleForm serves GET /device. Without a user_code it shows the entry
// form; with one it shows the approve and deny buttons for that request.
func (h *Handler) HandleForm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := session.UserID(ctx)
	if userID == "" {
		h.renderError(w, http.StatusUnauthorized, "Sign In Required", "Sign in before approving a device.")
		return
	}

	userCode := r.URL.Query().Get("user_code")
	if userCode == "" {
		h.renderVerify(w, templates.VerifyData{UserID: userID})
		return
	}

	code, err := h.flow.VerifyUserCode(ctx, userCode)
	if err != nil {
		h.renderVerify(w, templates.VerifyData{
			UserCode: userCode,
			UserID:   userID,
			Error:    lookupMessage(err),
		})
		if !isUserError(err) {
			h.logger.Error("verifying user code", "error", err)
		}
		return
	}

	token, err := h.csrf.GenerateToken(ctx, userID)
	if err != nil {
		h.logger.Error("generating csrf token", "error", err)
		h.renderError(w, http.StatusInternalServerError,
			"Security Error",
			"Unable to process request securely. Please try again in a moment.")
		return
	}

	h.renderVerify(w, templates.VerifyData{
		UserCode:       code.UserCode,
		ClientID:       code.ClientID,
		Scope:          code.Scope,
		ExpiresMinutes: (code.ExpiresIn + 59) / 60,
		UserID:         userID,
		CSRFToken:      token,
	})
}

func lookupMessage(err error) string {
	var dferr *deviceflow.DeviceFlowError
	switch {
	case errors.Is(err, deviceflow.ErrAlreadyResolved):
		return "This code has already been used."
	case errors.As(err, &dferr) && dferr.Code == deviceflow.ErrorCodeExpiredToken:
		return "This code has expired. Start the login again on your device."
	case errors.Is(err, deviceflow.ErrRateLimitExceeded):
		return "Too many attempts. Please wait a moment and try again."
	default:
		return "Invalid or expired code. Please try again."
	}
}

func isUserError(err error) bool {
	var dferr *deviceflow.DeviceFlowError
	return errors.As(err, &dferr) && dferr.Code != deviceflow.ErrorCodeServerError
}
