package verify

import (
	"errors"
	"net/http"

	"github.com/wrale/devicelogin/cmd/devicelogin-server/handlers/approve"
	"github.com/wrale/devicelogin/internal/deviceflow"
	"github.com/wrale/devicelogin/internal/session"
	"github.com/wrale/devicelogin/internal/templates"
)

// HandleSubmit processes POST /device/verify with action approve or deny
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := session.UserID(ctx)
	if userID == "" {
		h.renderError(w, http.StatusUnauthorized, "Sign In Required", "Sign in before approving a device.")
		return
	}

	if err := r.ParseForm(); err != nil {
		h.renderError(w, http.StatusBadRequest,
			"Invalid Request",
			"Unable to process form submission.")
		return
	}

	if err := h.csrf.ValidateToken(ctx, r.PostFormValue("csrf_token"), userID); err != nil {
		h.logger.Info("csrf validation failed", "user_id", userID, "error", err)
		h.renderError(w, http.StatusForbidden,
			"Invalid Request",
			"Your session for this page has expired. Please enter the code again.")
		return
	}

	userCode := r.PostFormValue("user_code")
	if userCode == "" {
		h.renderError(w, http.StatusBadRequest,
			"Invalid Request",
			"No device code was entered.")
		return
	}

	var action deviceflow.Status
	switch r.PostFormValue("action") {
	case "approve":
		action = deviceflow.StatusApproved
	case "deny":
		action = deviceflow.StatusDenied
	default:
		h.renderError(w, http.StatusBadRequest,
			"Invalid Request",
			"Choose approve or deny.")
		return
	}

	if _, err := approve.Resolve(ctx, h.flow, action, userCode, userID); err != nil {
		switch {
		case errors.Is(err, deviceflow.ErrNotFound):
			h.renderError(w, http.StatusNotFound,
				"Code Not Found",
				"This code is unknown or has expired. Start the login again on your device.")
		case errors.Is(err, deviceflow.ErrAlreadyResolved):
			h.renderError(w, http.StatusConflict,
				"Already Used",
				"This request has already been approved or denied.")
		default:
			h.logger.Error("resolving device code", "action", action, "error", err)
			h.renderError(w, http.StatusInternalServerError,
				"Server Error",
				"Unable to save your decision. Please try again.")
		}
		return
	}

	if err := h.templates.RenderComplete(w, templates.CompleteData{
		Approved: action == deviceflow.StatusApproved,
	}); err != nil {
		h.logger.Error("rendering completion page", "error", err)
		h.writeResponse(w, http.StatusOK, "Done. You may close this window.")
	}
}
