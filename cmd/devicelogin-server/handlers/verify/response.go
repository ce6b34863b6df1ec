package verify

import (
	"fmt"
	"net/http"

	"github.com/wrale/devicelogin/internal/templates"
)

// headerWritten checks if response headers have been written by checking for
// the Written() method that SafeWriter and middleware wrappers implement
func headerWritten(w http.ResponseWriter) bool {
	type writeTracker interface {
		Written() bool
	}
	if wt, ok := w.(writeTracker); ok {
		return wt.Written()
	}
	return false
}

// writeResponse writes a plain text fallback
func (h *Handler) writeResponse(w http.ResponseWriter, status int, message string) {
	if !headerWritten(w) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
	}
	if _, err := w.Write([]byte(message)); err != nil {
		h.logger.Debug("writing response", "error", err)
	}
}

// renderError renders the error page with status
func (h *Handler) renderError(w http.ResponseWriter, status int, title, message string) {
	if err := h.templates.RenderError(w, templates.ErrorData{
		Title:   title,
		Message: message,
		Status:  status,
	}); err != nil {
		h.logger.Error("rendering error page", "error", err)
		h.writeResponse(w, status, fmt.Sprintf("%s: %s", title, message))
	}
}

// renderVerify renders the entry or approval form
func (h *Handler) renderVerify(w http.ResponseWriter, data templates.VerifyData) {
	if err := h.templates.RenderVerify(w, data); err != nil {
		h.logger.Error("rendering verify page", "error", err)
		h.writeResponse(w, http.StatusOK, "Please enter your device code to continue.")
	}
}
