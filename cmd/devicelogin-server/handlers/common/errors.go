// Package common holds the JSON response helpers shared by the handlers
package common

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// ErrorResponse is the RFC 6749 section 5.2 error body
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// SetJSONHeaders sets required headers for JSON responses per RFC 8628
func SetJSONHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "application/json")
}

// StatusFor returns the HTTP status used for an error code.
// RFC 6749 section 5.2 answers 400 for everything but client authentication
// failures; the approval endpoints add their own codes.
func StatusFor(code string) int {
	switch code {
	case "invalid_client":
		return http.StatusUnauthorized
	case "not_found":
		return http.StatusNotFound
	case "already_resolved":
		return http.StatusConflict
	case "server_error":
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// WriteError sends a standardized error response per RFC 8628 section 3.5
func WriteError(w http.ResponseWriter, code string, description string) {
	WriteJSON(w, StatusFor(code), ErrorResponse{
		Error:            code,
		ErrorDescription: strings.TrimSpace(description),
	})
}

// WriteJSON encodes v with status
func WriteJSON(w http.ResponseWriter, status int, v any) {
	SetJSONHeaders(w)

	body, err := json.Marshal(v)
	if err != nil {
		WriteJSONError(w, err)
		return
	}

	w.WriteHeader(status)
	if _, err := w.Write(append(body, '\n')); err != nil {
		slog.Debug("writing response", "error", err)
	}
}

// WriteJSONError handles JSON encoding failures with a standardized response
func WriteJSONError(w http.ResponseWriter, err error) {
	slog.Error("encoding response", "error", err)

	SetJSONHeaders(w)
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write([]byte(`{"error":"server_error","error_description":"Failed to encode response"}` + "\n"))
}

// RejectDuplicates reports the first form parameter sent more than once.
// RFC 8628 section 3.1 forbids repeated parameters.
func RejectDuplicates(w http.ResponseWriter, r *http.Request) bool {
	for key, values := range r.Form {
		if len(values) > 1 {
			WriteError(w, "invalid_request", "Parameters MUST NOT be included more than once: "+key)
			return true
		}
	}
	return false
}
