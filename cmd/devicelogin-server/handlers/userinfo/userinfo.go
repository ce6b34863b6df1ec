// Package userinfo identifies the user behind a bearer access token
package userinfo

import (
	"net/http"

	"github.com/wrale/devicelogin/cmd/devicelogin-server/handlers/common"
	"github.com/wrale/devicelogin/internal/session"
)

// Response is the userinfo body
type Response struct {
	Subject  string `json:"sub"`
	ClientID string `json:"client_id,omitempty"`
	Scope    string `json:"scope,omitempty"`
}

// Handler serves GET /userinfo behind session.RequireAccessToken
type Handler struct{}

// New creates the userinfo handler
func New() *Handler {
	return &Handler{}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims := session.FromContext(r.Context())
	if claims == nil {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		common.WriteJSON(w, http.StatusUnauthorized, common.ErrorResponse{Error: "invalid_token"})
		return
	}

	common.WriteJSON(w, http.StatusOK, Response{
		Subject:  claims.Subject,
		ClientID: claims.ClientID,
		Scope:    claims.Scope,
	})
}
