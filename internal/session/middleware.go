package session

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// CookieName is the cookie carrying a session token on the approval page
const CookieName = "session"

type contextKey struct{}

// WithClaims returns a new context carrying verified claims
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, claims)
}

// FromContext returns the claims attached by Middleware, or nil
func FromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(contextKey{}).(*Claims)
	return claims
}

// UserID returns the authenticated subject, or "" when unauthenticated
func UserID(ctx context.Context) string {
	if claims := FromContext(ctx); claims != nil {
		return claims.Subject
	}
	return ""
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// tokenFromRequest prefers the Authorization header and falls back to the
// session cookie when allowed
func tokenFromRequest(r *http.Request, allowCookie bool) (string, string) {
	if r.Header.Get("Authorization") == "" && allowCookie {
		if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
			return c.Value, ""
		}
	}
	return extractBearerToken(r.Header.Get("Authorization"))
}

// RequireSession rejects requests without a valid session token, read from the
// Authorization header or the session cookie
func RequireSession(issuer *Issuer) func(http.Handler) http.Handler {
	return require(issuer, UseSession, true)
}

// RequireAccessToken rejects requests without a valid bearer access token
func RequireAccessToken(issuer *Issuer) func(http.Handler) http.Handler {
	return require(issuer, UseAccess, false)
}

func require(issuer *Issuer, use Use, allowCookie bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := tokenFromRequest(r, allowCookie)
			if errMsg != "" {
				unauthorized(w, errMsg)
				return
			}

			claims, err := issuer.Verify(token, use)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, ErrExpiredToken) {
					msg = "token expired"
				}
				unauthorized(w, msg)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
