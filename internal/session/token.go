// Package session signs and verifies the HS256 JWTs used by the authorization
// server: access tokens handed to devices, and session tokens that identify the
// user approving a request.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/wrale/devicelogin/internal/deviceflow"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
	ErrWrongUse     = errors.New("token not valid for this use")
)

// Use distinguishes access tokens from session tokens signed with the same key
type Use string

const (
	UseAccess  Use = "access"
	UseSession Use = "session"
)

// DefaultAccessTokenTTL is the lifetime of issued access tokens
const DefaultAccessTokenTTL = time.Hour

// Claims are the JWT claims carried by every token
type Claims struct {
	jwt.RegisteredClaims
	Use      Use    `json:"use"`
	ClientID string `json:"client_id,omitempty"`
	Scope    string `json:"scope,omitempty"`
}

// Issuer signs and verifies tokens with a shared HMAC secret
type Issuer struct {
	secret []byte
	name   string
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an issuer. name becomes the iss claim and ttl the access
// token lifetime (DefaultAccessTokenTTL when zero).
func NewIssuer(secret []byte, name string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}
	return &Issuer{
		secret: secret,
		name:   name,
		ttl:    ttl,
		now:    time.Now,
	}
}

// IssueToken mints an access token for subject. It satisfies deviceflow.TokenIssuer.
func (i *Issuer) IssueToken(ctx context.Context, subject, clientID, scope string) (*deviceflow.TokenResponse, error) {
	if subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	signed, err := i.sign(subject, UseAccess, clientID, scope, i.ttl)
	if err != nil {
		return nil, err
	}

	return &deviceflow.TokenResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int(i.ttl.Seconds()),
		Scope:       scope,
	}, nil
}

// SessionToken mints a session token identifying the user behind the approval page
func (i *Issuer) SessionToken(subject string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return i.sign(subject, UseSession, "", "", ttl)
}

func (i *Issuer) sign(subject string, use Use, clientID, scope string, ttl time.Duration) (string, error) {
	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    i.name,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Use:      use,
		ClientID: clientID,
		Scope:    scope,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify validates tokenString and checks that it was issued for use
func (i *Issuer) Verify(tokenString string, use Use) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	},
		jwt.WithTimeFunc(i.now),
		jwt.WithIssuer(i.name),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	if claims.Use != use {
		return nil, ErrWrongUse
	}

	return claims, nil
}

// Ensure Issuer can mint device tokens
var _ deviceflow.TokenIssuer = (*Issuer)(nil)
