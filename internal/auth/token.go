// Package auth inspects the auth token handed to the session. The core
// treats the token as opaque — issuance and verification are the server's
// business — but when the token happens to be a JWT the client can surface
// its subject and expiry so a stale session is flagged before dialing.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrOpaqueToken reports a token that is not a parseable JWT. It is not a
// failure: opaque tokens are passed through to the transport untouched.
var ErrOpaqueToken = errors.New("auth: token is not a JWT")

// Claims is the subset of claims the client cares about.
type Claims struct {
	UserID   string `json:"sub"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Inspect parses a JWT without verifying its signature. Verification happens
// server-side on connect; the client only reads the claims.
func Inspect(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpaqueToken, err)
	}
	return claims, nil
}

// Expired reports whether the token carried an expiry that has passed.
func (c *Claims) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(c.ExpiresAt.Time)
}
