// Package utils holds token helpers shared by the server tests and the ops
// tooling.
package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessToken is a signed JWT along with its expiry.
type AccessToken struct {
	Token string
	Exp   time.Time
}

// TokenClaims describes who a token is for. Device is set for gate kiosks
// so the rate limiter can key its buckets per device.
type TokenClaims struct {
	Subject string
	Role    string
	Device  string
	TTL     time.Duration
}

// NewAccessToken builds and signs an HS256 JWT carrying sub, role, the
// optional device claim, exp and iat. The shape matches what
// middleware.JWTAuth accepts.
func NewAccessToken(secret string, tc TokenClaims) (AccessToken, error) {
	if secret == "" {
		return AccessToken{}, errors.New("empty signing secret")
	}
	if tc.Subject == "" || tc.Role == "" {
		return AccessToken{}, errors.New("subject and role are required")
	}
	if tc.TTL <= 0 {
		tc.TTL = 12 * time.Hour
	}
	now := time.Now().UTC()
	exp := now.Add(tc.TTL)
	claims := jwt.MapClaims{
		"sub":  tc.Subject,
		"role": tc.Role,
		"exp":  exp.Unix(),
		"iat":  now.Unix(),
	}
	if tc.Device != "" {
		claims["device"] = tc.Device
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}
