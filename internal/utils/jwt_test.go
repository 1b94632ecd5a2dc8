package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAccessToken(t *testing.T) {
	tok, err := NewAccessToken("s3cret", TokenClaims{Subject: "staff-1", Role: "STAFF", TTL: time.Hour})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.Exp, 5*time.Second)

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(tok.Token, claims, func(*jwt.Token) (interface{}, error) { return []byte("s3cret"), nil })
	require.NoError(t, err)
	assert.Equal(t, "staff-1", claims["sub"])
	assert.Equal(t, "STAFF", claims["role"])
	_, hasDevice := claims["device"]
	assert.False(t, hasDevice)
}

func TestNewAccessTokenValidation(t *testing.T) {
	_, err := NewAccessToken("", TokenClaims{Subject: "a", Role: "STAFF"})
	assert.Error(t, err)
	_, err = NewAccessToken("k", TokenClaims{Role: "STAFF"})
	assert.Error(t, err)

	tok, err := NewAccessToken("k", TokenClaims{Subject: "gate", Role: "SCANNER", Device: "kiosk-1"})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(12*time.Hour), tok.Exp, 5*time.Second)
}
