package services

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthService_RoundTrip(t *testing.T) {
	svc := NewAuthService("secret", time.Hour)

	token, err := svc.GenerateToken("alice")
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "alice", claims.Subject)
}

func TestAuthService_Expired(t *testing.T) {
	svc := NewAuthService("secret", time.Minute).(*authService)
	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, err := svc.GenerateToken("alice")
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestAuthService_WrongSecret(t *testing.T) {
	token, err := NewAuthService("one", time.Hour).GenerateToken("alice")
	require.NoError(t, err)

	_, err = NewAuthService("two", time.Hour).ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthService_RejectsNoneAlgAndEmptyUser(t *testing.T) {
	svc := NewAuthService("secret", time.Hour)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Username: "alice"})
	raw, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = svc.ValidateToken(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)

	anonymous := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{})
	raw, err = anonymous.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = svc.ValidateToken(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.ValidateToken("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
