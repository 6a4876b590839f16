package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthService_RoundTrip(t *testing.T) {
	svc := NewAuthService(&config.Config{JWTSecret: "secret", JWTExpiry: time.Hour})

	tok, err := svc.IssueToken(42)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(tok)
	require.NoError(t, err)
	assert.Equal(t, 42, claims.UserID)
	assert.Equal(t, TokenTypeStudent, claims.TokenType)
	assert.Equal(t, "42", claims.Subject)
}

func TestAuthService_Rejects(t *testing.T) {
	svc := NewAuthService(&config.Config{JWTSecret: "secret", JWTExpiry: time.Hour})
	other := NewAuthService(&config.Config{JWTSecret: "other", JWTExpiry: time.Hour})
	expired := NewAuthService(&config.Config{JWTSecret: "secret", JWTExpiry: -time.Minute})

	foreign, err := other.IssueToken(1)
	require.NoError(t, err)
	stale, err := expired.IssueToken(1)
	require.NoError(t, err)
	anonymous, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{TokenType: TokenTypeStudent}).SignedString([]byte("secret"))
	require.NoError(t, err)
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{TokenType: TokenTypeStudent, UserID: 1}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not-a-jwt"},
		{name: "wrong secret", token: foreign},
		{name: "expired", token: stale},
		{name: "no user", token: anonymous},
		{name: "alg none", token: unsigned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ValidateToken(tt.token)
			assert.Error(t, err)
		})
	}
}
