package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/studyplan-api/internal/models"
	appErrors "github.com/noah-isme/studyplan-api/pkg/errors"
)

func signToken(t *testing.T, secret string, method jwt.SigningMethod, claims models.JWTClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func validClaims() models.JWTClaims {
	return models.JWTClaims{
		UserID: "student-1",
		Role:   models.RoleStudent,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "studyplan",
			Audience:  jwt.ClaimStrings{"studyplan-api"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestAuthServiceValidateToken(t *testing.T) {
	svc := NewAuthService(zap.NewNop(), AuthConfig{AccessTokenSecret: "secret", Issuer: "studyplan", Audience: []string{"studyplan-api"}})

	claims, err := svc.ValidateToken(signToken(t, "secret", jwt.SigningMethodHS256, validClaims()))
	require.NoError(t, err)
	assert.Equal(t, "student-1", claims.UserID)
	assert.Equal(t, models.RoleStudent, claims.Role)
}

func TestAuthServiceRejectsTokens(t *testing.T) {
	svc := NewAuthService(nil, AuthConfig{AccessTokenSecret: "secret", Issuer: "studyplan", Audience: []string{"studyplan-api"}})

	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	wrongIssuer := validClaims()
	wrongIssuer.Issuer = "elsewhere"
	noUser := validClaims()
	noUser.UserID = ""

	tokens := map[string]string{
		"bad signature": signToken(t, "other", jwt.SigningMethodHS256, validClaims()),
		"wrong method":  signToken(t, "secret", jwt.SigningMethodHS512, validClaims()),
		"expired":       signToken(t, "secret", jwt.SigningMethodHS256, expired),
		"wrong issuer":  signToken(t, "secret", jwt.SigningMethodHS256, wrongIssuer),
		"missing user":  signToken(t, "secret", jwt.SigningMethodHS256, noUser),
		"garbage":       "not-a-token",
	}
	for name, token := range tokens {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ValidateToken(token)
			assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
		})
	}
}
