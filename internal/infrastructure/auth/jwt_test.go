package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/konozy/ordersync/internal/infrastructure/config"
)

const testSecret = "test-secret-key-at-least-32-chars"

func newTestTokenService(t *testing.T, now time.Time) *TokenService {
	t.Helper()
	svc, err := NewTokenService(
		config.JWTConfig{Secret: testSecret, Issuer: "konozy"},
		WithTokenClock(func() time.Time { return now }),
	)
	require.NoError(t, err)
	return svc
}

func TestNewTokenService_RequiresSecret(t *testing.T) {
	_, err := NewTokenService(config.JWTConfig{Issuer: "konozy"})
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestIssueAndValidate(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestTokenService(t, now)

	token, err := svc.Issue("ops@konozy.com", time.Hour, ScopeSyncTrigger, ScopeSyncRead)
	require.NoError(t, err)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "ops@konozy.com", claims.Subject)
	assert.Equal(t, "konozy", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
	assert.Equal(t, now.Add(time.Hour), claims.GetExpiresAtTime())
	assert.True(t, claims.HasScope(ScopeSyncTrigger))
	assert.True(t, claims.HasScope(ScopeSyncRead))
	assert.False(t, claims.HasScope("sync:admin"))
}

func TestIssue_Validation(t *testing.T) {
	svc := newTestTokenService(t, time.Now())

	_, err := svc.Issue("", time.Hour)
	assert.ErrorIs(t, err, ErrMissingSubject)

	_, err = svc.Issue("ops", 0)
	assert.ErrorIs(t, err, ErrInvalidTTL)
}

func TestValidate_Expired(t *testing.T) {
	issued := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	token, err := newTestTokenService(t, issued).Issue("ops", time.Minute)
	require.NoError(t, err)

	_, err = newTestTokenService(t, issued.Add(2*time.Minute)).Validate(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestValidate_NotYetValid(t *testing.T) {
	issued := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	token, err := newTestTokenService(t, issued).Issue("ops", time.Hour)
	require.NoError(t, err)

	_, err = newTestTokenService(t, issued.Add(-time.Hour)).Validate(token)
	assert.ErrorIs(t, err, ErrTokenNotYetValid)
}

func TestValidate_Rejects(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestTokenService(t, now)

	sign := func(method jwt.SigningMethod, key any, claims jwt.Claims) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	valid := jwt.RegisteredClaims{
		Issuer:    "konozy",
		Subject:   "ops",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"garbage", "not-a-token", ErrInvalidToken},
		{"wrong secret", sign(jwt.SigningMethodHS256, []byte("another-secret-key-of-32-characters"), valid), ErrInvalidToken},
		{"wrong algorithm", sign(jwt.SigningMethodHS512, []byte(testSecret), valid), ErrInvalidToken},
		{"wrong issuer", sign(jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{
			Issuer: "someone-else", Subject: "ops", ExpiresAt: valid.ExpiresAt,
		}), ErrInvalidToken},
		{"no expiry", sign(jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{
			Issuer: "konozy", Subject: "ops",
		}), ErrInvalidToken},
		{"no subject", sign(jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{
			Issuer: "konozy", ExpiresAt: valid.ExpiresAt,
		}), ErrMissingSubject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Validate(tt.token)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
