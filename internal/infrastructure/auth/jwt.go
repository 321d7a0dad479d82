// Package auth verifies the operator bearer tokens that guard the sync API.
package auth

import (
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/konozy/ordersync/internal/infrastructure/config"
)

// Scopes granted to operator tokens
const (
	ScopeSyncTrigger = "sync:trigger"
	ScopeSyncRead    = "sync:read"
)

// Common errors
var (
	ErrMissingSecret    = errors.New("auth: jwt secret is required")
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrTokenNotYetValid = errors.New("token is not yet valid")
	ErrMissingSubject   = errors.New("missing subject in claims")
	ErrInvalidTTL       = errors.New("auth: token ttl must be positive")
)

// Claims represents operator token claims
type Claims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes,omitempty"`
}

// HasScope checks if the claims grant a specific scope
func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// GetExpiresAtTime returns the token's expiration time as time.Time
func (c *Claims) GetExpiresAtTime() time.Time {
	if c.ExpiresAt != nil {
		return c.ExpiresAt.Time
	}
	return time.Time{}
}

// TokenService issues and validates HS256 operator tokens
type TokenService struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// TokenOption is a functional option for TokenService
type TokenOption func(*TokenService)

// WithTokenClock sets the clock used for issuing and validating tokens
func WithTokenClock(now func() time.Time) TokenOption {
	return func(s *TokenService) {
		s.now = now
	}
}

// NewTokenService creates a new token service
func NewTokenService(cfg config.JWTConfig, opts ...TokenOption) (*TokenService, error) {
	if cfg.Secret == "" {
		return nil, ErrMissingSecret
	}
	s := &TokenService{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue signs a token for subject valid for ttl
func (s *TokenService) Issue(subject string, ttl time.Duration, scopes ...string) (string, error) {
	if subject == "" {
		return "", ErrMissingSubject
	}
	if ttl <= 0 {
		return "", ErrInvalidTTL
	}

	now := s.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    s.issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Scopes: scopes,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Validate parses tokenString and returns its claims. Tokens must be HS256,
// carry an expiry and a subject, and match the configured issuer.
func (s *TokenService) Validate(tokenString string) (*Claims, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, parserOpts...)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenNotValidYet):
			return nil, ErrTokenNotYetValid
		default:
			return nil, ErrInvalidToken
		}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}
	return claims, nil
}
