package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/konozy/ordersync/internal/infrastructure/auth"
	"github.com/konozy/ordersync/internal/infrastructure/logger"
	"github.com/konozy/ordersync/internal/interfaces/http/dto"
)

// JWT context keys
const (
	JWTClaimsKey  = "jwt_claims"
	JWTSubjectKey = "jwt_subject"
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
)

// TokenVerifier validates bearer tokens
type TokenVerifier interface {
	Validate(token string) (*auth.Claims, error)
}

// Ensure the token service satisfies TokenVerifier
var _ TokenVerifier = (*auth.TokenService)(nil)

// JWTMiddlewareConfig holds configuration for JWT middleware
type JWTMiddlewareConfig struct {
	// Verifier is required for token validation
	Verifier TokenVerifier
	// SkipPaths are paths that don't require authentication
	SkipPaths []string
	// Logger for middleware logging
	Logger *zap.Logger
}

// DefaultJWTConfig returns default JWT middleware configuration
func DefaultJWTConfig(verifier TokenVerifier) JWTMiddlewareConfig {
	return JWTMiddlewareConfig{
		Verifier:  verifier,
		SkipPaths: []string{"/health"},
		Logger:    zap.NewNop(),
	}
}

// JWTAuth creates JWT authentication middleware
func JWTAuth(verifier TokenVerifier) gin.HandlerFunc {
	return JWTAuthWithConfig(DefaultJWTConfig(verifier))
}

// JWTAuthWithConfig creates JWT authentication middleware with custom config
func JWTAuthWithConfig(cfg JWTMiddlewareConfig) gin.HandlerFunc {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		for _, skip := range cfg.SkipPaths {
			if c.Request.URL.Path == skip {
				c.Next()
				return
			}
		}

		authHeader := c.GetHeader(AuthHeaderKey)
		if authHeader == "" {
			handleAuthError(c, cfg, auth.ErrInvalidToken, "Missing authorization header")
			return
		}
		tokenString, ok := strings.CutPrefix(authHeader, BearerPrefix)
		if !ok || tokenString == "" {
			handleAuthError(c, cfg, auth.ErrInvalidToken, "Invalid authorization header format")
			return
		}

		claims, err := cfg.Verifier.Validate(tokenString)
		if err != nil {
			handleAuthError(c, cfg, err, "Token validation failed")
			return
		}

		c.Set(JWTClaimsKey, claims)
		c.Set(JWTSubjectKey, claims.Subject)
		c.Request = c.Request.WithContext(logger.WithSubject(c.Request.Context(), claims.Subject))

		cfg.Logger.Debug("JWT authentication successful", zap.String("subject", claims.Subject))
		c.Next()
	}
}

// handleAuthError aborts the request with 401
func handleAuthError(c *gin.Context, cfg JWTMiddlewareConfig, err error, message string) {
	logger.Enrich(c.Request.Context(), cfg.Logger).Warn("JWT authentication failed",
		zap.Error(err),
		zap.String("message", message),
		zap.String("path", c.Request.URL.Path),
	)

	code, msg := dto.ErrCodeUnauthorized, "Authentication required"
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		code, msg = dto.ErrCodeTokenExpired, "Token has expired"
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrMissingSubject):
		code, msg = dto.ErrCodeTokenInvalid, "Invalid token"
	}

	c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewErrorResponseWithRequestID(code, msg, GetRequestID(c)))
}

// RequireScope rejects authenticated callers whose token lacks scope
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetJWTClaims(c)
		if claims == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeUnauthorized, "Authentication required", GetRequestID(c)))
			return
		}
		if !claims.HasScope(scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeForbidden, "Missing scope "+scope, GetRequestID(c)))
			return
		}
		c.Next()
	}
}

// GetJWTClaims retrieves JWT claims from gin.Context
func GetJWTClaims(c *gin.Context) *auth.Claims {
	if claims, exists := c.Get(JWTClaimsKey); exists {
		if jwtClaims, ok := claims.(*auth.Claims); ok {
			return jwtClaims
		}
	}
	return nil
}

// GetJWTSubject retrieves the token subject from gin.Context
func GetJWTSubject(c *gin.Context) string {
	return c.GetString(JWTSubjectKey)
}
