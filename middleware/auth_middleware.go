package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/upb/ai-gateway/utils"
)

// ErrInvalidToken is returned when a bearer token does not match
var ErrInvalidToken = errors.New("invalid admin token")

// TokenValidator defines the interface for validating admin bearer tokens
type TokenValidator interface {
	// ValidateToken returns nil when the token grants admin access
	ValidateToken(ctx context.Context, token string) error
}

// StaticToken validates against one shared secret
type StaticToken string

// ValidateToken compares in constant time
func (s StaticToken) ValidateToken(_ context.Context, token string) error {
	if subtle.ConstantTimeCompare([]byte(s), []byte(token)) != 1 {
		return ErrInvalidToken
	}
	return nil
}

// AuthMiddleware guards the administrative routes
type AuthMiddleware struct {
	validator TokenValidator
	logger    *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware. A nil validator leaves
// admin routes open, for local development without an admin token.
func NewAuthMiddleware(validator TokenValidator, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		validator: validator,
		logger:    logger,
	}
}

// RequireAdmin rejects requests without a valid admin bearer token
func (m *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if m.validator == nil {
			next.ServeHTTP(w, r.WithContext(WithAdmin(ctx)))
			return
		}

		requestID := GetRequestIDFromContext(ctx)

		token := extractBearerToken(r)
		if token == "" {
			m.logger.Warn("missing admin token",
				zap.String("request_id", requestID),
				zap.String("path", r.URL.Path))
			_ = utils.WriteUnauthorized(w, "Missing or invalid authorization")
			return
		}

		if err := m.validator.ValidateToken(ctx, token); err != nil {
			m.logger.Warn("admin token rejected",
				zap.String("request_id", requestID),
				zap.String("path", r.URL.Path),
				zap.Error(err))
			_ = utils.WriteUnauthorized(w, "Invalid admin token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithAdmin(ctx)))
	})
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}

	return strings.TrimSpace(token)
}
