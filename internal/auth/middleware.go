package auth

import (
	"errors"
	"log/slog"
	"strings"

	apierrors "github.com/eternisai/content-planner-proxy/internal/errors"
	"github.com/eternisai/content-planner-proxy/internal/logger"
	"github.com/gin-gonic/gin"
)

// Define a custom type for context keys to avoid collisions.
type contextKey string

const (
	// UserIDKey is the context key for Firebase UID (for Firestore paths).
	UserIDKey contextKey = "user_id"
	// UserEmailKey is the context key for the user's email, when the token carries one.
	UserEmailKey contextKey = "user_email"
)

type FirebaseAuthMiddleware struct {
	validator TokenValidator
	logger    *logger.Logger
}

func NewFirebaseAuthMiddleware(validator TokenValidator, log *logger.Logger) *FirebaseAuthMiddleware {
	return &FirebaseAuthMiddleware{
		validator: validator,
		logger:    log.WithComponent("auth"),
	}
}

// RequireAuth is a middleware that validates Firebase tokens and attaches the user to the context.
func (f *FirebaseAuthMiddleware) RequireAuth() gin.HandlerFunc {
	return f.handle(true)
}

// OptionalAuth lets anonymous requests through. A request that does send an Authorization
// header must still carry a valid token.
func (f *FirebaseAuthMiddleware) OptionalAuth() gin.HandlerFunc {
	return f.handle(false)
}

func (f *FirebaseAuthMiddleware) handle(required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Extract Authorization header
		authHeader := c.GetHeader("Authorization")

		if authHeader == "" {
			if required {
				apierrors.AbortWithUnauthorized(c, "Authorization header is required", nil)
				return
			}
			c.Next()
			return
		}

		// Check if it's a Bearer token
		if !strings.HasPrefix(authHeader, "Bearer ") {
			apierrors.AbortWithUnauthorized(c, "Authorization header must be a Bearer token", nil)
			return
		}

		// Extract the token
		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if token == "" {
			apierrors.AbortWithUnauthorized(c, "Bearer token is empty", nil)
			return
		}

		info, err := f.validator.ExtractUserInfo(c.Request.Context(), token)
		if err != nil {
			f.logger.WithContext(c.Request.Context()).Debug("token validation failed", slog.String("error", err.Error()))

			message := "Invalid or expired token"
			if errors.Is(err, ErrExpiredToken) {
				message = "Token has expired"
			}
			apierrors.AbortWithUnauthorized(c, message, nil)
			return
		}

		// Attach the user to both Gin context and request context
		ctx := logger.WithUserID(c.Request.Context(), info.UserID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(string(UserIDKey), info.UserID)
		if info.Email != "" {
			c.Set(string(UserEmailKey), info.Email)
		}

		c.Next()
	}
}

// GetUserID extracts the Firebase UID from the Gin context.
func GetUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get(string(UserIDKey))
	if !exists {
		return "", false
	}

	id, ok := userID.(string)
	return id, ok && id != ""
}

// GetUserEmail extracts the user's email from the Gin context.
func GetUserEmail(c *gin.Context) (string, bool) {
	email, exists := c.Get(string(UserEmailKey))
	if !exists {
		return "", false
	}

	e, ok := email.(string)
	return e, ok && e != ""
}
