package auth

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v4"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrNoJWKS       = errors.New("no JWKS URL provided")
)

// FirebaseClaims represents the claims of a Firebase ID token.
type FirebaseClaims struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Firebase struct {
		SignInProvider string `json:"sign_in_provider"`
	} `json:"firebase"`
	jwt.RegisteredClaims
}

// UserInfo contains extracted user information from a token.
type UserInfo struct {
	UserID         string // Firebase UID, used for Firestore document paths
	Email          string
	SignInProvider string // e.g., "anonymous", "google.com", "password"
}

// TokenValidator verifies a Firebase ID token.
type TokenValidator interface {
	ExtractUserInfo(ctx context.Context, tokenString string) (UserInfo, error)
}

// SecureTokenIssuer returns the issuer Firebase puts into ID tokens of a project.
func SecureTokenIssuer(projectID string) string {
	return "https://securetoken.google.com/" + projectID
}
