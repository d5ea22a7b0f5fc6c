// Package docstore reads and writes the few user documents the proxy touches.
package docstore

import (
	"context"
	"errors"
	"time"
)

const (
	// UserAPIKeysCollection holds one document per user with their own Gemini key.
	UserAPIKeysCollection = "user_api_keys"
	// UsersCollection holds user profiles, including the premium flag.
	UsersCollection = "users"

	FieldGeminiAPIKey       = "geminiApiKey"
	FieldUpdatedAt          = "updatedAt"
	FieldIsPremium          = "isPremium"
	FieldPremiumActivatedAt = "premiumActivatedAt"
	FieldPremiumSource      = "premiumSource"
)

var (
	// ErrNotFound is returned when a document or field does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrInvalidID is returned for document IDs that would escape their collection.
	ErrInvalidID = errors.New("invalid document ID")
)

// Store is the document store used by the handlers.
type Store interface {
	// GetUserAPIKey returns the user's stored Gemini key or ErrNotFound.
	GetUserAPIKey(ctx context.Context, uid string) (string, error)
	// SaveUserAPIKey stores the user's Gemini key.
	SaveUserAPIKey(ctx context.Context, uid, apiKey string, at time.Time) error
	// MarkPremium flags users/{uid} as premium, keeping the document's other fields.
	MarkPremium(ctx context.Context, uid string, at time.Time, source string) error
}

func validateID(id string) error {
	if id == "" || id == "." || id == ".." || len(id) > 1500 {
		return ErrInvalidID
	}
	for _, r := range id {
		if r == '/' {
			return ErrInvalidID
		}
	}
	return nil
}
