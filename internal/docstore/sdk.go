package docstore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// SDKStore wraps the Firestore client of the Firebase Admin SDK.
type SDKStore struct {
	firestoreClient *firestore.Client
}

var _ Store = (*SDKStore)(nil)

// NewSDKStore creates a store from an initialized Firebase app.
func NewSDKStore(ctx context.Context, app *firebase.App) (*SDKStore, error) {
	firestoreClient, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get Firestore client: %w", err)
	}

	return &SDKStore{
		firestoreClient: firestoreClient,
	}, nil
}

// Close closes the Firestore client
func (s *SDKStore) Close() error {
	if s.firestoreClient != nil {
		return s.firestoreClient.Close()
	}
	return nil
}

// userAPIKey represents a user_api_keys document
type userAPIKey struct {
	GeminiAPIKey string    `firestore:"geminiApiKey"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

func (s *SDKStore) GetUserAPIKey(ctx context.Context, uid string) (string, error) {
	if err := validateID(uid); err != nil {
		return "", err
	}

	doc, err := s.firestoreClient.Collection(UserAPIKeysCollection).Doc(uid).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to get user API key: %w", err)
	}

	var record userAPIKey
	if err := doc.DataTo(&record); err != nil {
		return "", fmt.Errorf("failed to parse user API key: %w", err)
	}

	if record.GeminiAPIKey == "" {
		return "", ErrNotFound
	}

	return record.GeminiAPIKey, nil
}

func (s *SDKStore) SaveUserAPIKey(ctx context.Context, uid, apiKey string, at time.Time) error {
	if err := validateID(uid); err != nil {
		return err
	}

	_, err := s.firestoreClient.Collection(UserAPIKeysCollection).Doc(uid).Set(ctx, userAPIKey{
		GeminiAPIKey: apiKey,
		UpdatedAt:    at,
	})
	if err != nil {
		return fmt.Errorf("failed to save user API key: %w", err)
	}

	return nil
}

func (s *SDKStore) MarkPremium(ctx context.Context, uid string, at time.Time, source string) error {
	if err := validateID(uid); err != nil {
		return err
	}

	// Always use merge to avoid overwriting the rest of the profile
	_, err := s.firestoreClient.Collection(UsersCollection).Doc(uid).Set(ctx, map[string]interface{}{
		FieldIsPremium:          true,
		FieldPremiumActivatedAt: at,
		FieldPremiumSource:      source,
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to mark user premium: %w", err)
	}

	return nil
}
