package auth

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

// NewFirebaseApp initializes the Firebase Admin SDK from a service account key.
// An empty key falls back to Application Default Credentials.
func NewFirebaseApp(ctx context.Context, projectID, credJSON string) (*firebase.App, error) {
	var opts []option.ClientOption
	if credJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credJSON)))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	return app, nil
}

// FirebaseTokenValidator verifies ID tokens with the Firebase Admin SDK.
type FirebaseTokenValidator struct {
	authClient *auth.Client
}

func NewFirebaseTokenValidator(ctx context.Context, app *firebase.App) (*FirebaseTokenValidator, error) {
	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get Firebase Auth client: %w", err)
	}

	return &FirebaseTokenValidator{
		authClient: authClient,
	}, nil
}

func (f *FirebaseTokenValidator) ExtractUserInfo(ctx context.Context, tokenString string) (UserInfo, error) {
	token, err := f.authClient.VerifyIDToken(ctx, tokenString)
	if err != nil {
		if auth.IsIDTokenExpired(err) {
			return UserInfo{}, ErrExpiredToken
		}
		return UserInfo{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	info := UserInfo{
		UserID:         token.UID,
		SignInProvider: token.Firebase.SignInProvider,
	}

	if email, ok := token.Claims["email"].(string); ok {
		info.Email = email
	}

	if info.UserID == "" {
		return UserInfo{}, fmt.Errorf("%w: no user ID found in Firebase token", ErrInvalidToken)
	}

	return info, nil
}
