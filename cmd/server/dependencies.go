package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	firebase "firebase.google.com/go/v4"
	"github.com/eternisai/content-planner-proxy/internal/auth"
	"github.com/eternisai/content-planner-proxy/internal/config"
	"github.com/eternisai/content-planner-proxy/internal/docstore"
	"github.com/eternisai/content-planner-proxy/internal/googleauth"
	"github.com/eternisai/content-planner-proxy/internal/logger"
	"github.com/eternisai/content-planner-proxy/internal/metrics"
)

// dependencies are the process-wide clients that need configuration-dependent setup.
type dependencies struct {
	validator auth.TokenValidator
	store     docstore.Store

	// jwks is set when ID tokens are verified against the JWKS endpoint.
	jwks *auth.JWTTokenValidator
	// tokens is set when the REST document store is used.
	tokens *googleauth.TokenSource

	closers []func() error
}

func (d *dependencies) Close() {
	for _, closeFn := range d.closers {
		if err := closeFn(); err != nil {
			slog.Warn("failed to close dependency", slog.String("error", err.Error()))
		}
	}
}

func newDependencies(ctx context.Context, cfg *config.Config, googleHTTP, firestoreHTTP *http.Client, m *metrics.Metrics, log *logger.Logger) (*dependencies, error) {
	deps := &dependencies{}

	// The Admin SDK is only initialized when a component needs it.
	var app *firebase.App
	if cfg.ValidatorType == "firebase" || cfg.DocstoreBackend == "sdk" {
		var err error
		app, err = auth.NewFirebaseApp(ctx, cfg.FirebaseProjectID, cfg.FirebaseServiceAccountKey)
		if err != nil {
			return nil, err
		}
	}

	validator, err := newTokenValidator(ctx, cfg, app, googleHTTP, log)
	if err != nil {
		return nil, err
	}
	deps.validator = validator
	if jwks, ok := validator.(*auth.JWTTokenValidator); ok {
		deps.jwks = jwks
	}

	switch cfg.DocstoreBackend {
	case "sdk":
		store, err := docstore.NewSDKStore(ctx, app)
		if err != nil {
			return nil, err
		}
		deps.store = store
		deps.closers = append(deps.closers, store.Close)
		log.Info("using Firestore SDK document store")

	case "rest":
		if cfg.FirebaseServiceAccountKey == "" {
			return nil, errors.New("FIREBASE_SERVICE_ACCOUNT_KEY is required for the rest document store")
		}

		sa, err := googleauth.ParseServiceAccount([]byte(cfg.FirebaseServiceAccountKey))
		if err != nil {
			return nil, err
		}

		projectID := cfg.FirebaseProjectID
		if projectID == "" {
			projectID = sa.ProjectID
		}

		deps.tokens = googleauth.NewTokenSource(sa, googleHTTP, log, googleauth.WithFetchObserver(m))
		deps.store = docstore.NewRESTStore(cfg.FirestoreURL, projectID, deps.tokens, firestoreHTTP, log)
		log.Info("using Firestore REST document store", slog.String("project_id", projectID))

	default:
		return nil, fmt.Errorf("docstore backend must be either 'rest' or 'sdk', got %q", cfg.DocstoreBackend)
	}

	return deps, nil
}

func newTokenValidator(ctx context.Context, cfg *config.Config, app *firebase.App, httpClient *http.Client, log *logger.Logger) (auth.TokenValidator, error) {
	switch cfg.ValidatorType {
	case "firebase":
		log.Info("creating Firebase token validator", slog.String("project_id", cfg.FirebaseProjectID))
		return auth.NewFirebaseTokenValidator(ctx, app)

	case "jwk":
		if cfg.FirebaseProjectID == "" {
			return nil, errors.New("firebase project ID is required")
		}

		log.Info("creating JWT token validator", slog.String("jwks_url", cfg.JWTJWKSURL))
		return auth.NewTokenValidator(ctx, cfg.JWTJWKSURL, cfg.FirebaseProjectID, httpClient)

	default:
		return nil, fmt.Errorf("validator type must be either 'firebase' or 'jwk', got %q", cfg.ValidatorType)
	}
}
