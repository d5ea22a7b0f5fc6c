package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/lestrrat-go/jwx/jwk"
)

// JWTTokenValidator verifies Firebase ID tokens against Google's published signing keys.
type JWTTokenValidator struct {
	jwksURL    string
	projectID  string
	httpClient *http.Client

	mu     sync.RWMutex
	keySet jwk.Set

	// Unknown key IDs trigger at most one JWKS fetch per minRefreshInterval.
	refreshMu          sync.Mutex
	lastOnDemand       time.Time
	minRefreshInterval time.Duration
	now                func() time.Time
}

// DefaultMinKeyRefreshInterval bounds how often a token with an unknown kid may refetch the JWKS.
const DefaultMinKeyRefreshInterval = time.Minute

// NewTokenValidator fetches the JWKS and creates a validator for tokens of projectID.
func NewTokenValidator(ctx context.Context, jwksURL, projectID string, httpClient *http.Client) (*JWTTokenValidator, error) {
	if jwksURL == "" {
		return nil, ErrNoJWKS
	}
	if projectID == "" {
		return nil, errors.New("firebase project ID is required to validate tokens")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	v := &JWTTokenValidator{
		jwksURL:            jwksURL,
		projectID:          projectID,
		httpClient:         httpClient,
		minRefreshInterval: DefaultMinKeyRefreshInterval,
		now:                time.Now,
	}

	if err := v.RefreshKeys(ctx); err != nil {
		return nil, err
	}

	return v, nil
}

// RefreshKeys refreshes the JWKS from the URL. Google rotates the keys every few hours.
func (v *JWTTokenValidator) RefreshKeys(ctx context.Context) error {
	keySet, err := jwk.Fetch(ctx, v.jwksURL, jwk.WithHTTPClient(v.httpClient))
	if err != nil {
		return fmt.Errorf("failed to refresh JWKS from %s: %w", v.jwksURL, err)
	}

	v.mu.Lock()
	v.keySet = keySet
	v.mu.Unlock()

	return nil
}

// refreshForUnknownKid refetches the JWKS unless an on-demand refresh already ran recently.
// It reports whether a fetch happened.
func (v *JWTTokenValidator) refreshForUnknownKid(ctx context.Context) (bool, error) {
	v.refreshMu.Lock()
	defer v.refreshMu.Unlock()

	now := v.now()
	if !v.lastOnDemand.IsZero() && now.Sub(v.lastOnDemand) < v.minRefreshInterval {
		return false, nil
	}
	v.lastOnDemand = now

	return true, v.RefreshKeys(ctx)
}

func (v *JWTTokenValidator) lookupKey(kid string) (jwk.Key, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.keySet == nil {
		return nil, false
	}
	return v.keySet.LookupKeyID(kid)
}

// ExtractUserInfo validates the token signature, expiry, issuer and audience and returns the user.
func (v *JWTTokenValidator) ExtractUserInfo(ctx context.Context, tokenString string) (UserInfo, error) {
	// First, parse the token header to get the key ID without validation
	token, _, err := new(jwt.Parser).ParseUnverified(tokenString, &FirebaseClaims{})
	if err != nil {
		return UserInfo{}, fmt.Errorf("%w: failed to parse token header: %v", ErrInvalidToken, err)
	}

	// Get the key ID from the token header
	kid, ok := token.Header["kid"].(string)
	if !ok {
		return UserInfo{}, fmt.Errorf("%w: token header missing kid", ErrInvalidToken)
	}

	// Find the key with the matching ID
	key, found := v.lookupKey(kid)
	if !found {
		refreshed, err := v.refreshForUnknownKid(ctx)
		if err != nil {
			return UserInfo{}, fmt.Errorf("%w: key with ID %s not found and failed to refresh keys: %v", ErrInvalidToken, kid, err)
		}
		if !refreshed {
			return UserInfo{}, fmt.Errorf("%w: key with ID %s not found", ErrInvalidToken, kid)
		}

		key, found = v.lookupKey(kid)
		if !found {
			return UserInfo{}, fmt.Errorf("%w: key with ID %s not found", ErrInvalidToken, kid)
		}
	}

	// Get the raw key
	var rawKey interface{}
	if err := key.Raw(&rawKey); err != nil {
		return UserInfo{}, fmt.Errorf("%w: failed to get raw key: %v", ErrInvalidToken, err)
	}

	parser := jwt.Parser{ValidMethods: []string{jwt.SigningMethodRS256.Alg()}}
	validatedToken, err := parser.ParseWithClaims(
		tokenString,
		&FirebaseClaims{},
		func(token *jwt.Token) (interface{}, error) {
			return rawKey, nil
		},
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return UserInfo{}, ErrExpiredToken
		}
		return UserInfo{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := validatedToken.Claims.(*FirebaseClaims)
	if !ok || !validatedToken.Valid {
		return UserInfo{}, ErrInvalidToken
	}

	if !claims.VerifyIssuer(SecureTokenIssuer(v.projectID), true) {
		return UserInfo{}, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidToken, claims.Issuer)
	}

	if !claims.VerifyAudience(v.projectID, true) {
		return UserInfo{}, fmt.Errorf("%w: unexpected audience", ErrInvalidToken)
	}

	if claims.Subject == "" {
		return UserInfo{}, fmt.Errorf("%w: no subject (sub) found in token claims", ErrInvalidToken)
	}

	return UserInfo{
		UserID:         claims.Subject,
		Email:          claims.Email,
		SignInProvider: claims.Firebase.SignInProvider,
	}, nil
}
