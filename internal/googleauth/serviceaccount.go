// Package googleauth mints Google OAuth access tokens for a service account without the
// Google client libraries: it signs a JWT assertion and exchanges it at the token endpoint.
package googleauth

import (
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const (
	// DefaultTokenURL is Google's OAuth 2.0 token endpoint.
	DefaultTokenURL = "https://oauth2.googleapis.com/token"

	// ScopeDatastore grants access to Cloud Firestore.
	ScopeDatastore = "https://www.googleapis.com/auth/datastore"

	assertionLifetime = time.Hour
)

// ServiceAccount is the subset of a Google service account key file used for signing.
type ServiceAccount struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	TokenURI     string `json:"token_uri"`

	key *rsa.PrivateKey
}

// ParseServiceAccount decodes a JSON key file and its PEM private key (PKCS#8 or PKCS#1).
func ParseServiceAccount(data []byte) (*ServiceAccount, error) {
	var sa ServiceAccount
	if err := json.Unmarshal(data, &sa); err != nil {
		return nil, fmt.Errorf("failed to decode service account JSON: %w", err)
	}

	if sa.ClientEmail == "" {
		return nil, errors.New("service account is missing client_email")
	}
	if sa.PrivateKey == "" {
		return nil, errors.New("service account is missing private_key")
	}

	// Keys pasted into env vars often carry literal "\n" sequences.
	pemKey := strings.ReplaceAll(sa.PrivateKey, `\n`, "\n")

	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(pemKey))
	if err != nil {
		return nil, fmt.Errorf("failed to parse service account private key: %w", err)
	}
	sa.key = key

	if sa.TokenURI == "" {
		sa.TokenURI = DefaultTokenURL
	}

	return &sa, nil
}

// SignAssertion builds the RS256 JWT bearer assertion for the given scopes, valid for one hour from now.
func SignAssertion(sa *ServiceAccount, scopes []string, now time.Time) (string, error) {
	if sa == nil || sa.key == nil {
		return "", errors.New("service account has no parsed private key")
	}

	claims := jwt.MapClaims{
		"iss":   sa.ClientEmail,
		"scope": strings.Join(scopes, " "),
		"aud":   sa.TokenURI,
		"iat":   now.Unix(),
		"exp":   now.Add(assertionLifetime).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if sa.PrivateKeyID != "" {
		token.Header["kid"] = sa.PrivateKeyID
	}

	signed, err := token.SignedString(sa.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign assertion: %w", err)
	}

	return signed, nil
}
