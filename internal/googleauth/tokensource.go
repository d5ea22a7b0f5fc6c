package googleauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/eternisai/content-planner-proxy/internal/logger"
	"golang.org/x/oauth2"
)

const (
	jwtBearerGrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	// DefaultExpirySkew refreshes the token this long before it actually expires.
	DefaultExpirySkew = 60 * time.Second
)

// TokenError is returned for a non-2xx response from the token endpoint.
type TokenError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *TokenError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("token endpoint returned %d: %s: %s", e.StatusCode, e.Code, e.Description)
	}
	return fmt.Sprintf("token endpoint returned %d: %s", e.StatusCode, e.Code)
}

// FetchObserver is notified after every token endpoint round trip.
type FetchObserver interface {
	ObserveTokenFetch(err error, duration time.Duration)
}

// TokenSource exchanges service account assertions for access tokens and caches the result.
// It implements oauth2.TokenSource.
type TokenSource struct {
	sa       *ServiceAccount
	scopes   []string
	client   *http.Client
	skew     time.Duration
	now      func() time.Time
	observer FetchObserver
	logger   *logger.Logger

	mu    sync.Mutex
	token *oauth2.Token
}

var _ oauth2.TokenSource = (*TokenSource)(nil)

// TokenSourceOption configures a TokenSource.
type TokenSourceOption func(*TokenSource)

// WithScopes overrides the requested scopes (default: datastore).
func WithScopes(scopes ...string) TokenSourceOption {
	return func(ts *TokenSource) { ts.scopes = scopes }
}

// WithExpirySkew overrides DefaultExpirySkew.
func WithExpirySkew(skew time.Duration) TokenSourceOption {
	return func(ts *TokenSource) { ts.skew = skew }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) TokenSourceOption {
	return func(ts *TokenSource) { ts.now = now }
}

// WithFetchObserver attaches token fetch instrumentation.
func WithFetchObserver(observer FetchObserver) TokenSourceOption {
	return func(ts *TokenSource) { ts.observer = observer }
}

// NewTokenSource creates a caching token source for the service account.
func NewTokenSource(sa *ServiceAccount, client *http.Client, log *logger.Logger, opts ...TokenSourceOption) *TokenSource {
	if client == nil {
		client = http.DefaultClient
	}

	ts := &TokenSource{
		sa:     sa,
		scopes: []string{ScopeDatastore},
		client: client,
		skew:   DefaultExpirySkew,
		now:    time.Now,
		logger: log.WithComponent("googleauth"),
	}

	for _, opt := range opts {
		opt(ts)
	}

	return ts
}

// Token implements oauth2.TokenSource.
func (ts *TokenSource) Token() (*oauth2.Token, error) {
	return ts.TokenContext(context.Background())
}

// TokenContext returns the cached token while it is fresh, otherwise fetches a new one.
// Concurrent callers wait for a single in-flight fetch.
func (ts *TokenSource) TokenContext(ctx context.Context) (*oauth2.Token, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != nil && ts.now().Before(ts.token.Expiry.Add(-ts.skew)) {
		return ts.token, nil
	}

	// Expired or never fetched: never hand out a stale token, even if the fetch below fails.
	ts.token = nil

	start := time.Now()
	token, err := ts.fetch(ctx)
	if ts.observer != nil {
		ts.observer.ObserveTokenFetch(err, time.Since(start))
	}
	if err != nil {
		ts.logger.LogError(ctx, err, "failed to fetch access token")
		return nil, err
	}

	ts.logger.WithContext(ctx).Debug("fetched access token",
		slog.Time("expiry", token.Expiry))

	ts.token = token
	return token, nil
}

// Invalidate drops the cached token so the next call fetches a new one.
func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	ts.token = nil
	ts.mu.Unlock()
}

// ProjectID returns the service account's project.
func (ts *TokenSource) ProjectID() string {
	return ts.sa.ProjectID
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (ts *TokenSource) fetch(ctx context.Context) (*oauth2.Token, error) {
	now := ts.now()

	assertion, err := SignAssertion(ts.sa, ts.scopes, now)
	if err != nil {
		return nil, err
	}

	form := url.Values{
		"grant_type": {jwtBearerGrantType},
		"assertion":  {assertion},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.sa.TokenURI, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	var tr tokenResponse
	decodeErr := json.Unmarshal(body, &tr)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		tokenErr := &TokenError{StatusCode: resp.StatusCode, Code: tr.Error, Description: tr.ErrorDescription}
		if tokenErr.Code == "" {
			tokenErr.Code = http.StatusText(resp.StatusCode)
		}
		return nil, tokenErr
	}

	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", decodeErr)
	}
	if tr.AccessToken == "" {
		return nil, errors.New("token response has no access_token")
	}

	tokenType := tr.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	return &oauth2.Token{
		AccessToken: tr.AccessToken,
		TokenType:   tokenType,
		Expiry:      now.Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}
