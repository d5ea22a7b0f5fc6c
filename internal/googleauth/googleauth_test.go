package googleauth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eternisai/content-planner-proxy/internal/logger"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
)

func rsaKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	testKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testKey = key
	})
	return testKey
}

func serviceAccountJSON(t *testing.T, tokenURI string) []byte {
	t.Helper()

	der, err := x509.MarshalPKCS8PrivateKey(rsaKey(t))
	require.NoError(t, err)
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	data, err := json.Marshal(map[string]string{
		"type":           "service_account",
		"project_id":     "planner-test",
		"private_key_id": "kid-1",
		"private_key":    string(pemKey),
		"client_email":   "svc@planner-test.iam.gserviceaccount.com",
		"token_uri":      tokenURI,
	})
	require.NoError(t, err)
	return data
}

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: slog.LevelError})
}

func TestParseServiceAccount(t *testing.T) {
	sa, err := ParseServiceAccount(serviceAccountJSON(t, ""))
	require.NoError(t, err)

	assert.Equal(t, "planner-test", sa.ProjectID)
	assert.Equal(t, DefaultTokenURL, sa.TokenURI)
	assert.NotNil(t, sa.key)
}

func TestParseServiceAccountPKCS1WithEscapedNewlines(t *testing.T) {
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(rsaKey(t))})
	escaped := strings.ReplaceAll(string(pemKey), "\n", `\n`)

	data, err := json.Marshal(map[string]string{
		"client_email": "svc@example.com",
		"private_key":  escaped,
	})
	require.NoError(t, err)

	sa, err := ParseServiceAccount(data)
	require.NoError(t, err)
	assert.Equal(t, "svc@example.com", sa.ClientEmail)
}

func TestParseServiceAccountErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"invalid json", "{"},
		{"missing email", `{"private_key":"x"}`},
		{"missing key", `{"client_email":"a@b"}`},
		{"bad pem", `{"client_email":"a@b","private_key":"not a key"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseServiceAccount([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestSignAssertion(t *testing.T) {
	sa, err := ParseServiceAccount(serviceAccountJSON(t, ""))
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	signed, err := SignAssertion(sa, []string{ScopeDatastore, "https://www.googleapis.com/auth/cloud-platform"}, now)
	require.NoError(t, err)

	parser := jwt.Parser{SkipClaimsValidation: true}
	token, err := parser.Parse(signed, func(token *jwt.Token) (interface{}, error) {
		assert.Equal(t, jwt.SigningMethodRS256, token.Method)
		return &rsaKey(t).PublicKey, nil
	})
	require.NoError(t, err)

	assert.Equal(t, "kid-1", token.Header["kid"])
	assert.Equal(t, "JWT", token.Header["typ"])

	claims := token.Claims.(jwt.MapClaims)
	assert.Equal(t, "svc@planner-test.iam.gserviceaccount.com", claims["iss"])
	assert.Equal(t, DefaultTokenURL, claims["aud"])
	assert.Equal(t, ScopeDatastore+" https://www.googleapis.com/auth/cloud-platform", claims["scope"])
	assert.EqualValues(t, now.Unix(), claims["iat"])
	assert.EqualValues(t, now.Add(time.Hour).Unix(), claims["exp"])
}

type tokenServer struct {
	*httptest.Server
	calls  atomic.Int32
	status atomic.Int32
}

func newTokenServer(t *testing.T) *tokenServer {
	ts := &tokenServer{}
	ts.status.Store(http.StatusOK)

	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := ts.calls.Add(1)

		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, jwtBearerGrantType, r.PostForm.Get("grant_type"))
		assert.NotEmpty(t, r.PostForm.Get("assertion"))

		w.Header().Set("Content-Type", "application/json")
		status := int(ts.status.Load())
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid JWT Signature."}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "token-" + string(rune('0'+n)),
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	t.Cleanup(ts.Close)
	return ts
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestSource(t *testing.T, srv *tokenServer, clock *fakeClock) *TokenSource {
	sa, err := ParseServiceAccount(serviceAccountJSON(t, srv.URL))
	require.NoError(t, err)
	return NewTokenSource(sa, srv.Client(), testLogger(), WithClock(clock.Now))
}

func TestTokenSourceCachesUntilSkew(t *testing.T) {
	srv := newTokenServer(t)
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	ts := newTestSource(t, srv, clock)

	first, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "token-1", first.AccessToken)
	assert.Equal(t, clock.Now().Add(time.Hour), first.Expiry)

	clock.Advance(58 * time.Minute)
	again, err := ts.TokenContext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", again.AccessToken)
	assert.Equal(t, int32(1), srv.calls.Load())

	// Inside the 60s skew window the token is refreshed.
	clock.Advance(time.Minute + time.Second)
	refreshed, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "token-2", refreshed.AccessToken)
	assert.Equal(t, int32(2), srv.calls.Load())
}

func TestTokenSourceFailedFetchClearsCache(t *testing.T) {
	srv := newTokenServer(t)
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	ts := newTestSource(t, srv, clock)

	_, err := ts.Token()
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	srv.status.Store(http.StatusBadRequest)

	_, err = ts.Token()
	var tokenErr *TokenError
	require.ErrorAs(t, err, &tokenErr)
	assert.Equal(t, http.StatusBadRequest, tokenErr.StatusCode)
	assert.Equal(t, "invalid_grant", tokenErr.Code)
	assert.Contains(t, err.Error(), "Invalid JWT Signature.")

	ts.mu.Lock()
	assert.Nil(t, ts.token, "a failed fetch leaves no token behind")
	ts.mu.Unlock()

	srv.status.Store(http.StatusOK)
	token, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "token-3", token.AccessToken)
}

func TestTokenSourceInvalidate(t *testing.T) {
	srv := newTokenServer(t)
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	ts := newTestSource(t, srv, clock)

	_, err := ts.Token()
	require.NoError(t, err)

	ts.Invalidate()

	token, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "token-2", token.AccessToken)
}

func TestTokenSourceConcurrentCallersShareFetch(t *testing.T) {
	srv := newTokenServer(t)
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	ts := newTestSource(t, srv, clock)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ts.Token()
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), srv.calls.Load())
}
