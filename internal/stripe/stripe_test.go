package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/eternisai/content-planner-proxy/internal/config"
	"github.com/eternisai/content-planner-proxy/internal/logger"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripeapi "github.com/stripe/stripe-go/v84"
)

const webhookSecret = "whsec_test_secret"

type memStore struct {
	premium []string
	err     error
}

func (m *memStore) GetUserAPIKey(context.Context, string) (string, error) { return "", nil }

func (m *memStore) SaveUserAPIKey(context.Context, string, string, time.Time) error { return nil }

func (m *memStore) MarkPremium(_ context.Context, uid string, _ time.Time, source string) error {
	if m.err != nil {
		return m.err
	}
	m.premium = append(m.premium, uid+"/"+source)
	return nil
}

func newRouter(store *memStore) *gin.Engine {
	gin.SetMode(gin.TestMode)

	log := logger.New(logger.Config{Level: slog.LevelError})
	cfg := &config.Config{StripeWebhookSecret: webhookSecret}
	h := NewHandler(NewService(cfg, store, nil, log), log)

	router := gin.New()
	router.POST("/api/stripe/checkout", h.CreateCheckoutSession)
	router.POST("/api/stripe/webhook", h.HandleWebhook)
	return router
}

func signedHeader(payload []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "." + string(payload)))
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

func checkoutEvent(session string) []byte {
	return []byte(fmt.Sprintf(`{"id":"evt_1","object":"event","api_version":%q,"type":"checkout.session.completed","data":{"object":%s}}`,
		stripeapi.APIVersion, session))
}

func postWebhook(router *gin.Engine, payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", strings.NewReader(string(payload)))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestWebhookCheckoutCompleted(t *testing.T) {
	store := &memStore{}
	router := newRouter(store)

	payload := checkoutEvent(`{"id":"cs_1","object":"checkout.session","client_reference_id":"uid-1","payment_status":"paid"}`)
	w := postWebhook(router, payload, signedHeader(payload, webhookSecret, time.Now()))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"uid-1/stripe"}, store.premium)
}

func TestWebhookUsesMetadataUID(t *testing.T) {
	store := &memStore{}
	router := newRouter(store)

	payload := checkoutEvent(`{"id":"cs_2","object":"checkout.session","metadata":{"firebase_user_id":"uid-2"},"payment_status":"paid"}`)
	w := postWebhook(router, payload, signedHeader(payload, webhookSecret, time.Now()))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"uid-2/stripe"}, store.premium)
}

func TestWebhookUnpaidSessionIgnored(t *testing.T) {
	store := &memStore{}
	router := newRouter(store)

	payload := checkoutEvent(`{"id":"cs_3","object":"checkout.session","client_reference_id":"uid-3","payment_status":"unpaid"}`)
	w := postWebhook(router, payload, signedHeader(payload, webhookSecret, time.Now()))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, store.premium)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	store := &memStore{}
	router := newRouter(store)

	payload := checkoutEvent(`{"id":"cs_1","object":"checkout.session","client_reference_id":"uid-1","payment_status":"paid"}`)

	w := postWebhook(router, payload, signedHeader(payload, "whsec_wrong", time.Now()))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_signature")

	w = postWebhook(router, payload, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Empty(t, store.premium)
}

func TestWebhookStoreFailure(t *testing.T) {
	store := &memStore{err: errors.New("firestore down")}
	router := newRouter(store)

	payload := checkoutEvent(`{"id":"cs_1","object":"checkout.session","client_reference_id":"uid-1","payment_status":"paid"}`)
	w := postWebhook(router, payload, signedHeader(payload, webhookSecret, time.Now()))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCheckoutRequiresUser(t *testing.T) {
	router := newRouter(&memStore{})

	req := httptest.NewRequest(http.MethodPost, "/api/stripe/checkout", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCheckoutWithoutPrice(t *testing.T) {
	log := logger.New(logger.Config{Level: slog.LevelError})
	svc := NewService(&config.Config{}, &memStore{}, nil, log)

	_, err := svc.CreateCheckoutSession(context.Background(), "uid", "ana@example.com", "https://app")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestCheckoutParams(t *testing.T) {
	log := logger.New(logger.Config{Level: slog.LevelError})
	svc := NewService(&config.Config{StripePremiumPriceID: "price_premium"}, &memStore{}, nil, log)

	params := svc.checkoutParams("uid-1", "ana@example.com", "https://planner.example.com")
	require.NotNil(t, params.CustomerEmail)
	assert.Equal(t, "ana@example.com", *params.CustomerEmail)
	assert.Equal(t, "uid-1", *params.ClientReferenceID)
	assert.Equal(t, "uid-1", params.Metadata[userIDMetadataKey])
	assert.Equal(t, "price_premium", *params.LineItems[0].Price)
	assert.Equal(t, "https://planner.example.com/?session_id={CHECKOUT_SESSION_ID}", *params.SuccessURL)
	assert.Equal(t, "https://planner.example.com/?canceled=true", *params.CancelURL)

	params = svc.checkoutParams("uid-1", "", "https://planner.example.com")
	assert.Nil(t, params.CustomerEmail)
}

func TestCheckoutOrigin(t *testing.T) {
	tests := []struct {
		name    string
		origin  string
		referer string
		want    string
	}{
		{name: "origin wins", origin: "https://app.example.com", referer: "https://other.example.com/x", want: "https://app.example.com"},
		{name: "referer reduced to scheme and host", referer: "https://app.example.com:8443/planner?tab=week#top", want: "https://app.example.com:8443"},
		{name: "relative referer ignored", referer: "/planner", want: defaultOrigin},
		{name: "unparsable referer ignored", referer: "http://[::1", want: defaultOrigin},
		{name: "no headers", want: defaultOrigin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/stripe/checkout", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.referer != "" {
				req.Header.Set("Referer", tt.referer)
			}

			assert.Equal(t, tt.want, checkoutOrigin(req))
		})
	}
}
