package errors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newContext() (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	return c, w
}

func TestAbortWithUpstream(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   int
	}{
		{"client error mirrored", http.StatusBadRequest, http.StatusBadRequest},
		{"server error mirrored", http.StatusServiceUnavailable, http.StatusServiceUnavailable},
		{"success mapped to bad gateway", http.StatusOK, http.StatusBadGateway},
		{"zero mapped to bad gateway", 0, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w := newContext()
			AbortWithUpstream(c, tt.status, "boom", nil)

			assert.Equal(t, tt.want, w.Code)
			assert.True(t, c.IsAborted())

			var body APIError
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, "boom", body.Error)
		})
	}
}

func TestAbortWithRateLimitSetsRetryAfter(t *testing.T) {
	c, w := newContext()
	AbortWithRateLimit(c, ClientRateLimited(1400*time.Millisecond))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	c, w = newContext()
	AbortWithRateLimit(c, UpstreamQuotaExhausted())
	assert.Empty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), `"source":"upstream"`)
}

func TestInvalidSignature(t *testing.T) {
	c, w := newContext()
	AbortWithForbidden(c, InvalidSignature("stripe"))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), `"reason":"invalid_signature"`)
}
