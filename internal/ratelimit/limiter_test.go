package ratelimit

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/eternisai/content-planner-proxy/internal/logger"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newTestLimiter(rps float64, burst int) (*Limiter, *time.Time) {
	l := New(rps, burst, logger.New(logger.Config{Level: slog.LevelError}))
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestReserveBurstThenRefill(t *testing.T) {
	l, now := newTestLimiter(1, 2)

	ok, _ := l.Reserve("a")
	assert.True(t, ok)
	ok, _ = l.Reserve("a")
	assert.True(t, ok)

	ok, wait := l.Reserve("a")
	assert.False(t, ok)
	assert.InDelta(t, time.Second, wait, float64(10*time.Millisecond))

	// Other clients have their own bucket.
	ok, _ = l.Reserve("b")
	assert.True(t, ok)

	*now = now.Add(time.Second)
	ok, _ = l.Reserve("a")
	assert.True(t, ok)
}

func TestCleanupRemovesIdleClients(t *testing.T) {
	l, now := newTestLimiter(1, 1)

	l.Reserve("old")
	*now = now.Add(10 * time.Minute)
	l.Reserve("fresh")

	assert.Equal(t, 1, l.Cleanup(5*time.Minute))
	assert.Equal(t, 1, l.Size())
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, _ := newTestLimiter(1, 1)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		if uid := c.GetHeader("X-Test-User"); uid != "" {
			c.Request = c.Request.WithContext(logger.WithUserID(c.Request.Context(), uid))
		}
		c.Next()
	})
	router.Use(l.Middleware())
	router.POST("/api/generate", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/generate", nil)
		if user != "" {
			req.Header.Set("X-Test-User", user)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, do("").Code)

	w := do("")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), `"source":"proxy"`)

	// Same IP, but an authenticated user gets a separate bucket.
	assert.Equal(t, http.StatusOK, do("uid-1").Code)
}
